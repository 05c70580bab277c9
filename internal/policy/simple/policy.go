// Package simple contains the permissive intake policy used when no request
// limit is configured.
package simple

// Policy admits every request.
type Policy struct{}

// New creates a new Policy.
func New() *Policy {
	return &Policy{}
}

// Allow always returns true.
func (Policy) Allow(string) bool {
	return true
}
