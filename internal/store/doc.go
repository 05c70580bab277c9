// Package store declares the read side of the crawl results ledger used by
// the operator API. Implementations live in other packages; this package
// must not import database drivers or concrete clients.
package store
