package queue

// AttributeCarrier adapts a string map of message attributes or headers to
// the OpenTelemetry TextMapCarrier interface.
type AttributeCarrier map[string]string

// Get returns the value stored for key.
func (c AttributeCarrier) Get(key string) string {
	return c[key]
}

// Set stores value under key.
func (c AttributeCarrier) Set(key, value string) {
	c[key] = value
}

// Keys lists the stored keys.
func (c AttributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
