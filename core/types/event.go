// Package types holds the plain value types the core and persistence
// packages exchange without importing each other.
package types

// Event is the rendered wire form of a committed ledger event. Type names
// the event and Attributes carry its string-encoded fields.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attribute returns the named attribute, or empty when absent.
func (e *Event) Attribute(key string) string {
	if e == nil {
		return ""
	}
	return e.Attributes[key]
}
