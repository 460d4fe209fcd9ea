package types

// Event represents a typed event emitted during state transitions. Sequence
// is assigned by the collecting sink, in emission order, starting at one.
type Event struct {
	Sequence   uint64            `json:"sequence,omitempty"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
