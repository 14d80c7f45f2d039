package schema

import "fmt"

// Edge is a typed relationship between two documents in the graph store.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// Validate checks if the Edge has valid field values
func (e Edge) Validate() error {
	if e.From == "" {
		return fmt.Errorf("from is required")
	}
	if e.To == "" {
		return fmt.Errorf("to is required")
	}
	if e.Type == "" {
		return fmt.Errorf("type is required")
	}
	if len(e.Type) > 50 {
		return fmt.Errorf("invalid edge type: %s (must be 1-50 characters)", e.Type)
	}
	return nil
}

// String renders the edge as {from}--{type}--{to}.
func (e Edge) String() string {
	return fmt.Sprintf("%s--%s--%s", e.From, e.Type, e.To)
}
