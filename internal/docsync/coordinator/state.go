package coordinator

import "time"

// State is a step in a document's sync lifecycle.
type State string

const (
	StatePending    State = "pending"
	StateLocked     State = "locked"
	StateClassified State = "classified"
	StateSkipped    State = "skipped"
	StateEmbedding  State = "embedding"
	StateWriting    State = "writing"
	StateCommitted  State = "committed"
	StateDeleting   State = "deleting"
	StateDeleted    State = "deleted"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	switch s {
	case StateSkipped, StateCommitted, StateDeleted, StateFailed:
		return true
	}
	return false
}

// Transition describes one state change of one document.
type Transition struct {
	DocumentID string
	From       State
	To         State
	At         time.Time

	// Err is set when To is StateFailed.
	Err error
}

// tracker walks one document through its states and reports each move.
type tracker struct {
	c     *Coordinator
	docID string
	state State
}

func (c *Coordinator) track(docID string) *tracker {
	t := &tracker{c: c, docID: docID, state: StatePending}
	c.observe(Transition{DocumentID: docID, To: StatePending, At: c.now()})
	return t
}

func (t *tracker) to(s State, err error) {
	from := t.state
	t.state = s
	t.c.observe(Transition{DocumentID: t.docID, From: from, To: s, At: t.c.now(), Err: err})
}

func (c *Coordinator) observe(tr Transition) {
	if c.cfg.Observer != nil {
		c.cfg.Observer(tr)
	}
}
