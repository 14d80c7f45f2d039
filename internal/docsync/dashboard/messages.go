package dashboard

import (
	"encoding/json"
	"time"
)

// MessageType names a dashboard event.
type MessageType string

const (
	MessageTypeDocSynced     MessageType = "doc_synced"     // embedded and written, or skipped
	MessageTypeDocFailed     MessageType = "doc_failed"     // ended in the failed state
	MessageTypeDocDeleted    MessageType = "doc_deleted"    // removed from both stores
	MessageTypeDocState      MessageType = "doc_state"      // one state transition
	MessageTypeBatchComplete MessageType = "batch_complete" // batch summary
	MessageTypeStats         MessageType = "stats"          // coordinator counters
)

// Message is one event on the feed.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// retained reports whether the event is kept in the backlog replayed to
// new clients. Counters and transitions are only interesting live.
func (m Message) retained() bool {
	switch m.Type {
	case MessageTypeStats, MessageTypeDocState:
		return false
	}
	return true
}
