package dashboard

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/mschirtzinger/dualsync/internal/docsync/coordinator"
	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
	"github.com/mschirtzinger/dualsync/internal/docsync/syncerr"
)

// DocData describes the outcome of one document.
type DocData struct {
	DocumentID  string        `json:"document_id"`
	Action      schema.Action `json:"action"`
	Hash        string        `json:"hash,omitempty"`
	SyncVersion int64         `json:"sync_version,omitempty"`
	Kind        syncerr.Kind  `json:"kind,omitempty"`
	Error       string        `json:"error,omitempty"`
	DurationMS  int64         `json:"duration_ms"`
}

// StateData describes one state transition.
type StateData struct {
	DocumentID string            `json:"document_id"`
	From       coordinator.State `json:"from,omitempty"`
	To         coordinator.State `json:"to"`
	Error      string            `json:"error,omitempty"`
}

// Notifier turns coordinator output into dashboard messages.
type Notifier struct {
	server *Server
	stats  func() coordinator.Stats
	logger *log.Logger

	// Transitions enables doc_state messages for every state change.
	Transitions bool
}

// NewNotifier creates a notifier broadcasting on server. stats, when not
// nil, supplies the counters sent after each batch and on connect.
func NewNotifier(server *Server, stats func() coordinator.Stats, logger *log.Logger) *Notifier {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	n := &Notifier{server: server, stats: stats, logger: logger}
	if stats != nil {
		server.SetWelcome(n.statsMessage)
	}
	return n
}

// OnResults broadcasts one message per result, then the batch summary and
// current counters. Its signature matches daemon.Config.OnResults.
func (n *Notifier) OnResults(results []schema.SyncResult) {
	for _, r := range results {
		n.send(messageType(r.Action), docData(r))
	}
	n.send(MessageTypeBatchComplete, coordinator.Summarize(results))
	if n.stats != nil {
		n.server.Broadcast(n.statsMessage())
	}
}

// OnTransition broadcasts a state change when Transitions is enabled.
// Its signature matches coordinator.Config.Observer.
func (n *Notifier) OnTransition(tr coordinator.Transition) {
	if !n.Transitions {
		return
	}
	data := StateData{DocumentID: tr.DocumentID, From: tr.From, To: tr.To}
	if tr.Err != nil {
		data.Error = tr.Err.Error()
	}
	n.send(MessageTypeDocState, data)
}

func (n *Notifier) statsMessage() Message {
	data, err := json.Marshal(n.stats())
	if err != nil {
		n.logger.Printf("Failed to marshal stats: %v", err)
	}
	return Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: data}
}

func (n *Notifier) send(typ MessageType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		n.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	n.server.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: data})
}

func messageType(a schema.Action) MessageType {
	switch a {
	case schema.ActionFailed:
		return MessageTypeDocFailed
	case schema.ActionDeleted:
		return MessageTypeDocDeleted
	default:
		return MessageTypeDocSynced
	}
}

func docData(r schema.SyncResult) DocData {
	d := DocData{
		DocumentID:  r.DocumentID,
		Action:      r.Action,
		Hash:        string(r.Hash),
		SyncVersion: r.SyncVersion,
		DurationMS:  r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		d.Kind = syncerr.KindOf(r.Err)
		d.Error = r.Err.Error()
	}
	return d
}
