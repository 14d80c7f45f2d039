package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/mschirtzinger/dualsync/internal/docsync/coordinator"
	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
	"github.com/mschirtzinger/dualsync/internal/docsync/syncerr"
)

func startServer(t *testing.T) *Server {
	t.Helper()

	server := NewServer(&Config{Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

// connect dials the server, consumes the welcome message and waits until
// the client is registered for broadcasts.
func connect(t *testing.T, server *Server) (*websocket.Conn, Message) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	welcome := readMessage(t, conn)

	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn, welcome
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if server.GetAddr() == "" {
		t.Fatal("Server address is empty")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestHealth(t *testing.T) {
	server := startServer(t)

	resp, err := http.Get("http://" + server.GetAddr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", body["status"])
	}
}

func TestWelcomeCarriesStats(t *testing.T) {
	server := startServer(t)
	NewNotifier(server, func() coordinator.Stats {
		return coordinator.Stats{Embedded: 7}
	}, log.New(io.Discard, "", 0))

	_, welcome := connect(t, server)
	if welcome.Type != MessageTypeStats {
		t.Fatalf("Expected stats welcome, got %s", welcome.Type)
	}
	var stats coordinator.Stats
	if err := json.Unmarshal(welcome.Data, &stats); err != nil {
		t.Fatalf("Failed to unmarshal stats: %v", err)
	}
	if stats.Embedded != 7 {
		t.Errorf("Expected embedded=7, got %d", stats.Embedded)
	}
}

func TestNotifierOnResults(t *testing.T) {
	server := startServer(t)
	n := NewNotifier(server, func() coordinator.Stats { return coordinator.Stats{} }, log.New(io.Discard, "", 0))
	conn, _ := connect(t, server)

	n.OnResults([]schema.SyncResult{
		{DocumentID: "a", Action: schema.ActionEmbeddedAndWritten, Hash: "h", SyncVersion: 1},
		{DocumentID: "b", Action: schema.ActionFailed, Err: syncerr.New(syncerr.GraphWriteFailed, "b", "write", errors.New("down"))},
		{DocumentID: "c", Action: schema.ActionDeleted},
	})

	want := []MessageType{
		MessageTypeDocSynced,
		MessageTypeDocFailed,
		MessageTypeDocDeleted,
		MessageTypeBatchComplete,
		MessageTypeStats,
	}
	var got []Message
	for range want {
		got = append(got, readMessage(t, conn))
	}
	for i, msg := range got {
		if msg.Type != want[i] {
			t.Errorf("message %d: expected %s, got %s", i, want[i], msg.Type)
		}
	}

	var failed DocData
	if err := json.Unmarshal(got[1].Data, &failed); err != nil {
		t.Fatal(err)
	}
	if failed.Kind != syncerr.GraphWriteFailed {
		t.Errorf("Expected kind %s, got %s", syncerr.GraphWriteFailed, failed.Kind)
	}

	var summary coordinator.Summary
	if err := json.Unmarshal(got[3].Data, &summary); err != nil {
		t.Fatal(err)
	}
	if summary.Total != 3 || summary.Failed != 1 || summary.Embedded != 1 || summary.Deleted != 1 {
		t.Errorf("Unexpected summary: %+v", summary)
	}
}

func TestNotifierTransitions(t *testing.T) {
	server := startServer(t)
	n := NewNotifier(server, nil, log.New(io.Discard, "", 0))
	conn, _ := connect(t, server)

	// Disabled by default.
	n.OnTransition(coordinator.Transition{DocumentID: "a", To: coordinator.StatePending})
	n.Transitions = true
	n.OnTransition(coordinator.Transition{DocumentID: "a", From: coordinator.StatePending, To: coordinator.StateLocked})

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeDocState {
		t.Fatalf("Expected doc_state, got %s", msg.Type)
	}
	var data StateData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.From != coordinator.StatePending || data.To != coordinator.StateLocked {
		t.Errorf("Unexpected transition: %+v", data)
	}
}

func TestClientDisconnect(t *testing.T) {
	server := startServer(t)
	conn, _ := connect(t, server)

	conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected 0 clients, got %d", server.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewClientReceivesBacklog(t *testing.T) {
	server := startServer(t)
	n := NewNotifier(server, nil, log.New(io.Discard, "", 0))
	n.Transitions = true

	n.OnTransition(coordinator.Transition{DocumentID: "a", To: coordinator.StateLocked})
	n.OnResults([]schema.SyncResult{{DocumentID: "a", Action: schema.ActionEmbeddedAndWritten}})

	conn, _ := connect(t, server)

	// Transitions are live-only; outcomes are replayed in order.
	for _, want := range []MessageType{MessageTypeDocSynced, MessageTypeBatchComplete} {
		if msg := readMessage(t, conn); msg.Type != want {
			t.Fatalf("Expected %s, got %s", want, msg.Type)
		}
	}

	server.Broadcast(Message{Type: MessageTypeDocDeleted})
	if msg := readMessage(t, conn); msg.Type != MessageTypeDocDeleted {
		t.Fatalf("Expected live doc_deleted after backlog, got %s", msg.Type)
	}
}

func TestBacklogBounded(t *testing.T) {
	server := NewServer(&Config{Port: 0, Backlog: 2, Logger: log.New(io.Discard, "", 0)})
	for _, id := range []string{"a", "b", "c"} {
		server.Broadcast(Message{Type: MessageTypeDocSynced, Data: json.RawMessage(`"` + id + `"`)})
	}

	recent := server.feed.recent()
	if len(recent) != 2 || string(recent[0].Data) != `"b"` || string(recent[1].Data) != `"c"` {
		t.Fatalf("Expected the two newest events, got %+v", recent)
	}
}

func TestEventsEndpoint(t *testing.T) {
	server := startServer(t)
	NewNotifier(server, nil, log.New(io.Discard, "", 0)).OnResults([]schema.SyncResult{
		{DocumentID: "a", Action: schema.ActionFailed, Err: syncerr.New(syncerr.LockLost, "a", "lease", errors.New("lost"))},
	})

	resp, err := http.Get("http://" + server.GetAddr() + "/events")
	if err != nil {
		t.Fatalf("GET /events failed: %v", err)
	}
	defer resp.Body.Close()

	var events []Message
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatalf("Failed to decode events: %v", err)
	}
	if len(events) != 2 || events[0].Type != MessageTypeDocFailed || events[1].Type != MessageTypeBatchComplete {
		t.Fatalf("Unexpected events: %+v", events)
	}
	var failed DocData
	if err := json.Unmarshal(events[0].Data, &failed); err != nil {
		t.Fatal(err)
	}
	if failed.Kind != syncerr.LockLost {
		t.Errorf("Expected kind %s, got %s", syncerr.LockLost, failed.Kind)
	}
}

func TestIndexListsEvents(t *testing.T) {
	server := startServer(t)
	server.Broadcast(Message{Type: MessageTypeDocDeleted, Data: json.RawMessage(`{"document_id":"gone"}`)})

	resp, err := http.Get("http://" + server.GetAddr() + "/")
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), "doc_deleted") || !strings.Contains(string(body), "gone") {
		t.Errorf("Index does not list the event:\n%s", body)
	}

	missing, err := http.Get("http://" + server.GetAddr() + "/nope")
	if err != nil {
		t.Fatalf("GET /nope failed: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", missing.StatusCode)
	}
}
