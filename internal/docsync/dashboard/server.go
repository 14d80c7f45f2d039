// Package dashboard serves a live feed of sync events over WebSocket.
//
// Each client first receives a welcome message (normally the coordinator
// counters), then the recent document outcomes, then every new event as
// it happens. Clients that cannot keep up are disconnected rather than
// slowing down the sync.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Server publishes sync events to WebSocket clients.
type Server struct {
	addr     string
	listener net.Listener
	http     *http.Server
	feed     *feed

	welcomeMu sync.RWMutex
	welcome   func() Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration.
type Config struct {
	// Host to bind (default: 127.0.0.1)
	Host string

	// Port to listen on; 0 picks a free port (default: 8080)
	Port int

	// Backlog is how many recent outcomes new clients are sent; negative
	// disables the backlog (default: 50)
	Backlog int

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns the defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:    "127.0.0.1",
		Port:    8080,
		Backlog: 50,
		Logger:  log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer creates a server; it does not listen until Start.
func NewServer(config *Config) *Server {
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	host := config.Host
	if host == "" {
		host = def.Host
	}
	backlog := config.Backlog
	if backlog == 0 {
		backlog = def.Backlog
	}
	logger := config.Logger
	if logger == nil {
		logger = def.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   net.JoinHostPort(host, strconv.Itoa(config.Port)),
		feed:   newFeed(backlog),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// SetWelcome sets the builder for the first message sent to each client.
func (s *Server) SetWelcome(fn func() Message) {
	s.welcomeMu.Lock()
	s.welcome = fn
	s.welcomeMu.Unlock()
}

// Start listens and serves /ws, /events, /health and / in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleSubscribe)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleIndex)

	s.http = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every client and shuts the server down.
func (s *Server) Stop() error {
	s.cancel()
	for _, sub := range s.feed.drain() {
		_ = sub.conn.Close(websocket.StatusGoingAway, "dashboard stopping")
	}

	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shut down dashboard: %w", err)
		}
	}
	s.wg.Wait()

	s.logger.Println("Dashboard stopped")
	return nil
}

// Broadcast publishes msg to every client. It never blocks: a client whose
// queue is full is disconnected.
func (s *Server) Broadcast(msg Message) {
	if s.ctx.Err() != nil {
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to marshal %s event: %v", msg.Type, err)
		return
	}
	for _, sub := range s.feed.publish(msg, data) {
		s.logger.Printf("WARNING: client too slow, disconnecting")
		s.drop(sub, true)
	}
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// Written before joining the feed so it is always the first frame.
	if err := s.greet(r.Context(), conn); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "welcome failed")
		return
	}

	sub := &subscriber{conn: conn, queue: make(chan []byte, subscriberQueue)}
	n := s.feed.join(sub)
	s.logger.Printf("Client connected (total: %d)", n)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Reading handles control frames and notices disconnects.
		for {
			if _, _, err := conn.Read(s.ctx); err != nil {
				s.drop(sub, false)
				return
			}
		}
	}()

	if err := sub.pump(s.ctx); err != nil {
		s.drop(sub, false)
	}
}

func (s *Server) greet(ctx context.Context, conn *websocket.Conn) error {
	s.welcomeMu.RLock()
	welcome := s.welcome
	s.welcomeMu.RUnlock()

	msg := Message{Type: MessageTypeStats}
	if welcome != nil {
		msg = welcome()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

func (s *Server) drop(sub *subscriber, slow bool) {
	ok, n := s.feed.leave(sub, slow)
	if !ok {
		return
	}
	if slow {
		_ = sub.conn.Close(websocket.StatusPolicyViolation, "too slow")
	} else {
		_ = sub.conn.Close(websocket.StatusNormalClosure, "")
	}
	s.logger.Printf("Client disconnected (total: %d)", n)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.feed.recent())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	published, evicted := s.feed.counters()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"clients":   s.feed.size(),
		"published": published,
		"evicted":   evicted,
	})
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>dsync dashboard</title></head>
<body>
<h1>dsync dashboard</h1>
<p>Live feed: <code>ws://{{.Host}}/ws</code> &middot; <a href="/events">/events</a> &middot; <a href="/health">/health</a></p>
<table>
<tr><th>time</th><th>event</th><th>data</th></tr>
{{range .Events}}<tr><td>{{.Timestamp.Format "15:04:05"}}</td><td>{{.Type}}</td><td><code>{{printf "%s" .Data}}</code></td></tr>
{{else}}<tr><td colspan="3">no sync activity yet</td></tr>
{{end}}</table>
</body>
</html>
`))

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	events := s.feed.recent()
	// Newest first.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := indexTemplate.Execute(w, struct {
		Host   string
		Events []Message
	}{r.Host, events})
	if err != nil {
		s.logger.Printf("Failed to render index: %v", err)
	}
}

// GetAddr returns the listening address, or the configured one before Start.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	return s.feed.size()
}
