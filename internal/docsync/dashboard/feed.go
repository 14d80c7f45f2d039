package dashboard

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	subscriberQueue = 64
	writeTimeout    = 5 * time.Second
)

// subscriber is one WebSocket client with its own send queue, so a slow
// client never holds up the others.
type subscriber struct {
	conn  *websocket.Conn
	queue chan []byte
}

// feed fans encoded events out to subscribers and keeps the most recent
// outcomes for clients that connect later.
type feed struct {
	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	backlog []Message
	limit   int

	published int64
	evicted   int64
}

func newFeed(limit int) *feed {
	return &feed{subs: make(map[*subscriber]struct{}), limit: limit}
}

// publish records msg and queues it for every subscriber. Subscribers
// whose queue is full are returned for eviction.
func (f *feed) publish(msg Message, data []byte) []*subscriber {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.published++
	if msg.retained() && f.limit > 0 {
		if len(f.backlog) == f.limit {
			copy(f.backlog, f.backlog[1:])
			f.backlog = f.backlog[:f.limit-1]
		}
		f.backlog = append(f.backlog, msg)
	}

	var slow []*subscriber
	for sub := range f.subs {
		select {
		case sub.queue <- data:
		default:
			slow = append(slow, sub)
		}
	}
	return slow
}

// join registers sub and queues the backlog ahead of any later event.
func (f *feed) join(sub *subscriber) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, msg := range f.backlog {
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		select {
		case sub.queue <- data:
		default:
		}
	}
	f.subs[sub] = struct{}{}
	return len(f.subs)
}

// leave unregisters sub; it reports false if sub was already gone.
func (f *feed) leave(sub *subscriber, evicted bool) (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.subs[sub]; !ok {
		return false, len(f.subs)
	}
	delete(f.subs, sub)
	close(sub.queue)
	if evicted {
		f.evicted++
	}
	return true, len(f.subs)
}

func (f *feed) drain() []*subscriber {
	f.mu.Lock()
	defer f.mu.Unlock()

	subs := make([]*subscriber, 0, len(f.subs))
	for sub := range f.subs {
		delete(f.subs, sub)
		close(sub.queue)
		subs = append(subs, sub)
	}
	return subs
}

func (f *feed) recent() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.backlog...)
}

func (f *feed) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *feed) counters() (published, evicted int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published, f.evicted
}

// pump writes queued events to the connection until the queue is closed
// or a write fails.
func (sub *subscriber) pump(ctx context.Context) error {
	for data := range sub.queue {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := sub.conn.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}
