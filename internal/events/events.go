package events

import (
	"context"
	"strings"
	"sync"
)

type Kind string

const (
	KindSearch    Kind = "search"
	KindFetch     Kind = "fetch"
	KindPhase     Kind = "phase"
	KindStatus    Kind = "status"
	KindDone      Kind = "done"
	KindHeartbeat Kind = "heartbeat"
	KindCancelled Kind = "cancelled"
	KindError     Kind = "error"
	KindComplete  Kind = "complete"
	KindSession   Kind = "session"
)

// Progress is one unit of observability pushed by a running research.
type Progress struct {
	Message string `json:"message"`
	Kind    Kind   `json:"type"`
}

// Sink receives progress in production order. Emit must not block.
type Sink interface {
	Emit(Progress)
}

type SinkFunc func(Progress)

func (f SinkFunc) Emit(p Progress) { f(p) }

// Wire event names.
const (
	NameSession   = "session"
	NameStatus    = "status"
	NameLog       = "log"
	NameHeartbeat = "heartbeat"
	NameComplete  = "complete"
	NameCancelled = "cancelled"
	NameError     = "error_event"
)

type Event struct {
	SessionID string         `json:"session_id"`
	Name      string         `json:"name"`
	Data      map[string]any `json:"data"`
}

func IsTerminal(name string) bool {
	switch NormalizeName(name) {
	case NameComplete, NameCancelled, NameError:
		return true
	}
	return false
}

func NormalizeName(name string) string {
	return strings.TrimSpace(strings.ToLower(name))
}

type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: map[string]map[chan Event]struct{}{},
	}
}

func (b *Broker) Subscribe(ctx context.Context, sessionID string) <-chan Event {
	ch := make(chan Event, 64)

	b.mu.Lock()
	if b.subscribers[sessionID] == nil {
		b.subscribers[sessionID] = map[chan Event]struct{}{}
	}
	b.subscribers[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if b.subscribers[sessionID] != nil {
			delete(b.subscribers[sessionID], ch)
			if len(b.subscribers[sessionID]) == 0 {
				delete(b.subscribers, sessionID)
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

// Publish fans the event out to watchers of its session. Slow watchers drop
// events rather than stall the session.
func (b *Broker) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[event.SessionID] {
		select {
		case ch <- event:
		default:
		}
	}
}

func (b *Broker) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[sessionID])
}
