package xfer

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies a session notification.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventClosed
	EventError
	EventUploadProgress
	EventDownloadProgress
	EventUploadComplete
	EventDownloadComplete
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	case EventUploadProgress:
		return "upload-progress"
	case EventDownloadProgress:
		return "download-progress"
	case EventUploadComplete:
		return "upload-complete"
	case EventDownloadComplete:
		return "download-complete"
	}
	return "unknown"
}

// terminal reports whether events of this kind are delivered after the
// session has left the Connected state.
func (k EventKind) terminal() bool {
	return k == EventClosed || k == EventError
}

// Event is a session notification.
type Event struct {
	Kind      EventKind
	SessionID string
	Time      time.Time

	// Path is the remote path of a transfer event.
	Path string

	// Bytes is the number of bytes moved so far (progress) or in total
	// (complete).
	Bytes int64

	// Total is the expected size of the file, or -1 when unknown.
	Total int64

	// Err is set on EventError.
	Err error
}

// Handler receives events. Handlers run synchronously on the goroutine that
// produced the event, which for transfer events is the session's dispatch
// goroutine: a handler must not wait on an operation of the same session,
// nor call its Disconnect.
type Handler func(Event)

// Subscription is the handle returned by Session.Subscribe.
type Subscription struct {
	id   string
	kind EventKind
	bus  *eventBus
}

// ID returns the unique identifier of the subscription.
func (s *Subscription) ID() string {
	return s.id
}

// Unsubscribe stops delivery to this subscription. Other subscribers of
// the same kind are unaffected. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s.kind, s.id)
}

type subscriber struct {
	id      string
	handler Handler
}

// eventBus fans events out to subscribers by kind, in subscription order.
type eventBus struct {
	mu   sync.RWMutex
	subs map[EventKind][]subscriber
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[EventKind][]subscriber)}
}

func (b *eventBus) add(kind EventKind, h Handler) *Subscription {
	sub := subscriber{id: uuid.NewString(), handler: h}

	b.mu.Lock()
	b.subs[kind] = append(b.subs[kind], sub)
	b.mu.Unlock()

	return &Subscription{id: sub.id, kind: kind, bus: b}
}

func (b *eventBus) remove(kind EventKind, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[kind]
	for i, sub := range subs {
		if sub.id == id {
			// Copy so a publish iterating the old slice is not disturbed.
			next := make([]subscriber, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			b.subs[kind] = append(next, subs[i+1:]...)
			return
		}
	}
}

func (b *eventBus) publish(ev Event) {
	b.mu.RLock()
	subs := b.subs[ev.Kind]
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(ev)
	}
}
