// Package events carries in-process change notifications between the library,
// announcement store, engines and their consumers (CLI, daemon, notifier).
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tsundoku/internal/logging"
)

// Kind names an event type.
type Kind string

const (
	LibraryUpserted      Kind = "library.upserted"
	LibraryRemoved       Kind = "library.removed"
	LibraryStatusChanged Kind = "library.status_changed"
	AnnouncementsChanged Kind = "announcements.changed"
	ReconcileFinished    Kind = "reconcile.finished"
	DiscoveryFinished    Kind = "discovery.finished"
	DiscoveryRequested   Kind = "discovery.requested"
)

// Event is one published change.
type Event struct {
	Kind    Kind
	TitleID int64
	// Status carries the new status for status changes.
	Status string
	// Reason is the human-readable trigger, such as a history reason.
	Reason string
	Time   time.Time
	// Data holds kind-specific values such as run summaries.
	Data any
}

// Handler consumes an event.
type Handler func(context.Context, Event)

type subscription struct {
	id uint64
	fn Handler
}

// Bus delivers events synchronously, in publish order, to every subscriber.
// The zero value is not usable; call NewBus.
type Bus struct {
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logging.NewComponentLogger(logger, "events"), now: time.Now}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn Handler) func() {
	if b == nil || fn == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, sub := range b.subs {
				if sub.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers evt to every current subscriber. A nil bus drops events.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	if b == nil {
		return
	}
	if evt.Time.IsZero() {
		evt.Time = b.now()
	}
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(ctx, sub.fn, evt)
	}
}

func (b *Bus) deliver(ctx context.Context, fn Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(b.logger, "event subscriber panicked", "event_subscriber_panic",
				logging.String("event", string(evt.Kind)),
				logging.Int64(logging.FieldTitleID, evt.TitleID),
				logging.String("panic", fmt.Sprint(r)),
				logging.String(logging.FieldErrorHint, "report the panic; other subscribers still received the event"),
			)
		}
	}()
	fn(ctx, evt)
}
