package notifications

import (
	"context"
	"log/slog"
	"sync"

	"tsundoku/internal/discovery"
	"tsundoku/internal/events"
	"tsundoku/internal/library"
	"tsundoku/internal/logging"
	"tsundoku/internal/reconcile"
)

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Enabled reports the user's notification setting at delivery time.
	Enabled func() bool
	// TitleName resolves a title id to a display name.
	TitleName func(id int64) string
	Logger    *slog.Logger
}

// Dispatcher forwards bus events to a Service. Deliveries run in the
// background so a slow ntfy server never stalls an engine run.
type Dispatcher struct {
	svc       Service
	enabled   func() bool
	titleName func(int64) string
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewDispatcher creates a Dispatcher for svc.
func NewDispatcher(svc Service, opts DispatcherOptions) *Dispatcher {
	if svc == nil {
		svc = noopService{}
	}
	enabled := opts.Enabled
	if enabled == nil {
		enabled = func() bool { return true }
	}
	return &Dispatcher{
		svc:       svc,
		enabled:   enabled,
		titleName: opts.TitleName,
		logger:    logging.NewComponentLogger(opts.Logger, "notifications"),
	}
}

// Attach subscribes the dispatcher to bus and returns the unsubscribe func.
func (d *Dispatcher) Attach(bus *events.Bus) func() {
	return bus.Subscribe(d.Handle)
}

// Handle maps one bus event to a notification, if any.
func (d *Dispatcher) Handle(ctx context.Context, evt events.Event) {
	event, payload, ok := d.translate(evt)
	if !ok || !d.enabled() {
		return
	}
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.svc.Publish(ctx, event, payload); err != nil {
			logging.WarnWithContext(d.logger, "notification not delivered", "notification_failed",
				logging.String("event", string(event)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "the change is still recorded in the library"),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
			)
		}
	}()
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) translate(evt events.Event) (Event, Payload, bool) {
	switch evt.Kind {
	case events.LibraryStatusChanged:
		// Only automated completions; a user marking a title completed
		// already knows about it.
		if evt.Status != string(library.StatusCompleted) || evt.Reason == library.ReasonUserEdit {
			return "", nil, false
		}
		payload := Payload{"titleId": evt.TitleID, "reason": evt.Reason}
		if d.titleName != nil {
			payload["title"] = d.titleName(evt.TitleID)
		}
		return EventTitleCompleted, payload, true
	case events.DiscoveryFinished:
		summary, ok := evt.Data.(discovery.Summary)
		if !ok || summary.Found == 0 {
			return "", nil, false
		}
		return EventAnnouncementsFound, Payload{"count": summary.Found}, true
	case events.ReconcileFinished:
		summary, ok := evt.Data.(reconcile.Summary)
		if !ok || summary.Checked == 0 || summary.Errored*2 <= summary.Checked {
			return "", nil, false
		}
		kind := ""
		if len(summary.Errors) > 0 {
			kind = summary.Errors[0].Kind
		}
		return EventCheckFailures, Payload{"failed": summary.Errored, "checked": summary.Checked, "kind": kind}, true
	default:
		return "", nil, false
	}
}
