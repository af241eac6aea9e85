package events_test

import (
	"context"
	"testing"

	"tsundoku/internal/events"
)

func TestPublishDeliversInOrder(t *testing.T) {
	bus := events.NewBus(nil)
	var got []events.Kind
	bus.Subscribe(func(_ context.Context, evt events.Event) { got = append(got, evt.Kind) })

	bus.Publish(context.Background(), events.Event{Kind: events.LibraryUpserted, TitleID: 1})
	bus.Publish(context.Background(), events.Event{Kind: events.LibraryRemoved, TitleID: 1})

	if len(got) != 2 || got[0] != events.LibraryUpserted || got[1] != events.LibraryRemoved {
		t.Fatalf("unexpected delivery order %v", got)
	}
}

func TestPanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := events.NewBus(nil)
	bus.Subscribe(func(context.Context, events.Event) { panic("boom") })
	delivered := false
	bus.Subscribe(func(_ context.Context, evt events.Event) {
		delivered = true
		if evt.Time.IsZero() {
			t.Error("publish should stamp the event time")
		}
	})

	bus.Publish(context.Background(), events.Event{Kind: events.DiscoveryRequested, TitleID: 2})
	if !delivered {
		t.Fatal("second subscriber did not receive the event")
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := events.NewBus(nil)
	count := 0
	cancel := bus.Subscribe(func(context.Context, events.Event) { count++ })
	bus.Publish(context.Background(), events.Event{Kind: events.AnnouncementsChanged})
	cancel()
	cancel()
	bus.Publish(context.Background(), events.Event{Kind: events.AnnouncementsChanged})
	if count != 1 {
		t.Fatalf("expected one delivery, got %d", count)
	}
}

func TestNilBusIsSafe(t *testing.T) {
	var bus *events.Bus
	bus.Publish(context.Background(), events.Event{Kind: events.ReconcileFinished})
	bus.Subscribe(func(context.Context, events.Event) {})()
}
