package watch_test

import (
	"context"
	"testing"
	"time"

	"github.com/erlorenz/memvault/watch"
)

// testBus runs a common test suite against any Bus implementation.
func testBus(t *testing.T, createBus func() watch.Bus) {
	t.Helper()

	tests := []struct {
		name string
		test func(t *testing.T, bus watch.Bus)
	}{
		{"PublishWithNoSubscribers", testPublishWithNoSubscribers},
		{"SingleSubscriber", testSingleSubscriber},
		{"MultipleSubscribers", testMultipleSubscribers},
		{"NamespaceFiltering", testNamespaceFiltering},
		{"AllNamespaces", testAllNamespaces},
		{"SubscriberContextCancellation", testSubscriberContextCancellation},
		{"CloseBus", testCloseBus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := createBus()
			defer bus.Close()
			tt.test(t, bus)
		})
	}
}

func expectEvent(t *testing.T, ch <-chan watch.Event, want watch.Event) {
	t.Helper()

	select {
	case got := <-ch:
		if got.ID != want.ID || got.Op != want.Op || got.Namespace != want.Namespace || got.Key != want.Key {
			t.Errorf("got event %+v, want %+v", got, want)
		}
		if !got.At.Equal(want.At) {
			t.Errorf("got At %v, want %v", got.At, want.At)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %s %s/%s", want.Op, want.Namespace, want.Key)
	}
}

func expectNoEvent(t *testing.T, ch <-chan watch.Event) {
	t.Helper()

	select {
	case got := <-ch:
		t.Errorf("unexpected event %+v", got)
	case <-time.After(150 * time.Millisecond):
	}
}

func testPublishWithNoSubscribers(t *testing.T, bus watch.Bus) {
	err := bus.Publish(context.Background(), watch.NewEvent(watch.OpSave, "settings", "theme"))
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func testSingleSubscriber(t *testing.T, bus watch.Bus) {
	ctx := context.Background()
	received := make(chan watch.Event, 1)

	if err := bus.Subscribe(ctx, "settings", func(e watch.Event) { received <- e }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// Give the listener time to set up (Postgres)
	time.Sleep(50 * time.Millisecond)

	e := watch.NewEvent(watch.OpSave, "settings", "theme")
	if err := bus.Publish(ctx, e); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	expectEvent(t, received, e)
}

func testMultipleSubscribers(t *testing.T, bus watch.Bus) {
	ctx := context.Background()
	chans := []chan watch.Event{
		make(chan watch.Event, 1),
		make(chan watch.Event, 1),
		make(chan watch.Event, 1),
	}

	for _, ch := range chans {
		bus.Subscribe(ctx, "settings", func(e watch.Event) { ch <- e })
	}

	time.Sleep(50 * time.Millisecond)

	e := watch.NewEvent(watch.OpDelete, "settings", "theme")
	bus.Publish(ctx, e)

	for _, ch := range chans {
		expectEvent(t, ch, e)
	}
}

func testNamespaceFiltering(t *testing.T, bus watch.Bus) {
	ctx := context.Background()
	settings := make(chan watch.Event, 1)
	session := make(chan watch.Event, 1)

	bus.Subscribe(ctx, "settings", func(e watch.Event) { settings <- e })
	bus.Subscribe(ctx, "session", func(e watch.Event) { session <- e })

	time.Sleep(50 * time.Millisecond)

	e := watch.NewEvent(watch.OpSave, "settings", "theme")
	bus.Publish(ctx, e)

	expectEvent(t, settings, e)
	expectNoEvent(t, session)

	e = watch.NewEvent(watch.OpSave, "session", "token")
	bus.Publish(ctx, e)

	expectEvent(t, session, e)
	expectNoEvent(t, settings)
}

func testAllNamespaces(t *testing.T, bus watch.Bus) {
	ctx := context.Background()
	all := make(chan watch.Event, 2)

	bus.Subscribe(ctx, "", func(e watch.Event) { all <- e })

	time.Sleep(50 * time.Millisecond)

	first := watch.NewEvent(watch.OpSave, "settings", "theme")
	bus.Publish(ctx, first)
	expectEvent(t, all, first)

	second := watch.NewEvent(watch.OpDelete, "session", "token")
	bus.Publish(ctx, second)
	expectEvent(t, all, second)
}

func testSubscriberContextCancellation(t *testing.T, bus watch.Bus) {
	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan watch.Event, 10)

	bus.Subscribe(ctx, "settings", func(e watch.Event) { received <- e })

	time.Sleep(50 * time.Millisecond)

	e := watch.NewEvent(watch.OpSave, "settings", "theme")
	bus.Publish(context.Background(), e)
	expectEvent(t, received, e)

	cancel()
	time.Sleep(100 * time.Millisecond)

	bus.Publish(context.Background(), watch.NewEvent(watch.OpSave, "settings", "theme"))
	expectNoEvent(t, received)
}

func testCloseBus(t *testing.T, bus watch.Bus) {
	ctx := context.Background()

	bus.Subscribe(ctx, "settings", func(watch.Event) {})

	if err := bus.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := bus.Publish(ctx, watch.NewEvent(watch.OpSave, "settings", "theme")); err != watch.ErrClosed {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
	if err := bus.Subscribe(ctx, "settings", func(watch.Event) {}); err != watch.ErrClosed {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
	if err := bus.Close(); err != watch.ErrClosed {
		t.Errorf("expected ErrClosed on double close, got %v", err)
	}
}

func TestNewEvent(t *testing.T) {
	a := watch.NewEvent(watch.OpSave, "settings", "theme")
	b := watch.NewEvent(watch.OpSave, "settings", "theme")

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("expected distinct non-empty IDs, got %q and %q", a.ID, b.ID)
	}
	if a.At.Location() != time.UTC {
		t.Errorf("expected UTC timestamp, got %v", a.At.Location())
	}
	if a.Namespace != "settings" || a.Key != "theme" || a.Op != watch.OpSave {
		t.Errorf("unexpected event %+v", a)
	}
}
