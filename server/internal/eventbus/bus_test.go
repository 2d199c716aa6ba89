package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/queued-dl/queued/server/internal"
)

func collect(t *testing.T, ch <-chan internal.Event, n int) []internal.Event {
	t.Helper()

	out := make([]internal.Event, 0, n)
	deadline := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out, got %d of %d events", len(out), n)
		}
	}
	return out
}

func TestFanOut(t *testing.T) {
	b := New()
	defer b.Close()

	first := make(chan internal.Event, 8)
	second := make(chan internal.Event, 8)
	b.Subscribe(func(ev internal.Event) { first <- ev })
	b.Subscribe(func(ev internal.Event) { second <- ev })

	b.Publish(internal.NewEvent("job-1", internal.EventStarted, internal.EventPayload{}))

	for _, ch := range []<-chan internal.Event{first, second} {
		evs := collect(t, ch, 1)
		if evs[0].JobID != "job-1" || evs[0].Kind != internal.EventStarted {
			t.Errorf("unexpected event %+v", evs[0])
		}
	}
}

func TestPerJobOrder(t *testing.T) {
	b := New()
	defer b.Close()

	got := make(chan internal.Event, 16)
	b.Subscribe(func(ev internal.Event) { got <- ev })

	kinds := []internal.EventKind{
		internal.EventStarted,
		internal.EventProgress,
		internal.EventProgress,
		internal.EventCompleted,
	}
	for _, k := range kinds {
		b.Publish(internal.NewEvent("job-1", k, internal.EventPayload{}))
	}

	evs := collect(t, got, len(kinds))
	for i, ev := range evs {
		if ev.Kind != kinds[i] {
			t.Errorf("event %d = %s, want %s", i, ev.Kind, kinds[i])
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	count := 0
	id := b.Subscribe(func(internal.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	b.Publish(internal.NewEvent("job-1", internal.EventStarted, internal.EventPayload{}))
	time.Sleep(100 * time.Millisecond)

	b.Unsubscribe(id)
	b.Publish(internal.NewEvent("job-1", internal.EventCompleted, internal.EventPayload{}))
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("delivered %d events, want 1", count)
	}
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	b := New()
	defer b.Close()

	healthy := make(chan internal.Event, 8)
	b.Subscribe(func(internal.Event) { panic("boom") })
	b.Subscribe(func(ev internal.Event) { healthy <- ev })

	b.Publish(internal.NewEvent("job-1", internal.EventStarted, internal.EventPayload{}))
	b.Publish(internal.NewEvent("job-1", internal.EventProgress, internal.EventPayload{}))

	evs := collect(t, healthy, 2)
	if evs[1].Kind != internal.EventProgress {
		t.Errorf("second event = %s", evs[1].Kind)
	}
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	b := New()
	defer b.Close()

	block := make(chan struct{})
	b.Subscribe(func(internal.Event) { <-block })

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			b.Publish(internal.NewEvent("job-1", internal.EventProgress, internal.EventPayload{}))
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on a stalled subscriber")
	}
	close(block)
}
