// Package eventbus fans job events out to any number of subscribers
// without coupling workers to their consumers.
package eventbus

import (
	"log/slog"
	"sync"

	evbus "github.com/asaskevich/EventBus"
	"github.com/google/uuid"

	"github.com/queued-dl/queued/server/internal"
)

const topic = "jobs:events"

// subscriberBuffer bounds the per-subscriber queue. A consumer that
// falls this far behind starts losing events rather than blocking
// the publishing worker.
const subscriberBuffer = 256

// Handler receives events in per-job emission order.
type Handler func(internal.Event)

type subscriber struct {
	id string
	fn Handler
	ch chan internal.Event
	// registered with the underlying bus; kept for Unsubscribe
	forward func(internal.Event)
	done    chan struct{}
}

// Bus is a process-wide publish/subscribe hub. Publish and
// Subscribe/Unsubscribe are safe to call concurrently.
type Bus struct {
	bus  evbus.Bus
	mu   sync.Mutex
	subs map[string]*subscriber
}

func New() *Bus {
	return &Bus{
		bus:  evbus.New(),
		subs: make(map[string]*subscriber),
	}
}

// Publish delivers ev to every current subscriber. Delivery per job
// id follows emission order; a panicking or slow handler never
// affects other subscribers or the publisher.
func (b *Bus) Publish(ev internal.Event) {
	b.bus.Publish(topic, ev)
}

// Subscribe registers fn and returns the subscription id.
func (b *Bus) Subscribe(fn Handler) string {
	s := &subscriber{
		id:   uuid.NewString(),
		fn:   fn,
		ch:   make(chan internal.Event, subscriberBuffer),
		done: make(chan struct{}),
	}

	s.forward = func(ev internal.Event) {
		select {
		case s.ch <- ev:
		default:
			slog.Warn("event bus subscriber overrun, dropping event",
				slog.String("subscription", s.id),
				slog.String("job", ev.JobID),
				slog.String("kind", string(ev.Kind)),
			)
		}
	}

	b.mu.Lock()
	b.subs[s.id] = s
	b.mu.Unlock()

	go s.drain()

	if err := b.bus.Subscribe(topic, s.forward); err != nil {
		slog.Error("event bus subscribe failed", slog.Any("err", err))
	}

	return s.id
}

// Unsubscribe detaches the given subscription. Unknown ids are a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	s, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if !ok {
		return
	}

	b.bus.Unsubscribe(topic, s.forward)
	close(s.done)
}

// Close detaches every subscriber.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[string]*subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		b.bus.Unsubscribe(topic, s.forward)
		close(s.done)
	}
}

func (s *subscriber) drain() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.ch:
			s.deliver(ev)
		}
	}
}

func (s *subscriber) deliver(ev internal.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event subscriber panicked",
				slog.String("subscription", s.id),
				slog.Any("panic", r),
			)
		}
	}()
	s.fn(ev)
}
