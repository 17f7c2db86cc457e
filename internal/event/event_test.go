package event_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quizroyale/backend/internal/event"
)

type eventWithName string

func (e eventWithName) Name() string {
	return string(e)
}

type subscriber struct {
	name        string
	subscribeTo []string
}

func TestBus_PublishSubscribe(t *testing.T) {
	type (
		inputs struct {
			published   []event.Event
			subscribers []subscriber
		}

		outputs struct {
			received map[string][]event.Event
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"a single subscriber should receive only its event": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("e1"),
						eventWithName("e2"),
					},
					subscribers: []subscriber{
						{name: "s1", subscribeTo: []string{"e1"}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("e1")}, out.received["s1"])
			},
		},

		"a single subscriber should receive every dispatched event": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("e1"),
						eventWithName("e1"),
					},
					subscribers: []subscriber{
						{name: "s1", subscribeTo: []string{"e1"}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("e1"), eventWithName("e1")}, out.received["s1"])
			},
		},

		"an event should be dispatched to all subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("e1"),
					},
					subscribers: []subscriber{
						{name: "s1", subscribeTo: []string{"e1"}},
						{name: "s2", subscribeTo: []string{"e1"}},
						{name: "s3", subscribeTo: []string{"e1"}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("e1")}, out.received["s1"])
				assert.ElementsMatch(t, []event.Event{eventWithName("e1")}, out.received["s2"])
				assert.ElementsMatch(t, []event.Event{eventWithName("e1")}, out.received["s3"])
			},
		},

		"multiple events should be dispatched to multiple subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("e1"),
						eventWithName("e2"),
						eventWithName("e1"),
						eventWithName("e3"),
					},
					subscribers: []subscriber{
						{name: "s1", subscribeTo: []string{"e1"}},
						{name: "s2", subscribeTo: []string{"e1", "e2"}},
						{name: "s3", subscribeTo: []string{"e3", "e2"}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("e1"), eventWithName("e1")}, out.received["s1"])
				assert.ElementsMatch(t, []event.Event{eventWithName("e1"), eventWithName("e1"), eventWithName("e2")}, out.received["s2"])
				assert.ElementsMatch(t, []event.Event{eventWithName("e2"), eventWithName("e3")}, out.received["s3"])
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			mu := sync.Mutex{}
			out := outputs{received: make(map[string][]event.Event)}

			b := event.NewBus()
			for _, s := range in.subscribers {
				s := s
				for _, e := range s.subscribeTo {
					b.Subscribe(e, func(ctx context.Context, e event.Event) error {
						mu.Lock()
						out.received[s.name] = append(out.received[s.name], e)
						mu.Unlock()
						return nil
					})
				}
			}

			for _, e := range in.published {
				b.Publish(context.Background(), e)
			}
			b.Stop()

			tt.assert(t, out)
		})
	}
}

// A subscription's worker is a single goroutine, so one subscriber must see
// events exactly in publish order.
func TestBus_OrderedDelivery(t *testing.T) {
	t.Parallel()

	b := event.NewBus()

	var (
		mu       sync.Mutex
		received []event.Event
	)
	b.Subscribe("e1", func(ctx context.Context, e event.Event) error {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		return nil
	})

	var want []event.Event
	for i := 0; i < 100; i++ {
		want = append(want, sequencedEvent{seq: i})
	}
	for _, e := range want {
		b.Publish(context.Background(), e)
	}
	b.Stop()

	assert.Equal(t, want, received)
}

type sequencedEvent struct {
	seq int
}

func (sequencedEvent) Name() string { return "e1" }

// SubscribeAll shares one queue across event names, so a subscriber sees
// deliveries in publish order even when the names alternate. Stop must close
// the shared queue only once.
func TestBus_SubscribeAllKeepsCrossEventOrder(t *testing.T) {
	t.Parallel()

	b := event.NewBus()

	var (
		mu       sync.Mutex
		received []event.Event
	)
	b.SubscribeAll(func(ctx context.Context, e event.Event) error {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		return nil
	}, "e1", "e2", "e3")

	var want []event.Event
	for i := 0; i < 100; i++ {
		want = append(want, eventWithName(fmt.Sprintf("e%d", i%3+1)))
	}
	for _, e := range want {
		b.Publish(context.Background(), e)
	}
	b.Stop()

	assert.Equal(t, want, received)
}

// A panicking or failing handler must not take down its worker or the bus.
func TestBus_HandlerFailureIsIsolated(t *testing.T) {
	t.Parallel()

	b := event.NewBus()

	var (
		mu    sync.Mutex
		calls int
	)
	b.Subscribe("e1", func(ctx context.Context, e event.Event) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()

		if n == 1 {
			panic("boom")
		}
		if n == 2 {
			return fmt.Errorf("handler error")
		}
		return nil
	})

	for i := 0; i < 3; i++ {
		b.Publish(context.Background(), eventWithName("e1"))
	}
	b.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls, "all events must be handled despite failures")
}
