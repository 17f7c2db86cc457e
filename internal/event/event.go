package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	defaultQueueSize = 1024
	defaultTimeout   = 30 * time.Second
)

type Event interface {
	Name() string
}

type Handler func(ctx context.Context, e Event) error

// Bus is an in-memory event bus. Each subscription gets its own queue and a
// single worker goroutine, so one subscriber sees events in publish order and
// a slow subscriber cannot stall the others.
type Bus struct {
	wg sync.WaitGroup

	mu   sync.RWMutex
	subs map[string][]*subscription
}

type subscription struct {
	queue chan delivery
}

type delivery struct {
	ctx context.Context
	e   Event
}

// NewBus creates a new event bus. Caller should call Stop for graceful
// shutdown.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string][]*subscription),
	}
}

// Subscribe registers a handler for an event name. All subscriptions must be
// made before the first Publish.
func (b *Bus) Subscribe(name string, h Handler) {
	b.SubscribeAll(h, name)
}

// SubscribeAll registers one handler for several event names on a single
// queue, so deliveries across those names keep publish order. Use it when a
// subscriber needs cross-event ordering, e.g. eliminations before the round
// summary.
func (b *Bus) SubscribeAll(h Handler, names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{queue: make(chan delivery, defaultQueueSize)}
	for _, name := range names {
		b.subs[name] = append(b.subs[name], sub)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		for d := range sub.queue {
			b.handle(d.ctx, h, d.e)
		}
	}()
}

// Publish an event. Delivery is asynchronous; the call only blocks when a
// subscriber's queue is full. Publish must not be called after Stop.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[e.Name()] {
		sub.queue <- delivery{ctx: context.WithoutCancel(ctx), e: e}
	}
}

func (b *Bus) handle(ctx context.Context, h Handler, e Event) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "event: handler panic",
				"event", e.Name(),
				"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
			)
		}

		cancel()
	}()

	if err := h(ctx, e); err != nil {
		slog.ErrorContext(ctx, "event: handle event failed",
			"event", e.Name(),
			"error", err,
		)
	}
}

// Stop drains all queues and waits for in-flight handlers to finish.
func (b *Bus) Stop() {
	b.mu.Lock()
	closed := make(map[*subscription]struct{})
	for _, subs := range b.subs {
		for _, sub := range subs {
			if _, ok := closed[sub]; ok {
				continue
			}
			closed[sub] = struct{}{}
			close(sub.queue)
		}
	}
	b.subs = make(map[string][]*subscription)
	b.mu.Unlock()

	b.wg.Wait()
}
