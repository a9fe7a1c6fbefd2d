package bus

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"caravel/internal/event"
)

// ErrClosed indicates a publish after Close.
var ErrClosed = errors.New("broker closed")

// Handler consumes one delivery. Handlers own their retry and
// escalation policy; an error returned here is logged and the delivery
// is considered done.
type Handler func(ctx context.Context, e event.Event) error

// Broker is an in-process at-least-once message broker. Each topic is
// split into partitions; deliveries are routed by orderId so all events
// for one order flow through a single worker in publish order. There is
// no ordering guarantee across topics or across different orders.
type Broker struct {
	logger     *slog.Logger
	partitions int
	buffer     int

	mu     sync.Mutex
	topics map[string]*topic
	closed bool

	done    chan struct{} // closed first: publishers stop enqueueing
	drained chan struct{} // closed once every publisher returned: workers may exit
	pubs    sync.WaitGroup
	wg      sync.WaitGroup
}

type topic struct {
	name  string
	parts []chan event.Event

	mu       sync.RWMutex
	handlers []Handler
}

// New constructs a broker. partitions and buffer fall back to 1 and 64.
func New(logger *slog.Logger, partitions, buffer int) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if partitions < 1 {
		partitions = 1
	}
	if buffer < 1 {
		buffer = 64
	}
	return &Broker{
		logger:     logger,
		partitions: partitions,
		buffer:     buffer,
		topics:     make(map[string]*topic),
		done:       make(chan struct{}),
		drained:    make(chan struct{}),
	}
}

// Subscribe registers a handler for the named topic. All handlers of a
// topic see every delivery.
func (b *Broker) Subscribe(name string, h Handler) {
	t := b.ensureTopic(name)
	t.mu.Lock()
	t.handlers = append(t.handlers, h)
	t.mu.Unlock()
}

// Publish enqueues the event on the partition owning its orderId. It
// blocks only when the partition buffer is full.
func (b *Broker) Publish(ctx context.Context, name string, e event.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("publish to %s: %w", name, ErrClosed)
	}
	b.pubs.Add(1)
	b.mu.Unlock()
	defer b.pubs.Done()

	t := b.ensureTopic(name)
	part := t.parts[partitionFor(e.EventMeta().OrderID, len(t.parts))]

	select {
	case part <- e:
		return nil
	case <-b.done:
		return fmt.Errorf("publish to %s: %w", name, ErrClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting publishes and waits for in-flight deliveries to
// drain. Partition channels are never closed; a publisher that raced
// Close gets ErrClosed instead of a send on a closed channel.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	b.pubs.Wait()
	close(b.drained)
	b.wg.Wait()
}

func (b *Broker) ensureTopic(name string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[name]
	if ok {
		return t
	}

	t = &topic{
		name:  name,
		parts: make([]chan event.Event, b.partitions),
	}
	for i := range t.parts {
		t.parts[i] = make(chan event.Event, b.buffer)
		b.wg.Add(1)
		go b.runPartition(t, t.parts[i])
	}
	b.topics[name] = t
	return t
}

func (b *Broker) runPartition(t *topic, part chan event.Event) {
	defer b.wg.Done()
	for {
		select {
		case e := <-part:
			b.dispatch(t, e)
		case <-b.drained:
			// No publisher is left; finish the buffered backlog and stop.
			for {
				select {
				case e := <-part:
					b.dispatch(t, e)
				default:
					return
				}
			}
		}
	}
}

func (b *Broker) dispatch(t *topic, e event.Event) {
	t.mu.RLock()
	handlers := t.handlers
	t.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(t.name, h, e)
	}
}

// deliver shields the worker from a misbehaving handler so one poison
// message cannot stop the partition.
func (b *Broker) deliver(name string, h Handler, e event.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panic",
				"topic", name,
				"event", string(e.EventType()),
				"order_id", e.EventMeta().OrderID,
				"panic", r,
			)
		}
	}()

	if err := h(context.Background(), e); err != nil {
		b.logger.Error("handler failed",
			"topic", name,
			"event", string(e.EventType()),
			"order_id", e.EventMeta().OrderID,
			"error", err,
		)
	}
}

func partitionFor(orderID string, parts int) int {
	if parts <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(orderID))
	return int(h.Sum32() % uint32(parts))
}
