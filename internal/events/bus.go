package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrBusClosed = errors.New("event bus closed")

type subscription struct {
	name    string
	types   map[Type]struct{}
	handler Handler
	queue   chan DomainEvent
}

func (s *subscription) wants(t Type) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Bus is the in-process asynchronous fan-out used by the waitlist matcher
// and the risk scorer. Each subscriber drains its own queue so a slow
// subscriber never delays the publisher or the other subscribers.
type Bus struct {
	mu         sync.RWMutex
	subs       []*subscription
	bufferSize int
	closed     bool
	done       chan struct{}
	inflight   sync.WaitGroup
	wg         sync.WaitGroup
	logger     zerolog.Logger
	timeout    time.Duration
}

func NewBus(logger zerolog.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{
		bufferSize: bufferSize,
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "event-bus").Logger(),
		timeout:    30 * time.Second,
	}
}

// Subscribe registers a handler for the given event types (all types when
// none are given). It must be called before Run.
func (b *Bus) Subscribe(name string, h Handler, types ...Type) {
	sub := &subscription{
		name:    name,
		types:   make(map[Type]struct{}, len(types)),
		handler: h,
		queue:   make(chan DomainEvent, b.bufferSize),
	}
	for _, t := range types {
		sub.types[t] = struct{}{}
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
}

// Run starts one dispatch goroutine per subscriber. It returns immediately;
// Close waits for queued events to drain.
func (b *Bus) Run(ctx context.Context) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		b.wg.Add(1)
		go b.dispatch(ctx, sub)
	}
}

func (b *Bus) dispatch(ctx context.Context, sub *subscription) {
	defer b.wg.Done()
	for ev := range sub.queue {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
		err := sub.handler(hctx, ev)
		cancel()
		if err != nil {
			b.logger.Error().Err(err).
				Str("subscriber", sub.name).
				Str("event_type", string(ev.Type)).
				Str("appointment_id", ev.AppointmentID.String()).
				Msg("event handler failed")
		}
	}
}

// Publish enqueues the event for every interested subscriber. It blocks
// only while a subscriber queue is full and gives up when ctx ends or the
// bus is closed. The bus lock is not held while waiting.
func (b *Bus) Publish(ctx context.Context, ev DomainEvent) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	b.inflight.Add(1)
	subs := b.subs
	b.mu.RUnlock()
	defer b.inflight.Done()

	for _, sub := range subs {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.queue <- ev:
			continue
		default:
		}
		select {
		case sub.queue <- ev:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return ErrBusClosed
		}
	}
	return nil
}

// Close stops accepting events, releases publishers stuck on a full queue
// and waits for subscribers to drain what was already queued.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	subs := b.subs
	b.mu.Unlock()

	b.inflight.Wait()
	for _, sub := range subs {
		close(sub.queue)
	}
	b.wg.Wait()
}
