package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []DomainEvent
}

func (r *recorder) handle(_ context.Context, ev DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestBusDeliversOnlySubscribedTypes(t *testing.T) {
	bus := NewBus(zerolog.Nop(), 8)
	var waitlist, risk recorder
	bus.Subscribe("waitlist", waitlist.handle, TypeCancelled)
	bus.Subscribe("risk", risk.handle, TypeCancelled, TypeNoShow, TypeCompleted)
	bus.Run(context.Background())

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, DomainEvent{ID: uuid.New(), Type: TypeBooked}))
	require.NoError(t, bus.Publish(ctx, DomainEvent{ID: uuid.New(), Type: TypeCancelled}))
	require.NoError(t, bus.Publish(ctx, DomainEvent{ID: uuid.New(), Type: TypeCompleted}))
	bus.Close()

	assert.Equal(t, 1, waitlist.len())
	assert.Equal(t, 2, risk.len())
	assert.ErrorIs(t, bus.Publish(ctx, DomainEvent{Type: TypeBooked}), ErrBusClosed)
}

func TestBusSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := NewBus(zerolog.Nop(), 4)
	release := make(chan struct{})
	var fast recorder
	bus.Subscribe("slow", func(ctx context.Context, ev DomainEvent) error {
		<-release
		return errors.New("ignored")
	})
	bus.Subscribe("fast", fast.handle)
	bus.Run(context.Background())

	require.NoError(t, bus.Publish(context.Background(), DomainEvent{Type: TypeCancelled}))
	assert.Eventually(t, func() bool { return fast.len() == 1 }, time.Second, 5*time.Millisecond)

	close(release)
	bus.Close()
}

func TestBusCloseReleasesBlockedPublisher(t *testing.T) {
	bus := NewBus(zerolog.Nop(), 1)
	started, release := make(chan struct{}), make(chan struct{})
	var once sync.Once
	bus.Subscribe("slow", func(ctx context.Context, ev DomainEvent) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	})
	bus.Run(context.Background())

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, DomainEvent{Type: TypeCancelled}))
	<-started
	require.NoError(t, bus.Publish(ctx, DomainEvent{Type: TypeCancelled}))

	blocked := make(chan error, 1)
	go func() { blocked <- bus.Publish(ctx, DomainEvent{Type: TypeCancelled}) }()

	closed := make(chan struct{})
	go func() {
		bus.Close()
		close(closed)
	}()

	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, ErrBusClosed)
	case <-time.After(time.Second):
		t.Fatal("publisher stayed blocked after Close")
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the subscriber drained")
	}
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaPublisherKeysByPatient(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisherWithWriter(w)
	ev := DomainEvent{
		ID:            uuid.New(),
		Type:          TypeNoShow,
		AppointmentID: uuid.New(),
		PatientID:     uuid.New(),
		OccurredAt:    time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}

	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, ev.PatientID.String(), string(w.msgs[0].Key))
	assert.Equal(t, "no_show", string(w.msgs[0].Headers[0].Value))

	var decoded DomainEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, ev.AppointmentID, decoded.AppointmentID)
}

func TestMultiJoinsErrors(t *testing.T) {
	boom := errors.New("broker down")
	var rec recorder
	bus := NewBus(zerolog.Nop(), 1)
	bus.Subscribe("rec", rec.handle)
	bus.Run(context.Background())

	m := Multi{bus, newKafkaPublisherWithWriter(&fakeWriter{err: boom}), nil, Discard{}}
	err := m.Publish(context.Background(), DomainEvent{Type: TypeBooked})
	assert.ErrorIs(t, err, boom)

	bus.Close()
	assert.Equal(t, 1, rec.len())
}
