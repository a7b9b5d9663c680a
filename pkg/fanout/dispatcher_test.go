package fanout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/courier/pkg/fanout"
)

func noopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type collectSink struct {
	mu     sync.Mutex
	events []fanout.Event
	block  chan struct{}
	fail   bool
}

func (s *collectSink) Name() string { return "collect" }

func (s *collectSink) Deliver(_ context.Context, e fanout.Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func (s *collectSink) received() []fanout.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fanout.Event(nil), s.events...)
}

type emailQueue struct {
	mu     sync.Mutex
	emails []fanout.Email
	err    error
}

func (q *emailQueue) Enqueue(_ context.Context, e fanout.Email) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.emails = append(q.emails, e)
	return q.err
}

func event(requestID uuid.UUID, version int) fanout.Event {
	return fanout.Event{ID: uuid.New(), RequestID: requestID, Version: version, Room: fanout.RequestRoom(requestID), Name: fanout.EventRequestUpdated}
}

func TestDispatcher_DeliversInOrderPerRequest(t *testing.T) {
	sink := &collectSink{}
	d := fanout.NewDispatcher(fanout.DispatcherConfig{Workers: 4, QueueSize: 64}, noopLogger(), nil, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- d.Run(ctx) }()

	a, b := uuid.New(), uuid.New()
	for v := 1; v <= 10; v++ {
		d.Emit(context.Background(), event(a, v), event(b, v))
	}

	require.Eventually(t, func() bool { return len(sink.received()) == 20 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	last := map[uuid.UUID]int{}
	for _, e := range sink.received() {
		assert.Greater(t, e.Version, last[e.RequestID])
		last[e.RequestID] = e.Version
	}
}

func TestDispatcher_DropsStaleEvents(t *testing.T) {
	sink := &collectSink{}
	d := fanout.NewDispatcher(fanout.DispatcherConfig{Workers: 1, QueueSize: 8}, noopLogger(), nil, sink)

	id := uuid.New()
	d.Emit(context.Background(), event(id, 3), event(id, 2), event(id, 3), event(id, 4))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sink.received()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	var versions []int
	for _, e := range sink.received() {
		versions = append(versions, e.Version)
	}
	assert.Equal(t, []int{3, 3, 4}, versions)
}

func TestDispatcher_EmitNeverBlocks(t *testing.T) {
	sink := &collectSink{block: make(chan struct{})}
	d := fanout.NewDispatcher(fanout.DispatcherConfig{Workers: 1, QueueSize: 2}, noopLogger(), nil, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- d.Run(ctx) }()

	id := uuid.New()
	emitted := make(chan struct{})
	go func() {
		for v := 1; v <= 100; v++ {
			d.Emit(context.Background(), event(id, v))
		}
		close(emitted)
	}()

	select {
	case <-emitted:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full queue")
	}

	close(sink.block)
	cancel()
	require.NoError(t, <-done)
	assert.Less(t, len(sink.received()), 100)
}

func TestDispatcher_SinkErrorsDoNotStopDelivery(t *testing.T) {
	failing := &collectSink{fail: true}
	ok := &collectSink{}
	d := fanout.NewDispatcher(fanout.DispatcherConfig{Workers: 1}, noopLogger(), nil, failing, ok)

	id := uuid.New()
	d.Emit(context.Background(), event(id, 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return len(ok.received()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Len(t, failing.received(), 1)
}

func TestDispatcher_SendEmailSwallowsErrors(t *testing.T) {
	q := &emailQueue{err: errors.New("db down")}
	d := fanout.NewDispatcher(fanout.DispatcherConfig{}, noopLogger(), q)

	d.SendEmail(context.Background(), fanout.Email{UserID: uuid.New(), Template: fanout.TemplateRequestCreated})
	assert.Len(t, q.emails, 1)
}
