package fanout

import (
	"container/list"
	"context"
	"hash/fnv"
	"sync"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/courier/pkg/metrics"
	"github.com/Ramsey-B/courier/pkg/tracing"
)

// Sink delivers events to one transport.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event Event) error
}

// EmailQueue accepts emails for durable, asynchronous sending.
type EmailQueue interface {
	Enqueue(ctx context.Context, email Email) error
}

type DispatcherConfig struct {
	Workers   int
	QueueSize int
	// TrackedRequests caps how many requests each worker remembers for the
	// stale-event guard.
	TrackedRequests int
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Workers < 1 {
		c.Workers = 4
	}
	if c.QueueSize < 1 {
		c.QueueSize = 256
	}
	if c.TrackedRequests < 1 {
		c.TrackedRequests = 10000
	}
	return c
}

// Dispatcher is the process Notifier. Events are sharded by request id onto
// bounded queues so every request's events are delivered in order; a full
// queue drops the event rather than block the caller.
type Dispatcher struct {
	shards  []chan Event
	tracked int
	sinks   []Sink
	emails  EmailQueue
	logger  ectologger.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func NewDispatcher(cfg DispatcherConfig, logger ectologger.Logger, emails EmailQueue, sinks ...Sink) *Dispatcher {
	cfg = cfg.withDefaults()
	shards := make([]chan Event, cfg.Workers)
	for i := range shards {
		shards[i] = make(chan Event, cfg.QueueSize)
	}
	return &Dispatcher{
		shards:  shards,
		tracked: cfg.TrackedRequests,
		sinks:   sinks,
		emails:  emails,
		logger:  logger,
		closed:  make(chan struct{}),
	}
}

func (d *Dispatcher) shardFor(requestID uuid.UUID) chan Event {
	h := fnv.New32a()
	_, _ = h.Write(requestID[:])
	return d.shards[h.Sum32()%uint32(len(d.shards))]
}

func (d *Dispatcher) Emit(ctx context.Context, events ...Event) {
	traceParent := tracing.GetTraceParent(ctx)
	for _, event := range events {
		if event.TraceParent == "" {
			event.TraceParent = traceParent
		}
		select {
		case <-d.closed:
			metrics.EventsDroppedTotal.WithLabelValues("closed").Inc()
			continue
		default:
		}
		select {
		case d.shardFor(event.RequestID) <- event:
			metrics.DispatchQueueDepth.Inc()
		default:
			metrics.EventsDroppedTotal.WithLabelValues("queue_full").Inc()
			d.logger.WithContext(ctx).WithFields(map[string]any{
				"event":      event.Name,
				"room":       event.Room,
				"request_id": event.RequestID,
			}).Warn("dispatch queue full, dropping event")
		}
	}
}

// SendEmail writes the email to the outbox. Failures are logged only.
func (d *Dispatcher) SendEmail(ctx context.Context, email Email) {
	if d.emails == nil {
		return
	}
	if err := d.emails.Enqueue(ctx, email); err != nil {
		d.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"template": email.Template,
			"user_id":  email.UserID,
		}).Error("failed to enqueue email")
	}
}

// Run delivers queued events until ctx is done, then drains what is queued.
func (d *Dispatcher) Run(ctx context.Context) error {
	g := errgroup.Group{}
	for _, shard := range d.shards {
		g.Go(func() error {
			d.work(ctx, shard)
			return nil
		})
	}
	<-ctx.Done()
	d.closeOnce.Do(func() { close(d.closed) })
	return g.Wait()
}

func (d *Dispatcher) work(ctx context.Context, shard chan Event) {
	versions := newVersionLog(d.tracked)
	deliver := func(event Event) {
		metrics.DispatchQueueDepth.Dec()
		if versions.stale(event.RequestID, event.Version) {
			metrics.EventsDroppedTotal.WithLabelValues("stale").Inc()
			return
		}
		versions.record(event.RequestID, event.Version)
		d.deliver(context.WithoutCancel(ctx), event)
		if event.Final {
			versions.forget(event.RequestID)
		}
	}

	for {
		select {
		case event := <-shard:
			deliver(event)
		case <-ctx.Done():
			for {
				select {
				case event := <-shard:
					deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event Event) {
	for _, sink := range d.sinks {
		if err := sink.Deliver(ctx, event); err != nil {
			metrics.EventsDispatchedTotal.WithLabelValues(sink.Name(), "error").Inc()
			d.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"sink":       sink.Name(),
				"event":      event.Name,
				"room":       event.Room,
				"request_id": event.RequestID,
			}).Warn("failed to deliver event")
			continue
		}
		metrics.EventsDispatchedTotal.WithLabelValues(sink.Name(), "ok").Inc()
	}
}

// versionLog remembers the last delivered version of at most limit requests.
// The request delivered least recently is forgotten first.
type versionLog struct {
	limit int
	order *list.List
	items map[uuid.UUID]*list.Element
}

type versionEntry struct {
	requestID uuid.UUID
	version   int
}

func newVersionLog(limit int) *versionLog {
	return &versionLog{limit: limit, order: list.New(), items: map[uuid.UUID]*list.Element{}}
}

func (l *versionLog) stale(requestID uuid.UUID, version int) bool {
	el, ok := l.items[requestID]
	return ok && version < el.Value.(*versionEntry).version
}

func (l *versionLog) record(requestID uuid.UUID, version int) {
	if el, ok := l.items[requestID]; ok {
		el.Value.(*versionEntry).version = version
		l.order.MoveToFront(el)
		return
	}
	l.items[requestID] = l.order.PushFront(&versionEntry{requestID: requestID, version: version})
	for l.order.Len() > l.limit {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		delete(l.items, oldest.Value.(*versionEntry).requestID)
	}
}

func (l *versionLog) forget(requestID uuid.UUID) {
	if el, ok := l.items[requestID]; ok {
		l.order.Remove(el)
		delete(l.items, requestID)
	}
}

func (l *versionLog) size() int {
	return l.order.Len()
}
