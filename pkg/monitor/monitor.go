// Package monitor implements C12: an in-process multi-producer,
// multi-consumer bus of structured events, holding one flat subscriber set
// under a sync.RWMutex. Broadcasting snapshots the subscriber set then
// sends outside the lock, so a slow subscriber's write never blocks
// register/unregister. When a subscriber's queue is full, the new event is
// dropped for that subscriber rather than blocking a producer; the
// subscriber itself stays registered.
package monitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Kind is the closed set of structured event kinds C12 carries.
type Kind string

const (
	KindAgentUpdate       Kind = "agent_update"
	KindPipelineTransition Kind = "pipeline_transition"
	KindLogEntry          Kind = "log_entry"
	KindRateLimitEvent    Kind = "rate_limit_event"
	KindHealthTick        Kind = "health_tick"
)

// Event is one item on the bus.
type Event struct {
	Kind       Kind
	PipelineID string
	Timestamp  time.Time
	Data       map[string]any
}

const defaultQueueDepth = 1000

var (
	eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_forge_monitor_events_published_total",
		Help: "Events published to the monitoring bus, by kind.",
	}, []string{"kind"})
	eventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_forge_monitor_events_dropped_total",
		Help: "Events dropped because a subscriber's queue was full.",
	}, []string{"kind"})
	subscriberGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agent_forge_monitor_subscribers",
		Help: "Current number of monitoring bus subscribers.",
	})
)

// MustRegister registers the monitor's metrics with reg. Safe to call once
// per process; cmd/agent-forge does this during boot.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(eventsPublished, eventsDropped, subscriberGauge)
}

type subscriber struct {
	id    string
	queue chan Event
}

// Bus is C12.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	queueDepth  int
	logger      *slog.Logger
}

// New constructs a Bus. queueDepth bounds each subscriber's buffer; <=0
// uses the default of 1000.
func New(queueDepth int) *Bus {
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	return &Bus{
		subscribers: make(map[string]*subscriber),
		queueDepth:  queueDepth,
		logger:      slog.Default().With("component", "monitoring-bus"),
	}
}

// Subscribe registers a new subscriber and returns a receive-only channel of
// events plus an unsubscribe func. Callers must drain the channel; once
// queueDepth events are queued, each further event published is dropped
// for this subscriber (the queued ones are kept), and Publish never blocks.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	sub := &subscriber{
		id:    uuid.New().String(),
		queue: make(chan Event, b.queueDepth),
	}

	b.mu.Lock()
	b.subscribers[sub.id] = sub
	b.mu.Unlock()
	subscriberGauge.Set(float64(b.subscriberCount()))

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subscribers, sub.id)
		b.mu.Unlock()
		subscriberGauge.Set(float64(b.subscriberCount()))
	}
	return sub.queue, unsubscribe
}

// Publish fans ev out to every subscriber. Per-subscriber sends are
// non-blocking: a full queue means that subscriber is dropped this event
// and a drop is counted, but every other subscriber and the producer
// itself proceed unaffected.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	eventsPublished.WithLabelValues(string(ev.Kind)).Inc()

	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.queue <- ev:
		default:
			eventsDropped.WithLabelValues(string(ev.Kind)).Inc()
			b.logger.Warn("dropping event for slow subscriber", "subscriber", s.id, "kind", ev.Kind)
		}
	}
}

func (b *Bus) subscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// SubscriberCount reports the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	return b.subscriberCount()
}
