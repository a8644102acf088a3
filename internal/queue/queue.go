// Package queue is the durable delivery queue: pending payloads survive
// restarts and outages, merge into one upload when several accumulate and
// drain to the collector whenever connectivity allows.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"osb-tracker/internal/observability"
	"osb-tracker/internal/payload"
	"osb-tracker/internal/storage"
)

// Persisted slots.
const (
	TasksKey = "osb-defaults-tasks"
	URLKey   = "osb-defaults-url"
)

// Deliverer uploads one body to the collector.
type Deliverer interface {
	Deliver(ctx context.Context, url, body string) error
}

type Connectivity interface {
	IsOnline() bool
}

// Pending is a payload waiting for delivery. ID only tags log lines.
type Pending struct {
	ID   uuid.UUID
	URL  string
	Body string
}

type Option func(*Queue)

// WithTimeout bounds a single delivery attempt.
func WithTimeout(d time.Duration) Option {
	return func(q *Queue) { q.timeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Queue is safe for concurrent use. At most one delivery is in flight; the
// lock is not held during the round trip.
type Queue struct {
	kv        storage.KV
	deliverer Deliverer
	conn      Connectivity
	timeout   time.Duration
	now       func() time.Time

	mu          sync.Mutex
	pending     []Pending
	initialized bool
	inFlight    bool
	wg          sync.WaitGroup
}

func New(kv storage.KV, d Deliverer, conn Connectivity, opts ...Option) *Queue {
	q := &Queue{
		kv:        kv,
		deliverer: d,
		conn:      conn,
		timeout:   10 * time.Second,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Initialize rehydrates the persisted queue once, then merges and drains.
// Later calls only re-arm delivery.
func (q *Queue) Initialize(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.initialized {
		q.rehydrateLocked(ctx)
	}
	q.mergeLocked()
	q.drainLocked(ctx)
}

// Enqueue appends a payload, then drains when online or persists when not.
func (q *Queue) Enqueue(ctx context.Context, url, body string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.initialized {
		q.rehydrateLocked(ctx)
	}

	p := Pending{ID: uuid.New(), URL: url, Body: body}
	q.pending = append(q.pending, p)
	q.updateDepthLocked()
	log.Debug().Str("payload_id", p.ID.String()).Int("queued", len(q.pending)).Msg("payload enqueued")

	if q.conn.IsOnline() {
		q.mergeLocked()
		q.drainLocked(ctx)
		return
	}
	q.persistLocked(ctx)
}

// OnConnectivityChanged merges and drains on the transition to online and
// persists the queue when going offline.
func (q *Queue) OnConnectivityChanged(ctx context.Context, online bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !online {
		q.persistLocked(ctx)
		return
	}
	q.mergeLocked()
	q.drainLocked(ctx)
}

// Drain starts delivering the head of the queue if nothing is in flight.
func (q *Queue) Drain(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.drainLocked(ctx)
}

// MergeIfMultiple collapses two or more pending payloads into one.
func (q *Queue) MergeIfMultiple() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.mergeLocked()
}

// Len is the number of payloads waiting; an in-flight payload is not counted.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending returns a copy of the waiting payloads in delivery order.
func (q *Queue) Pending() []Pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Pending(nil), q.pending...)
}

// Persist writes the waiting payloads to storage.
func (q *Queue) Persist(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.persistLocked(ctx)
}

// Wait blocks until no delivery is in flight.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) drainLocked(ctx context.Context) {
	if q.inFlight || len(q.pending) == 0 {
		return
	}
	if !q.conn.IsOnline() {
		q.persistLocked(ctx)
		return
	}

	p := q.pending[0]
	q.pending = q.pending[1:]
	q.inFlight = true
	q.updateDepthLocked()

	q.wg.Add(1)
	go q.deliver(p)
}

func (q *Queue) deliver(p Pending) {
	defer q.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	err := q.deliverer.Deliver(ctx, p.URL, p.Body)
	cancel()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.inFlight = false

	// Persistence runs on a fresh context; the delivery one is done.
	bg := context.Background()
	if err != nil {
		observability.Deliveries.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Str("payload_id", p.ID.String()).Msg("delivery failed; kept for next trigger")
		q.pending = append([]Pending{p}, q.pending...)
		q.updateDepthLocked()
		q.persistLocked(bg)
		return
	}

	observability.Deliveries.WithLabelValues("delivered").Inc()
	log.Debug().Str("payload_id", p.ID.String()).Msg("payload delivered")
	if len(q.pending) == 0 {
		q.persistLocked(bg)
		return
	}
	q.drainLocked(bg)
}

func (q *Queue) mergeLocked() {
	if len(q.pending) < 2 {
		return
	}
	bodies := make([]string, len(q.pending))
	for i, p := range q.pending {
		bodies[i] = p.Body
	}
	merged, err := payload.Merge(bodies, q.now())
	if err != nil {
		log.Error().Err(err).Int("queued", len(q.pending)).Msg("merge queued payloads")
		return
	}

	p := Pending{ID: uuid.New(), URL: q.pending[0].URL, Body: merged}
	log.Debug().Int("merged", len(q.pending)).Str("payload_id", p.ID.String()).Msg("queued payloads merged")
	q.pending = []Pending{p}
	q.updateDepthLocked()
	observability.QueueMerges.Inc()
}

// persistLocked writes the waiting bodies and the first url. An empty queue
// removes both slots.
func (q *Queue) persistLocked(ctx context.Context) {
	if len(q.pending) == 0 {
		q.removeSlotsLocked(ctx)
		return
	}
	bodies := make([]string, len(q.pending))
	for i, p := range q.pending {
		bodies[i] = p.Body
	}
	if err := q.kv.SetList(ctx, TasksKey, bodies); err != nil {
		log.Error().Err(err).Msg("persist queued bodies")
		return
	}
	if err := q.kv.SetString(ctx, URLKey, q.pending[0].URL); err != nil {
		log.Error().Err(err).Msg("persist queue url")
	}
}

func (q *Queue) removeSlotsLocked(ctx context.Context) {
	for _, key := range []string{TasksKey, URLKey} {
		if err := q.kv.Remove(ctx, key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("clear persisted queue")
		}
	}
}

// rehydrateLocked restores persisted payloads ahead of anything queued in
// memory. The slots are cleared once read, even when they cannot be used.
// Read failures count as an empty queue.
func (q *Queue) rehydrateLocked(ctx context.Context) {
	q.initialized = true

	bodies, err := q.kv.GetList(ctx, TasksKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Warn().Err(err).Msg("read persisted queue")
	}
	url, err := q.kv.GetString(ctx, URLKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Warn().Err(err).Msg("read persisted queue url")
	}
	q.removeSlotsLocked(ctx)
	if len(bodies) == 0 || url == "" {
		if len(bodies) > 0 {
			log.Warn().Int("dropped", len(bodies)).Msg("persisted queue has no url")
		}
		return
	}

	restored := make([]Pending, 0, len(bodies)+len(q.pending))
	for _, b := range bodies {
		restored = append(restored, Pending{ID: uuid.New(), URL: url, Body: b})
	}
	q.pending = append(restored, q.pending...)
	q.updateDepthLocked()

	log.Info().Int("restored", len(bodies)).Msg("queue rehydrated")
	q.mergeLocked()
}

func (q *Queue) updateDepthLocked() {
	observability.QueueDepth.Set(float64(len(q.pending)))
}
