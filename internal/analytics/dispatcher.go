package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"engagement-gateway/internal/log"
	"engagement-gateway/internal/metrics"
	"engagement-gateway/internal/models"
)

var (
	ErrQueueFull        = errors.New("analytics: dispatch queue full")
	ErrDispatcherClosed = errors.New("analytics: dispatcher closed")
)

// Backend is the subset of Client the dispatcher drives.
type Backend interface {
	StartAccess(ctx context.Context, token string, resourceID uuid.UUID, learner models.Learner) (int, error)
	Heartbeat(ctx context.Context, token string, resourceID uuid.UUID, sessionIndex int, interval time.Duration) error
	VideoProgress(ctx context.Context, token string, delta models.ProgressDelta) error
	EndAccess(ctx context.Context, token string, resourceID uuid.UUID, sessionIndex int) error
}

type result struct {
	index int
	err   error
}

type job struct {
	name string
	ctx  context.Context
	run  func(ctx context.Context) (int, error)

	// Set for calls whose caller waits. abandoned is closed when the caller
	// gives up; undo then closes a session the backend opened too late.
	reply     chan result
	abandoned chan struct{}
	undo      func(ctx context.Context, index int) error
}

// Dispatcher sends analytics calls from a fixed pool of workers, one queue per
// worker. Calls are sharded by resource ID, so calls for one resource leave in
// the order they were queued. Only StartAccess waits for its outcome; the other
// calls are fire-and-forget and are dropped when their queue is full.
type Dispatcher struct {
	backend     Backend
	callTimeout time.Duration
	log         zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queues []chan job
	wg     sync.WaitGroup
}

func NewDispatcher(backend Backend, workerCount, queueSize int, callTimeout time.Duration) *Dispatcher {
	if workerCount < 1 {
		workerCount = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	d := &Dispatcher{
		backend:     backend,
		callTimeout: callTimeout,
		log:         log.WithComponent("analytics"),
		queues:      make([]chan job, workerCount),
	}
	for i := range d.queues {
		d.queues[i] = make(chan job, queueSize)
	}
	return d
}

func (d *Dispatcher) Start() {
	for i, q := range d.queues {
		d.wg.Add(1)
		go d.worker(i, q)
	}
	d.log.Info().Int("workers", len(d.queues)).Msg("analytics dispatcher started")
}

// Stop refuses new calls and waits until queued calls have been sent or ctx
// expires.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info().Msg("analytics dispatcher drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain analytics queue: %w", ctx.Err())
	}
}

func (d *Dispatcher) worker(id int, queue <-chan job) {
	defer d.wg.Done()
	for j := range queue {
		d.execute(id, j)
	}
	d.log.Debug().Int("worker", id).Msg("worker shutting down")
}

func (d *Dispatcher) execute(id int, j job) {
	if j.reply != nil {
		d.executeAwaited(id, j)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.callTimeout)
	defer cancel()
	if _, err := j.run(ctx); err != nil {
		metrics.DispatchFailed(j.name)
		d.log.Warn().Err(err).Int("worker", id).Str("call", j.name).Msg("analytics call failed")
	}
}

// executeAwaited runs a call whose caller waits for the reply. A caller that
// gave up before the call started gets nothing sent on its behalf; one that
// gave up mid-call has any session the backend opened closed again.
func (d *Dispatcher) executeAwaited(id int, j job) {
	select {
	case <-j.abandoned:
		d.log.Debug().Int("worker", id).Str("call", j.name).Msg("caller gone, skipping call")
		return
	default:
	}

	// The caller's deadline bounds its wait, not the call: cancelling a
	// request in flight would leave its outcome unknown.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(j.ctx), d.callTimeout)
	defer cancel()
	index, err := j.run(ctx)

	select {
	case j.reply <- result{index: index, err: err}:
		return
	case <-j.abandoned:
	}
	if err != nil {
		return
	}
	d.log.Warn().Int("worker", id).Int("session_index", index).
		Msg("start access finished after its caller gave up, closing the session")
	undoCtx, undoCancel := context.WithTimeout(context.Background(), d.callTimeout)
	defer undoCancel()
	if err := j.undo(undoCtx, index); err != nil {
		metrics.DispatchFailed("end_access")
		d.log.Warn().Err(err).Int("worker", id).Int("session_index", index).Msg("closing abandoned session failed")
	}
}

func (d *Dispatcher) queueFor(resourceID uuid.UUID) chan job {
	return d.queues[xxhash.Sum64(resourceID[:])%uint64(len(d.queues))]
}

// enqueue hands j to its shard without blocking.
func (d *Dispatcher) enqueue(resourceID uuid.UUID, j job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queueFor(resourceID) <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

// fire queues a fire-and-forget call; failures are counted and logged only.
func (d *Dispatcher) fire(resourceID uuid.UUID, name string, run func(ctx context.Context) error) {
	err := d.enqueue(resourceID, job{
		name: name,
		run: func(ctx context.Context) (int, error) {
			return 0, run(ctx)
		},
	})
	if err != nil {
		metrics.DispatchDropped(name)
		d.log.Warn().Err(err).
			Str("call", name).
			Str("resource_id", resourceID.String()).
			Msg("analytics call dropped")
	}
}

// startAccess waits for a queue slot and for the reply, both bounded by ctx.
func (d *Dispatcher) startAccess(ctx context.Context, token string, resourceID uuid.UUID, learner models.Learner) (int, error) {
	j := job{
		name: "start_access",
		ctx:  ctx,
		run: func(ctx context.Context) (int, error) {
			return d.backend.StartAccess(ctx, token, resourceID, learner)
		},
		reply:     make(chan result),
		abandoned: make(chan struct{}),
		undo: func(ctx context.Context, index int) error {
			return d.backend.EndAccess(ctx, token, resourceID, index)
		},
	}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return 0, ErrDispatcherClosed
	}
	select {
	case d.queueFor(resourceID) <- j:
		d.mu.RUnlock()
	case <-ctx.Done():
		d.mu.RUnlock()
		return 0, ctx.Err()
	}

	select {
	case r := <-j.reply:
		return r.index, r.err
	case <-ctx.Done():
		close(j.abandoned)
		return 0, ctx.Err()
	}
}

// Bind returns an engagement client that forwards token on every call.
func (d *Dispatcher) Bind(token string) *BoundClient {
	return &BoundClient{d: d, token: token}
}

// BoundClient is the per-viewer AnalyticsClient.
type BoundClient struct {
	d     *Dispatcher
	token string
}

func (b *BoundClient) StartAccess(ctx context.Context, resourceID uuid.UUID, learner models.Learner) (int, error) {
	return b.d.startAccess(ctx, b.token, resourceID, learner)
}

func (b *BoundClient) Heartbeat(resourceID uuid.UUID, sessionIndex int, interval time.Duration) {
	b.d.fire(resourceID, "heartbeat", func(ctx context.Context) error {
		return b.d.backend.Heartbeat(ctx, b.token, resourceID, sessionIndex, interval)
	})
}

func (b *BoundClient) VideoProgress(delta models.ProgressDelta) {
	b.d.fire(delta.ResourceID, "video_progress", func(ctx context.Context) error {
		return b.d.backend.VideoProgress(ctx, b.token, delta)
	})
}

func (b *BoundClient) EndAccess(resourceID uuid.UUID, sessionIndex int) {
	b.d.fire(resourceID, "end_access", func(ctx context.Context) error {
		return b.d.backend.EndAccess(ctx, b.token, resourceID, sessionIndex)
	})
}
