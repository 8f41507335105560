// Package queue applies bulk transfers asynchronously on a fixed pool of
// workers sharded by user id.
package queue

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/loyalty/points-ledger/internal/core/ports"
	"github.com/loyalty/points-ledger/internal/observability/metrics"
)

const (
	defaultWorkers = 8
	channelBuffer  = 256
)

// ErrStopped is returned by Enqueue once Stop has been called.
var ErrStopped = errors.New("batch dispatcher stopped")

// transferApplier is the part of ports.LedgerService the workers need.
type transferApplier interface {
	ApplyTransfer(ctx context.Context, input ports.TransferInput) (*ports.TransferResult, error)
}

// Dispatcher routes transfers to workers by hashing the user id, so all
// transfers for one user are applied by the same worker in arrival order.
type Dispatcher struct {
	workers []chan ports.TransferInput
	ledger  transferApplier
	log     zerolog.Logger
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	// mu guards stopped; Stop holds it exclusively while closing the channels.
	mu      sync.RWMutex
	stopped bool
}

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, ledger transferApplier, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		workers: make([]chan ports.TransferInput, numWorkers),
		ledger:  ledger,
		log:     log.With().Str("component", "batch_dispatcher").Logger(),
	}
	for i := range d.workers {
		d.workers[i] = make(chan ports.TransferInput, channelBuffer)
	}
	return d
}

// Start launches all worker goroutines. A worker returns once Stop has closed
// its channel and everything queued on it was applied. Transfers are applied
// with ctx; once ctx is done the remaining ones are dropped and counted as
// failures.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for i, ch := range d.workers {
		d.wg.Add(1)
		go d.runWorker(ctx, i, ch)
	}
}

// Stop refuses further transfers and lets the workers drain their queues.
// It is safe to call more than once.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	for _, ch := range d.workers {
		close(ch)
	}
}

// Wait blocks until every worker started by Start has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown stops the dispatcher and waits for the queues to drain. If ctx
// ends first the transfers still queued are dropped, and ctx's error is
// returned once the workers have exited.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.Stop()

	drained := make(chan struct{})
	go func() {
		d.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		if d.cancel != nil {
			d.cancel()
		}
		<-drained
		return fmt.Errorf("drain batch queue: %w", ctx.Err())
	}
}

// Enqueue hands a transfer to the worker that owns its user. It blocks while
// that worker's buffer is full and gives up when ctx is done.
func (d *Dispatcher) Enqueue(ctx context.Context, input ports.TransferInput) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}

	idx := d.shardIndex(input.UserID)
	select {
	case d.workers[idx] <- input:
		metrics.BatchQueueDepth.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(d.workers[idx])))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue transfer for %s: %w", input.UserID, ctx.Err())
	}
}

// EnqueueBatch enqueues transfers in slice order and returns how many were
// accepted before the first failure.
func (d *Dispatcher) EnqueueBatch(ctx context.Context, inputs []ports.TransferInput) (int, error) {
	for i, in := range inputs {
		if err := d.Enqueue(ctx, in); err != nil {
			return i, err
		}
	}
	return len(inputs), nil
}

// shardIndex maps a user id deterministically to a worker index.
func (d *Dispatcher) shardIndex(userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan ports.TransferInput) {
	defer d.wg.Done()
	label := strconv.Itoa(id)

	dropped := 0
	for in := range ch {
		metrics.BatchQueueDepth.WithLabelValues(label).Set(float64(len(ch)))

		if ctx.Err() != nil {
			dropped++
			metrics.BatchFailuresTotal.Inc()
			continue
		}

		if _, err := d.ledger.ApplyTransfer(ctx, in); err != nil {
			metrics.BatchFailuresTotal.Inc()
			d.log.Error().Err(err).
				Str("user_id", in.UserID).
				Int64("amount", in.Amount).
				Int("worker_id", id).
				Msg("batch transfer failed")
		}
	}

	if dropped > 0 {
		d.log.Warn().Int("worker_id", id).Int("dropped", dropped).Msg("batch transfers dropped on shutdown")
	}
}
