package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/loyalty/points-ledger/internal/core/domain"
	"github.com/loyalty/points-ledger/internal/core/ports"
)

type recordingLedger struct {
	mu    sync.Mutex
	seen  map[string][]int64
	fail  map[string]bool
	total int
	done  chan struct{}
	want  int
}

func newRecordingLedger(want int) *recordingLedger {
	return &recordingLedger{
		seen: map[string][]int64{},
		fail: map[string]bool{},
		done: make(chan struct{}),
		want: want,
	}
}

func (r *recordingLedger) ApplyTransfer(_ context.Context, in ports.TransferInput) (*ports.TransferResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seen[in.UserID] = append(r.seen[in.UserID], in.Amount)
	r.total++
	if r.total == r.want {
		close(r.done)
	}
	if r.fail[in.UserID] {
		return nil, domain.ErrInsufficientPoints
	}
	return &ports.TransferResult{Transfer: &domain.Transfer{UserID: in.UserID, Amount: in.Amount}}, nil
}

func (r *recordingLedger) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %d transfers", r.want)
	}
}

func TestDispatcher_PreservesPerUserOrder(t *testing.T) {
	const perUser = 50
	users := []string{"u-1", "u-2", "u-3", "u-4", "u-5"}

	ledger := newRecordingLedger(perUser * len(users))
	d := NewDispatcher(3, ledger, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	var batch []ports.TransferInput
	for i := 0; i < perUser; i++ {
		for _, u := range users {
			batch = append(batch, ports.TransferInput{UserID: u, Amount: int64(i)})
		}
	}

	n, err := d.EnqueueBatch(ctx, batch)
	if err != nil {
		t.Fatalf("EnqueueBatch: %v", err)
	}
	if n != len(batch) {
		t.Fatalf("expected %d accepted, got %d", len(batch), n)
	}
	ledger.wait(t)

	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	for _, u := range users {
		got := ledger.seen[u]
		if len(got) != perUser {
			t.Fatalf("user %s: expected %d transfers, got %d", u, perUser, len(got))
		}
		for i, amount := range got {
			if amount != int64(i) {
				t.Fatalf("user %s: transfer %d applied out of order (amount %d)", u, i, amount)
			}
		}
	}
}

func TestDispatcher_FailuresDoNotStopWorker(t *testing.T) {
	ledger := newRecordingLedger(4)
	ledger.fail["broke"] = true
	d := NewDispatcher(1, ledger, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	_, err := d.EnqueueBatch(ctx, []ports.TransferInput{
		{UserID: "broke", Amount: -1},
		{UserID: "ok", Amount: 1},
		{UserID: "broke", Amount: -2},
		{UserID: "ok", Amount: 2},
	})
	if err != nil {
		t.Fatalf("EnqueueBatch: %v", err)
	}
	ledger.wait(t)

	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if len(ledger.seen["ok"]) != 2 {
		t.Fatalf("expected both healthy transfers applied, got %v", ledger.seen["ok"])
	}
}

func TestDispatcher_ShardIndexIsDeterministic(t *testing.T) {
	d := NewDispatcher(8, newRecordingLedger(0), zerolog.Nop())

	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("user-%d", i)
		first := d.shardIndex(id)
		if first < 0 || first >= 8 {
			t.Fatalf("shard %d out of range for %s", first, id)
		}
		if again := d.shardIndex(id); again != first {
			t.Fatalf("shard for %s changed: %d then %d", id, first, again)
		}
	}
}

func TestDispatcher_DefaultWorkers(t *testing.T) {
	d := NewDispatcher(0, newRecordingLedger(0), zerolog.Nop())
	if len(d.workers) != defaultWorkers {
		t.Fatalf("expected %d workers, got %d", defaultWorkers, len(d.workers))
	}
}

func TestDispatcher_EnqueueHonoursContextWhenFull(t *testing.T) {
	// Workers are never started, so the single buffer fills up.
	d := NewDispatcher(1, newRecordingLedger(0), zerolog.Nop())
	for i := 0; i < channelBuffer; i++ {
		if err := d.Enqueue(context.Background(), ports.TransferInput{UserID: "u", Amount: 1}); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	n, err := d.EnqueueBatch(ctx, []ports.TransferInput{{UserID: "u", Amount: 1}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 accepted, got %d", n)
	}
}

func TestDispatcher_WaitReturnsAfterStop(t *testing.T) {
	d := NewDispatcher(4, newRecordingLedger(0), zerolog.Nop())
	d.Start(context.Background())
	d.Stop()
	d.Stop()

	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop after Stop")
	}
}

// gatedLedger blocks every transfer until gate is closed or ctx is done.
type gatedLedger struct {
	*recordingLedger
	gate chan struct{}
}

func (g *gatedLedger) ApplyTransfer(ctx context.Context, in ports.TransferInput) (*ports.TransferResult, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.recordingLedger.ApplyTransfer(ctx, in)
}

func TestDispatcher_StopDrainsQueuedTransfers(t *testing.T) {
	const queued = 50
	ledger := &gatedLedger{recordingLedger: newRecordingLedger(queued), gate: make(chan struct{})}
	d := NewDispatcher(1, ledger, zerolog.Nop())
	d.Start(context.Background())

	for i := 0; i < queued; i++ {
		if err := d.Enqueue(context.Background(), ports.TransferInput{UserID: "u-1", Amount: int64(i)}); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	d.Stop()
	close(ledger.gate)
	d.Wait()

	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if len(ledger.seen["u-1"]) != queued {
		t.Fatalf("expected all %d queued transfers applied, got %d", queued, len(ledger.seen["u-1"]))
	}
	for i, amount := range ledger.seen["u-1"] {
		if amount != int64(i) {
			t.Fatalf("transfer %d applied out of order (amount %d)", i, amount)
		}
	}
}

func TestDispatcher_EnqueueAfterStop(t *testing.T) {
	d := NewDispatcher(2, newRecordingLedger(0), zerolog.Nop())
	d.Start(context.Background())
	d.Stop()

	err := d.Enqueue(context.Background(), ports.TransferInput{UserID: "u-1", Amount: 1})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	n, err := d.EnqueueBatch(context.Background(), []ports.TransferInput{{UserID: "u-1", Amount: 1}})
	if !errors.Is(err, ErrStopped) || n != 0 {
		t.Fatalf("expected 0 accepted and ErrStopped, got %d, %v", n, err)
	}
	d.Wait()
}

func TestDispatcher_ShutdownDrains(t *testing.T) {
	ledger := newRecordingLedger(3)
	d := NewDispatcher(2, ledger, zerolog.Nop())
	d.Start(context.Background())

	_, err := d.EnqueueBatch(context.Background(), []ports.TransferInput{
		{UserID: "u-1", Amount: 1},
		{UserID: "u-2", Amount: 2},
		{UserID: "u-1", Amount: 3},
	})
	if err != nil {
		t.Fatalf("EnqueueBatch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if ledger.total != 3 {
		t.Fatalf("expected 3 transfers applied, got %d", ledger.total)
	}
}

func TestDispatcher_ShutdownDeadlineDropsRemaining(t *testing.T) {
	// The gate never opens, so only the deadline can end the drain.
	ledger := &gatedLedger{recordingLedger: newRecordingLedger(0), gate: make(chan struct{})}
	d := NewDispatcher(1, ledger, zerolog.Nop())
	d.Start(context.Background())

	for i := 0; i < 5; i++ {
		if err := d.Enqueue(context.Background(), ports.TransferInput{UserID: "u-1", Amount: 1}); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Shutdown(ctx) }()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return after its deadline")
	}

	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if ledger.total != 0 {
		t.Fatalf("expected nothing applied, got %d", ledger.total)
	}
}
