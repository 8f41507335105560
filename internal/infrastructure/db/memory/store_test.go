package memory

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loyalty/points-ledger/internal/core/domain"
	"github.com/loyalty/points-ledger/pkg/wal"
)

func seedUser(t *testing.T, s *Store) *domain.User {
	t.Helper()
	u, err := domain.NewUser("George", "Orwell", "george.orwell@abc.def", time.Now())
	require.NoError(t, err)
	created, err := s.InsertUser(context.Background(), u)
	require.NoError(t, err)
	return created
}

func TestStore_InsertAndRead(t *testing.T) {
	s := NewStore()
	created := seedUser(t, s)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, int64(1), created.Version)

	got, err := s.ReadUser(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	_, err = s.ReadUser(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestStore_ReadUserReturnsCopy(t *testing.T) {
	s := NewStore()
	created := seedUser(t, s)

	got, err := s.ReadUser(context.Background(), created.ID)
	require.NoError(t, err)
	got.Points = 1000

	again, err := s.ReadUser(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Zero(t, again.Points)
}

func TestStore_CommitTransfer_ChecksVersion(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	u := seedUser(t, s)

	require.NoError(t, s.CommitTransfer(ctx, u.ID, 10, u.Version, domain.NewTransfer(u.ID, 10, time.Now())))

	// Stale version: nothing must change.
	err := s.CommitTransfer(ctx, u.ID, 99, u.Version, domain.NewTransfer(u.ID, 89, time.Now()))
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	got, err := s.ReadUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Points)
	assert.Equal(t, u.Version+1, got.Version)

	transfers, err := s.ReadTransfers(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, int64(10), transfers[0].Amount)
}

func TestStore_CommitTransfer_UnknownUser(t *testing.T) {
	s := NewStore()
	err := s.CommitTransfer(context.Background(), "missing", 1, 1, domain.NewTransfer("missing", 1, time.Now()))
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = s.ReadTransfers(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestStore_ReadAllUsers_InsertionOrder(t *testing.T) {
	s := NewStore()
	a := seedUser(t, s)
	b := seedUser(t, s)

	users, err := s.ReadAllUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, a.ID, users[0].ID)
	assert.Equal(t, b.ID, users[1].ID)
}

// Many goroutines run their own compare-and-swap loop against the same user.
// Every increment must land exactly once.
func TestStore_CompareAndSwapUnderContention(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	u := seedUser(t, s)

	const writers = 32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				cur, err := s.ReadUser(ctx, u.ID)
				if err != nil {
					t.Error(err)
					return
				}
				err = s.CommitTransfer(ctx, u.ID, cur.Points+1, cur.Version, domain.NewTransfer(u.ID, 1, time.Now()))
				if err == nil {
					return
				}
				if err != domain.ErrVersionConflict {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := s.ReadUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(writers), got.Points)

	transfers, err := s.ReadTransfers(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, transfers, writers)
}

func TestDurableStore_ReplaysLog(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.wal")

	log, err := wal.Open(path)
	require.NoError(t, err)
	s, err := NewDurableStore(log)
	require.NoError(t, err)

	u := seedUser(t, s)
	require.NoError(t, s.CommitTransfer(ctx, u.ID, 10, 1, domain.NewTransfer(u.ID, 10, time.Now())))
	require.NoError(t, s.CommitTransfer(ctx, u.ID, 7, 2, domain.NewTransfer(u.ID, -3, time.Now())))
	require.NoError(t, s.Close())

	log, err = wal.Open(path)
	require.NoError(t, err)
	restored, err := NewDurableStore(log)
	require.NoError(t, err)
	defer restored.Close()

	got, err := restored.ReadUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Points)
	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, "George", got.FirstName)

	transfers, err := restored.ReadTransfers(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, transfers, 2)
	assert.Equal(t, int64(10), transfers[0].Amount)
	assert.Equal(t, int64(-3), transfers[1].Amount)

	// Conflicts still apply against the replayed version.
	err = restored.CommitTransfer(ctx, u.ID, 0, 2, domain.NewTransfer(u.ID, -7, time.Now()))
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestDurableStore_RecoversFromTornTail(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.wal")

	log, err := wal.Open(path)
	require.NoError(t, err)
	s, err := NewDurableStore(log)
	require.NoError(t, err)
	u := seedUser(t, s)
	require.NoError(t, s.CommitTransfer(ctx, u.ID, 10, 1, domain.NewTransfer(u.ID, 10, time.Now())))
	require.NoError(t, s.Close())

	// A crash mid-append leaves half a record behind.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, wal.FileMode)
	require.NoError(t, err)
	_, err = f.WriteString(`{"kind":"transfer","user_id":"` + u.ID + `","po`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	log, err = wal.Open(path)
	require.NoError(t, err)
	restored, err := NewDurableStore(log)
	require.NoError(t, err)
	defer restored.Close()

	got, err := restored.ReadUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Points)

	require.NoError(t, restored.CommitTransfer(ctx, u.ID, 15, got.Version, domain.NewTransfer(u.ID, 5, time.Now())))
	transfers, err := restored.ReadTransfers(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, transfers, 2)
}
