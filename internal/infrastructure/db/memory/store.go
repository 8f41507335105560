// Package memory implements ports.LedgerStore in process memory, optionally
// backed by a write-ahead log so the state survives restarts.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loyalty/points-ledger/internal/core/domain"
	"github.com/loyalty/points-ledger/internal/core/ports"
	"github.com/loyalty/points-ledger/pkg/wal"
)

type account struct {
	user      domain.User
	transfers []domain.Transfer
}

// Store keeps users and their transfers in a map. The mutex is held only for
// the duration of a single call, never across a ledger read and its commit,
// so concurrent transfers genuinely race and are resolved by the version
// check in CommitTransfer.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*account
	order    []string
	log      *wal.WAL
}

// NewStore returns an empty, purely in-memory store.
func NewStore() *Store {
	return &Store{accounts: make(map[string]*account)}
}

// NewDurableStore returns a store that replays log on start and appends every
// mutation to it before making it visible.
func NewDurableStore(log *wal.WAL) (*Store, error) {
	s := NewStore()
	s.log = log
	if err := s.recover(); err != nil {
		return nil, err
	}
	return s, nil
}

var _ ports.LedgerStore = (*Store)(nil)

func (s *Store) ReadUser(_ context.Context, userID string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	u := acc.user
	return &u, nil
}

func (s *Store) CommitTransfer(_ context.Context, userID string, newPoints, expectedVersion int64, transfer *domain.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	if acc.user.Version != expectedVersion {
		return domain.ErrVersionConflict
	}

	rec := walRecord{
		Kind:     kindTransfer,
		UserID:   userID,
		Points:   newPoints,
		Version:  expectedVersion + 1,
		Transfer: transfer,
	}
	if err := s.append(rec); err != nil {
		return err
	}
	s.applyTransfer(acc, rec)
	return nil
}

func (s *Store) InsertUser(_ context.Context, user *domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := *user
	u.ID = uuid.NewString()
	u.Version = 1
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	if err := s.append(walRecord{Kind: kindUser, UserID: u.ID, User: &u}); err != nil {
		return nil, err
	}
	s.insert(u)

	out := u
	return &out, nil
}

// ReadAllUsers lists users in insertion order.
func (s *Store) ReadAllUsers(_ context.Context) ([]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*domain.User, 0, len(s.order))
	for _, id := range s.order {
		u := s.accounts[id].user
		users = append(users, &u)
	}
	return users, nil
}

func (s *Store) ReadTransfers(_ context.Context, userID string) ([]*domain.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	out := make([]*domain.Transfer, len(acc.transfers))
	for i := range acc.transfers {
		t := acc.transfers[i]
		out[i] = &t
	}
	return out, nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

// Close releases the write-ahead log, if any.
func (s *Store) Close() error {
	if s.log == nil {
		return nil
	}
	return s.log.Close()
}

// ---------------------------------------------------------------------------
// Write-ahead log
// ---------------------------------------------------------------------------

const (
	kindUser     = "user"
	kindTransfer = "transfer"
)

type walRecord struct {
	Kind     string           `json:"kind"`
	UserID   string           `json:"user_id"`
	User     *domain.User     `json:"user,omitempty"`
	Points   int64            `json:"points,omitempty"`
	Version  int64            `json:"version,omitempty"`
	Transfer *domain.Transfer `json:"transfer,omitempty"`
}

func (s *Store) append(rec walRecord) error {
	if s.log == nil {
		return nil
	}
	if err := s.log.Append(rec); err != nil {
		return fmt.Errorf("persist %s record: %w", rec.Kind, err)
	}
	return nil
}

// recover rebuilds the state from the log. Only called from
// NewDurableStore, before the store is shared.
func (s *Store) recover() error {
	return s.log.Replay(func(raw json.RawMessage) error {
		var rec walRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode wal record: %w", err)
		}

		switch rec.Kind {
		case kindUser:
			if rec.User == nil {
				return fmt.Errorf("wal user record %s has no payload", rec.UserID)
			}
			u := *rec.User
			u.ID = rec.UserID
			u.Version = 1
			s.insert(u)
		case kindTransfer:
			acc, ok := s.accounts[rec.UserID]
			if !ok || rec.Transfer == nil {
				return fmt.Errorf("wal transfer record for unknown user %s", rec.UserID)
			}
			s.applyTransfer(acc, rec)
		default:
			return fmt.Errorf("unknown wal record kind %q", rec.Kind)
		}
		return nil
	})
}

func (s *Store) insert(u domain.User) {
	s.accounts[u.ID] = &account{user: u}
	s.order = append(s.order, u.ID)
}

func (s *Store) applyTransfer(acc *account, rec walRecord) {
	acc.user.Points = rec.Points
	acc.user.Version = rec.Version
	acc.transfers = append(acc.transfers, *rec.Transfer)
}
