package ports

import (
	"context"

	"github.com/loyalty/points-ledger/internal/core/domain"
)

// LedgerStore is the persistence contract the ledger relies on. Any backend
// with compare-and-swap semantics on the user version satisfies it.
type LedgerStore interface {
	// ReadUser returns the user including its current version, or
	// domain.ErrUserNotFound.
	ReadUser(ctx context.Context, userID string) (*domain.User, error)

	// CommitTransfer sets the user's points to newPoints and appends transfer,
	// both or neither, provided the stored version still equals
	// expectedVersion. It returns domain.ErrVersionConflict when the version
	// moved and domain.ErrUserNotFound when the user is gone.
	CommitTransfer(ctx context.Context, userID string, newPoints, expectedVersion int64, transfer *domain.Transfer) error

	// InsertUser assigns an id and an initial version and persists the user.
	InsertUser(ctx context.Context, user *domain.User) (*domain.User, error)

	ReadAllUsers(ctx context.Context) ([]*domain.User, error)

	// ReadTransfers lists the user's transfers in creation order, or
	// domain.ErrUserNotFound.
	ReadTransfers(ctx context.Context, userID string) ([]*domain.Transfer, error)

	Ping(ctx context.Context) error
}
