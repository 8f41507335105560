package ports

import (
	"context"

	"github.com/loyalty/points-ledger/internal/core/domain"
)

// CreateUserInput carries the fields needed to enrol a new member.
type CreateUserInput struct {
	FirstName string
	LastName  string
	Email     string
}

// TransferInput is one balance adjustment request.
type TransferInput struct {
	UserID string
	Amount int64
	// IdempotencyKey is optional; when set, a replay of the same key for the
	// same user returns the first result instead of applying the amount again.
	IdempotencyKey string
}

// TransferResult is returned by ApplyTransfer.
type TransferResult struct {
	Transfer *domain.Transfer
	// Replayed is true when the result came from the idempotency store.
	Replayed bool
}

// LedgerService is what the transport layer calls into.
type LedgerService interface {
	ListUsers(ctx context.Context) ([]*domain.User, error)
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	CreateUser(ctx context.Context, input CreateUserInput) (*domain.User, error)
	ListTransfers(ctx context.Context, userID string) ([]*domain.Transfer, error)
	ApplyTransfer(ctx context.Context, input TransferInput) (*TransferResult, error)
}
