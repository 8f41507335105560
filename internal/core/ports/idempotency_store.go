package ports

import (
	"context"

	"github.com/loyalty/points-ledger/internal/core/domain"
)

// IdempotencyStore guards transfers submitted with an idempotency key so that
// at most one of them is applied.
type IdempotencyStore interface {
	// Claim reserves key for the caller. It returns the transfer already
	// recorded under key, domain.ErrIdempotencyKeyInUse while another request
	// holds the key, or nil and no error once the caller owns it.
	Claim(ctx context.Context, userID, key string) (*domain.Transfer, error)
	// Complete replaces the caller's claim with the committed transfer.
	Complete(ctx context.Context, userID, key string, transfer *domain.Transfer) error
	// Release drops the caller's claim after a failed transfer so the key can
	// be used again.
	Release(ctx context.Context, userID, key string) error
}
