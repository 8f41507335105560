package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/loyalty/points-ledger/internal/core/domain"
	"github.com/loyalty/points-ledger/internal/core/ports"
	"github.com/loyalty/points-ledger/internal/observability/metrics"
)

// RetryPolicy bounds the optimistic-concurrency loop of ApplyTransfer.
type RetryPolicy struct {
	// MaxAttempts is the total number of read-modify-write attempts, first one included.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt; it doubles on each conflict.
	BaseDelay time.Duration
	// MaxDelay caps a single wait. Zero means uncapped.
	MaxDelay time.Duration
}

// DefaultRetryPolicy gives a transfer three attempts in total.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   5 * time.Millisecond,
	MaxDelay:    100 * time.Millisecond,
}

// backoff builds a fresh schedule; go-retry backoffs are stateful.
func (p RetryPolicy) backoff() retry.Backoff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}

	b := retry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	b = retry.WithJitterPercent(20, b)
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

// LedgerService owns the balance-mutation protocol. It keeps no user state
// between calls; every attempt reads the store again.
type LedgerService struct {
	store  ports.LedgerStore
	idem   ports.IdempotencyStore
	policy RetryPolicy
	now    func() time.Time
	log    zerolog.Logger
}

// NewLedgerService returns a LedgerService. idem may be nil, in which case
// idempotency keys are ignored.
func NewLedgerService(store ports.LedgerStore, idem ports.IdempotencyStore, policy RetryPolicy, log zerolog.Logger) *LedgerService {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	return &LedgerService{
		store:  store,
		idem:   idem,
		policy: policy,
		now:    time.Now,
		log:    log,
	}
}

var _ ports.LedgerService = (*LedgerService)(nil)

// ListUsers returns every user. No ordering is guaranteed.
func (s *LedgerService) ListUsers(ctx context.Context) ([]*domain.User, error) {
	users, err := s.store.ReadAllUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *LedgerService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.store.ReadUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	return user, nil
}

// CreateUser enrols a member with a zero balance.
func (s *LedgerService) CreateUser(ctx context.Context, input ports.CreateUserInput) (*domain.User, error) {
	user, err := domain.NewUser(input.FirstName, input.LastName, input.Email, s.now())
	if err != nil {
		return nil, err
	}

	created, err := s.store.InsertUser(ctx, user)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to create user")
		return nil, fmt.Errorf("create user: %w", err)
	}

	metrics.UsersCreatedTotal.Inc()
	s.log.Info().Str("user_id", created.ID).Msg("user created")
	return created, nil
}

// ListTransfers returns the user's transfers in the order they were committed.
func (s *LedgerService) ListTransfers(ctx context.Context, userID string) ([]*domain.Transfer, error) {
	transfers, err := s.store.ReadTransfers(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list transfers of user %s: %w", userID, err)
	}
	return transfers, nil
}

// ApplyTransfer adds input.Amount to the user's balance and records the
// transfer in the same conditional write. It fails with
// domain.ErrInsufficientPoints without writing anything when the balance would
// go negative, and with domain.ErrConcurrencyExhausted when every attempt lost
// to a concurrent writer.
//
// With an idempotency key the key is claimed before the balance is touched, so
// concurrent requests sharing a key apply at most one transfer. The losers get
// the winner's transfer back once it is recorded, or
// domain.ErrIdempotencyKeyInUse while it is still running.
func (s *LedgerService) ApplyTransfer(ctx context.Context, input ports.TransferInput) (*ports.TransferResult, error) {
	claimed := false
	if input.IdempotencyKey != "" && s.idem != nil {
		prev, err := s.idem.Claim(ctx, input.UserID, input.IdempotencyKey)
		switch {
		case errors.Is(err, domain.ErrIdempotencyKeyInUse):
			s.log.Info().Str("user_id", input.UserID).Msg("idempotency key in use")
			return nil, err
		case err != nil:
			s.log.Warn().Err(err).Str("user_id", input.UserID).Msg("idempotency claim failed, applying anyway")
		case prev != nil:
			metrics.IdempotentReplaysTotal.Inc()
			s.log.Info().Str("user_id", input.UserID).Str("transfer_id", prev.ID).Msg("idempotent replay")
			return &ports.TransferResult{Transfer: prev, Replayed: true}, nil
		default:
			claimed = true
		}
	}

	transfer, attempts, err := s.apply(ctx, input.UserID, input.Amount)
	metrics.TransferAttempts.Observe(float64(attempts))
	if err != nil {
		if claimed {
			s.releaseClaim(ctx, input)
		}
		s.logRejection(err, input, attempts)
		return nil, err
	}

	metrics.TransfersAppliedTotal.WithLabelValues(transfer.Direction()).Inc()

	if claimed {
		// The transfer is committed; a cancelled request must still record it.
		if err := s.idem.Complete(context.WithoutCancel(ctx), input.UserID, input.IdempotencyKey, transfer); err != nil {
			s.log.Warn().Err(err).Str("transfer_id", transfer.ID).Msg("failed to store idempotency key")
		}
	}

	s.log.Info().
		Str("user_id", input.UserID).
		Str("transfer_id", transfer.ID).
		Int64("amount", transfer.Amount).
		Int("attempts", attempts).
		Msg("transfer applied")

	return &ports.TransferResult{Transfer: transfer}, nil
}

func (s *LedgerService) releaseClaim(ctx context.Context, input ports.TransferInput) {
	if err := s.idem.Release(context.WithoutCancel(ctx), input.UserID, input.IdempotencyKey); err != nil {
		s.log.Warn().Err(err).Str("user_id", input.UserID).Msg("failed to release idempotency key")
	}
}

// apply runs the read-modify-conditional-write loop. Only version conflicts
// are retried.
func (s *LedgerService) apply(ctx context.Context, userID string, amount int64) (*domain.Transfer, int, error) {
	var (
		committed *domain.Transfer
		attempts  int
	)

	err := retry.Do(ctx, s.policy.backoff(), func(ctx context.Context) error {
		attempts++

		user, err := s.store.ReadUser(ctx, userID)
		if err != nil {
			return err
		}

		newPoints, err := user.Apply(amount)
		if err != nil {
			return err
		}

		transfer := domain.NewTransfer(user.ID, amount, s.now())
		err = s.store.CommitTransfer(ctx, user.ID, newPoints, user.Version, transfer)
		if errors.Is(err, domain.ErrVersionConflict) {
			metrics.VersionConflictsTotal.Inc()
			s.log.Debug().Str("user_id", userID).Int("attempt", attempts).Msg("version conflict, retrying")
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}

		committed = transfer
		return nil
	})

	switch {
	case err == nil:
		return committed, attempts, nil
	case errors.Is(err, domain.ErrVersionConflict):
		return nil, attempts, fmt.Errorf("apply transfer to user %s after %d attempts: %w", userID, attempts, domain.ErrConcurrencyExhausted)
	default:
		return nil, attempts, fmt.Errorf("apply transfer to user %s: %w", userID, err)
	}
}

func (s *LedgerService) logRejection(err error, input ports.TransferInput, attempts int) {
	var (
		reason string
		ev     *zerolog.Event
	)
	switch {
	case errors.Is(err, domain.ErrInsufficientPoints):
		reason, ev = "insufficient_points", s.log.Info()
	case errors.Is(err, domain.ErrUserNotFound):
		reason, ev = "user_not_found", s.log.Info()
	case errors.Is(err, domain.ErrPointsOverflow):
		reason, ev = "points_overflow", s.log.Info()
	case errors.Is(err, domain.ErrConcurrencyExhausted):
		reason, ev = "concurrency_exhausted", s.log.Warn()
	default:
		reason, ev = "store_error", s.log.Error()
	}
	metrics.TransfersRejectedTotal.WithLabelValues(reason).Inc()

	ev.Err(err).
		Str("user_id", input.UserID).
		Int64("amount", input.Amount).
		Int("attempts", attempts).
		Str("reason", reason).
		Msg("transfer rejected")
}
