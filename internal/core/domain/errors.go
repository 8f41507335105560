package domain

import "errors"

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidUser        = errors.New("invalid user information")
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrVersionConflict is returned by a store when the user changed between
	// the read and the conditional write. The ledger retries it and never
	// surfaces it to callers.
	ErrVersionConflict = errors.New("user version conflict")

	// ErrConcurrencyExhausted means every attempt hit a version conflict.
	// Unlike ErrInsufficientPoints the caller may retry the same request.
	ErrConcurrencyExhausted = errors.New("too many concurrent updates, retry later")

	// ErrPointsOverflow rejects a credit the balance cannot hold.
	ErrPointsOverflow = errors.New("amount would overflow the points balance")

	// ErrIdempotencyKeyInUse means another request with the same key has not
	// finished yet.
	ErrIdempotencyKeyInUse = errors.New("a request with this idempotency key is still in progress")
)
