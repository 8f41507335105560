package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transfer is the immutable audit record of one balance adjustment.
// A positive Amount is a credit, a negative one a debit.
type Transfer struct {
	ID        string    `json:"id"        bson:"id"`
	UserID    string    `json:"userId"    bson:"user_id"`
	Amount    int64     `json:"amount"    bson:"amount"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
}

// NewTransfer builds a transfer that has not been persisted yet.
func NewTransfer(userID string, amount int64, now time.Time) *Transfer {
	return &Transfer{
		ID:        uuid.NewString(),
		UserID:    userID,
		Amount:    amount,
		CreatedAt: now.UTC(),
	}
}

// Direction labels the transfer for metrics and logs.
func (t *Transfer) Direction() string {
	switch {
	case t.Amount > 0:
		return "credit"
	case t.Amount < 0:
		return "debit"
	default:
		return "zero"
	}
}
