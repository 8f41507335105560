package handler

import (
	"time"

	"github.com/loyalty/points-ledger/internal/core/domain"
)

// errorResponse is the standard error envelope returned on all 4xx/5xx responses.
type errorResponse struct {
	Error string `json:"error"`
}

// --- Request / Response types ---

type createUserRequest struct {
	FirstName string `json:"firstName" validate:"required,notblank"`
	LastName  string `json:"lastName"  validate:"required,notblank"`
	Email     string `json:"email"     validate:"required,notblank,contains=@"`
}

// Amount is a pointer so that a missing field can be told apart from zero.
type createTransferRequest struct {
	Amount *int64 `json:"amount" validate:"required"`
}

type batchTransferRequest struct {
	UserID string `json:"userId" validate:"required,notblank"`
	Amount *int64 `json:"amount" validate:"required"`
}

type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Points    int64  `json:"points"`
}

type transferResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

type acceptedResponse struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// --- Domain → Response ---

func toUserResponse(u *domain.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Points:    u.Points,
	}
}

func toUserResponses(users []*domain.User) []userResponse {
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	return out
}

func toTransferResponse(t *domain.Transfer) transferResponse {
	return transferResponse{
		ID:        t.ID,
		UserID:    t.UserID,
		Amount:    t.Amount,
		CreatedAt: t.CreatedAt.UTC(),
	}
}

func toTransferResponses(transfers []*domain.Transfer) []transferResponse {
	out := make([]transferResponse, 0, len(transfers))
	for _, t := range transfers {
		out = append(out, toTransferResponse(t))
	}
	return out
}
