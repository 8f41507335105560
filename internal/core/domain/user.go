package domain

import (
	"math"
	"strings"
	"time"
)

// User is a loyalty member and the owner of a points balance.
//
// Points and Version are only ever changed by a committed transfer. Version is
// the store's optimistic-concurrency token; it is only meaningful when compared
// against another read of the same user.
type User struct {
	ID        string    `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
	Points    int64     `json:"points"`
	Version   int64     `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewUser builds an unsaved user with a zero balance.
func NewUser(firstName, lastName, email string, now time.Time) (*User, error) {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	email = strings.TrimSpace(email)
	if firstName == "" || lastName == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidUser
	}
	return &User{
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
		Points:    0,
		CreatedAt: now.UTC(),
	}, nil
}

// Apply returns the balance that results from adding amount, or
// ErrInsufficientPoints when it would drop below zero. A credit that does not
// fit in an int64 fails with ErrPointsOverflow. Balances are never negative,
// so only credits can overflow.
func (u *User) Apply(amount int64) (int64, error) {
	if amount > 0 && u.Points > math.MaxInt64-amount {
		return u.Points, ErrPointsOverflow
	}
	next := u.Points + amount
	if next < 0 {
		return u.Points, ErrInsufficientPoints
	}
	return next, nil
}
