package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loyalty/points-ledger/internal/core/domain"
	"github.com/loyalty/points-ledger/internal/core/ports"
)

// UserRepository stores users and transfers in two tables. The version column
// is the compare-and-swap token checked by CommitTransfer.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

var _ ports.LedgerStore = (*UserRepository)(nil)

const (
	selectUser = `SELECT id::text, first_name, last_name, email, points, version, created_at
		FROM users WHERE id = $1`

	selectUsers = `SELECT id::text, first_name, last_name, email, points, version, created_at
		FROM users ORDER BY created_at, id`

	insertUser = `INSERT INTO users (first_name, last_name, email, points, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id::text, version`

	casUserPoints = `UPDATE users SET points = $1, version = version + 1
		WHERE id = $2 AND version = $3`

	userExists = `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`

	insertTransfer = `INSERT INTO transfers (id, user_id, amount, created_at)
		VALUES ($1, $2, $3, $4)`

	selectTransfers = `SELECT id::text, user_id::text, amount, created_at
		FROM transfers WHERE user_id = $1 ORDER BY seq`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	u := &domain.User{}
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Points, &u.Version, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

// validID keeps malformed ids from reaching Postgres as a cast error.
func validID(userID string) bool {
	_, err := uuid.Parse(userID)
	return err == nil
}

func (r *UserRepository) ReadUser(ctx context.Context, userID string) (*domain.User, error) {
	if !validID(userID) {
		return nil, domain.ErrUserNotFound
	}

	u, err := scanUser(r.db.QueryRowContext(ctx, selectUser, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

// CommitTransfer updates the balance and inserts the transfer in one
// transaction. Under READ COMMITTED the UPDATE re-checks the version against
// the latest committed row, so a concurrent commit makes it match nothing.
func (r *UserRepository) CommitTransfer(ctx context.Context, userID string, newPoints, expectedVersion int64, transfer *domain.Transfer) error {
	if !validID(userID) {
		return domain.ErrUserNotFound
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, casUserPoints, newPoints, userID, expectedVersion)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		if n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, userExists, userID).Scan(&exists); err != nil {
				return fmt.Errorf("db error: %w", err)
			}
			if !exists {
				return domain.ErrUserNotFound
			}
			return domain.ErrVersionConflict
		}

		if _, err := tx.ExecContext(ctx, insertTransfer, transfer.ID, userID, transfer.Amount, transfer.CreatedAt); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	})
}

func (r *UserRepository) InsertUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	out := *user
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}

	err := r.db.QueryRowContext(ctx, insertUser, out.FirstName, out.LastName, out.Email, out.Points, out.CreatedAt).
		Scan(&out.ID, &out.Version)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &out, nil
}

func (r *UserRepository) ReadAllUsers(ctx context.Context) ([]*domain.User, error) {
	rows, err := r.db.QueryContext(ctx, selectUsers)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	users := make([]*domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return users, nil
}

func (r *UserRepository) ReadTransfers(ctx context.Context, userID string) ([]*domain.Transfer, error) {
	if !validID(userID) {
		return nil, domain.ErrUserNotFound
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, userExists, userID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if !exists {
		return nil, domain.ErrUserNotFound
	}

	rows, err := r.db.QueryContext(ctx, selectTransfers, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	transfers := make([]*domain.Transfer, 0)
	for rows.Next() {
		t := &domain.Transfer{}
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		t.CreatedAt = t.CreatedAt.UTC()
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return transfers, nil
}

func (r *UserRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
