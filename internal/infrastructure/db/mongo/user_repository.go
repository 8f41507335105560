package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/loyalty/points-ledger/internal/core/domain"
	"github.com/loyalty/points-ledger/internal/core/ports"
)

const collectionUsers = "users"

// UserRepository implements ports.LedgerStore with one document per user.
// Transfers are embedded in the user document, so the balance update and the
// transfer append happen in a single atomic UpdateOne guarded by the version.
type UserRepository struct {
	col *mongo.Collection
}

func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{col: db.Collection(collectionUsers)}
}

var _ ports.LedgerStore = (*UserRepository)(nil)

type userDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	FirstName string             `bson:"first_name"`
	LastName  string             `bson:"last_name"`
	Email     string             `bson:"email"`
	Points    int64              `bson:"points"`
	Version   int64              `bson:"version"`
	CreatedAt time.Time          `bson:"created_at"`
	Transfers []domain.Transfer  `bson:"transfers,omitempty"`
}

func (d *userDocument) toDomain() *domain.User {
	return &domain.User{
		ID:        d.ID.Hex(),
		FirstName: d.FirstName,
		LastName:  d.LastName,
		Email:     d.Email,
		Points:    d.Points,
		Version:   d.Version,
		CreatedAt: d.CreatedAt.UTC(),
	}
}

// withoutTransfers keeps user reads small; the transfer array only grows.
var withoutTransfers = bson.M{"transfers": 0}

func (r *UserRepository) ReadUser(ctx context.Context, userID string) (*domain.User, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, domain.ErrUserNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var doc userDocument
	err = r.col.FindOne(ctx, bson.M{"_id": oid}, options.FindOne().SetProjection(withoutTransfers)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return doc.toDomain(), nil
}

// CommitTransfer atomically sets the points, bumps the version and appends
// the transfer, but only if the version is still expectedVersion.
func (r *UserRepository) CommitTransfer(ctx context.Context, userID string, newPoints, expectedVersion int64, transfer *domain.Transfer) error {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return domain.ErrUserNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	filter := bson.M{"_id": oid, "version": expectedVersion}
	update := bson.M{
		"$set":  bson.M{"points": newPoints},
		"$inc":  bson.M{"version": 1},
		"$push": bson.M{"transfers": transfer},
	}

	res, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("commit transfer: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	// Nothing matched: either the user is gone or someone else moved the version.
	err = r.col.FindOne(ctx, bson.M{"_id": oid}, options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return domain.ErrUserNotFound
	case err != nil:
		return fmt.Errorf("check user after conflict: %w", err)
	default:
		return domain.ErrVersionConflict
	}
}

func (r *UserRepository) InsertUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	doc := userDocument{
		ID:        primitive.NewObjectID(),
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Email:     user.Email,
		Points:    user.Points,
		Version:   1,
		CreatedAt: user.CreatedAt.UTC(),
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return doc.toDomain(), nil
}

// ReadAllUsers lists users by creation time.
func (r *UserRepository) ReadAllUsers(ctx context.Context) ([]*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	opts := options.Find().
		SetProjection(withoutTransfers).
		SetSort(bson.D{{Key: "created_at", Value: 1}})

	cur, err := r.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer cur.Close(ctx)

	users := make([]*domain.User, 0)
	for cur.Next(ctx) {
		var doc userDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		users = append(users, doc.toDomain())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// ReadTransfers returns the embedded transfers; $push keeps them in commit order.
func (r *UserRepository) ReadTransfers(ctx context.Context, userID string) ([]*domain.Transfer, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, domain.ErrUserNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var doc userDocument
	err = r.col.FindOne(ctx, bson.M{"_id": oid}, options.FindOne().SetProjection(bson.M{"transfers": 1})).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("find transfers: %w", err)
	}

	out := make([]*domain.Transfer, len(doc.Transfers))
	for i := range doc.Transfers {
		t := doc.Transfers[i]
		t.CreatedAt = t.CreatedAt.UTC()
		out[i] = &t
	}
	return out, nil
}

func (r *UserRepository) Ping(ctx context.Context) error {
	return r.col.Database().Client().Ping(ctx, readpref.Primary())
}

// EnsureIndexes creates the index backing ReadAllUsers ordering.
func (r *UserRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := r.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: 1}},
	})
	return err
}
