package mongo

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/loyalty/points-ledger/internal/core/domain"
)

func newMockRepo(mt *mtest.T) *UserRepository {
	return NewUserRepository(mt.DB)
}

func ns(mt *mtest.T) string {
	return mt.DB.Name() + "." + collectionUsers
}

func TestUserRepository_CommitTransfer(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	oid := primitive.NewObjectID()
	transfer := domain.NewTransfer(oid.Hex(), 10, time.Now())

	mt.Run("committed", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))

		err := newMockRepo(mt).CommitTransfer(context.Background(), oid.Hex(), 10, 1, transfer)
		if err != nil {
			t.Fatalf("expected commit, got %v", err)
		}
	})

	mt.Run("version moved", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch, bson.D{{Key: "_id", Value: oid}}),
		)

		err := newMockRepo(mt).CommitTransfer(context.Background(), oid.Hex(), 10, 1, transfer)
		if !errors.Is(err, domain.ErrVersionConflict) {
			t.Fatalf("expected ErrVersionConflict, got %v", err)
		}
	})

	mt.Run("user missing", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch),
		)

		err := newMockRepo(mt).CommitTransfer(context.Background(), oid.Hex(), 10, 1, transfer)
		if !errors.Is(err, domain.ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound, got %v", err)
		}
	})
}

func TestUserRepository_ReadUser(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	oid := primitive.NewObjectID()

	mt.Run("found", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch, bson.D{
			{Key: "_id", Value: oid},
			{Key: "first_name", Value: "George"},
			{Key: "last_name", Value: "Washington"},
			{Key: "email", Value: "george.washington@abc.def"},
			{Key: "points", Value: int64(42)},
			{Key: "version", Value: int64(7)},
		}))

		u, err := newMockRepo(mt).ReadUser(context.Background(), oid.Hex())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if u.ID != oid.Hex() || u.Points != 42 || u.Version != 7 || u.FirstName != "George" {
			t.Errorf("unexpected user: %+v", u)
		}
	})

	mt.Run("not found", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch))

		_, err := newMockRepo(mt).ReadUser(context.Background(), oid.Hex())
		if !errors.Is(err, domain.ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound, got %v", err)
		}
	})

	mt.Run("malformed id", func(mt *mtest.T) {
		_, err := newMockRepo(mt).ReadUser(context.Background(), "not-an-object-id")
		if !errors.Is(err, domain.ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound, got %v", err)
		}
	})
}

func TestUserRepository_ReadTransfers(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	oid := primitive.NewObjectID()

	mt.Run("in commit order", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch, bson.D{
			{Key: "_id", Value: oid},
			{Key: "transfers", Value: bson.A{
				bson.D{{Key: "id", Value: "t1"}, {Key: "user_id", Value: oid.Hex()}, {Key: "amount", Value: int64(10)}},
				bson.D{{Key: "id", Value: "t2"}, {Key: "user_id", Value: oid.Hex()}, {Key: "amount", Value: int64(-4)}},
			}},
		}))

		transfers, err := newMockRepo(mt).ReadTransfers(context.Background(), oid.Hex())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(transfers) != 2 || transfers[0].ID != "t1" || transfers[1].Amount != -4 {
			t.Errorf("unexpected transfers: %+v", transfers)
		}
	})

	mt.Run("no transfers yet", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch, bson.D{{Key: "_id", Value: oid}}))

		transfers, err := newMockRepo(mt).ReadTransfers(context.Background(), oid.Hex())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(transfers) != 0 {
			t.Errorf("expected no transfers, got %d", len(transfers))
		}
	})
}

func TestUserRepository_InsertUser(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("assigns id and version", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		u, err := newMockRepo(mt).InsertUser(context.Background(), &domain.User{
			FirstName: "George", LastName: "Bush", Email: "george.bush@abc.def",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := primitive.ObjectIDFromHex(u.ID); err != nil {
			t.Errorf("expected an ObjectID hex, got %q", u.ID)
		}
		if u.Version != 1 || u.Points != 0 || u.CreatedAt.IsZero() {
			t.Errorf("unexpected user: %+v", u)
		}
	})
}
