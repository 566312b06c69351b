package repositories

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/anonto42/dogpark/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestMongoNotificationRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("create fills id and creation time", func(mt *mtest.T) {
		repo := NewMongoNotificationRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		n := &models.Notification{UserID: "u1", Type: models.NotificationFriendRequest, Title: "Hi"}
		require.NoError(mt, repo.CreateNotification(ctx, n))
		assert.Len(mt, n.ID, 24)
		assert.False(mt, n.CreatedAt.IsZero())
		assert.Equal(mt, models.PriorityMedium, n.Priority)
		assert.Nil(mt, n.ReadAt)
	})

	mt.Run("create surfaces write errors", func(mt *mtest.T) {
		repo := NewMongoNotificationRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key"}))

		err := repo.CreateNotification(ctx, &models.Notification{UserID: "u1"})
		assert.Error(mt, err)
	})

	mt.Run("page of notifications", func(mt *mtest.T) {
		repo := NewMongoNotificationRepository(mt.DB)
		ns := mt.DB.Name() + ".notifications"
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{{Key: "n", Value: int32(2)}}),
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
				bson.D{{Key: "_id", Value: "a"}, {Key: "userId", Value: "u1"}, {Key: "type", Value: "friend_request"}},
				bson.D{{Key: "_id", Value: "b"}, {Key: "userId", Value: "u1"}, {Key: "type", Value: "event_reminder"}},
			),
		)

		got, total, err := repo.GetByUserID(ctx, "u1", 1, 20)
		require.NoError(mt, err)
		assert.Equal(mt, int64(2), total)
		require.Len(mt, got, 2)
		assert.Equal(mt, models.NotificationEventReminder, got[1].Type)
	})

	mt.Run("mark as read of unknown record", func(mt *mtest.T) {
		repo := NewMongoNotificationRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}))

		err := repo.MarkAsRead(ctx, "u1", "missing", time.Now())
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("delete expired reports count", func(mt *mtest.T) {
		repo := NewMongoNotificationRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 3}))

		n, err := repo.DeleteExpired(ctx, time.Now().Add(-30*24*time.Hour), time.Now())
		require.NoError(mt, err)
		assert.Equal(mt, int64(3), n)
	})
}

func newMockGorm(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return db, mock
}

func TestPostgresNotificationRepository_MarkAsRead(t *testing.T) {
	db, mock := newMockGorm(t)
	repo := NewPostgresNotificationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "notifications" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkAsRead(context.Background(), "u1", "n1", time.Now()))

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "notifications" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.MarkAsRead(context.Background(), "u1", "n2", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresNotificationRepository_DeleteExpired(t *testing.T) {
	db, mock := newMockGorm(t)
	repo := NewPostgresNotificationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "notifications"`)).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.DeleteExpired(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
