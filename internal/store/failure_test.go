package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/drblury/commentflow/internal/comments"
)

func newMockStore(t *testing.T) (*CommentStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:         gormlogger.Discard,
		TranslateError: true,
	})
	require.NoError(t, err)

	s, err := NewCommentStore(db, 4)
	require.NoError(t, err)
	return s, mock
}

func mockEnvelope() comments.Envelope {
	return comments.Envelope{Id: uuid.New(), UserName: "alice", Email: "alice@example.com", Text: "hi"}
}

func TestAddCommentRollsBackWhenUserInsertFails(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("connection reset by peer")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "users"`).WillReturnError(boom)
	mock.ExpectRollback()

	_, err := s.AddComment(context.Background(), mockEnvelope())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 0, s.users.Len())
}

func TestAddCommentRollsBackWhenCommentInsertFails(t *testing.T) {
	s, mock := newMockStore(t)
	userID := uuid.New()
	boom := errors.New("disk full")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "users"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT "id" FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(userID.String()))
	mock.ExpectExec(`INSERT INTO "comments"`).WillReturnError(boom)
	mock.ExpectRollback()

	_, err := s.AddComment(context.Background(), mockEnvelope())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 0, s.users.Len())
}

func TestDeleteCommentRollsBackWhenDetachFails(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	boom := errors.New("lock timeout")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "id","parent_id" FROM "comments"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "parent_id"}).AddRow(id.String(), nil))
	mock.ExpectExec(`DELETE FROM "file_attachments"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE "comments" SET "parent_id"`).WillReturnError(boom)
	mock.ExpectRollback()

	err := s.DeleteComment(context.Background(), id)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
