package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupClassroomRepo(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *ClassroomRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewClassroomRepository(db, zap.NewNop())
	return db, mock, repo
}

func TestClassroomGetByID_Success(t *testing.T) {
	db, mock, repo := setupClassroomRepo(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"classroom_id", "name", "building"}).
		AddRow("room-1", "Lab 204", "Engineering")

	mock.ExpectQuery(`SELECT classroom_id, name`).
		WithArgs("room-1").
		WillReturnRows(rows)

	classroom, err := repo.GetByID(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, "Lab 204", classroom.Name)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassroomGetByID_NotFound(t *testing.T) {
	db, mock, repo := setupClassroomRepo(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT classroom_id, name`).
		WithArgs("room-9").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "room-9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClassroomFirstAvailable(t *testing.T) {
	db, mock, repo := setupClassroomRepo(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"classroom_id", "name", "building"}).
		AddRow("room-1", "Lab 204", "Engineering")

	mock.ExpectQuery(`SELECT classroom_id, name`).
		WillReturnRows(rows)

	classroom, err := repo.FirstAvailable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "room-1", classroom.ClassroomID)
}
