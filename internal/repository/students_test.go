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

func setupStudentRepo(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *StudentRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewStudentRepository(db, zap.NewNop())
	return db, mock, repo
}

func TestLookupByRFID_Success(t *testing.T) {
	db, mock, repo := setupStudentRepo(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"student_id", "first_name", "last_name", "email", "rfid_card_id", "parent_email"}).
		AddRow("stu-1", "Maria", "Santos", "maria@example.edu", "CARD-1", "parent@example.com")

	mock.ExpectQuery(`SELECT student_id, first_name, last_name`).
		WithArgs("CARD-1").
		WillReturnRows(rows)

	student, err := repo.LookupByRFID(context.Background(), "CARD-1")
	require.NoError(t, err)

	assert.Equal(t, "stu-1", student.StudentID)
	assert.Equal(t, "Maria Santos", student.FullName())
	assert.Equal(t, "CARD-1", student.RFIDCardID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupByRFID_UnknownCard(t *testing.T) {
	db, mock, repo := setupStudentRepo(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT student_id, first_name, last_name`).
		WithArgs("CARD-NOPE").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.LookupByRFID(context.Background(), "CARD-NOPE")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupByRFID_EmptyCardID(t *testing.T) {
	db, _, repo := setupStudentRepo(t)
	defer db.Close()

	_, err := repo.LookupByRFID(context.Background(), "")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
