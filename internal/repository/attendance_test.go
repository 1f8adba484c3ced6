package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"presence-validation/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupAttendanceRepo(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *AttendanceRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewAttendanceRepository(db, zap.NewNop())
	return db, mock, repo
}

func TestAttendanceCreate_GeneratesRecordID(t *testing.T) {
	db, mock, repo := setupAttendanceRepo(t)
	defer db.Close()

	checkIn := time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC)
	record := &models.AttendanceRecord{
		SessionID:       "sess-1",
		StudentID:       "stu-1",
		CheckInTime:     &checkIn,
		Status:          models.StatusPresent,
		EntryValidated:  true,
		DiscrepancyFlag: models.DiscrepancyNormal,
	}

	mock.ExpectExec(`INSERT INTO attendance_records`).
		WithArgs(sqlmock.AnyArg(), "sess-1", "stu-1", checkIn, nil,
			models.StatusPresent, true, false, models.DiscrepancyNormal).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), record)
	require.NoError(t, err)
	assert.NotEmpty(t, record.RecordID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceCreate_RequiresKeys(t *testing.T) {
	db, _, repo := setupAttendanceRepo(t)
	defer db.Close()

	err := repo.Create(context.Background(), &models.AttendanceRecord{SessionID: "sess-1"})
	assert.Error(t, err)
}

func TestAttendanceUpdate_Success(t *testing.T) {
	db, mock, repo := setupAttendanceRepo(t)
	defer db.Close()

	checkIn := time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC)
	checkOut := checkIn.Add(2 * time.Hour)
	record := &models.AttendanceRecord{
		RecordID:        "rec-1",
		SessionID:       "sess-1",
		StudentID:       "stu-1",
		CheckInTime:     &checkIn,
		CheckOutTime:    &checkOut,
		Status:          models.StatusPresent,
		EntryValidated:  true,
		DiscrepancyFlag: models.DiscrepancyNormal,
	}

	mock.ExpectExec(`UPDATE attendance_records`).
		WithArgs("rec-1", checkIn, checkOut, models.StatusPresent, true, false, models.DiscrepancyNormal).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), record)
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceUpdate_NotFound(t *testing.T) {
	db, mock, repo := setupAttendanceRepo(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE attendance_records`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &models.AttendanceRecord{
		RecordID:  "rec-missing",
		SessionID: "sess-1",
		StudentID: "stu-1",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindBySessionAndStudent_Success(t *testing.T) {
	db, mock, repo := setupAttendanceRepo(t)
	defer db.Close()

	checkIn := time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"record_id", "session_id", "student_id", "check_in_time", "check_out_time",
		"status", "entry_validated", "exit_validated", "discrepancy_flag",
	}).AddRow("rec-1", "sess-1", "stu-1", checkIn, nil,
		models.StatusPresent, true, false, models.DiscrepancyNormal)

	mock.ExpectQuery(`SELECT record_id, session_id, student_id`).
		WithArgs("sess-1", "stu-1").
		WillReturnRows(rows)

	record, err := repo.FindBySessionAndStudent(context.Background(), "sess-1", "stu-1")
	require.NoError(t, err)

	assert.Equal(t, "rec-1", record.RecordID)
	require.NotNil(t, record.CheckInTime)
	assert.Equal(t, checkIn, *record.CheckInTime)
	assert.Nil(t, record.CheckOutTime)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindBySessionAndStudent_NotFound(t *testing.T) {
	db, mock, repo := setupAttendanceRepo(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT record_id, session_id, student_id`).
		WithArgs("sess-1", "stu-9").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindBySessionAndStudent(context.Background(), "sess-1", "stu-9")
	assert.ErrorIs(t, err, ErrNotFound)
}
