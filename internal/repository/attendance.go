package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"presence-validation/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AttendanceRepository 考勤记录仓库
//
// 记录归外部考勤存储所有；本服务只发出 create/update 写意图，
// 持久化失败的重试由存储层自身的持久化保证承担（引擎不重试）
type AttendanceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAttendanceRepository 创建考勤记录仓库
func NewAttendanceRepository(db *sql.DB, logger *zap.Logger) *AttendanceRepository {
	return &AttendanceRepository{
		db:     db,
		logger: logger,
	}
}

// Create 创建考勤记录
//
// RecordID 为空时生成 UUID
func (r *AttendanceRepository) Create(ctx context.Context, record *models.AttendanceRecord) error {
	if record.SessionID == "" || record.StudentID == "" {
		return fmt.Errorf("session_id and student_id are required")
	}
	if record.RecordID == "" {
		record.RecordID = uuid.New().String()
	}

	query := `
		INSERT INTO attendance_records
			(record_id, session_id, student_id, check_in_time, check_out_time,
			 status, entry_validated, exit_validated, discrepancy_flag, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`

	_, err := r.db.ExecContext(ctx, query,
		record.RecordID,
		record.SessionID,
		record.StudentID,
		nullableTime(record.CheckInTime),
		nullableTime(record.CheckOutTime),
		record.Status,
		record.EntryValidated,
		record.ExitValidated,
		record.DiscrepancyFlag,
	)
	if err != nil {
		return fmt.Errorf("failed to create attendance record: %w", err)
	}

	return nil
}

// Update 更新考勤记录（签退路径使用）
func (r *AttendanceRepository) Update(ctx context.Context, record *models.AttendanceRecord) error {
	if record.RecordID == "" {
		return fmt.Errorf("record_id is required")
	}

	query := `
		UPDATE attendance_records
		SET check_in_time = $2,
		    check_out_time = $3,
		    status = $4,
		    entry_validated = $5,
		    exit_validated = $6,
		    discrepancy_flag = $7,
		    updated_at = NOW()
		WHERE record_id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		record.RecordID,
		nullableTime(record.CheckInTime),
		nullableTime(record.CheckOutTime),
		record.Status,
		record.EntryValidated,
		record.ExitValidated,
		record.DiscrepancyFlag,
	)
	if err != nil {
		return fmt.Errorf("failed to update attendance record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("attendance record not found: %s: %w", record.RecordID, ErrNotFound)
	}

	return nil
}

// FindBySessionAndStudent 按 (会话, 学生) 查询考勤记录
//
// 不存在时返回 ErrNotFound
func (r *AttendanceRepository) FindBySessionAndStudent(ctx context.Context, sessionID, studentID string) (*models.AttendanceRecord, error) {
	query := `
		SELECT record_id, session_id, student_id, check_in_time, check_out_time,
		       status, entry_validated, exit_validated, discrepancy_flag
		FROM attendance_records
		WHERE session_id = $1 AND student_id = $2
	`

	record := &models.AttendanceRecord{}
	var checkIn, checkOut sql.NullTime

	err := r.db.QueryRowContext(ctx, query, sessionID, studentID).Scan(
		&record.RecordID,
		&record.SessionID,
		&record.StudentID,
		&checkIn,
		&checkOut,
		&record.Status,
		&record.EntryValidated,
		&record.ExitValidated,
		&record.DiscrepancyFlag,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("attendance record not found for session=%s student=%s: %w", sessionID, studentID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query attendance record: %w", err)
	}

	if checkIn.Valid {
		record.CheckInTime = &checkIn.Time
	}
	if checkOut.Valid {
		record.CheckOutTime = &checkOut.Time
	}

	return record, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
