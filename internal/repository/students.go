package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"presence-validation/internal/models"

	"go.uber.org/zap"
)

// ErrNotFound 表示查询对象不存在
var ErrNotFound = errors.New("not found")

// StudentRepository 学生目录仓库（只读）
//
// 学生目录由管理后台维护，本服务只做 RFID 卡号到学生的解析
type StudentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStudentRepository 创建学生目录仓库
func NewStudentRepository(db *sql.DB, logger *zap.Logger) *StudentRepository {
	return &StudentRepository{
		db:     db,
		logger: logger,
	}
}

// LookupByRFID 根据RFID卡号查询学生
//
// 卡号未登记时返回 ErrNotFound（调用方回复 unknown_card，不产生任何记录）
func (r *StudentRepository) LookupByRFID(ctx context.Context, cardID string) (*models.Student, error) {
	if cardID == "" {
		return nil, fmt.Errorf("rfid card id is required")
	}

	query := `
		SELECT student_id, first_name, last_name, email, rfid_card_id, COALESCE(parent_email, '')
		FROM students
		WHERE rfid_card_id = $1 AND is_active = TRUE
	`

	student := &models.Student{}
	err := r.db.QueryRowContext(ctx, query, cardID).Scan(
		&student.StudentID,
		&student.FirstName,
		&student.LastName,
		&student.Email,
		&student.RFIDCardID,
		&student.ParentEmail,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("student not found for card %s: %w", cardID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query student: %w", err)
	}

	return student, nil
}
