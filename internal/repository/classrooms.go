package repository

import (
	"context"
	"database/sql"
	"fmt"

	"presence-validation/internal/models"

	"go.uber.org/zap"
)

// ClassroomRepository 教室仓库（只读）
type ClassroomRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewClassroomRepository 创建教室仓库
func NewClassroomRepository(db *sql.DB, logger *zap.Logger) *ClassroomRepository {
	return &ClassroomRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID 根据ID查询教室
func (r *ClassroomRepository) GetByID(ctx context.Context, classroomID string) (*models.Classroom, error) {
	query := `
		SELECT classroom_id, name, COALESCE(building, '')
		FROM classrooms
		WHERE classroom_id = $1 AND is_active = TRUE
	`

	classroom := &models.Classroom{}
	err := r.db.QueryRowContext(ctx, query, classroomID).Scan(
		&classroom.ClassroomID,
		&classroom.Name,
		&classroom.Building,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("classroom not found: %s: %w", classroomID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query classroom: %w", err)
	}

	return classroom, nil
}

// FirstAvailable 返回任意一个可用教室
//
// 设备注册未指定教室时的默认绑定，保持硬件上线零配置；
// 需要严格绑定的设备必须显式传 classroomId
func (r *ClassroomRepository) FirstAvailable(ctx context.Context) (*models.Classroom, error) {
	query := `
		SELECT classroom_id, name, COALESCE(building, '')
		FROM classrooms
		WHERE is_active = TRUE
		ORDER BY classroom_id
		LIMIT 1
	`

	classroom := &models.Classroom{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&classroom.ClassroomID,
		&classroom.Name,
		&classroom.Building,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no classrooms available: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query classrooms: %w", err)
	}

	return classroom, nil
}
