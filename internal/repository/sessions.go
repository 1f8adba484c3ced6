package repository

import (
	"context"
	"database/sql"
	"fmt"

	"presence-validation/internal/models"

	"go.uber.org/zap"
)

// SessionRepository 课程会话仓库（只读）
//
// 排课数据由管理后台维护；本服务只读取"今天活跃"的会话，
// 会话模式（tap_in/tap_out/disabled）由 Session Mode Tracker 派生，不回写
type SessionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSessionRepository 创建会话仓库
func NewSessionRepository(db *sql.DB, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{
		db:     db,
		logger: logger,
	}
}

// ActiveSessionsForToday 查询今天的活跃会话
//
// late_threshold_minutes / absent_threshold_percent 为 NULL 时
// 返回 nil 指针，由引擎填默认值
func (r *SessionRepository) ActiveSessionsForToday(ctx context.Context) ([]models.Session, error) {
	query := `
		SELECT s.session_id, s.classroom_id, COALESCE(s.subject_name, ''),
		       s.start_time, s.end_time,
		       s.late_threshold_minutes, s.absent_threshold_percent,
		       s.status
		FROM class_sessions s
		WHERE s.session_date = CURRENT_DATE
		  AND s.status = 'active'
		ORDER BY s.start_time
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var sess models.Session
		var late, absent sql.NullFloat64

		if err := rows.Scan(
			&sess.SessionID,
			&sess.ClassroomID,
			&sess.SubjectName,
			&sess.StartTime,
			&sess.EndTime,
			&late,
			&absent,
			&sess.Status,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}

		if late.Valid {
			sess.LateThresholdMinutes = &late.Float64
		}
		if absent.Valid {
			sess.AbsentThresholdPercent = &absent.Float64
		}

		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}

	return sessions, nil
}
