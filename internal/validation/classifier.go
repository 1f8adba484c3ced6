package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"presence-validation/internal/models"
	"presence-validation/internal/repository"
	"presence-validation/internal/session"

	"go.uber.org/zap"
)

// ModeSource 会话模式查询
type ModeSource interface {
	ModeFor(ctx context.Context, sessionID string) (models.SessionMode, bool)
	ActiveSessionForClassroom(classroomID string) (models.SessionMode, bool)
}

// StudentDirectory 学生名录（按 RFID 卡号查询）
type StudentDirectory interface {
	LookupByRFID(ctx context.Context, cardID string) (*models.Student, error)
}

// TapRequest 一次 RFID 刷卡
type TapRequest struct {
	CardID      string
	SessionID   string // 可空：设备通常只知道自己所在教室
	ClassroomID string // 刷卡设备绑定的教室
	DeviceID    string
	TapTime     time.Time
}

// Classifier 刷卡分类器
//
// 负责模式门控、学生解析、临时状态判定；判定为签到的刷卡
// 交给关联引擎打开确认窗口，签退直接落库
type Classifier struct {
	modes      ModeSource
	students   StudentDirectory
	store      AttendanceStore
	correlator *Correlator
	notifier   Notifier
	thresholds session.Thresholds
	timeout    time.Duration
	metrics    *Metrics
	logger     *zap.Logger
}

// NewClassifier 创建刷卡分类器
func NewClassifier(
	modes ModeSource,
	students StudentDirectory,
	store AttendanceStore,
	correlator *Correlator,
	notifier Notifier,
	thresholds session.Thresholds,
	timeout time.Duration,
	metrics *Metrics,
	logger *zap.Logger,
) *Classifier {
	return &Classifier{
		modes:      modes,
		students:   students,
		store:      store,
		correlator: correlator,
		notifier:   notifier,
		thresholds: thresholds,
		timeout:    timeout,
		metrics:    metrics,
		logger:     logger,
	}
}

// ValidateTap 验证一次刷卡并返回设备可直接展示的结果
//
// 刷卡从不以静默结束：所有分支都返回一个明确的结果，
// 拒绝结果同时携带精确分类码（Code）
func (c *Classifier) ValidateTap(ctx context.Context, req TapRequest) models.ValidationResult {
	c.metrics.IncrementTapsProcessed()

	mode, ok := c.resolveMode(ctx, req)
	if !ok {
		return c.reject(req, models.ScanNoActiveSession, models.CodeInvalidSession,
			"no active session for this reader")
	}

	// 教室范围校验：A 教室的读卡器不能给 B 教室的会话签到
	if req.ClassroomID != "" && mode.ClassroomID != "" && req.ClassroomID != mode.ClassroomID {
		return c.reject(req, models.ScanError, models.CodeClassroomMismatch,
			"reader is not assigned to this session's classroom")
	}

	if mode.Mode == models.ModeDisabled {
		return c.reject(req, models.ScanNoActiveSession, models.CodeInvalidSession,
			"session is outside its attendance window")
	}

	student, err := c.students.LookupByRFID(ctx, req.CardID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.reject(req, models.ScanUnknownCard, models.CodeUnknownCard,
				"card is not registered to any active student")
		}
		c.logger.Error("Student lookup failed",
			zap.String("card_id", req.CardID),
			zap.Error(err),
		)
		return c.reject(req, models.ScanError, "", "internal error during card lookup")
	}

	if mode.Mode == models.ModeTapOut {
		return c.checkout(ctx, req, mode, student)
	}
	return c.checkin(ctx, req, mode, student)
}

// resolveMode 把刷卡定位到一个会话模式
//
// 设备有会话 ID 时精确查询；没有时按设备所在教室找当前活跃会话
func (c *Classifier) resolveMode(ctx context.Context, req TapRequest) (models.SessionMode, bool) {
	if req.SessionID != "" {
		return c.modes.ModeFor(ctx, req.SessionID)
	}
	if req.ClassroomID != "" {
		return c.modes.ActiveSessionForClassroom(req.ClassroomID)
	}
	return models.SessionMode{}, false
}

// checkin 签到路径：分类临时状态并打开确认窗口
func (c *Classifier) checkin(ctx context.Context, req TapRequest, mode models.SessionMode, student *models.Student) models.ValidationResult {
	existing, err := c.store.FindBySessionAndStudent(ctx, mode.SessionID, student.StudentID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		c.logger.Error("Attendance lookup failed",
			zap.String("session_id", mode.SessionID),
			zap.String("student_id", student.StudentID),
			zap.Error(err),
		)
		return c.reject(req, models.ScanError, "", "internal error during attendance lookup")
	}
	if existing != nil && existing.CheckInTime != nil {
		return c.rejectNamed(req, student, models.ScanAlreadyComplete, models.CodeAlreadyCheckedIn,
			"attendance already recorded for this session")
	}

	// 临时状态（浮点分钟比较，不取整）
	minutesInto := req.TapTime.Sub(mode.ClassStart).Minutes()
	provisional := models.StatusPresent
	switch {
	case minutesInto <= mode.LateThresholdMinutes:
		provisional = models.StatusPresent
	case minutesInto <= mode.AbsentThresholdMinutes:
		provisional = models.StatusLate
	default:
		// 超过缺勤阈值后才到场：记 absent，但仍要求在场佐证
		provisional = models.StatusAbsent
	}

	_, err = c.correlator.Open(OpenRequest{
		SessionID:         mode.SessionID,
		StudentID:         student.StudentID,
		StudentName:       student.FullName(),
		RFIDCardID:        req.CardID,
		DeviceID:          req.DeviceID,
		TapTime:           req.TapTime,
		ProvisionalStatus: provisional,
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyPending) {
			return c.rejectNamed(req, student, models.ScanAlreadyComplete, models.CodeDuplicatePending,
				"a validation for this student is already in progress")
		}
		return c.reject(req, models.ScanError, "", "failed to open validation window")
	}

	c.notifier.Publish(models.EventRFIDScan, map[string]interface{}{
		"sessionId":         mode.SessionID,
		"studentId":         student.StudentID,
		"studentName":       student.FullName(),
		"cardId":            req.CardID,
		"tapTime":           req.TapTime,
		"provisionalStatus": provisional,
	})

	c.logger.Info("Tap accepted, awaiting presence confirmation",
		zap.String("session_id", mode.SessionID),
		zap.String("student_id", student.StudentID),
		zap.String("provisional_status", provisional),
		zap.Float64("minutes_into_class", minutesInto),
	)

	return models.ValidationResult{
		Status:                  models.ScanPendingValidation,
		CardID:                  req.CardID,
		SessionID:               mode.SessionID,
		StudentID:               student.StudentID,
		StudentName:             student.FullName(),
		ProvisionalStatus:       provisional,
		Message:                 fmt.Sprintf("welcome, %s", student.FullName()),
		ValidationTimeRemaining: c.timeout.Seconds(),
	}
}

// checkout 签退路径：直接更新记录，不经过确认窗口
//
// 进门需要双因子防"刷了就跑"，出门不存在等价的造假动机。
// 课内（classEnd 前）没有签到记录的刷卡仍按签到处理：
// 超过缺勤阈值后到场的学生记 absent，但同样要走确认窗口
func (c *Classifier) checkout(ctx context.Context, req TapRequest, mode models.SessionMode, student *models.Student) models.ValidationResult {
	existing, err := c.store.FindBySessionAndStudent(ctx, mode.SessionID, student.StudentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			if req.TapTime.Before(mode.ClassEnd) {
				return c.checkin(ctx, req, mode, student)
			}
			return c.rejectNamed(req, student, models.ScanError, models.CodeCheckoutWithoutCheckin,
				"cannot check out without a recorded check-in")
		}
		c.logger.Error("Attendance lookup failed",
			zap.String("session_id", mode.SessionID),
			zap.String("student_id", student.StudentID),
			zap.Error(err),
		)
		return c.reject(req, models.ScanError, "", "internal error during attendance lookup")
	}
	if existing.CheckOutTime != nil {
		return c.rejectNamed(req, student, models.ScanAlreadyComplete, models.CodeAlreadyCheckedOut,
			"checkout already recorded for this session")
	}

	checkout := req.TapTime
	existing.CheckOutTime = &checkout
	existing.ExitValidated = true
	if err := c.store.Update(ctx, existing); err != nil {
		c.logger.Error("Failed to persist checkout",
			zap.String("session_id", mode.SessionID),
			zap.String("student_id", student.StudentID),
			zap.Error(err),
		)
		return c.reject(req, models.ScanError, "", "failed to record checkout")
	}

	c.metrics.IncrementCheckoutsDirect()
	c.notifier.Publish(models.EventAttendanceUpdate, existing)

	c.logger.Info("Checkout recorded",
		zap.String("session_id", mode.SessionID),
		zap.String("student_id", student.StudentID),
	)

	return models.ValidationResult{
		Status:      models.ScanCheckedOut,
		CardID:      req.CardID,
		SessionID:   mode.SessionID,
		StudentID:   student.StudentID,
		StudentName: student.FullName(),
		Message:     fmt.Sprintf("goodbye, %s", student.FullName()),
	}
}

func (c *Classifier) reject(req TapRequest, status, code, message string) models.ValidationResult {
	c.metrics.IncrementTapsRejected()
	c.logger.Warn("Tap rejected",
		zap.String("card_id", req.CardID),
		zap.String("status", status),
		zap.String("code", code),
		zap.String("device_id", req.DeviceID),
	)
	return models.ValidationResult{
		Status:  status,
		Code:    code,
		CardID:  req.CardID,
		Message: message,
	}
}

func (c *Classifier) rejectNamed(req TapRequest, student *models.Student, status, code, message string) models.ValidationResult {
	result := c.reject(req, status, code, message)
	result.StudentID = student.StudentID
	result.StudentName = student.FullName()
	return result
}
