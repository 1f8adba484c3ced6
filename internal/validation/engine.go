package validation

import (
	"context"
	"time"

	"presence-validation/internal/models"

	"go.uber.org/zap"
)

// Engine 验证引擎门面
//
// 网关（WebSocket/HTTP）和 MQTT 消费者都只依赖这个门面，
// 不直接接触分类器和关联引擎
type Engine struct {
	classifier *Classifier
	correlator *Correlator
	modes      ModeSource
	notifier   Notifier
	metrics    *Metrics
	logger     *zap.Logger
}

// NewEngine 创建验证引擎
func NewEngine(classifier *Classifier, correlator *Correlator, modes ModeSource, notifier Notifier, metrics *Metrics, logger *zap.Logger) *Engine {
	return &Engine{
		classifier: classifier,
		correlator: correlator,
		modes:      modes,
		notifier:   notifier,
		metrics:    metrics,
		logger:     logger,
	}
}

// ValidateTap 验证一次 RFID 刷卡
func (e *Engine) ValidateTap(ctx context.Context, req TapRequest) models.ValidationResult {
	return e.classifier.ValidateTap(ctx, req)
}

// ResolveSensor 定址的传感器确认（sessionId + studentId 已知）
func (e *Engine) ResolveSensor(ctx context.Context, sessionID, studentID, detectionType string) (*models.AttendanceRecord, error) {
	return e.correlator.ResolveSensor(ctx, sessionID, studentID, detectionType)
}

// HandlePresence 处理未定址的在场传感器事件
//
// 传感器不识别身份，只报告"有人通过"；引擎把它定位到
// 设备所在教室的活跃会话，按 FIFO 确认最早的待确认刷卡。
// 没有待确认刷卡时只作为在场状态更新广播，不产生任何考勤记录
func (e *Engine) HandlePresence(ctx context.Context, deviceID, classroomID string, detected bool, ts time.Time) {
	e.notifier.Publish(models.EventPresenceUpdate, map[string]interface{}{
		"deviceId":         deviceID,
		"classroomId":      classroomID,
		"presenceDetected": detected,
		"timestamp":        ts,
	})

	if !detected || classroomID == "" {
		return
	}

	mode, ok := e.modes.ActiveSessionForClassroom(classroomID)
	if !ok || mode.Mode == models.ModeDisabled {
		return
	}

	detectionType := models.DetectionEntry
	if mode.Mode == models.ModeTapOut {
		detectionType = models.DetectionExit
	}

	if _, resolved := e.correlator.ResolveOldestForSession(ctx, mode.SessionID, detectionType); resolved {
		return
	}

	// 课中有人通过但无人等待确认：标记差异，不产生考勤记录
	e.metrics.IncrementSensorOrphans()
	e.notifier.Publish(models.EventSensorWithoutRFID, map[string]interface{}{
		"sessionId":     mode.SessionID,
		"deviceId":      deviceID,
		"classroomId":   classroomID,
		"detectionType": detectionType,
		"discrepancy":   models.DiscrepancySensorWithoutRFID,
	})
	e.logger.Warn("Presence event with no pending validation",
		zap.String("device_id", deviceID),
		zap.String("classroom_id", classroomID),
		zap.String("session_id", mode.SessionID),
	)
}

// PendingValidations 当前全部待确认记录
func (e *Engine) PendingValidations() []models.PendingValidation {
	return e.correlator.PendingList()
}

// Stats 引擎运行指标快照
func (e *Engine) Stats() map[string]interface{} {
	stats := e.metrics.GetStats()
	stats["pending_count"] = e.correlator.PendingCount()
	return stats
}
