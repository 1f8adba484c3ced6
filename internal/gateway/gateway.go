// Package gateway 对外接入层：设备 WebSocket（/iot）、
// 仪表盘 WebSocket（/ws/dashboard）和 HTTP API
package gateway

import (
	"context"
	"time"

	"presence-validation/internal/broadcaster"
	"presence-validation/internal/models"
	"presence-validation/internal/registry"
	"presence-validation/internal/validation"

	"go.uber.org/zap"
)

// ValidationEngine 验证引擎接口（网关侧所需的最小集合）
type ValidationEngine interface {
	ValidateTap(ctx context.Context, req validation.TapRequest) models.ValidationResult
	ResolveSensor(ctx context.Context, sessionID, studentID, detectionType string) (*models.AttendanceRecord, error)
	HandlePresence(ctx context.Context, deviceID, classroomID string, detected bool, ts time.Time)
	PendingValidations() []models.PendingValidation
	Stats() map[string]interface{}
}

// ClassroomResolver 设备注册时的教室解析
type ClassroomResolver interface {
	GetByID(ctx context.Context, classroomID string) (*models.Classroom, error)
	FirstAvailable(ctx context.Context) (*models.Classroom, error)
}

// ModeReader 会话模式只读视图（仪表盘接口用）
type ModeReader interface {
	ModeFor(ctx context.Context, sessionID string) (models.SessionMode, bool)
	Snapshot() []models.SessionMode
}

// StatusCache 设备状态缓存（Redis 实现；nil 时禁用）
type StatusCache interface {
	StoreDeviceStatus(ctx context.Context, deviceID string, status *models.DeviceStatusMessage) error
}

// Settings 注册成功时下发给设备的运行参数
type Settings struct {
	LateThresholdMinutes     float64
	AbsentThresholdPercent   float64
	ValidationTimeoutSeconds float64
	HeartbeatIntervalSeconds int
}

// Gateway 接入层
type Gateway struct {
	engine      ValidationEngine
	registry    *registry.Registry
	broadcaster *broadcaster.Broadcaster
	classrooms  ClassroomResolver
	modes       ModeReader
	cache       StatusCache
	settings    Settings
	logger      *zap.Logger
}

// NewGateway 创建接入层
func NewGateway(
	engine ValidationEngine,
	reg *registry.Registry,
	bcast *broadcaster.Broadcaster,
	classrooms ClassroomResolver,
	modes ModeReader,
	cache StatusCache,
	settings Settings,
	logger *zap.Logger,
) *Gateway {
	return &Gateway{
		engine:      engine,
		registry:    reg,
		broadcaster: bcast,
		classrooms:  classrooms,
		modes:       modes,
		cache:       cache,
		settings:    settings,
		logger:      logger,
	}
}
