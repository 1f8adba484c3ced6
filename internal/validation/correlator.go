// Package validation 提供双因子考勤验证功能
//
// 核心流程：
// - RFID 刷卡经分类器得到临时状态，打开一条待确认记录（PendingValidation）
// - 确认窗口内收到匹配的在场传感器事件 → 采用临时状态，标记对应方向已验证
// - 窗口超时 → 强制记为 absent + ghost_tap（无物理在场佐证的刷卡不可信）
//
// 不变量：
// - 每个 (sessionId, studentId) 至多存在一条 OPEN 的待确认记录，
//   重复刷卡被拒绝（含判断与插入的原子 check-and-set）
// - 提前确认必然取消定时器：定时器与 done 通道归属于条目本身，
//   等待协程在两个分支都会退出，不存在泄漏路径
// - 持久化调用在释放待确认表锁之后执行，不阻塞其他学生的刷卡
package validation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"presence-validation/internal/models"

	"go.uber.org/zap"
)

// ErrAlreadyPending 同一 (会话, 学生) 已有待确认记录
var ErrAlreadyPending = errors.New("validation already pending")

// ErrNoPending 没有匹配的待确认记录（sensor_without_rfid 差异）
var ErrNoPending = errors.New("no pending validation")

// AttendanceStore 外部考勤存储
type AttendanceStore interface {
	Create(ctx context.Context, record *models.AttendanceRecord) error
	Update(ctx context.Context, record *models.AttendanceRecord) error
	FindBySessionAndStudent(ctx context.Context, sessionID, studentID string) (*models.AttendanceRecord, error)
}

// Notifier 仪表盘事件分发
type Notifier interface {
	Publish(eventType string, data interface{})
}

// DeviceSender 设备消息下发（交付失败返回 false，从不panic）
type DeviceSender interface {
	Send(deviceID string, message interface{}) bool
}

type pendingKey struct {
	SessionID string
	StudentID string
}

// pendingEntry 一条 OPEN 状态的待确认记录
type pendingEntry struct {
	key               pendingKey
	studentName       string
	rfidCardID        string
	deviceID          string
	tapTime           time.Time
	provisionalStatus string
	expiresAt         time.Time
	done              chan struct{} // 提前确认时关闭
}

// Correlator 关联引擎
//
// 待确认表是唯一的共享可变状态，全部修改都在 mu 临界区内；
// 每条记录配一个等待协程（定时器 + done 通道二选一）
type Correlator struct {
	mu      sync.Mutex
	pending map[pendingKey]*pendingEntry

	timeout  time.Duration
	store    AttendanceStore
	notifier Notifier
	sender   DeviceSender
	logger   *zap.Logger
	metrics  *Metrics
}

// NewCorrelator 创建关联引擎
func NewCorrelator(
	timeout time.Duration,
	store AttendanceStore,
	notifier Notifier,
	sender DeviceSender,
	metrics *Metrics,
	logger *zap.Logger,
) *Correlator {
	return &Correlator{
		pending:  make(map[pendingKey]*pendingEntry),
		timeout:  timeout,
		store:    store,
		notifier: notifier,
		sender:   sender,
		logger:   logger,
		metrics:  metrics,
	}
}

// OpenRequest 打开待确认记录的参数
type OpenRequest struct {
	SessionID         string
	StudentID         string
	StudentName       string
	RFIDCardID        string
	DeviceID          string
	TapTime           time.Time
	ProvisionalStatus string
}

// Open 打开一条待确认记录并启动确认窗口
//
// 判断与插入在同一临界区内：两次几乎同时的重复刷卡
// （读卡器固件重发、卡片抖动）只有一次能成功打开
func (c *Correlator) Open(req OpenRequest) (*models.PendingValidation, error) {
	key := pendingKey{SessionID: req.SessionID, StudentID: req.StudentID}

	c.mu.Lock()
	if _, exists := c.pending[key]; exists {
		c.mu.Unlock()
		return nil, ErrAlreadyPending
	}

	entry := &pendingEntry{
		key:               key,
		studentName:       req.StudentName,
		rfidCardID:        req.RFIDCardID,
		deviceID:          req.DeviceID,
		tapTime:           req.TapTime,
		provisionalStatus: req.ProvisionalStatus,
		expiresAt:         req.TapTime.Add(c.timeout),
		done:              make(chan struct{}),
	}
	c.pending[key] = entry
	c.mu.Unlock()

	c.metrics.IncrementPendingOpened()
	go c.await(entry)

	c.logger.Debug("Opened pending validation",
		zap.String("session_id", req.SessionID),
		zap.String("student_id", req.StudentID),
		zap.String("provisional_status", req.ProvisionalStatus),
	)

	return entry.snapshot(), nil
}

// await 等待确认或超时（每条记录一个协程）
func (c *Correlator) await(entry *pendingEntry) {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-entry.done:
		// 已被传感器事件确认，定时器随 defer 停止
	case <-timer.C:
		c.resolveTimeout(entry)
	}
}

// IsPending 查询 (会话, 学生) 是否有 OPEN 的待确认记录
func (c *Correlator) IsPending(sessionID, studentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[pendingKey{SessionID: sessionID, StudentID: studentID}]
	return ok
}

// ResolveSensor 用传感器事件确认待确认记录
//
// 没有匹配的 OPEN 记录时上报 sensor_without_rfid 差异，
// 不创建也不修改任何考勤记录（仅审计）
func (c *Correlator) ResolveSensor(ctx context.Context, sessionID, studentID, detectionType string) (*models.AttendanceRecord, error) {
	key := pendingKey{SessionID: sessionID, StudentID: studentID}

	c.mu.Lock()
	entry, ok := c.pending[key]
	if !ok {
		c.mu.Unlock()
		c.metrics.IncrementSensorOrphans()
		c.notifier.Publish(models.EventSensorWithoutRFID, map[string]interface{}{
			"sessionId":     sessionID,
			"studentId":     studentID,
			"detectionType": detectionType,
			"discrepancy":   models.DiscrepancySensorWithoutRFID,
		})
		c.logger.Warn("Sensor detection without matching pending validation",
			zap.String("session_id", sessionID),
			zap.String("student_id", studentID),
			zap.String("detection_type", detectionType),
		)
		return nil, ErrNoPending
	}
	delete(c.pending, key)
	close(entry.done)
	c.mu.Unlock()

	checkIn := entry.tapTime
	record := &models.AttendanceRecord{
		SessionID:       sessionID,
		StudentID:       studentID,
		CheckInTime:     &checkIn,
		Status:          entry.provisionalStatus,
		EntryValidated:  detectionType == models.DetectionEntry,
		ExitValidated:   detectionType == models.DetectionExit,
		DiscrepancyFlag: models.DiscrepancyNormal,
	}

	// 持久化在锁外执行；失败只记录日志，重试由存储层的持久化保证承担
	if err := c.store.Create(ctx, record); err != nil {
		c.logger.Error("Failed to persist attendance record after validation",
			zap.String("session_id", sessionID),
			zap.String("student_id", studentID),
			zap.Error(err),
		)
	}

	c.metrics.IncrementResolved()
	c.notifier.Publish(models.EventAttendanceUpdate, record)
	c.notifyDevice(entry, record.Status, "attendance confirmed")

	c.logger.Info("Pending validation resolved by sensor",
		zap.String("session_id", sessionID),
		zap.String("student_id", studentID),
		zap.String("detection_type", detectionType),
		zap.String("status", record.Status),
	)

	return record, nil
}

// ResolveOldestForSession 用未定址的传感器事件确认该会话最早的待确认记录
//
// 在场传感器不按卡片定址：传感器触发佐证的是当前正在
// 等待确认的那次刷卡，按 FIFO 取最早的
func (c *Correlator) ResolveOldestForSession(ctx context.Context, sessionID, detectionType string) (*models.AttendanceRecord, bool) {
	c.mu.Lock()
	var oldest *pendingEntry
	for _, entry := range c.pending {
		if entry.key.SessionID != sessionID {
			continue
		}
		if oldest == nil || entry.tapTime.Before(oldest.tapTime) {
			oldest = entry
		}
	}
	c.mu.Unlock()

	if oldest == nil {
		return nil, false
	}

	record, err := c.ResolveSensor(ctx, sessionID, oldest.key.StudentID, detectionType)
	if err != nil {
		return nil, false
	}
	return record, true
}

// resolveTimeout 确认窗口超时：强制 absent + ghost_tap
//
// 无论刷卡时算出的临时状态是什么，没有物理在场佐证的刷卡
// 一律不允许进入非 absent 状态
func (c *Correlator) resolveTimeout(entry *pendingEntry) {
	c.mu.Lock()
	current, ok := c.pending[entry.key]
	if !ok || current != entry {
		// 已被传感器事件抢先确认
		c.mu.Unlock()
		return
	}
	delete(c.pending, entry.key)
	c.mu.Unlock()

	checkIn := entry.tapTime
	record := &models.AttendanceRecord{
		SessionID:       entry.key.SessionID,
		StudentID:       entry.key.StudentID,
		CheckInTime:     &checkIn,
		Status:          models.StatusAbsent,
		EntryValidated:  false,
		ExitValidated:   false,
		DiscrepancyFlag: models.DiscrepancyGhostTap,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.store.Create(ctx, record); err != nil {
		c.logger.Error("Failed to persist ghost tap record",
			zap.String("session_id", entry.key.SessionID),
			zap.String("student_id", entry.key.StudentID),
			zap.Error(err),
		)
	}

	c.metrics.IncrementGhostTaps()
	c.notifier.Publish(models.EventGhostTapAlert, map[string]interface{}{
		"sessionId":   entry.key.SessionID,
		"studentId":   entry.key.StudentID,
		"studentName": entry.studentName,
		"tapTime":     entry.tapTime,
		"discrepancy": models.DiscrepancyGhostTap,
	})
	c.notifier.Publish(models.EventAttendanceUpdate, record)

	// 设备端也要收到终态：刷卡从不以"无响应"结束
	if entry.deviceID != "" {
		c.sender.Send(entry.deviceID, models.ScanResultMessage{
			Type:        models.MsgScanResult,
			Status:      models.ScanError,
			CardID:      entry.rfidCardID,
			StudentName: entry.studentName,
			Message:     fmt.Sprintf("no presence detected within %.0fs; recorded as absent (ghost tap)", c.timeout.Seconds()),
		})
	}

	c.logger.Warn("Pending validation timed out (ghost tap)",
		zap.String("session_id", entry.key.SessionID),
		zap.String("student_id", entry.key.StudentID),
		zap.String("provisional_status", entry.provisionalStatus),
	)
}

// notifyDevice 把确认终态推回发起刷卡的设备
func (c *Correlator) notifyDevice(entry *pendingEntry, finalStatus, message string) {
	if entry.deviceID == "" {
		return
	}

	status := models.ScanCheckedIn
	switch finalStatus {
	case models.StatusLate:
		status = models.ScanCheckedInLate
	case models.StatusAbsent:
		status = models.ScanAlreadyComplete
		message = "recorded as absent (arrived past absent threshold)"
	}

	delivered := c.sender.Send(entry.deviceID, models.ScanResultMessage{
		Type:        models.MsgScanResult,
		Status:      status,
		CardID:      entry.rfidCardID,
		StudentName: entry.studentName,
		Message:     message,
	})
	if !delivered {
		c.logger.Debug("Device unreachable for terminal scan result",
			zap.String("device_id", entry.deviceID),
		)
	}
}

// PendingList 返回当前全部待确认记录（仪表盘接口用）
func (c *Correlator) PendingList() []models.PendingValidation {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := make([]models.PendingValidation, 0, len(c.pending))
	for _, entry := range c.pending {
		list = append(list, *entry.snapshot())
	}
	return list
}

// PendingCount 当前待确认记录数
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (e *pendingEntry) snapshot() *models.PendingValidation {
	return &models.PendingValidation{
		SessionID:         e.key.SessionID,
		StudentID:         e.key.StudentID,
		StudentName:       e.studentName,
		RFIDCardID:        e.rfidCardID,
		DeviceID:          e.deviceID,
		TapTime:           e.tapTime,
		ProvisionalStatus: e.provisionalStatus,
		ExpiresAt:         e.expiresAt,
	}
}
