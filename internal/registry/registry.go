// Package registry 维护在线设备连接表
//
// 设备注册后由本表负责消息路由；心跳维护 lastSeen，
// 超时扫描把失联设备标记为 error 并断开连接
package registry

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DeviceConn 设备连接的最小写接口（由网关的 WebSocket 包装实现）
type DeviceConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Publisher 仪表盘事件分发
type Publisher interface {
	Publish(eventType string, data interface{})
}

// Device 一台在线设备
type Device struct {
	DeviceID     string    `json:"deviceId"`
	ClassroomID  string    `json:"classroomId"`
	DeviceType   string    `json:"deviceType"`
	Capabilities []string  `json:"capabilities"`
	IPAddress    string    `json:"ipAddress,omitempty"`
	Status       string    `json:"status"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastSeen     time.Time `json:"lastSeen"`

	conn DeviceConn
}

// Registry 设备注册表
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device

	publisher Publisher
	logger    *zap.Logger
}

// NewRegistry 创建设备注册表
func NewRegistry(publisher Publisher, logger *zap.Logger) *Registry {
	return &Registry{
		devices:   make(map[string]*Device),
		publisher: publisher,
		logger:    logger,
	}
}

// Register 注册设备；同 ID 旧连接被替换并关闭
func (r *Registry) Register(dev *Device, conn DeviceConn) {
	now := time.Now()
	dev.conn = conn
	dev.Status = "online"
	dev.ConnectedAt = now
	dev.LastSeen = now

	r.mu.Lock()
	old, existed := r.devices[dev.DeviceID]
	r.devices[dev.DeviceID] = dev
	r.mu.Unlock()

	if existed && old.conn != nil && old.conn != conn {
		_ = old.conn.Close()
		r.logger.Info("Replaced stale device connection",
			zap.String("device_id", dev.DeviceID),
		)
	}

	r.publisher.Publish("device_connected", map[string]interface{}{
		"deviceId":    dev.DeviceID,
		"classroomId": dev.ClassroomID,
		"deviceType":  dev.DeviceType,
	})

	r.logger.Info("Device registered",
		zap.String("device_id", dev.DeviceID),
		zap.String("classroom_id", dev.ClassroomID),
		zap.String("device_type", dev.DeviceType),
	)
}

// Unregister 移除设备（连接已断开时由网关调用）
//
// 只有当前连接匹配时才移除：避免重连后旧协程的收尾
// 误删新连接
func (r *Registry) Unregister(deviceID string, conn DeviceConn) {
	r.mu.Lock()
	dev, ok := r.devices[deviceID]
	if !ok || (conn != nil && dev.conn != conn) {
		r.mu.Unlock()
		return
	}
	delete(r.devices, deviceID)
	r.mu.Unlock()

	r.publisher.Publish("device_disconnected", map[string]interface{}{
		"deviceId":    deviceID,
		"classroomId": dev.ClassroomID,
	})

	r.logger.Info("Device unregistered",
		zap.String("device_id", deviceID),
	)
}

// Send 给指定设备发消息；设备不在线或写失败返回 false
func (r *Registry) Send(deviceID string, message interface{}) bool {
	r.mu.RLock()
	dev, ok := r.devices[deviceID]
	r.mu.RUnlock()

	if !ok || dev.conn == nil {
		return false
	}
	if err := dev.conn.WriteJSON(message); err != nil {
		r.logger.Debug("Failed to write to device",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Broadcast 给全部在线设备发消息，返回成功数
func (r *Registry) Broadcast(message interface{}) int {
	r.mu.RLock()
	conns := make(map[string]DeviceConn, len(r.devices))
	for id, dev := range r.devices {
		if dev.conn != nil {
			conns[id] = dev.conn
		}
	}
	r.mu.RUnlock()

	sent := 0
	for id, conn := range conns {
		if err := conn.WriteJSON(message); err != nil {
			r.logger.Debug("Broadcast write failed",
				zap.String("device_id", id),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}

// Touch 刷新设备的 lastSeen（心跳处理路径）
func (r *Registry) Touch(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dev, ok := r.devices[deviceID]; ok {
		dev.LastSeen = time.Now()
		if dev.Status == "error" {
			dev.Status = "online"
		}
	}
}

// SetStatus 更新设备状态（device_status 上报）
func (r *Registry) SetStatus(deviceID, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dev, ok := r.devices[deviceID]; ok {
		dev.Status = status
		dev.LastSeen = time.Now()
	}
}

// Get 查询单台设备
func (r *Registry) Get(deviceID string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[deviceID]
	if !ok {
		return nil, false
	}
	copied := *dev
	copied.conn = nil
	return &copied, true
}

// List 在线设备列表（快照，不含连接句柄）
func (r *Registry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Device, 0, len(r.devices))
	for _, dev := range r.devices {
		copied := *dev
		copied.conn = nil
		list = append(list, copied)
	}
	return list
}

// Count 在线设备数
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// MarkStale 把心跳超时的设备标记为 error，返回标记数
//
// 连接不主动关闭：TCP 层可能只是短暂拥塞，设备下一个
// 心跳到达时 Touch 会恢复 online
func (r *Registry) MarkStale(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)

	r.mu.Lock()
	defer r.mu.Unlock()

	marked := 0
	for _, dev := range r.devices {
		if dev.Status != "error" && dev.LastSeen.Before(cutoff) {
			dev.Status = "error"
			marked++
			r.logger.Warn("Device heartbeat timed out",
				zap.String("device_id", dev.DeviceID),
				zap.Time("last_seen", dev.LastSeen),
			)
		}
	}
	return marked
}
