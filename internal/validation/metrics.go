package validation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Metrics 验证引擎运行指标
type Metrics struct {
	mu sync.RWMutex

	TapsProcessed   int64
	TapsRejected    int64
	PendingOpened   int64
	Resolved        int64
	GhostTaps       int64
	SensorOrphans   int64
	CheckoutsDirect int64
	StartTime       time.Time
}

// NewMetrics 创建指标收集器
func NewMetrics() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

// IncrementTapsProcessed 增加刷卡处理计数
func (m *Metrics) IncrementTapsProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TapsProcessed++
}

// IncrementTapsRejected 增加刷卡拒绝计数
func (m *Metrics) IncrementTapsRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TapsRejected++
}

// IncrementPendingOpened 增加待确认打开计数
func (m *Metrics) IncrementPendingOpened() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PendingOpened++
}

// IncrementResolved 增加传感器确认计数
func (m *Metrics) IncrementResolved() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Resolved++
}

// IncrementGhostTaps 增加幽灵刷卡计数
func (m *Metrics) IncrementGhostTaps() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GhostTaps++
}

// IncrementSensorOrphans 增加无主传感器事件计数
func (m *Metrics) IncrementSensorOrphans() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SensorOrphans++
}

// IncrementCheckoutsDirect 增加直接签退计数
func (m *Metrics) IncrementCheckoutsDirect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CheckoutsDirect++
}

// GetStats 获取指标快照
func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"taps_processed":   m.TapsProcessed,
		"taps_rejected":    m.TapsRejected,
		"pending_opened":   m.PendingOpened,
		"resolved":         m.Resolved,
		"ghost_taps":       m.GhostTaps,
		"sensor_orphans":   m.SensorOrphans,
		"checkouts_direct": m.CheckoutsDirect,
		"uptime_seconds":   time.Since(m.StartTime).Seconds(),
	}
}

// ReportLoop 周期性输出指标日志
func (m *Metrics) ReportLoop(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			logger.Info("Validation engine metrics",
				zap.Int64("taps_processed", m.TapsProcessed),
				zap.Int64("taps_rejected", m.TapsRejected),
				zap.Int64("pending_opened", m.PendingOpened),
				zap.Int64("resolved", m.Resolved),
				zap.Int64("ghost_taps", m.GhostTaps),
				zap.Int64("sensor_orphans", m.SensorOrphans),
				zap.Int64("checkouts_direct", m.CheckoutsDirect),
			)
			m.mu.RUnlock()
		}
	}
}
