// Package session 提供会话模式跟踪功能
//
// 会话模式（tap_in / tap_out / disabled）是从墙钟时间派生的值：
// - 课前或下课超过宽限期：disabled
// - 课内且未超过缺勤阈值：tap_in（边界时刻含在 tap_in 内）
// - 课内超过缺勤阈值，或下课宽限期内：tap_out
//
// 派生计算是幂等、无副作用的，每次刷卡都可以重算（O(活跃会话数)，很便宜），
// 事件处理器从不直接修改模式表
package session

import (
	"context"
	"sync"
	"time"

	"presence-validation/internal/models"

	"go.uber.org/zap"
)

// Thresholds 引擎默认阈值（会话未单独配置时使用）
type Thresholds struct {
	LateMinutes   float64 // 迟到阈值（分钟）
	AbsentPercent float64 // 缺勤阈值（课程时长百分比）
	GraceMinutes  float64 // 下课后签退宽限期（分钟）
}

// ComputeMode 计算单个会话的当前模式
//
// 算法（所有时间比较用浮点分钟，不取整）：
//   minutesIntoClass = now - classStart
//   absentThresholdMinutes = classDurationMinutes * absentThresholdPercent / 100
//   now < classStart 或 now > classEnd+宽限期     → disabled
//   now ∈ [classStart, classEnd] 且 minutesIntoClass <= absentThresholdMinutes → tap_in
//   其余（课内超过缺勤阈值，或宽限期内）          → tap_out
func ComputeMode(sess models.Session, now time.Time, defaults Thresholds) models.SessionMode {
	lateMinutes := defaults.LateMinutes
	if sess.LateThresholdMinutes != nil {
		lateMinutes = *sess.LateThresholdMinutes
	}
	absentPercent := defaults.AbsentPercent
	if sess.AbsentThresholdPercent != nil {
		absentPercent = *sess.AbsentThresholdPercent
	}

	durationMinutes := sess.EndTime.Sub(sess.StartTime).Minutes()
	absentMinutes := durationMinutes * absentPercent / 100
	minutesInto := now.Sub(sess.StartTime).Minutes()
	graceEnd := sess.EndTime.Add(time.Duration(defaults.GraceMinutes * float64(time.Minute)))

	mode := models.ModeDisabled
	switch {
	case now.Before(sess.StartTime) || now.After(graceEnd):
		mode = models.ModeDisabled
	case !now.After(sess.EndTime) && minutesInto <= absentMinutes:
		// 边界时刻（minutesInto == absentThresholdMinutes）含在 tap_in 内
		mode = models.ModeTapIn
	default:
		mode = models.ModeTapOut
	}

	return models.SessionMode{
		SessionID:              sess.SessionID,
		ClassroomID:            sess.ClassroomID,
		Mode:                   mode,
		ClassStart:             sess.StartTime,
		ClassEnd:               sess.EndTime,
		LateThresholdMinutes:   lateMinutes,
		AbsentThresholdPercent: absentPercent,
		AbsentThresholdMinutes: absentMinutes,
	}
}

// SessionSource 排课数据源
type SessionSource interface {
	ActiveSessionsForToday(ctx context.Context) ([]models.Session, error)
}

// Tracker 会话模式跟踪器
//
// 周期性（以及按需）从排课源刷新今天的活跃会话，
// 模式本身在每次查询时基于当前时间重算（不信任缓存的模式值）
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]models.Session

	source    SessionSource
	defaults  Thresholds
	interval  time.Duration
	logger    *zap.Logger
	nowFunc   func() time.Time
}

// NewTracker 创建会话模式跟踪器
func NewTracker(source SessionSource, defaults Thresholds, interval time.Duration, logger *zap.Logger) *Tracker {
	return &Tracker{
		sessions: make(map[string]models.Session),
		source:   source,
		defaults: defaults,
		interval: interval,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// Start 启动周期刷新循环（阻塞直到 ctx 取消）
func (t *Tracker) Start(ctx context.Context) error {
	if err := t.Refresh(ctx); err != nil {
		t.logger.Error("Initial session refresh failed", zap.Error(err))
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := t.Refresh(ctx); err != nil {
				t.logger.Error("Failed to refresh active sessions", zap.Error(err))
			}
		}
	}
}

// Refresh 从排课源重新加载今天的活跃会话
func (t *Tracker) Refresh(ctx context.Context) error {
	sessions, err := t.source.ActiveSessionsForToday(ctx)
	if err != nil {
		return err
	}

	next := make(map[string]models.Session, len(sessions))
	for _, sess := range sessions {
		next[sess.SessionID] = sess
	}

	t.mu.Lock()
	t.sessions = next
	t.mu.Unlock()

	t.logger.Debug("Refreshed active sessions", zap.Int("count", len(sessions)))
	return nil
}

// ModeFor 查询会话当前模式
//
// 本地表没有该会话时做一次按需刷新（新开的会话不用等下一个周期）
func (t *Tracker) ModeFor(ctx context.Context, sessionID string) (models.SessionMode, bool) {
	t.mu.RLock()
	sess, ok := t.sessions[sessionID]
	t.mu.RUnlock()

	if !ok {
		if err := t.Refresh(ctx); err != nil {
			t.logger.Warn("On-demand session refresh failed",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
			return models.SessionMode{}, false
		}
		t.mu.RLock()
		sess, ok = t.sessions[sessionID]
		t.mu.RUnlock()
		if !ok {
			return models.SessionMode{}, false
		}
	}

	return ComputeMode(sess, t.nowFunc(), t.defaults), true
}

// ActiveSessionForClassroom 查询教室当前非 disabled 的会话
//
// 设备刷卡消息未携带 sessionId 时，按设备绑定的教室解析会话
func (t *Tracker) ActiveSessionForClassroom(classroomID string) (models.SessionMode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.nowFunc()
	for _, sess := range t.sessions {
		if sess.ClassroomID != classroomID {
			continue
		}
		mode := ComputeMode(sess, now, t.defaults)
		if mode.Mode != models.ModeDisabled {
			return mode, true
		}
	}

	return models.SessionMode{}, false
}

// Snapshot 返回全部会话的当前模式（调试接口用）
func (t *Tracker) Snapshot() []models.SessionMode {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.nowFunc()
	modes := make([]models.SessionMode, 0, len(t.sessions))
	for _, sess := range t.sessions {
		modes = append(modes, ComputeMode(sess, now, t.defaults))
	}
	return modes
}
