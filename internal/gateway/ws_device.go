package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"presence-validation/internal/models"
	"presence-validation/internal/registry"
	"presence-validation/internal/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var deviceUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 设备在校园内网，来源检查交给边界网关
	CheckOrigin: func(r *http.Request) bool { return true },
}

// safeConn 带写锁的 WebSocket 连接
//
// gorilla/websocket 不允许并发写；设备读循环、验证引擎回推、
// 心跳超时扫描都可能同时写同一连接
type safeConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *safeConn) WriteJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *safeConn) Close() error {
	return s.conn.Close()
}

// HandleDeviceWS 设备 WebSocket 接入（GET /iot）
func (g *Gateway) HandleDeviceWS(w http.ResponseWriter, r *http.Request) {
	conn, err := deviceUpgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	sc := &safeConn{conn: conn}
	g.logger.Info("Device connection established",
		zap.String("remote_addr", r.RemoteAddr),
	)

	// 连接问候：设备固件以此确认服务端协议可用
	_ = sc.WriteJSON(models.WelcomeMessage{
		Type:       models.MsgWelcome,
		Message:    "connected to presence validation service",
		ServerTime: time.Now().Format(time.RFC3339),
	})

	go g.deviceReadLoop(sc, r.RemoteAddr)
}

// deviceReadLoop 设备消息读循环
//
// 注册前只接受 device_register；其余消息一律回 error。
// 循环退出时注销设备并广播断连事件
func (g *Gateway) deviceReadLoop(sc *safeConn, remoteAddr string) {
	var deviceID, classroomID string

	defer func() {
		_ = sc.Close()
		if deviceID != "" {
			g.registry.Unregister(deviceID, sc)
		}
		g.logger.Info("Device connection closed",
			zap.String("device_id", deviceID),
			zap.String("remote_addr", remoteAddr),
		)
	}()

	for {
		_, raw, err := sc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Warn("Device connection error",
					zap.String("device_id", deviceID),
					zap.Error(err),
				)
			}
			return
		}

		var envelope models.Envelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			_ = sc.WriteJSON(models.ErrorMessage{Type: models.MsgError, Message: "invalid JSON"})
			continue
		}

		if deviceID == "" && envelope.Type != models.MsgDeviceRegister {
			_ = sc.WriteJSON(models.ErrorMessage{
				Type:    models.MsgError,
				Message: "device must register before sending messages",
			})
			continue
		}

		switch envelope.Type {
		case models.MsgDeviceRegister:
			id, room, ok := g.handleRegister(sc, raw, remoteAddr)
			if ok {
				deviceID, classroomID = id, room
			}
		case models.MsgRFIDScan:
			g.handleRFIDScan(sc, raw, deviceID, classroomID)
		case models.MsgPresenceDetected:
			g.handlePresence(raw, deviceID, classroomID)
		case models.MsgHeartbeat:
			g.registry.Touch(deviceID)
			_ = sc.WriteJSON(models.HeartbeatAckMessage{
				Type:       models.MsgHeartbeatAck,
				ServerTime: time.Now().Format(time.RFC3339),
			})
		case models.MsgDeviceStatus:
			g.handleDeviceStatus(raw, deviceID)
		default:
			_ = sc.WriteJSON(models.ErrorMessage{
				Type:    models.MsgError,
				Message: "unknown message type: " + envelope.Type,
			})
		}
	}
}

// handleRegister 处理设备注册
//
// 设备申报的教室不存在时回退到第一个可用教室（现场部署时
// 固件配置常落后于教室表）
func (g *Gateway) handleRegister(sc *safeConn, raw []byte, remoteAddr string) (string, string, bool) {
	var msg models.DeviceRegisterMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.DeviceID == "" {
		_ = sc.WriteJSON(models.RegistrationErrorMessage{
			Type:    models.MsgRegistrationError,
			Message: "registration requires a deviceId",
		})
		return "", "", false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		room *models.Classroom
		err  error
	)
	if msg.ClassroomID != "" {
		room, err = g.classrooms.GetByID(ctx, msg.ClassroomID)
	}
	if room == nil {
		room, err = g.classrooms.FirstAvailable(ctx)
	}
	if err != nil || room == nil {
		g.logger.Error("No classroom available for device registration",
			zap.String("device_id", msg.DeviceID),
			zap.Error(err),
		)
		_ = sc.WriteJSON(models.RegistrationErrorMessage{
			Type:    models.MsgRegistrationError,
			Message: "no classroom available for this device",
		})
		return "", "", false
	}

	g.registry.Register(&registry.Device{
		DeviceID:     msg.DeviceID,
		ClassroomID:  room.ClassroomID,
		DeviceType:   msg.DeviceType,
		Capabilities: msg.Capabilities,
		IPAddress:    msg.IPAddress,
	}, sc)

	_ = sc.WriteJSON(models.RegistrationSuccessMessage{
		Type:          models.MsgRegistrationSuccess,
		DeviceID:      msg.DeviceID,
		ClassroomID:   room.ClassroomID,
		ClassroomName: room.Name,
		ServerTime:    time.Now().Format(time.RFC3339),
		Settings: models.DeviceSettings{
			LateThresholdMinutes:     g.settings.LateThresholdMinutes,
			AbsentThresholdPercent:   g.settings.AbsentThresholdPercent,
			ValidationTimeoutSeconds: g.settings.ValidationTimeoutSeconds,
			HeartbeatIntervalSeconds: g.settings.HeartbeatIntervalSeconds,
		},
	})

	return msg.DeviceID, room.ClassroomID, true
}

// handleRFIDScan 处理刷卡消息并同步回 scan_result
func (g *Gateway) handleRFIDScan(sc *safeConn, raw []byte, deviceID, classroomID string) {
	var msg models.RFIDScanMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.RFIDCardID == "" {
		_ = sc.WriteJSON(models.ErrorMessage{Type: models.MsgError, Message: "rfid_scan requires rfidCardId"})
		return
	}

	tapTime := time.Now()
	if msg.Timestamp > 0 {
		tapTime = time.UnixMilli(msg.Timestamp)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := g.engine.ValidateTap(ctx, validation.TapRequest{
		CardID:      msg.RFIDCardID,
		SessionID:   msg.SessionID,
		ClassroomID: classroomID,
		DeviceID:    deviceID,
		TapTime:     tapTime,
	})

	_ = sc.WriteJSON(models.ScanResultMessage{
		Type:                    models.MsgScanResult,
		Status:                  result.Status,
		CardID:                  result.CardID,
		StudentName:             result.StudentName,
		Message:                 result.Message,
		ValidationTimeRemaining: result.ValidationTimeRemaining,
	})
	g.registry.Touch(deviceID)
}

// handlePresence 处理在场传感器消息
func (g *Gateway) handlePresence(raw []byte, deviceID, classroomID string) {
	var msg models.PresenceDetectedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	ts := time.Now()
	if msg.Timestamp > 0 {
		ts = time.UnixMilli(msg.Timestamp)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g.engine.HandlePresence(ctx, deviceID, classroomID, msg.PresenceDetected, ts)
	g.registry.Touch(deviceID)
}

// handleDeviceStatus 处理设备状态上报并写入缓存
func (g *Gateway) handleDeviceStatus(raw []byte, deviceID string) {
	var msg models.DeviceStatusMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.DeviceID == "" {
		msg.DeviceID = deviceID
	}

	g.registry.SetStatus(deviceID, msg.Status)

	if g.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := g.cache.StoreDeviceStatus(ctx, deviceID, &msg); err != nil {
			g.logger.Warn("Failed to cache device status",
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
		}
	}
}
