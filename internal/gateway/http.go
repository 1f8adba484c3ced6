package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"presence-validation/internal/models"
	"presence-validation/internal/validation"

	"go.uber.org/zap"
)

// Routes 注册全部 HTTP / WebSocket 路由
func (g *Gateway) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/iot", g.HandleDeviceWS)
	mux.HandleFunc("/ws/dashboard", g.HandleDashboardWS)

	mux.HandleFunc("/api/validation/rfid", g.handleRFIDValidation)
	mux.HandleFunc("/api/validation/sensor", g.handleSensorValidation)
	mux.HandleFunc("/api/validation/session-mode", g.handleSessionModes)
	mux.HandleFunc("/api/validation/pending", g.handlePending)
	mux.HandleFunc("/api/devices", g.handleDevices)
	mux.HandleFunc("/api/devices/config", g.handleConfigPush)
	mux.HandleFunc("/api/devices/diagnostics", g.handleDiagnosticsRequest)

	mux.HandleFunc("/healthz", g.handleHealth)
	mux.HandleFunc("/metricsz", g.handleMetrics)

	return mux
}

// rfidValidationRequest POST /api/validation/rfid 请求体
type rfidValidationRequest struct {
	RFIDCardID  string `json:"rfidCardId"`
	SessionID   string `json:"sessionId,omitempty"`
	ClassroomID string `json:"classroomId,omitempty"`
	DeviceID    string `json:"deviceId,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// handleRFIDValidation 直接 HTTP 刷卡验证（测试台、补录工具用）
func (g *Gateway) handleRFIDValidation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req rfidValidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RFIDCardID == "" {
		writeError(w, http.StatusBadRequest, "rfidCardId is required")
		return
	}

	tapTime := time.Now()
	if req.Timestamp > 0 {
		tapTime = time.UnixMilli(req.Timestamp)
	}

	result := g.engine.ValidateTap(r.Context(), validation.TapRequest{
		CardID:      req.RFIDCardID,
		SessionID:   req.SessionID,
		ClassroomID: req.ClassroomID,
		DeviceID:    req.DeviceID,
		TapTime:     tapTime,
	})

	writeJSON(w, http.StatusOK, result)
}

// sensorValidationRequest POST /api/validation/sensor 请求体
type sensorValidationRequest struct {
	SessionID     string `json:"sessionId"`
	StudentID     string `json:"studentId"`
	DetectionType string `json:"detectionType,omitempty"`
}

// handleSensorValidation 定址的传感器确认
func (g *Gateway) handleSensorValidation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req sensorValidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" || req.StudentID == "" {
		writeError(w, http.StatusBadRequest, "sessionId and studentId are required")
		return
	}
	if req.DetectionType == "" {
		req.DetectionType = models.DetectionEntry
	}

	record, err := g.engine.ResolveSensor(r.Context(), req.SessionID, req.StudentID, req.DetectionType)
	if err != nil {
		if errors.Is(err, validation.ErrNoPending) {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"resolved":    false,
				"discrepancy": models.DiscrepancySensorWithoutRFID,
			})
			return
		}
		g.logger.Error("Sensor validation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resolved": true,
		"record":   record,
	})
}

// handleSessionModes 会话模式查询
//
// 带 sessionId 查询参数时返回单个会话的模式，否则返回全表快照
func (g *Gateway) handleSessionModes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if sessionID := r.URL.Query().Get("sessionId"); sessionID != "" {
		mode, ok := g.modes.ModeFor(r.Context(), sessionID)
		if !ok {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, mode)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": g.modes.Snapshot(),
	})
}

// handlePending 当前全部待确认记录
func (g *Gateway) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	pending := g.engine.PendingValidations()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(pending),
		"pending": pending,
	})
}

// handleDevices 在线设备列表
func (g *Gateway) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   g.registry.Count(),
		"devices": g.registry.List(),
	})
}

// handleConfigPush 给全部在线设备广播运行参数更新
func (g *Gateway) handleConfigPush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var settings models.DeviceSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings payload")
		return
	}

	sent := g.registry.Broadcast(models.ConfigUpdateMessage{
		Type:   models.MsgConfigUpdate,
		Config: settings,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"sent": sent})
}

// handleDiagnosticsRequest 请求单台设备上报诊断信息
func (g *Gateway) handleDiagnosticsRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		DeviceID string `json:"deviceId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "deviceId is required")
		return
	}

	delivered := g.registry.Send(req.DeviceID, models.DiagnosticsRequestMessage{
		Type: models.MsgDiagnosticsRequest,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"delivered": delivered})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats := g.engine.Stats()
	stats["devices_online"] = g.registry.Count()
	stats["dashboard_clients"] = g.broadcaster.ClientCount()
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
