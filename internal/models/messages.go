package models

// 设备 ↔ 服务端 WebSocket 消息协议
//
// 所有消息均为 JSON，外层带 "type" 字段（tagged union）。
// 入站消息由网关按类型常量分发到具体处理器，未知类型回复 error。

// 入站消息类型（设备 → 服务端）
const (
	MsgDeviceRegister   = "device_register"
	MsgRFIDScan         = "rfid_scan"
	MsgPresenceDetected = "presence_detected"
	MsgHeartbeat        = "heartbeat"
	MsgDeviceStatus     = "device_status"
)

// 出站消息类型（服务端 → 设备）
const (
	MsgWelcome             = "welcome"
	MsgRegistrationSuccess = "registration_success"
	MsgRegistrationError   = "registration_error"
	MsgScanResult          = "scan_result"
	MsgHeartbeatAck        = "heartbeat_ack"
	MsgConfigUpdate        = "config_update"
	MsgDiagnosticsRequest  = "diagnostics_request"
	MsgError               = "error"
)

// scan_result 状态
const (
	ScanUnknownCard       = "unknown_card"
	ScanNoActiveSession   = "no_active_session"
	ScanCheckedIn         = "checked_in"
	ScanCheckedInLate     = "checked_in_late"
	ScanCheckedOut        = "checked_out"
	ScanAlreadyComplete   = "already_complete"
	ScanPendingValidation = "pending_validation"
	ScanError             = "error"
)

// Envelope 消息信封（只解析类型字段）
type Envelope struct {
	Type string `json:"type"`
}

// DeviceRegisterMessage 设备注册
type DeviceRegisterMessage struct {
	Type         string   `json:"type"`
	DeviceID     string   `json:"deviceId"`
	ClassroomID  string   `json:"classroomId,omitempty"`
	DeviceType   string   `json:"deviceType"`
	Capabilities []string `json:"capabilities"`
	IPAddress    string   `json:"ipAddress,omitempty"`
	MACAddress   string   `json:"macAddress,omitempty"`
}

// RFIDScanMessage RFID刷卡事件（Timestamp 为毫秒 Unix 时间戳）
type RFIDScanMessage struct {
	Type       string `json:"type"`
	DeviceID   string `json:"deviceId"`
	RFIDCardID string `json:"rfidCardId"`
	SessionID  string `json:"sessionId,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// PresenceDetectedMessage 在场传感器事件
type PresenceDetectedMessage struct {
	Type             string `json:"type"`
	DeviceID         string `json:"deviceId"`
	PresenceDetected bool   `json:"presenceDetected"`
	Timestamp        int64  `json:"timestamp"`
}

// HeartbeatMessage 设备心跳
type HeartbeatMessage struct {
	Type      string `json:"type"`
	DeviceID  string `json:"deviceId"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Mode      string `json:"mode,omitempty"`
}

// DeviceStatusMessage 设备状态上报（电量、环境数据等）
type DeviceStatusMessage struct {
	Type         string   `json:"type"`
	DeviceID     string   `json:"deviceId"`
	Status       string   `json:"status"`
	BatteryLevel *float64 `json:"batteryLevel,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	Humidity     *float64 `json:"humidity,omitempty"`
}

// DeviceSettings 注册成功时下发的运行参数
type DeviceSettings struct {
	LateThresholdMinutes     float64 `json:"lateThresholdMinutes"`
	AbsentThresholdPercent   float64 `json:"absentThresholdPercent"`
	ValidationTimeoutSeconds float64 `json:"validationTimeoutSeconds"`
	HeartbeatIntervalSeconds int     `json:"heartbeatIntervalSeconds"`
}

// WelcomeMessage 连接建立问候
type WelcomeMessage struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	ServerTime string `json:"serverTime"`
}

// RegistrationSuccessMessage 注册成功应答
type RegistrationSuccessMessage struct {
	Type          string         `json:"type"`
	DeviceID      string         `json:"deviceId"`
	ClassroomID   string         `json:"classroomId"`
	ClassroomName string         `json:"classroomName"`
	ServerTime    string         `json:"serverTime"`
	Settings      DeviceSettings `json:"settings"`
}

// RegistrationErrorMessage 注册失败应答
type RegistrationErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ScanResultMessage 刷卡结果应答
type ScanResultMessage struct {
	Type                    string  `json:"type"`
	Status                  string  `json:"status"`
	CardID                  string  `json:"cardId,omitempty"`
	StudentName             string  `json:"studentName,omitempty"`
	Message                 string  `json:"message,omitempty"`
	ValidationTimeRemaining float64 `json:"validationTimeRemaining,omitempty"`
}

// HeartbeatAckMessage 心跳应答
type HeartbeatAckMessage struct {
	Type       string `json:"type"`
	ServerTime string `json:"serverTime"`
}

// ErrorMessage 通用错误应答
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ConfigUpdateMessage 服务端下发的配置更新
type ConfigUpdateMessage struct {
	Type   string         `json:"type"`
	Config DeviceSettings `json:"config"`
}

// DiagnosticsRequestMessage 服务端请求设备诊断信息
type DiagnosticsRequestMessage struct {
	Type string `json:"type"`
}

// 仪表盘事件类型
const (
	EventDeviceConnected    = "device_connected"
	EventDeviceDisconnected = "device_disconnected"
	EventRFIDScan           = "rfid_scan"
	EventPresenceUpdate     = "presence_update"
	EventAttendanceUpdate   = "attendance_update"
	EventGhostTapAlert      = "ghost_tap_alert"
	EventSensorWithoutRFID  = "sensor_without_rfid"
)
