package models

import "time"

// Mode 会话当前合法的考勤操作
type Mode string

const (
	ModeTapIn    Mode = "tap_in"
	ModeTapOut   Mode = "tap_out"
	ModeDisabled Mode = "disabled"
)

// 考勤状态
const (
	StatusPresent = "present"
	StatusLate    = "late"
	StatusAbsent  = "absent"
)

// 差异标记（审计用）
const (
	DiscrepancyNormal            = "normal"
	DiscrepancyGhostTap          = "ghost_tap"
	DiscrepancySensorWithoutRFID = "sensor_without_rfid"
	DiscrepancyDuplicateTap      = "duplicate_tap"
)

// 传感器检测类型
const (
	DetectionEntry = "entry"
	DetectionExit  = "exit"
)

// Student 学生目录条目（外部目录拥有，本服务只读）
type Student struct {
	StudentID   string
	FirstName   string
	LastName    string
	Email       string
	RFIDCardID  string
	ParentEmail string
}

// FullName 学生全名
func (s *Student) FullName() string {
	if s.FirstName == "" {
		return s.LastName
	}
	if s.LastName == "" {
		return s.FirstName
	}
	return s.FirstName + " " + s.LastName
}

// Classroom 教室信息
type Classroom struct {
	ClassroomID string
	Name        string
	Building    string
}

// Session 当天的课程会话（外部排课系统拥有）
// LateThresholdMinutes / AbsentThresholdPercent 为 NULL 时使用引擎默认值
type Session struct {
	SessionID              string
	ClassroomID            string
	SubjectName            string
	StartTime              time.Time
	EndTime                time.Time
	LateThresholdMinutes   *float64
	AbsentThresholdPercent *float64
	Status                 string
}

// SessionMode 会话模式（派生值，不落库）
//
// 由 Session Mode Tracker 根据墙钟时间计算：
// - 课前或课后超过宽限期：disabled
// - 课内且未超过缺勤阈值：tap_in（阈值边界含在 tap_in 内）
// - 课内超过缺勤阈值，或课后宽限期内：tap_out
type SessionMode struct {
	SessionID              string    `json:"sessionId"`
	ClassroomID            string    `json:"classroomId"`
	Mode                   Mode      `json:"mode"`
	ClassStart             time.Time `json:"classStart"`
	ClassEnd               time.Time `json:"classEnd"`
	LateThresholdMinutes   float64   `json:"lateThresholdMinutes"`
	AbsentThresholdPercent float64   `json:"absentThresholdPercent"`
	AbsentThresholdMinutes float64   `json:"absentThresholdMinutes"`
}

// AttendanceRecord 考勤记录（外部存储拥有，本服务只产生写意图）
type AttendanceRecord struct {
	RecordID        string     `json:"recordId"`
	SessionID       string     `json:"sessionId"`
	StudentID       string     `json:"studentId"`
	CheckInTime     *time.Time `json:"checkInTime,omitempty"`
	CheckOutTime    *time.Time `json:"checkOutTime,omitempty"`
	Status          string     `json:"status"`
	EntryValidated  bool       `json:"entryValidated"`
	ExitValidated   bool       `json:"exitValidated"`
	DiscrepancyFlag string     `json:"discrepancyFlag"`
}

// PendingValidation 待确认的双因子验证（短生命周期关联记录）
type PendingValidation struct {
	SessionID         string    `json:"sessionId"`
	StudentID         string    `json:"studentId"`
	StudentName       string    `json:"studentName"`
	RFIDCardID        string    `json:"rfidCardId"`
	DeviceID          string    `json:"deviceId,omitempty"`
	TapTime           time.Time `json:"tapTime"`
	ProvisionalStatus string    `json:"provisionalStatus"`
	ExpiresAt         time.Time `json:"expiresAt"`
}

// ValidationResult RFID验证结果
//
// Status 是设备端 scan_result 的线上状态；
// Code 是精确的拒绝/差异分类（rejection taxonomy），仪表盘接口使用
type ValidationResult struct {
	Status                  string  `json:"status"`
	Code                    string  `json:"code,omitempty"`
	CardID                  string  `json:"cardId,omitempty"`
	SessionID               string  `json:"sessionId,omitempty"`
	StudentID               string  `json:"studentId,omitempty"`
	StudentName             string  `json:"studentName,omitempty"`
	ProvisionalStatus       string  `json:"provisionalStatus,omitempty"`
	Message                 string  `json:"message,omitempty"`
	ValidationTimeRemaining float64 `json:"validationTimeRemaining,omitempty"`
}

// 拒绝分类代码（同步返回给调用方，不落库）
const (
	CodeInvalidSession         = "invalid_session"
	CodeUnknownCard            = "unknown_card"
	CodeAlreadyCheckedIn       = "already_checked_in"
	CodeAlreadyCheckedOut      = "already_checked_out"
	CodeCheckoutWithoutCheckin = "checkout_without_checkin"
	CodeDuplicatePending       = "duplicate_pending"
	CodeClassroomMismatch      = "classroom_mismatch"
)
