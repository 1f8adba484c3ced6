package validation

import (
	"context"
	"testing"
	"time"

	"presence-validation/internal/models"
	"presence-validation/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var classStart = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// 10:00-13:00 课，tap_in 模式，缺勤阈值 108 分钟
func tapInMode() models.SessionMode {
	return models.SessionMode{
		SessionID:              "sess-1",
		ClassroomID:            "room-1",
		Mode:                   models.ModeTapIn,
		ClassStart:             classStart,
		ClassEnd:               classStart.Add(3 * time.Hour),
		LateThresholdMinutes:   15,
		AbsentThresholdPercent: 60,
		AbsentThresholdMinutes: 108,
	}
}

type classifierFixture struct {
	classifier *Classifier
	correlator *Correlator
	store      *fakeStore
	notifier   *fakeNotifier
	sender     *fakeSender
}

func newClassifierFixture(t *testing.T, mode models.SessionMode, modeOK bool) *classifierFixture {
	t.Helper()

	store := newFakeStore()
	notifier := &fakeNotifier{}
	sender := newFakeSender()
	metrics := NewMetrics()
	correlator := NewCorrelator(time.Minute, store, notifier, sender, metrics, zap.NewNop())

	directory := &fakeDirectory{students: map[string]*models.Student{
		"CARD-1": {StudentID: "stu-1", FirstName: "Maria", LastName: "Santos", RFIDCardID: "CARD-1"},
	}}

	classifier := NewClassifier(
		&fakeModes{mode: mode, ok: modeOK},
		directory,
		store,
		correlator,
		notifier,
		session.Thresholds{LateMinutes: 15, AbsentPercent: 60, GraceMinutes: 30},
		7*time.Second,
		metrics,
		zap.NewNop(),
	)

	return &classifierFixture{
		classifier: classifier,
		correlator: correlator,
		store:      store,
		notifier:   notifier,
		sender:     sender,
	}
}

func tapAt(offset time.Duration) TapRequest {
	return TapRequest{
		CardID:      "CARD-1",
		SessionID:   "sess-1",
		ClassroomID: "room-1",
		DeviceID:    "esp32-01",
		TapTime:     classStart.Add(offset),
	}
}

func TestValidateTap_OnTimeIsProvisionalPresent(t *testing.T) {
	f := newClassifierFixture(t, tapInMode(), true)

	result := f.classifier.ValidateTap(context.Background(), tapAt(5*time.Minute))

	assert.Equal(t, models.ScanPendingValidation, result.Status)
	assert.Equal(t, models.StatusPresent, result.ProvisionalStatus)
	assert.Equal(t, "Maria Santos", result.StudentName)
	assert.Equal(t, 7.0, result.ValidationTimeRemaining)
	assert.True(t, f.correlator.IsPending("sess-1", "stu-1"))
	assert.True(t, f.notifier.has(models.EventRFIDScan))
}

func TestValidateTap_ExactlyAtLateThresholdIsPresent(t *testing.T) {
	f := newClassifierFixture(t, tapInMode(), true)

	result := f.classifier.ValidateTap(context.Background(), tapAt(15*time.Minute))
	assert.Equal(t, models.StatusPresent, result.ProvisionalStatus)
}

func TestValidateTap_JustPastLateThresholdIsLate(t *testing.T) {
	// 15 分钟 0.6 秒 = 15.01 分钟，浮点比较不取整
	f := newClassifierFixture(t, tapInMode(), true)

	result := f.classifier.ValidateTap(context.Background(), tapAt(15*time.Minute+600*time.Millisecond))
	assert.Equal(t, models.StatusLate, result.ProvisionalStatus)
}

func TestValidateTap_ExactlyAtAbsentThresholdIsLate(t *testing.T) {
	f := newClassifierFixture(t, tapInMode(), true)

	result := f.classifier.ValidateTap(context.Background(), tapAt(108*time.Minute))
	assert.Equal(t, models.StatusLate, result.ProvisionalStatus)
}

func TestValidateTap_UnknownCard(t *testing.T) {
	f := newClassifierFixture(t, tapInMode(), true)

	req := tapAt(5 * time.Minute)
	req.CardID = "CARD-UNKNOWN"
	result := f.classifier.ValidateTap(context.Background(), req)

	assert.Equal(t, models.ScanUnknownCard, result.Status)
	assert.Equal(t, models.CodeUnknownCard, result.Code)
	assert.Equal(t, 0, f.correlator.PendingCount())
}

func TestValidateTap_NoActiveSession(t *testing.T) {
	f := newClassifierFixture(t, models.SessionMode{}, false)

	result := f.classifier.ValidateTap(context.Background(), tapAt(5*time.Minute))
	assert.Equal(t, models.ScanNoActiveSession, result.Status)
	assert.Equal(t, models.CodeInvalidSession, result.Code)
}

func TestValidateTap_DisabledSession(t *testing.T) {
	mode := tapInMode()
	mode.Mode = models.ModeDisabled
	f := newClassifierFixture(t, mode, true)

	result := f.classifier.ValidateTap(context.Background(), tapAt(5*time.Minute))
	assert.Equal(t, models.ScanNoActiveSession, result.Status)
}

func TestValidateTap_ClassroomMismatch(t *testing.T) {
	f := newClassifierFixture(t, tapInMode(), true)

	req := tapAt(5 * time.Minute)
	req.ClassroomID = "room-9"
	result := f.classifier.ValidateTap(context.Background(), req)

	assert.Equal(t, models.ScanError, result.Status)
	assert.Equal(t, models.CodeClassroomMismatch, result.Code)
}

func TestValidateTap_AlreadyCheckedIn(t *testing.T) {
	f := newClassifierFixture(t, tapInMode(), true)

	checkIn := classStart.Add(2 * time.Minute)
	f.store.put(&models.AttendanceRecord{
		SessionID:   "sess-1",
		StudentID:   "stu-1",
		CheckInTime: &checkIn,
		Status:      models.StatusPresent,
	})

	result := f.classifier.ValidateTap(context.Background(), tapAt(10*time.Minute))
	assert.Equal(t, models.ScanAlreadyComplete, result.Status)
	assert.Equal(t, models.CodeAlreadyCheckedIn, result.Code)
}

func TestValidateTap_DuplicatePending(t *testing.T) {
	f := newClassifierFixture(t, tapInMode(), true)

	first := f.classifier.ValidateTap(context.Background(), tapAt(5*time.Minute))
	require.Equal(t, models.ScanPendingValidation, first.Status)

	second := f.classifier.ValidateTap(context.Background(), tapAt(5*time.Minute+time.Second))
	assert.Equal(t, models.ScanAlreadyComplete, second.Status)
	assert.Equal(t, models.CodeDuplicatePending, second.Code)
	assert.Equal(t, 1, f.correlator.PendingCount())
}

func TestValidateTap_CheckoutUpdatesRecord(t *testing.T) {
	mode := tapInMode()
	mode.Mode = models.ModeTapOut
	f := newClassifierFixture(t, mode, true)

	checkIn := classStart.Add(5 * time.Minute)
	f.store.put(&models.AttendanceRecord{
		SessionID:   "sess-1",
		StudentID:   "stu-1",
		CheckInTime: &checkIn,
		Status:      models.StatusPresent,
	})

	result := f.classifier.ValidateTap(context.Background(), tapAt(170*time.Minute))
	assert.Equal(t, models.ScanCheckedOut, result.Status)

	record := f.store.get("sess-1", "stu-1")
	require.NotNil(t, record.CheckOutTime)
	assert.Equal(t, classStart.Add(170*time.Minute), *record.CheckOutTime)
	assert.True(t, record.ExitValidated)
	assert.True(t, f.notifier.has(models.EventAttendanceUpdate))
}

func TestValidateTap_CheckoutWithoutCheckin(t *testing.T) {
	// 宽限期内（classEnd 之后）没有签到记录的刷卡直接拒绝
	mode := tapInMode()
	mode.Mode = models.ModeTapOut
	f := newClassifierFixture(t, mode, true)

	result := f.classifier.ValidateTap(context.Background(), tapAt(190*time.Minute))
	assert.Equal(t, models.ScanError, result.Status)
	assert.Equal(t, models.CodeCheckoutWithoutCheckin, result.Code)
	assert.Equal(t, 0, f.store.count())
}

func TestValidateTap_LateArrivalPastAbsentThreshold(t *testing.T) {
	// 10:00-13:00 课，11:50（110 分钟）到场：模式已是 tap_out，
	// 但没有签到记录的课内刷卡仍按签到处理，临时状态 absent
	mode := tapInMode()
	mode.Mode = models.ModeTapOut
	f := newClassifierFixture(t, mode, true)

	result := f.classifier.ValidateTap(context.Background(), tapAt(110*time.Minute))
	assert.Equal(t, models.ScanPendingValidation, result.Status)
	assert.Equal(t, models.StatusAbsent, result.ProvisionalStatus)
	assert.True(t, f.correlator.IsPending("sess-1", "stu-1"))
}

func TestValidateTap_AlreadyCheckedOut(t *testing.T) {
	mode := tapInMode()
	mode.Mode = models.ModeTapOut
	f := newClassifierFixture(t, mode, true)

	checkIn := classStart.Add(5 * time.Minute)
	checkOut := classStart.Add(160 * time.Minute)
	f.store.put(&models.AttendanceRecord{
		SessionID:    "sess-1",
		StudentID:    "stu-1",
		CheckInTime:  &checkIn,
		CheckOutTime: &checkOut,
		Status:       models.StatusPresent,
	})

	result := f.classifier.ValidateTap(context.Background(), tapAt(170*time.Minute))
	assert.Equal(t, models.ScanAlreadyComplete, result.Status)
	assert.Equal(t, models.CodeAlreadyCheckedOut, result.Code)
}
