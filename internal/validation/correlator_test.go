package validation

import (
	"context"
	"testing"
	"time"

	"presence-validation/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCorrelator(timeout time.Duration, store *fakeStore, notifier *fakeNotifier, sender *fakeSender) *Correlator {
	return NewCorrelator(timeout, store, notifier, sender, NewMetrics(), zap.NewNop())
}

func openRequest(studentID string, tapTime time.Time) OpenRequest {
	return OpenRequest{
		SessionID:         "sess-1",
		StudentID:         studentID,
		StudentName:       "Maria Santos",
		RFIDCardID:        "CARD-" + studentID,
		DeviceID:          "esp32-01",
		TapTime:           tapTime,
		ProvisionalStatus: models.StatusPresent,
	}
}

func TestCorrelator_SensorResolvesPending(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	sender := newFakeSender()
	c := newTestCorrelator(time.Minute, store, notifier, sender)

	_, err := c.Open(openRequest("stu-1", time.Now()))
	require.NoError(t, err)
	require.True(t, c.IsPending("sess-1", "stu-1"))

	record, err := c.ResolveSensor(context.Background(), "sess-1", "stu-1", models.DetectionEntry)
	require.NoError(t, err)

	assert.Equal(t, models.StatusPresent, record.Status)
	assert.True(t, record.EntryValidated)
	assert.False(t, record.ExitValidated)
	assert.Equal(t, models.DiscrepancyNormal, record.DiscrepancyFlag)
	assert.False(t, c.IsPending("sess-1", "stu-1"))

	// 落库 + 仪表盘事件 + 设备终态
	require.NotNil(t, store.get("sess-1", "stu-1"))
	assert.True(t, notifier.has(models.EventAttendanceUpdate))

	sent := sender.sent("esp32-01")
	require.Len(t, sent, 1)
	result := sent[0].(models.ScanResultMessage)
	assert.Equal(t, models.ScanCheckedIn, result.Status)
}

func TestCorrelator_LateProvisionalKeptOnResolution(t *testing.T) {
	store := newFakeStore()
	sender := newFakeSender()
	c := newTestCorrelator(time.Minute, store, &fakeNotifier{}, sender)

	req := openRequest("stu-1", time.Now())
	req.ProvisionalStatus = models.StatusLate
	_, err := c.Open(req)
	require.NoError(t, err)

	record, err := c.ResolveSensor(context.Background(), "sess-1", "stu-1", models.DetectionEntry)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLate, record.Status)

	sent := sender.sent("esp32-01")
	require.Len(t, sent, 1)
	assert.Equal(t, models.ScanCheckedInLate, sent[0].(models.ScanResultMessage).Status)
}

func TestCorrelator_DuplicateOpenRejected(t *testing.T) {
	c := newTestCorrelator(time.Minute, newFakeStore(), &fakeNotifier{}, newFakeSender())

	_, err := c.Open(openRequest("stu-1", time.Now()))
	require.NoError(t, err)

	_, err = c.Open(openRequest("stu-1", time.Now()))
	assert.ErrorIs(t, err, ErrAlreadyPending)
	assert.Equal(t, 1, c.PendingCount())
}

func TestCorrelator_TimeoutForcesGhostTap(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	sender := newFakeSender()
	c := newTestCorrelator(20*time.Millisecond, store, notifier, sender)

	// 临时状态 present，但无传感器佐证时必须强制 absent
	_, err := c.Open(openRequest("stu-1", time.Now()))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return store.get("sess-1", "stu-1") != nil
	}, time.Second, 5*time.Millisecond)

	record := store.get("sess-1", "stu-1")
	assert.Equal(t, models.StatusAbsent, record.Status)
	assert.Equal(t, models.DiscrepancyGhostTap, record.DiscrepancyFlag)
	assert.False(t, record.EntryValidated)
	assert.False(t, c.IsPending("sess-1", "stu-1"))

	// 事件与设备终态在落库之后发出，单独等待
	require.Eventually(t, func() bool {
		return notifier.has(models.EventGhostTapAlert) && len(sender.sent("esp32-01")) == 1
	}, time.Second, 5*time.Millisecond)

	sent := sender.sent("esp32-01")
	assert.Equal(t, models.ScanError, sent[0].(models.ScanResultMessage).Status)
}

func TestCorrelator_NoDoubleRecordAfterResolution(t *testing.T) {
	store := newFakeStore()
	c := newTestCorrelator(30*time.Millisecond, store, &fakeNotifier{}, newFakeSender())

	_, err := c.Open(openRequest("stu-1", time.Now()))
	require.NoError(t, err)

	_, err = c.ResolveSensor(context.Background(), "sess-1", "stu-1", models.DetectionEntry)
	require.NoError(t, err)

	// 等超时时刻过去，确认超时路径没有再写一条记录
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, store.count())
	assert.Equal(t, models.StatusPresent, store.get("sess-1", "stu-1").Status)
}

func TestCorrelator_SensorWithoutPending(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	c := newTestCorrelator(time.Minute, store, notifier, newFakeSender())

	_, err := c.ResolveSensor(context.Background(), "sess-1", "stu-9", models.DetectionEntry)
	assert.ErrorIs(t, err, ErrNoPending)

	// 只审计，不产生考勤记录
	assert.Equal(t, 0, store.count())
	assert.True(t, notifier.has(models.EventSensorWithoutRFID))
}

func TestCorrelator_ResolveOldestForSession(t *testing.T) {
	store := newFakeStore()
	c := newTestCorrelator(time.Minute, store, &fakeNotifier{}, newFakeSender())

	base := time.Now()
	_, err := c.Open(openRequest("stu-2", base.Add(2*time.Second)))
	require.NoError(t, err)
	_, err = c.Open(openRequest("stu-1", base))
	require.NoError(t, err)

	record, resolved := c.ResolveOldestForSession(context.Background(), "sess-1", models.DetectionEntry)
	require.True(t, resolved)
	assert.Equal(t, "stu-1", record.StudentID)
	assert.False(t, c.IsPending("sess-1", "stu-1"))
	assert.True(t, c.IsPending("sess-1", "stu-2"))
}

func TestCorrelator_ResolveOldestForSession_NoPending(t *testing.T) {
	c := newTestCorrelator(time.Minute, newFakeStore(), &fakeNotifier{}, newFakeSender())

	_, resolved := c.ResolveOldestForSession(context.Background(), "sess-1", models.DetectionEntry)
	assert.False(t, resolved)
}

func TestCorrelator_PendingList(t *testing.T) {
	c := newTestCorrelator(time.Minute, newFakeStore(), &fakeNotifier{}, newFakeSender())

	_, err := c.Open(openRequest("stu-1", time.Now()))
	require.NoError(t, err)

	list := c.PendingList()
	require.Len(t, list, 1)
	assert.Equal(t, "stu-1", list[0].StudentID)
	assert.Equal(t, models.StatusPresent, list[0].ProvisionalStatus)
	assert.True(t, list[0].ExpiresAt.After(list[0].TapTime))
}
