package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"presence-validation/internal/common/mqtt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

type sinkCall struct {
	DeviceID    string
	ClassroomID string
	Detected    bool
	Timestamp   time.Time
}

func (f *fakeSink) HandlePresence(ctx context.Context, deviceID, classroomID string, detected bool, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sinkCall{DeviceID: deviceID, ClassroomID: classroomID, Detected: detected, Timestamp: ts})
}

type fakeSubscriber struct {
	topic   string
	handler mqtt.MessageHandler
	unsubs  []string
}

func (f *fakeSubscriber) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	f.topic = topic
	f.handler = handler
	return nil
}

func (f *fakeSubscriber) Unsubscribe(topics ...string) error {
	f.unsubs = append(f.unsubs, topics...)
	return nil
}

func TestSensorConsumer_RoutesDetectionToSink(t *testing.T) {
	sub := &fakeSubscriber{}
	sink := &fakeSink{}
	c := NewSensorConsumer(sub, sink, "presence/+/detections", 1, zap.NewNop())

	require.NoError(t, c.Start())
	require.NotNil(t, sub.handler)
	assert.Equal(t, "presence/+/detections", sub.topic)

	payload := []byte(`{"type":"presence_detected","deviceId":"sensor-07","presenceDetected":true,"timestamp":1756500000000}`)
	require.NoError(t, sub.handler("presence/room-1/detections", payload))

	require.Len(t, sink.calls, 1)
	call := sink.calls[0]
	assert.Equal(t, "sensor-07", call.DeviceID)
	assert.Equal(t, "room-1", call.ClassroomID)
	assert.True(t, call.Detected)
	assert.Equal(t, time.UnixMilli(1756500000000), call.Timestamp)
}

func TestSensorConsumer_RejectsMalformedTopic(t *testing.T) {
	sub := &fakeSubscriber{}
	c := NewSensorConsumer(sub, &fakeSink{}, "presence/+/detections", 1, zap.NewNop())
	require.NoError(t, c.Start())

	err := sub.handler("presence/detections", []byte(`{}`))
	assert.Error(t, err)
}

func TestSensorConsumer_RejectsInvalidPayload(t *testing.T) {
	sub := &fakeSubscriber{}
	sink := &fakeSink{}
	c := NewSensorConsumer(sub, sink, "presence/+/detections", 1, zap.NewNop())
	require.NoError(t, c.Start())

	err := sub.handler("presence/room-1/detections", []byte(`not json`))
	assert.Error(t, err)
	assert.Empty(t, sink.calls)
}

func TestSensorConsumer_StopUnsubscribes(t *testing.T) {
	sub := &fakeSubscriber{}
	c := NewSensorConsumer(sub, &fakeSink{}, "presence/+/detections", 1, zap.NewNop())
	require.NoError(t, c.Start())
	require.NoError(t, c.Stop())

	assert.Equal(t, []string{"presence/+/detections"}, sub.unsubs)
}
