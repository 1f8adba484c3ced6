// Package consumer 在场传感器的 MQTT 接入
//
// 独立布线的毫米波/红外传感器不走设备 WebSocket，
// 而是经楼宇 MQTT broker 上报，主题格式：
//
//	presence/<classroomId>/detections
//
// 载荷与 WebSocket 的 presence_detected 消息同构
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"presence-validation/internal/common/mqtt"
	"presence-validation/internal/models"

	"go.uber.org/zap"
)

// PresenceSink 在场事件的下游（验证引擎实现）
type PresenceSink interface {
	HandlePresence(ctx context.Context, deviceID, classroomID string, detected bool, ts time.Time)
}

// SubscriberClient MQTT 订阅客户端（测试用假对象替换）
type SubscriberClient interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// SensorConsumer 在场传感器消费者
type SensorConsumer struct {
	client SubscriberClient
	sink   PresenceSink
	topic  string
	qos    byte
	logger *zap.Logger
}

// NewSensorConsumer 创建在场传感器消费者
func NewSensorConsumer(client SubscriberClient, sink PresenceSink, topic string, qos byte, logger *zap.Logger) *SensorConsumer {
	return &SensorConsumer{
		client: client,
		sink:   sink,
		topic:  topic,
		qos:    qos,
		logger: logger,
	}
}

// Start 订阅传感器主题
func (c *SensorConsumer) Start() error {
	if err := c.client.Subscribe(c.topic, c.qos, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to sensor topic: %w", err)
	}
	c.logger.Info("Subscribed to presence sensor topic",
		zap.String("topic", c.topic),
	)
	return nil
}

// Stop 取消订阅
func (c *SensorConsumer) Stop() error {
	return c.client.Unsubscribe(c.topic)
}

// handleMessage 处理一条传感器消息
func (c *SensorConsumer) handleMessage(topic string, payload []byte) error {
	classroomID, err := classroomFromTopic(topic)
	if err != nil {
		return err
	}

	var msg models.PresenceDetectedMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("failed to parse presence payload: %w", err)
	}

	ts := time.Now()
	if msg.Timestamp > 0 {
		ts = time.UnixMilli(msg.Timestamp)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.sink.HandlePresence(ctx, msg.DeviceID, classroomID, msg.PresenceDetected, ts)

	c.logger.Debug("Processed sensor detection",
		zap.String("classroom_id", classroomID),
		zap.String("device_id", msg.DeviceID),
		zap.Bool("presence_detected", msg.PresenceDetected),
	)
	return nil
}

// classroomFromTopic 从主题提取教室 ID（presence/<classroomId>/detections）
func classroomFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[1] == "" {
		return "", fmt.Errorf("unexpected sensor topic format: %s", topic)
	}
	return parts[1], nil
}
