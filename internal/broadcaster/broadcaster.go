// Package broadcaster 负责验证事件的双路分发：
// Redis Stream（下游消费：报表、通知服务）和仪表盘 WebSocket 扇出
package broadcaster

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event 一条对外事件
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// StreamPublisher 下游事件流（Redis Stream 实现，测试用假对象替换）
type StreamPublisher interface {
	PublishJSON(ctx context.Context, stream string, data interface{}) (string, error)
}

// Broadcaster 事件分发器
//
// 仪表盘客户端各持一条缓冲通道；写不进（消费太慢）直接丢弃
// 该客户端的这条消息，绝不阻塞验证主路径
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]chan Event

	stream     StreamPublisher
	streamName string
	bufferSize int
	logger     *zap.Logger
}

// NewBroadcaster 创建事件分发器；stream 可为 nil（禁用下游事件流）
func NewBroadcaster(stream StreamPublisher, streamName string, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		clients:    make(map[string]chan Event),
		stream:     stream,
		streamName: streamName,
		bufferSize: 64,
		logger:     logger,
	}
}

// Publish 分发一条事件到所有仪表盘客户端和下游事件流
func (b *Broadcaster) Publish(eventType string, data interface{}) {
	event := Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	}

	b.mu.RLock()
	for id, ch := range b.clients {
		select {
		case ch <- event:
		default:
			b.logger.Debug("Dashboard client too slow, dropping event",
				zap.String("client_id", id),
				zap.String("event_type", eventType),
			)
		}
	}
	b.mu.RUnlock()

	if b.stream == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := b.stream.PublishJSON(ctx, b.streamName, event); err != nil {
		b.logger.Error("Failed to publish event to stream",
			zap.String("event_type", eventType),
			zap.String("stream", b.streamName),
			zap.Error(err),
		)
	}
}

// Subscribe 注册一个仪表盘客户端，返回它的事件通道
func (b *Broadcaster) Subscribe(clientID string) <-chan Event {
	ch := make(chan Event, b.bufferSize)

	b.mu.Lock()
	if old, ok := b.clients[clientID]; ok {
		close(old)
	}
	b.clients[clientID] = ch
	b.mu.Unlock()

	b.logger.Info("Dashboard client subscribed",
		zap.String("client_id", clientID),
	)
	return ch
}

// Unsubscribe 注销仪表盘客户端并关闭其通道
func (b *Broadcaster) Unsubscribe(clientID string) {
	b.mu.Lock()
	ch, ok := b.clients[clientID]
	if ok {
		delete(b.clients, clientID)
		close(ch)
	}
	b.mu.Unlock()

	if ok {
		b.logger.Info("Dashboard client unsubscribed",
			zap.String("client_id", clientID),
		)
	}
}

// ClientCount 当前仪表盘客户端数
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
