package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 变更订阅覆盖的表
const (
	TableProfiles      = "profiles"
	TableAlerts        = "emergency_alerts"
	TableBloodRequests = "blood_requests"
	TableNotifications = "notifications"
)

// EventKind 变更事件类型
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// ChangeEvent 一条变更通知（对应后端表的一次 insert/update/delete）
type ChangeEvent struct {
	Table     string          `json:"table"`
	Kind      EventKind       `json:"kind"`
	New       json.RawMessage `json:"new,omitempty"` // 新记录（insert/update）
	Old       json.RawMessage `json:"old,omitempty"` // 旧记录（delete）
	Timestamp int64           `json:"timestamp"`
}

// Handler 变更事件处理函数
// 事件按到达顺序逐条交付，处理函数内不要长时间阻塞
type Handler func(event ChangeEvent)

// Publisher 变更事件发布器（仓库层写操作成功后发布）
type Publisher struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewPublisher 创建变更事件发布器
func NewPublisher(client *redis.Client, channelPrefix string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client: client,
		prefix: channelPrefix,
		logger: logger,
	}
}

// Publish 发布一条变更事件到表对应的频道
// newRec/oldRec 任一可为 nil（insert 无 old，delete 无 new）
func (p *Publisher) Publish(ctx context.Context, table string, kind EventKind, newRec, oldRec interface{}) error {
	event := ChangeEvent{
		Table:     table,
		Kind:      kind,
		Timestamp: time.Now().Unix(),
	}

	if newRec != nil {
		data, err := json.Marshal(newRec)
		if err != nil {
			return fmt.Errorf("failed to marshal new record: %w", err)
		}
		event.New = data
	}
	if oldRec != nil {
		data, err := json.Marshal(oldRec)
		if err != nil {
			return fmt.Errorf("failed to marshal old record: %w", err)
		}
		event.Old = data
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	channel := p.prefix + table
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}

	p.logger.Debug("Published change event",
		zap.String("channel", channel),
		zap.String("kind", string(kind)),
	)

	return nil
}

// Subscriber 变更事件订阅器
type Subscriber struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewSubscriber 创建变更事件订阅器
func NewSubscriber(client *redis.Client, channelPrefix string, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		client: client,
		prefix: channelPrefix,
		logger: logger,
	}
}

// Subscribe 订阅某张表的变更事件
// 返回的 Subscription 由调用方持有，单独 Close；一个订阅的关闭不影响其他订阅
func (s *Subscriber) Subscribe(ctx context.Context, table string, handler Handler) (*Subscription, error) {
	channel := s.prefix + table
	pubsub := s.client.Subscribe(ctx, channel)

	// 等待订阅确认，确保返回后不会丢事件
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to channel %s: %w", channel, err)
	}

	sub := &Subscription{
		channel: channel,
		pubsub:  pubsub,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		for msg := range pubsub.Channel() {
			var event ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				// 跳过无法解析的消息，不中断订阅
				s.logger.Warn("Failed to unmarshal change event",
					zap.String("channel", channel),
					zap.Error(err),
				)
				continue
			}
			handler(event)
		}
	}()

	s.logger.Debug("Subscribed to change feed",
		zap.String("channel", channel),
	)

	return sub, nil
}

// Subscription 一路变更订阅的句柄
type Subscription struct {
	channel string
	pubsub  *redis.PubSub
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Channel 返回订阅的频道名
func (s *Subscription) Channel() string {
	return s.channel
}

// Close 关闭订阅并等待分发协程退出（幂等）
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.pubsub.Close()
		<-s.done
	})
	return s.closeErr
}
