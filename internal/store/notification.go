package store

import (
	"context"
	"encoding/json"
	"sync"

	"lifeline-sync/internal/feed"
	"lifeline-sync/internal/models"
	"lifeline-sync/internal/repository"

	"go.uber.org/zap"
)

// NotificationStore 通知状态容器
// 不变式：未读计数 == 列表中 read=false 的条数；每次本地变更或远端事件后保持一致
type NotificationStore struct {
	mu            sync.RWMutex
	notifications []models.Notification
	unreadCount   int
	lastErr       error

	repo       *repository.NotificationsRepository
	subscriber *feed.Subscriber
	logger     *zap.Logger

	sub *feed.Subscription
}

// NewNotificationStore 创建通知状态容器
func NewNotificationStore(repo *repository.NotificationsRepository, subscriber *feed.Subscriber, logger *zap.Logger) *NotificationStore {
	return &NotificationStore{
		repo:       repo,
		subscriber: subscriber,
		logger:     logger,
	}
}

// FetchNotifications 加载用户通知（最新在前），未读计数从列表派生
func (s *NotificationStore) FetchNotifications(ctx context.Context, userID string) error {
	if userID == "" {
		s.setErr(ErrNotAuthenticated)
		return ErrNotAuthenticated
	}

	notifications, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		s.setErr(err)
		return err
	}

	s.mu.Lock()
	s.notifications = notifications
	s.unreadCount = countUnread(notifications)
	s.lastErr = nil
	s.mu.Unlock()

	return nil
}

// MarkAsRead 标记单条通知为已读，重新派生未读计数
func (s *NotificationStore) MarkAsRead(ctx context.Context, notificationID string) error {
	updated, err := s.repo.MarkRead(ctx, notificationID)
	if err != nil {
		s.setErr(err)
		return err
	}

	s.mu.Lock()
	for i := range s.notifications {
		if s.notifications[i].ID == updated.ID {
			s.notifications[i] = *updated
			break
		}
	}
	s.unreadCount = countUnread(s.notifications)
	s.lastErr = nil
	s.mu.Unlock()

	return nil
}

// MarkAllAsRead 批量标记全部未读为已读
// 计数直接归零：不变式已知成立，无需重算
func (s *NotificationStore) MarkAllAsRead(ctx context.Context, userID string) error {
	if userID == "" {
		s.setErr(ErrNotAuthenticated)
		return ErrNotAuthenticated
	}

	if err := s.repo.MarkAllRead(ctx, userID); err != nil {
		s.setErr(err)
		return err
	}

	s.mu.Lock()
	for i := range s.notifications {
		s.notifications[i].Read = true
	}
	s.unreadCount = 0
	s.lastErr = nil
	s.mu.Unlock()

	return nil
}

// Subscribe 订阅用户的通知变更
// 重复调用会先关闭已有订阅
func (s *NotificationStore) Subscribe(ctx context.Context, userID string) error {
	if userID == "" {
		s.setErr(ErrNotAuthenticated)
		return ErrNotAuthenticated
	}

	s.Unsubscribe()

	sub, err := s.subscriber.Subscribe(ctx, feed.TableNotifications, func(event feed.ChangeEvent) {
		s.handleEvent(userID, event)
	})
	if err != nil {
		s.setErr(err)
		return err
	}

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	return nil
}

// Unsubscribe 关闭本容器的订阅句柄（不影响其他容器）
func (s *NotificationStore) Unsubscribe() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		if err := sub.Close(); err != nil {
			s.logger.Warn("Failed to close notification subscription",
				zap.Error(err),
			)
		}
	}
}

// handleEvent 折叠一条通知变更事件（只处理自己的记录）
func (s *NotificationStore) handleEvent(userID string, event feed.ChangeEvent) {
	var n models.Notification
	if err := json.Unmarshal(event.New, &n); err != nil {
		s.logger.Warn("Failed to unmarshal notification event",
			zap.Error(err),
		)
		return
	}
	if n.UserID != userID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch event.Kind {
	case feed.EventInsert:
		// 本地写入的回声按 id 覆盖；真正的新记录前插并按未读状态增加计数
		for i := range s.notifications {
			if s.notifications[i].ID == n.ID {
				s.notifications[i] = n
				s.unreadCount = countUnread(s.notifications)
				return
			}
		}
		s.notifications = append([]models.Notification{n}, s.notifications...)
		if !n.Read {
			s.unreadCount++
		}
	case feed.EventUpdate:
		// 无法假设 read 标志的变化方向，完整重算
		for i := range s.notifications {
			if s.notifications[i].ID == n.ID {
				s.notifications[i] = n
				break
			}
		}
		s.unreadCount = countUnread(s.notifications)
	}
}

// Notifications 通知列表快照（最新在前）
func (s *NotificationStore) Notifications() []models.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	notifications := make([]models.Notification, len(s.notifications))
	copy(notifications, s.notifications)
	return notifications
}

// UnreadCount 未读计数
func (s *NotificationStore) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unreadCount
}

// Err 最近一次失败（供视图层轮询展示）
func (s *NotificationStore) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *NotificationStore) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.logger.Warn("Notification store error",
		zap.Error(err),
	)
}

// countUnread 统计未读条数
func countUnread(notifications []models.Notification) int {
	count := 0
	for i := range notifications {
		if !notifications[i].Read {
			count++
		}
	}
	return count
}
