package repository

import (
	"context"
	"database/sql"
	"fmt"

	"lifeline-sync/internal/feed"
	"lifeline-sync/internal/models"

	"go.uber.org/zap"
)

// NotificationsRepository 通知仓库（notifications 表）
type NotificationsRepository struct {
	db        *sql.DB
	publisher *feed.Publisher
	logger    *zap.Logger
}

// NewNotificationsRepository 创建通知仓库
func NewNotificationsRepository(db *sql.DB, publisher *feed.Publisher, logger *zap.Logger) *NotificationsRepository {
	return &NotificationsRepository{
		db:        db,
		publisher: publisher,
		logger:    logger,
	}
}

const notificationColumns = `
	id,
	user_id,
	title,
	message,
	notify_type,
	read,
	created_at
`

// scanNotification 从一行记录扫描通知
func scanNotification(row interface {
	Scan(dest ...interface{}) error
}) (*models.Notification, error) {
	var n models.Notification
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.Title,
		&n.Message,
		&n.Type,
		&n.Read,
		&n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// Create 创建通知并发布 insert 事件
func (r *NotificationsRepository) Create(ctx context.Context, n *models.Notification) error {
	if n == nil {
		return fmt.Errorf("notification is required")
	}
	if n.ID == "" {
		return fmt.Errorf("notification.id is required")
	}
	if n.UserID == "" {
		return fmt.Errorf("notification.user_id is required")
	}

	query := `
		INSERT INTO notifications (
			id,
			user_id,
			title,
			message,
			notify_type,
			read,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		n.ID,
		n.UserID,
		n.Title,
		n.Message,
		n.Type,
		n.Read,
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	r.publish(ctx, feed.EventInsert, n, nil)

	return nil
}

// GetByID 根据 id 获取通知
func (r *NotificationsRepository) GetByID(ctx context.Context, notificationID string) (*models.Notification, error) {
	if notificationID == "" {
		return nil, fmt.Errorf("notification_id is required")
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	n, err := scanNotification(r.db.QueryRowContext(ctx, query, notificationID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("notification not found: id=%s", notificationID)
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}

	return n, nil
}

// MarkRead 标记单条通知为已读并发布 update 事件
func (r *NotificationsRepository) MarkRead(ctx context.Context, notificationID string) (*models.Notification, error) {
	if notificationID == "" {
		return nil, fmt.Errorf("notification_id is required")
	}

	query := `UPDATE notifications SET read = TRUE WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, notificationID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark notification read: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("notification not found: id=%s", notificationID)
	}

	n, err := r.GetByID(ctx, notificationID)
	if err != nil {
		return nil, err
	}

	r.publish(ctx, feed.EventUpdate, n, nil)

	return n, nil
}

// MarkAllRead 批量标记用户的全部未读通知为已读
func (r *NotificationsRepository) MarkAllRead(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}

	query := `
		UPDATE notifications
		SET read = TRUE
		WHERE user_id = $1
		  AND read = FALSE
	`

	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to mark all notifications read: %w", err)
	}

	return nil
}

// ListByUser 获取用户的全部通知（最新在前）
func (r *NotificationsRepository) ListByUser(ctx context.Context, userID string) ([]models.Notification, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]models.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}

	return notifications, nil
}

// publish 发布变更事件（尽力而为，失败只记日志）
func (r *NotificationsRepository) publish(ctx context.Context, kind feed.EventKind, newRec, oldRec interface{}) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, feed.TableNotifications, kind, newRec, oldRec); err != nil {
		r.logger.Warn("Failed to publish notification change event",
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}
