package repository

import (
	"context"
	"database/sql"
	"fmt"

	"lifeline-sync/internal/feed"
	"lifeline-sync/internal/models"

	"go.uber.org/zap"
)

// AlertsRepository SOS 警报仓库（emergency_alerts 表）
// 写操作成功后发布对应的变更事件
type AlertsRepository struct {
	db        *sql.DB
	publisher *feed.Publisher
	logger    *zap.Logger
}

// NewAlertsRepository 创建警报仓库
func NewAlertsRepository(db *sql.DB, publisher *feed.Publisher, logger *zap.Logger) *AlertsRepository {
	return &AlertsRepository{
		db:        db,
		publisher: publisher,
		logger:    logger,
	}
}

const alertColumns = `
	id,
	user_id,
	alert_type,
	status,
	latitude,
	longitude,
	accuracy,
	location_timestamp,
	description,
	created_at,
	updated_at
`

// scanAlert 从一行记录扫描警报
func scanAlert(row interface {
	Scan(dest ...interface{}) error
}) (*models.EmergencyAlert, error) {
	var alert models.EmergencyAlert
	var accuracy sql.NullFloat64
	var description sql.NullString

	err := row.Scan(
		&alert.ID,
		&alert.UserID,
		&alert.AlertType,
		&alert.Status,
		&alert.Location.Latitude,
		&alert.Location.Longitude,
		&accuracy,
		&alert.Location.Timestamp,
		&description,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if accuracy.Valid {
		alert.Location.Accuracy = &accuracy.Float64
	}
	if description.Valid {
		alert.Description = &description.String
	}

	return &alert, nil
}

// Create 创建警报并发布 insert 事件
func (r *AlertsRepository) Create(ctx context.Context, alert *models.EmergencyAlert) error {
	if alert == nil {
		return fmt.Errorf("alert is required")
	}
	if alert.ID == "" {
		return fmt.Errorf("alert.id is required")
	}
	if alert.UserID == "" {
		return fmt.Errorf("alert.user_id is required")
	}

	query := `
		INSERT INTO emergency_alerts (
			id,
			user_id,
			alert_type,
			status,
			latitude,
			longitude,
			accuracy,
			location_timestamp,
			description,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	var accuracy interface{}
	if alert.Location.Accuracy != nil {
		accuracy = *alert.Location.Accuracy
	}

	_, err := r.db.ExecContext(ctx, query,
		alert.ID,
		alert.UserID,
		alert.AlertType,
		alert.Status,
		alert.Location.Latitude,
		alert.Location.Longitude,
		accuracy,
		alert.Location.Timestamp,
		alert.Description,
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}

	r.publish(ctx, feed.EventInsert, alert, nil)

	return nil
}

// GetByID 根据 id 获取警报
func (r *AlertsRepository) GetByID(ctx context.Context, alertID string) (*models.EmergencyAlert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("alert_id is required")
	}

	query := `SELECT ` + alertColumns + ` FROM emergency_alerts WHERE id = $1`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, alertID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("alert not found: id=%s", alertID)
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	return alert, nil
}

// UpdateStatus 更新警报状态并发布 update 事件
// 状态转移合法性不做校验（与后端保持一致的宽松策略）
func (r *AlertsRepository) UpdateStatus(ctx context.Context, alertID, status string) (*models.EmergencyAlert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("alert_id is required")
	}
	if status == "" {
		return nil, fmt.Errorf("status is required")
	}

	query := `
		UPDATE emergency_alerts
		SET status = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`

	result, err := r.db.ExecContext(ctx, query, status, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to update alert status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("alert not found: id=%s", alertID)
	}

	alert, err := r.GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}

	r.publish(ctx, feed.EventUpdate, alert, nil)

	return alert, nil
}

// ListByUser 获取用户的全部警报（最新在前）
func (r *AlertsRepository) ListByUser(ctx context.Context, userID string) ([]models.EmergencyAlert, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	query := `
		SELECT ` + alertColumns + `
		FROM emergency_alerts
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]models.EmergencyAlert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}

	return alerts, nil
}

// publish 发布变更事件（尽力而为，失败只记日志）
func (r *AlertsRepository) publish(ctx context.Context, kind feed.EventKind, newRec, oldRec interface{}) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, feed.TableAlerts, kind, newRec, oldRec); err != nil {
		r.logger.Warn("Failed to publish alert change event",
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}
