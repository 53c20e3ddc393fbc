package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"lifeline-sync/internal/feed"
	"lifeline-sync/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// pgUndefinedTable 表不存在的 PostgreSQL 错误码（降级为空结果）
const pgUndefinedTable = "42P01"

// BloodRequestsRepository 献血请求仓库（blood_requests 表）
type BloodRequestsRepository struct {
	db        *sql.DB
	publisher *feed.Publisher
	logger    *zap.Logger
}

// NewBloodRequestsRepository 创建献血请求仓库
func NewBloodRequestsRepository(db *sql.DB, publisher *feed.Publisher, logger *zap.Logger) *BloodRequestsRepository {
	return &BloodRequestsRepository{
		db:        db,
		publisher: publisher,
		logger:    logger,
	}
}

const bloodRequestColumns = `
	id,
	requester_id,
	blood_type,
	units_needed,
	hospital_name,
	urgency,
	status,
	latitude,
	longitude,
	accuracy,
	location_timestamp,
	description,
	created_at,
	expires_at
`

// scanBloodRequest 从一行记录扫描献血请求
func scanBloodRequest(row interface {
	Scan(dest ...interface{}) error
}) (*models.BloodRequest, error) {
	var req models.BloodRequest
	var hospitalName, description sql.NullString
	var accuracy sql.NullFloat64

	err := row.Scan(
		&req.ID,
		&req.RequesterID,
		&req.BloodType,
		&req.UnitsNeeded,
		&hospitalName,
		&req.Urgency,
		&req.Status,
		&req.Location.Latitude,
		&req.Location.Longitude,
		&accuracy,
		&req.Location.Timestamp,
		&description,
		&req.CreatedAt,
		&req.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	if hospitalName.Valid {
		req.HospitalName = &hospitalName.String
	}
	if accuracy.Valid {
		req.Location.Accuracy = &accuracy.Float64
	}
	if description.Valid {
		req.Description = &description.String
	}

	return &req, nil
}

// Create 创建献血请求并发布 insert 事件
func (r *BloodRequestsRepository) Create(ctx context.Context, req *models.BloodRequest) error {
	if req == nil {
		return fmt.Errorf("request is required")
	}
	if req.ID == "" {
		return fmt.Errorf("request.id is required")
	}
	if req.RequesterID == "" {
		return fmt.Errorf("request.requester_id is required")
	}
	if req.BloodType == "" {
		return fmt.Errorf("request.blood_type is required")
	}
	if req.UnitsNeeded <= 0 {
		return fmt.Errorf("request.units_needed must be positive")
	}

	query := `
		INSERT INTO blood_requests (
			id,
			requester_id,
			blood_type,
			units_needed,
			hospital_name,
			urgency,
			status,
			latitude,
			longitude,
			accuracy,
			location_timestamp,
			description,
			created_at,
			expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	var accuracy interface{}
	if req.Location.Accuracy != nil {
		accuracy = *req.Location.Accuracy
	}

	_, err := r.db.ExecContext(ctx, query,
		req.ID,
		req.RequesterID,
		string(req.BloodType),
		req.UnitsNeeded,
		req.HospitalName,
		req.Urgency,
		req.Status,
		req.Location.Latitude,
		req.Location.Longitude,
		accuracy,
		req.Location.Timestamp,
		req.Description,
		req.CreatedAt,
		req.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create blood request: %w", err)
	}

	r.publish(ctx, feed.EventInsert, req, nil)

	return nil
}

// GetByID 根据 id 获取献血请求
func (r *BloodRequestsRepository) GetByID(ctx context.Context, requestID string) (*models.BloodRequest, error) {
	if requestID == "" {
		return nil, fmt.Errorf("request_id is required")
	}

	query := `SELECT ` + bloodRequestColumns + ` FROM blood_requests WHERE id = $1`

	req, err := scanBloodRequest(r.db.QueryRowContext(ctx, query, requestID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("blood request not found: id=%s", requestID)
		}
		return nil, fmt.Errorf("failed to get blood request: %w", err)
	}

	return req, nil
}

// Update 部分更新献血请求并发布 update 事件
// updates 是一个 map，包含要更新的字段
func (r *BloodRequestsRepository) Update(ctx context.Context, requestID string, updates map[string]interface{}) (*models.BloodRequest, error) {
	if requestID == "" {
		return nil, fmt.Errorf("request_id is required")
	}
	if len(updates) == 0 {
		return nil, fmt.Errorf("updates cannot be empty")
	}

	// 允许更新的字段
	allowedFields := map[string]bool{
		"status":        true,
		"blood_type":    true,
		"units_needed":  true,
		"hospital_name": true,
		"urgency":       true,
		"description":   true,
		"expires_at":    true,
	}

	setParts := []string{}
	args := []interface{}{}
	argN := 1

	for field, value := range updates {
		if !allowedFields[field] {
			return nil, fmt.Errorf("field '%s' is not allowed to update", field)
		}
		setParts = append(setParts, fmt.Sprintf("%s = $%d", field, argN))
		args = append(args, value)
		argN++
	}

	args = append(args, requestID)
	query := fmt.Sprintf(`
		UPDATE blood_requests
		SET %s
		WHERE id = $%d
	`, strings.Join(setParts, ", "), argN)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update blood request: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("blood request not found: id=%s", requestID)
	}

	req, err := r.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	r.publish(ctx, feed.EventUpdate, req, nil)

	return req, nil
}

// ListActive 获取活跃且未过期的献血请求（最新在前）
// 表不存在时降级为空结果（部署早期该表可能尚未建立）
func (r *BloodRequestsRepository) ListActive(ctx context.Context, now time.Time) ([]models.BloodRequest, error) {
	query := `
		SELECT ` + bloodRequestColumns + `
		FROM blood_requests
		WHERE status = 'active'
		  AND expires_at >= $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == pgUndefinedTable {
			r.logger.Debug("blood_requests table does not exist, returning empty result")
			return []models.BloodRequest{}, nil
		}
		return nil, fmt.Errorf("failed to list blood requests: %w", err)
	}
	defer rows.Close()

	requests := make([]models.BloodRequest, 0)
	for rows.Next() {
		req, err := scanBloodRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan blood request: %w", err)
		}
		requests = append(requests, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate blood requests: %w", err)
	}

	return requests, nil
}

// DeleteExpired 删除已过期的活跃请求，逐条发布 delete 事件
// 返回被删除的记录
func (r *BloodRequestsRepository) DeleteExpired(ctx context.Context, now time.Time) ([]models.BloodRequest, error) {
	query := `
		DELETE FROM blood_requests
		WHERE status = 'active'
		  AND expires_at < $1
		RETURNING ` + bloodRequestColumns

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == pgUndefinedTable {
			return []models.BloodRequest{}, nil
		}
		return nil, fmt.Errorf("failed to delete expired blood requests: %w", err)
	}
	defer rows.Close()

	deleted := make([]models.BloodRequest, 0)
	for rows.Next() {
		req, err := scanBloodRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deleted blood request: %w", err)
		}
		deleted = append(deleted, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deleted blood requests: %w", err)
	}

	for i := range deleted {
		r.publish(ctx, feed.EventDelete, nil, &deleted[i])
	}

	return deleted, nil
}

// publish 发布变更事件（尽力而为，失败只记日志）
func (r *BloodRequestsRepository) publish(ctx context.Context, kind feed.EventKind, newRec, oldRec interface{}) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, feed.TableBloodRequests, kind, newRec, oldRec); err != nil {
		r.logger.Warn("Failed to publish blood request change event",
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}
