package repository

import (
	"context"
	"database/sql"
	"fmt"

	"lifeline-sync/internal/models"

	"go.uber.org/zap"
)

// LocationsRepository 用户位置仓库（user_locations 表）
// 每个用户一行，upsert 语义；没有任何组件订阅位置变更，因此不发布事件
type LocationsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewLocationsRepository 创建用户位置仓库
func NewLocationsRepository(db *sql.DB, logger *zap.Logger) *LocationsRepository {
	return &LocationsRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert 写入用户当前位置（存在则覆盖）
func (r *LocationsRepository) Upsert(ctx context.Context, userID string, loc models.UserLocation) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}

	query := `
		INSERT INTO user_locations (
			user_id,
			latitude,
			longitude,
			accuracy,
			location_timestamp
		) VALUES (
			$1, $2, $3, $4, $5
		)
		ON CONFLICT (user_id) DO UPDATE SET
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			accuracy = EXCLUDED.accuracy,
			location_timestamp = EXCLUDED.location_timestamp
	`

	var accuracy interface{}
	if loc.Accuracy != nil {
		accuracy = *loc.Accuracy
	}

	_, err := r.db.ExecContext(ctx, query,
		userID,
		loc.Latitude,
		loc.Longitude,
		accuracy,
		loc.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user location: %w", err)
	}

	return nil
}

// Get 获取用户当前位置（不存在返回 nil, nil）
func (r *LocationsRepository) Get(ctx context.Context, userID string) (*models.UserLocation, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	query := `
		SELECT
			latitude,
			longitude,
			accuracy,
			location_timestamp
		FROM user_locations
		WHERE user_id = $1
	`

	var loc models.UserLocation
	var accuracy sql.NullFloat64

	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&loc.Latitude,
		&loc.Longitude,
		&accuracy,
		&loc.Timestamp,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user location: %w", err)
	}

	if accuracy.Valid {
		loc.Accuracy = &accuracy.Float64
	}

	return &loc, nil
}
