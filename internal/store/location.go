package store

import (
	"context"
	"sync"

	"lifeline-sync/internal/models"
	"lifeline-sync/internal/repository"
	"lifeline-sync/internal/sensor"

	"go.uber.org/zap"
)

// LocationStore 位置状态容器
// 状态机：Stopped → Tracking（watch 活跃）→ Stopped
//
// 样本按传感器回调顺序覆盖当前状态；远端 upsert 异步进行、无背压，
// 后到的回调总是赢，即使更早样本的网络写入仍在途中
type LocationStore struct {
	mu       sync.RWMutex
	current  *models.UserLocation
	tracking bool
	watch    sensor.Watch
	lastErr  error

	source    sensor.Source
	locations *repository.LocationsRepository
	opts      sensor.WatchOptions
	logger    *zap.Logger
}

// NewLocationStore 创建位置状态容器
// source 为 nil 表示运行环境没有位置传感器
func NewLocationStore(source sensor.Source, locations *repository.LocationsRepository, opts sensor.WatchOptions, logger *zap.Logger) *LocationStore {
	return &LocationStore{
		source:    source,
		locations: locations,
		opts:      opts,
		logger:    logger,
	}
}

// StartTracking 开始连续定位
// userID 用于把样本推送到后端的用户位置记录；为空时只维护本地状态
// 已在定位中时为空操作
func (s *LocationStore) StartTracking(ctx context.Context, userID string) error {
	s.mu.Lock()
	if s.tracking {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if s.source == nil {
		s.setErr(ErrUnsupportedEnvironment)
		return ErrUnsupportedEnvironment
	}

	watch, err := s.source.Watch(s.opts,
		func(sample sensor.Sample) {
			s.applySample(ctx, userID, sample)
		},
		func(err error) {
			// 传感器错误只记录，不终止定位
			s.setErr(err)
		},
	)
	if err != nil {
		s.setErr(err)
		return err
	}

	s.mu.Lock()
	if s.tracking {
		// 并发启动竞争：先注册的 watch 保留，后到的关闭
		s.mu.Unlock()
		if err := watch.Close(); err != nil {
			s.logger.Warn("Failed to close redundant location watch",
				zap.Error(err),
			)
		}
		return nil
	}
	s.watch = watch
	s.tracking = true
	s.lastErr = nil
	s.mu.Unlock()

	return nil
}

// StopTracking 停止定位（未在定位中时为空操作）
func (s *LocationStore) StopTracking() error {
	s.mu.Lock()
	if !s.tracking {
		s.mu.Unlock()
		return nil
	}
	watch := s.watch
	s.watch = nil
	s.tracking = false
	s.mu.Unlock()

	if err := watch.Close(); err != nil {
		s.setErr(err)
		return err
	}

	s.logger.Info("Location tracking stopped")

	return nil
}

// applySample 按回调顺序应用一个位置样本，并异步推送到后端
func (s *LocationStore) applySample(ctx context.Context, userID string, sample sensor.Sample) {
	loc := models.UserLocation{
		Latitude:  sample.Latitude,
		Longitude: sample.Longitude,
		Accuracy:  sample.Accuracy,
		Timestamp: sample.Timestamp,
	}

	s.mu.Lock()
	s.current = &loc
	s.lastErr = nil
	s.mu.Unlock()

	if userID == "" || s.locations == nil {
		return
	}

	// 异步推送，与回调交付解耦；写失败只记录错误
	go func() {
		if err := s.locations.Upsert(ctx, userID, loc); err != nil {
			s.setErr(err)
		}
	}()
}

// Current 当前位置快照（尚无样本返回 nil）
func (s *LocationStore) Current() *models.UserLocation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	loc := *s.current
	return &loc
}

// Tracking 是否在定位中
func (s *LocationStore) Tracking() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracking
}

// Err 最近一次失败（供视图层轮询展示）
func (s *LocationStore) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *LocationStore) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.logger.Warn("Location store error",
		zap.Error(err),
	)
}
