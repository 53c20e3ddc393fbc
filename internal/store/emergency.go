package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"lifeline-sync/internal/feed"
	"lifeline-sync/internal/models"
	"lifeline-sync/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// defaultRequestTTL 献血请求默认有效期
const defaultRequestTTL = 24 * time.Hour

// CreateBloodRequestParams 创建献血请求的字段
// Urgency 为空默认 medium；UnitsNeeded 为 0 默认 1；ExpiresAt 为 nil 默认创建时间+24小时
type CreateBloodRequestParams struct {
	BloodType    models.BloodType
	UnitsNeeded  int
	HospitalName *string
	Urgency      string
	Description  *string
	ExpiresAt    *time.Time
}

// EmergencyStore 警报/献血请求状态容器
// 维护历史列表与"当前活跃"槽位，并通过变更订阅保持与后端一致
//
// 本地写入的变更回声按 id 做 upsert 折叠，不会产生重复记录；
// 并发操作不做单飞限制，后写覆盖
type EmergencyStore struct {
	mu            sync.RWMutex
	activeAlert   *models.EmergencyAlert
	activeRequest *models.BloodRequest
	alerts        []models.EmergencyAlert
	requests      []models.BloodRequest
	lastErr       error

	alertsRepo   *repository.AlertsRepository
	requestsRepo *repository.BloodRequestsRepository
	subscriber   *feed.Subscriber
	logger       *zap.Logger

	subs []*feed.Subscription
}

// NewEmergencyStore 创建警报/献血请求状态容器
func NewEmergencyStore(
	alertsRepo *repository.AlertsRepository,
	requestsRepo *repository.BloodRequestsRepository,
	subscriber *feed.Subscriber,
	logger *zap.Logger,
) *EmergencyStore {
	return &EmergencyStore{
		alertsRepo:   alertsRepo,
		requestsRepo: requestsRepo,
		subscriber:   subscriber,
		logger:       logger,
	}
}

// CreateAlert 创建 SOS 警报
// 身份与位置作为参数传入；缺失时本地短路，不发起远端调用
func (s *EmergencyStore) CreateAlert(ctx context.Context, userID string, loc *models.UserLocation, alertType, description string) (*models.EmergencyAlert, error) {
	if userID == "" {
		s.setErr(ErrNotAuthenticated)
		return nil, ErrNotAuthenticated
	}
	if loc == nil {
		s.setErr(ErrLocationUnavailable)
		return nil, ErrLocationUnavailable
	}

	now := time.Now()
	alert := &models.EmergencyAlert{
		ID:        uuid.NewString(),
		UserID:    userID,
		AlertType: alertType,
		Status:    models.AlertStatusActive,
		Location:  *loc, // 创建时刻的位置快照
		CreatedAt: now,
		UpdatedAt: now,
	}
	if description != "" {
		alert.Description = &description
	}

	if err := s.alertsRepo.Create(ctx, alert); err != nil {
		s.setErr(err)
		return nil, err
	}

	s.mu.Lock()
	s.alerts = upsertAlert(s.alerts, *alert)
	s.activeAlert = alert
	s.lastErr = nil
	s.mu.Unlock()

	s.logger.Info("Alert created",
		zap.String("alert_id", alert.ID),
		zap.String("alert_type", alertType),
	)

	return alert, nil
}

// UpdateAlertStatus 更新警报状态
// 历史列表与当前槽位在同一临界区内更新，不存在两者不一致的中间状态
func (s *EmergencyStore) UpdateAlertStatus(ctx context.Context, alertID, status string) error {
	updated, err := s.alertsRepo.UpdateStatus(ctx, alertID, status)
	if err != nil {
		s.setErr(err)
		return err
	}

	s.mu.Lock()
	patchAlert(s.alerts, *updated)
	if s.activeAlert != nil && s.activeAlert.ID == updated.ID {
		s.activeAlert = updated
	}
	s.lastErr = nil
	s.mu.Unlock()

	return nil
}

// CreateBloodRequest 创建献血请求
func (s *EmergencyStore) CreateBloodRequest(ctx context.Context, userID string, loc *models.UserLocation, params CreateBloodRequestParams) (*models.BloodRequest, error) {
	if userID == "" {
		s.setErr(ErrNotAuthenticated)
		return nil, ErrNotAuthenticated
	}
	if loc == nil {
		s.setErr(ErrLocationUnavailable)
		return nil, ErrLocationUnavailable
	}

	now := time.Now()

	unitsNeeded := params.UnitsNeeded
	if unitsNeeded == 0 {
		unitsNeeded = 1
	}
	urgency := params.Urgency
	if urgency == "" {
		urgency = models.UrgencyMedium
	}
	expiresAt := now.Add(defaultRequestTTL)
	if params.ExpiresAt != nil {
		expiresAt = *params.ExpiresAt
	}

	req := &models.BloodRequest{
		ID:           uuid.NewString(),
		RequesterID:  userID,
		BloodType:    params.BloodType,
		UnitsNeeded:  unitsNeeded,
		HospitalName: params.HospitalName,
		Urgency:      urgency,
		Status:       models.RequestStatusActive,
		Location:     *loc,
		Description:  params.Description,
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
	}

	if err := s.requestsRepo.Create(ctx, req); err != nil {
		s.setErr(err)
		return nil, err
	}

	s.mu.Lock()
	s.requests = upsertRequest(s.requests, *req)
	s.activeRequest = req
	s.lastErr = nil
	s.mu.Unlock()

	s.logger.Info("Blood request created",
		zap.String("request_id", req.ID),
		zap.String("blood_type", string(req.BloodType)),
		zap.String("urgency", urgency),
	)

	return req, nil
}

// UpdateBloodRequest 部分更新献血请求（远端与本地同时合并）
func (s *EmergencyStore) UpdateBloodRequest(ctx context.Context, requestID string, updates map[string]interface{}) error {
	updated, err := s.requestsRepo.Update(ctx, requestID, updates)
	if err != nil {
		s.setErr(err)
		return err
	}

	s.mu.Lock()
	patchRequest(s.requests, *updated)
	if s.activeRequest != nil && s.activeRequest.ID == updated.ID {
		s.activeRequest = updated
	}
	s.lastErr = nil
	s.mu.Unlock()

	return nil
}

// FetchUserAlerts 加载用户的全部警报历史（最新在前）
// 当前槽位重新计算为第一条 active 警报（没有则为空）
func (s *EmergencyStore) FetchUserAlerts(ctx context.Context, userID string) error {
	if userID == "" {
		s.setErr(ErrNotAuthenticated)
		return ErrNotAuthenticated
	}

	alerts, err := s.alertsRepo.ListByUser(ctx, userID)
	if err != nil {
		s.setErr(err)
		return err
	}

	var active *models.EmergencyAlert
	for i := range alerts {
		if alerts[i].Status == models.AlertStatusActive {
			active = &alerts[i]
			break
		}
	}

	s.mu.Lock()
	s.alerts = alerts
	s.activeAlert = active
	s.lastErr = nil
	s.mu.Unlock()

	return nil
}

// FetchNearbyBloodRequests 加载活跃且未过期的献血请求（最新在前）
// 后端缺表时降级为空结果，不记录错误
func (s *EmergencyStore) FetchNearbyBloodRequests(ctx context.Context, loc *models.UserLocation) error {
	if loc == nil {
		s.setErr(ErrLocationUnavailable)
		return ErrLocationUnavailable
	}

	requests, err := s.requestsRepo.ListActive(ctx, time.Now())
	if err != nil {
		s.setErr(err)
		return err
	}

	s.mu.Lock()
	s.requests = requests
	s.lastErr = nil
	s.mu.Unlock()

	return nil
}

// Subscribe 打开两路变更订阅：自己的警报 + 全局活跃献血请求
// 重复调用会先关闭已有订阅
func (s *EmergencyStore) Subscribe(ctx context.Context, userID string) error {
	if userID == "" {
		s.setErr(ErrNotAuthenticated)
		return ErrNotAuthenticated
	}

	s.Unsubscribe()

	alertSub, err := s.subscriber.Subscribe(ctx, feed.TableAlerts, func(event feed.ChangeEvent) {
		s.handleAlertEvent(userID, event)
	})
	if err != nil {
		s.setErr(err)
		return err
	}

	requestSub, err := s.subscriber.Subscribe(ctx, feed.TableBloodRequests, func(event feed.ChangeEvent) {
		s.handleRequestEvent(event)
	})
	if err != nil {
		_ = alertSub.Close()
		s.setErr(err)
		return err
	}

	s.mu.Lock()
	s.subs = []*feed.Subscription{alertSub, requestSub}
	s.mu.Unlock()

	return nil
}

// Unsubscribe 关闭本容器持有的全部订阅句柄
// 只释放自己的订阅，不影响其他容器
func (s *EmergencyStore) Unsubscribe() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			s.logger.Warn("Failed to close feed subscription",
				zap.String("channel", sub.Channel()),
				zap.Error(err),
			)
		}
	}
}

// handleAlertEvent 折叠一条警报变更事件（只处理自己的记录）
func (s *EmergencyStore) handleAlertEvent(userID string, event feed.ChangeEvent) {
	var alert models.EmergencyAlert
	if err := json.Unmarshal(event.New, &alert); err != nil {
		s.logger.Warn("Failed to unmarshal alert event",
			zap.Error(err),
		)
		return
	}
	if alert.UserID != userID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch event.Kind {
	case feed.EventInsert:
		// 本地写入的回声按 id 覆盖，不重复插入
		s.alerts = upsertAlert(s.alerts, alert)
	case feed.EventUpdate:
		patchAlert(s.alerts, alert)
		if s.activeAlert != nil && s.activeAlert.ID == alert.ID {
			copied := alert
			s.activeAlert = &copied
		}
	}
}

// handleRequestEvent 折叠一条献血请求变更事件
func (s *EmergencyStore) handleRequestEvent(event feed.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch event.Kind {
	case feed.EventInsert:
		var req models.BloodRequest
		if err := json.Unmarshal(event.New, &req); err != nil {
			s.logger.Warn("Failed to unmarshal blood request event",
				zap.Error(err),
			)
			return
		}
		// 订阅范围限定为活跃请求
		if req.Status != models.RequestStatusActive {
			return
		}
		s.requests = upsertRequest(s.requests, req)
	case feed.EventUpdate:
		var req models.BloodRequest
		if err := json.Unmarshal(event.New, &req); err != nil {
			s.logger.Warn("Failed to unmarshal blood request event",
				zap.Error(err),
			)
			return
		}
		patchRequest(s.requests, req)
		if s.activeRequest != nil && s.activeRequest.ID == req.ID {
			copied := req
			s.activeRequest = &copied
		}
	case feed.EventDelete:
		var old models.BloodRequest
		if err := json.Unmarshal(event.Old, &old); err != nil {
			s.logger.Warn("Failed to unmarshal blood request delete event",
				zap.Error(err),
			)
			return
		}
		s.requests = removeRequest(s.requests, old.ID)
		if s.activeRequest != nil && s.activeRequest.ID == old.ID {
			s.activeRequest = nil
		}
	}
}

// ActiveAlert 当前警报槽位快照
func (s *EmergencyStore) ActiveAlert() *models.EmergencyAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeAlert == nil {
		return nil
	}
	alert := *s.activeAlert
	return &alert
}

// ActiveBloodRequest 当前献血请求槽位快照
func (s *EmergencyStore) ActiveBloodRequest() *models.BloodRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeRequest == nil {
		return nil
	}
	req := *s.activeRequest
	return &req
}

// Alerts 警报历史快照（最新在前）
func (s *EmergencyStore) Alerts() []models.EmergencyAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alerts := make([]models.EmergencyAlert, len(s.alerts))
	copy(alerts, s.alerts)
	return alerts
}

// BloodRequests 献血请求列表快照（最新在前）
func (s *EmergencyStore) BloodRequests() []models.BloodRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	requests := make([]models.BloodRequest, len(s.requests))
	copy(requests, s.requests)
	return requests
}

// Err 最近一次失败（供视图层轮询展示）
func (s *EmergencyStore) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *EmergencyStore) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.logger.Warn("Emergency store error",
		zap.Error(err),
	)
}

// upsertAlert 按 id upsert：已存在则原位覆盖，否则前插
func upsertAlert(list []models.EmergencyAlert, rec models.EmergencyAlert) []models.EmergencyAlert {
	for i := range list {
		if list[i].ID == rec.ID {
			list[i] = rec
			return list
		}
	}
	return append([]models.EmergencyAlert{rec}, list...)
}

// patchAlert 按 id 原位覆盖（不存在则忽略）
func patchAlert(list []models.EmergencyAlert, rec models.EmergencyAlert) {
	for i := range list {
		if list[i].ID == rec.ID {
			list[i] = rec
			return
		}
	}
}

// upsertRequest 按 id upsert：已存在则原位覆盖，否则前插
func upsertRequest(list []models.BloodRequest, rec models.BloodRequest) []models.BloodRequest {
	for i := range list {
		if list[i].ID == rec.ID {
			list[i] = rec
			return list
		}
	}
	return append([]models.BloodRequest{rec}, list...)
}

// patchRequest 按 id 原位覆盖（不存在则忽略）
func patchRequest(list []models.BloodRequest, rec models.BloodRequest) {
	for i := range list {
		if list[i].ID == rec.ID {
			list[i] = rec
			return
		}
	}
}

// removeRequest 按 id 删除
func removeRequest(list []models.BloodRequest, id string) []models.BloodRequest {
	out := list[:0]
	for i := range list {
		if list[i].ID != id {
			out = append(out, list[i])
		}
	}
	return out
}
