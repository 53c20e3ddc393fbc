package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"lifeline-sync/internal/auth"
	"lifeline-sync/internal/models"
	"lifeline-sync/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProfileFields 注册时的档案字段
type ProfileFields struct {
	FullName  *string
	Phone     *string
	BloodType *models.BloodType
	IsDonor   bool
}

// SessionStore 会话状态容器
// 持有认证身份与用户档案；所有其他容器通过参数接收身份，不直接读取本容器
//
// 并发说明：不做单飞限制，并发操作按后写覆盖解决（UI 软状态，非权威数据）
type SessionStore struct {
	mu      sync.RWMutex
	session *auth.Session
	user    *models.User
	lastErr error

	authService *auth.Service
	profiles    *repository.ProfilesRepository
	logger      *zap.Logger
}

// NewSessionStore 创建会话状态容器
func NewSessionStore(authService *auth.Service, profiles *repository.ProfilesRepository, logger *zap.Logger) *SessionStore {
	return &SessionStore{
		authService: authService,
		profiles:    profiles,
		logger:      logger,
	}
}

// SignIn 登录并刷新用户档案
// 失败时记录错误，已有会话保持不变
func (s *SessionStore) SignIn(ctx context.Context, email, password string) error {
	session, err := s.authService.SignIn(ctx, email, password)
	if err != nil {
		s.setErr(err)
		return err
	}

	s.mu.Lock()
	s.session = session
	s.lastErr = nil
	s.mu.Unlock()

	return s.RefreshUser(ctx)
}

// SignUp 注册：先创建认证身份并登录，再创建档案行
// 已知不一致窗口：身份创建成功而档案插入失败时，会话保持有效，错误向上抛出；
// 档案缺失会被 RefreshUser 当作"尚未建档"的正常状态，之后可补建
func (s *SessionStore) SignUp(ctx context.Context, email, password string, fields ProfileFields) error {
	identity, err := s.authService.SignUp(ctx, email, password)
	if err != nil {
		s.setErr(err)
		return err
	}

	session, err := s.authService.SignIn(ctx, email, password)
	if err != nil {
		s.setErr(err)
		return err
	}

	s.mu.Lock()
	s.session = session
	s.lastErr = nil
	s.mu.Unlock()

	now := time.Now()
	profile := &models.User{
		ID:        identity.UserID,
		Email:     identity.Email,
		FullName:  fields.FullName,
		Phone:     fields.Phone,
		BloodType: fields.BloodType,
		IsDonor:   fields.IsDonor,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.profiles.Create(ctx, profile); err != nil {
		s.setErr(err)
		return err
	}

	return s.RefreshUser(ctx)
}

// SignOut 注销会话并清空本地身份
func (s *SessionStore) SignOut(ctx context.Context) error {
	s.mu.RLock()
	session := s.session
	s.mu.RUnlock()

	if session != nil {
		if err := s.authService.SignOut(ctx, session.Token); err != nil {
			s.setErr(err)
			return err
		}
	}

	s.mu.Lock()
	s.session = nil
	s.user = nil
	s.lastErr = nil
	s.mu.Unlock()

	return nil
}

// UpdateProfile 部分更新档案并刷新本地副本
// updates 的键为档案表字段名（full_name/phone/blood_type/is_donor/last_donation_date）
func (s *SessionStore) UpdateProfile(ctx context.Context, updates map[string]interface{}) error {
	s.mu.RLock()
	session := s.session
	s.mu.RUnlock()

	if session == nil {
		s.setErr(ErrNotAuthenticated)
		return ErrNotAuthenticated
	}

	if err := s.profiles.Update(ctx, session.UserID, updates); err != nil {
		s.setErr(err)
		return err
	}

	return s.RefreshUser(ctx)
}

// AddEmergencyContact 添加紧急联系人并刷新档案
func (s *SessionStore) AddEmergencyContact(ctx context.Context, name, phone, relationship string) error {
	s.mu.RLock()
	session := s.session
	s.mu.RUnlock()

	if session == nil {
		s.setErr(ErrNotAuthenticated)
		return ErrNotAuthenticated
	}

	contact := &models.EmergencyContact{
		ID:           uuid.NewString(),
		UserID:       session.UserID,
		Name:         name,
		Phone:        phone,
		Relationship: relationship,
	}

	if err := s.profiles.AddContact(ctx, contact); err != nil {
		s.setErr(err)
		return err
	}

	return s.RefreshUser(ctx)
}

// RemoveEmergencyContact 删除紧急联系人并刷新档案
func (s *SessionStore) RemoveEmergencyContact(ctx context.Context, contactID string) error {
	s.mu.RLock()
	session := s.session
	s.mu.RUnlock()

	if session == nil {
		s.setErr(ErrNotAuthenticated)
		return ErrNotAuthenticated
	}

	if err := s.profiles.RemoveContact(ctx, session.UserID, contactID); err != nil {
		s.setErr(err)
		return err
	}

	return s.RefreshUser(ctx)
}

// RefreshUser 刷新会话与档案（幂等）
// 会话过期视为已登出；档案行缺失视为"尚未建档"的正常状态，均不算错误
func (s *SessionStore) RefreshUser(ctx context.Context) error {
	s.mu.RLock()
	session := s.session
	s.mu.RUnlock()

	if session == nil {
		s.mu.Lock()
		s.user = nil
		s.mu.Unlock()
		return nil
	}

	fresh, err := s.authService.GetSession(ctx, session.Token)
	if err != nil {
		if errors.Is(err, auth.ErrSessionExpired) {
			s.mu.Lock()
			s.session = nil
			s.user = nil
			s.mu.Unlock()
			return nil
		}
		s.setErr(err)
		return err
	}

	user, err := s.profiles.GetByID(ctx, fresh.UserID)
	if err != nil {
		s.setErr(err)
		return err
	}

	s.mu.Lock()
	s.session = fresh
	s.user = user
	s.lastErr = nil
	s.mu.Unlock()

	return nil
}

// Session 当前会话快照（未登录返回 nil）
func (s *SessionStore) Session() *auth.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	session := *s.session
	return &session
}

// User 当前用户档案快照（未登录或未建档返回 nil）
func (s *SessionStore) User() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	user := *s.user
	return &user
}

// UserID 当前用户 id（未登录返回空串）
func (s *SessionStore) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return ""
	}
	return s.session.UserID
}

// Err 最近一次失败（供视图层轮询展示）
func (s *SessionStore) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *SessionStore) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.logger.Warn("Session store error",
		zap.Error(err),
	)
}
