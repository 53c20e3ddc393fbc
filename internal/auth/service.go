package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// pgUniqueViolation 唯一约束冲突的 PostgreSQL 错误码
const pgUniqueViolation = "23505"

var (
	// ErrInvalidCredentials 邮箱或密码错误
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrSessionExpired 会话不存在或已过期
	ErrSessionExpired = errors.New("session expired")
	// ErrEmailTaken 邮箱已注册
	ErrEmailTaken = errors.New("email already registered")
)

// Identity 认证身份（auth_users 表的一行）
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Session 认证会话（Redis 中带 TTL 的令牌）
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service 认证服务（auth_users 表 + Redis 会话令牌）
type Service struct {
	db          *sql.DB
	redisClient *redis.Client
	keyPrefix   string
	sessionTTL  time.Duration
	logger      *zap.Logger
}

// NewService 创建认证服务
func NewService(db *sql.DB, redisClient *redis.Client, keyPrefix string, sessionTTL time.Duration, logger *zap.Logger) *Service {
	return &Service{
		db:          db,
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
		sessionTTL:  sessionTTL,
		logger:      logger,
	}
}

// 哈希规则与前端一致：
// - accountHash = sha256(lower(email))
// - passwordHash = sha256(lower(email) + ":" + password)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func normalizeAccount(account string) string {
	return strings.TrimSpace(strings.ToLower(account))
}

// HashAccount 账号哈希
func HashAccount(email string) string {
	return sha256Hex(normalizeAccount(email))
}

// HashAccountPassword 账号+密码哈希
func HashAccountPassword(email, password string) string {
	return sha256Hex(normalizeAccount(email) + ":" + password)
}

// sessionKey 构建会话键
func (s *Service) sessionKey(token string) string {
	return s.keyPrefix + token
}

// SignUp 创建认证身份
func (s *Service) SignUp(ctx context.Context, email, password string) (*Identity, error) {
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if password == "" {
		return nil, fmt.Errorf("password is required")
	}

	identity := &Identity{
		UserID: uuid.NewString(),
		Email:  normalizeAccount(email),
	}

	query := `
		INSERT INTO auth_users (
			id,
			email,
			account_hash,
			password_hash,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5
		)
	`

	_, err := s.db.ExecContext(ctx, query,
		identity.UserID,
		identity.Email,
		HashAccount(email),
		HashAccountPassword(email, password),
		time.Now(),
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == pgUniqueViolation {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create auth identity: %w", err)
	}

	s.logger.Info("Auth identity created",
		zap.String("user_id", identity.UserID),
	)

	return identity, nil
}

// SignIn 校验凭据并签发会话令牌
func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if password == "" {
		return nil, fmt.Errorf("password is required")
	}

	query := `
		SELECT id, email
		FROM auth_users
		WHERE account_hash = $1
		  AND password_hash = $2
	`

	var userID, storedEmail string
	err := s.db.QueryRowContext(ctx, query,
		HashAccount(email),
		HashAccountPassword(email, password),
	).Scan(&userID, &storedEmail)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to verify credentials: %w", err)
	}

	session := &Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		Email:     storedEmail,
		ExpiresAt: time.Now().Add(s.sessionTTL),
	}

	if err := s.storeSession(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Info("User signed in",
		zap.String("user_id", userID),
	)

	return session, nil
}

// SignOut 注销会话令牌（令牌不存在也视为成功）
func (s *Service) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("token is required")
	}

	if err := s.redisClient.Del(ctx, s.sessionKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

// GetSession 根据令牌获取会话
func (s *Service) GetSession(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, fmt.Errorf("token is required")
	}

	val, err := s.redisClient.Get(ctx, s.sessionKey(token)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(val), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

// storeSession 序列化会话并写入 Redis（带 TTL）
func (s *Service) storeSession(ctx context.Context, session *Session) error {
	jsonData, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	err = s.redisClient.Set(ctx, s.sessionKey(session.Token), jsonData, s.sessionTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	return nil
}
