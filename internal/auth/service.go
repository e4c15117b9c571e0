// Package auth はメールアドレス・パスワード認証、セッション管理、ロックアウトを提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/concurseiro/internal/metrics"
	"github.com/hitoshi/concurseiro/internal/model"
	"github.com/hitoshi/concurseiro/internal/repository"
)

// ロックアウトのスコープ
const (
	ScopeLogin    = "login"
	ScopeWithdraw = "withdraw"
)

// LockoutKey はスコープと識別子からロックアウトキーを生成する。
func LockoutKey(scope, id string) string {
	return scope + ":" + id
}

// RegisterInput はユーザー登録の入力を表す。
type RegisterInput struct {
	Email    string
	Name     string
	Password string
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	lockout     Lockout
	metrics     metrics.AuthMetrics
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。mがnilの場合はメトリクスを記録しない。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	lockout Lockout,
	m metrics.AuthMetrics,
	config ServiceConfig,
) *Service {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		lockout:     lockout,
		metrics:     m,
		config:      config,
		now:         time.Now,
	}
}

// Register は新規ユーザーを作成し、セッションを発行する。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.Session, *model.User, error) {
	in.Email = NormalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := validateRegistration(in); err != nil {
		return nil, nil, err
	}

	existing, err := s.userRepo.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		return nil, nil, model.NewEmailAlreadyRegisteredError()
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: hash,
		Role:         model.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		// 同時登録で一意制約に違反した場合
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, nil, model.NewEmailAlreadyRegisteredError()
		}
		return nil, nil, fmt.Errorf("failed to create user: %w", err)
	}

	session, err := s.createSession(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("new user registered", slog.String("user_id", user.ID))
	return session, user, nil
}

// Login はメールアドレスとパスワードを検証し、セッションを発行する。
// 3回連続で失敗したメールアドレスは一定時間ロックされる。
func (s *Service) Login(ctx context.Context, email, password string) (*model.Session, *model.User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, nil, model.NewValidationError("Informe e-mail e senha.")
	}
	key := LockoutKey(ScopeLogin, email)

	remaining, err := s.lockout.Locked(ctx, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check lockout: %w", err)
	}
	if remaining > 0 {
		return nil, nil, model.NewAccountLockedError(remaining)
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	ok := false
	if user == nil {
		burnPasswordCheck(password)
	} else {
		ok, err = CheckPassword(user.PasswordHash, password)
		if err != nil {
			return nil, nil, err
		}
	}

	if !ok {
		return nil, nil, s.registerFailure(ctx, ScopeLogin, key, model.NewInvalidCredentialsError())
	}

	if err := s.lockout.Reset(ctx, key); err != nil {
		slog.Warn("failed to reset lockout", slog.String("error", err.Error()))
	}

	session, err := s.createSession(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return session, user, nil
}

// VerifyPassword はログイン中ユーザーのパスワードを再確認する。
// 退会などの重要操作で使用し、失敗はscopeごとにロックアウトの対象となる。
func (s *Service) VerifyPassword(ctx context.Context, scope string, user *model.User, password string) error {
	key := LockoutKey(scope, user.ID)

	remaining, err := s.lockout.Locked(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to check lockout: %w", err)
	}
	if remaining > 0 {
		return model.NewAccountLockedError(remaining)
	}

	ok, err := CheckPassword(user.PasswordHash, password)
	if err != nil {
		return err
	}
	if !ok {
		return s.registerFailure(ctx, scope, key, model.NewValidationError("Senha incorreta."))
	}

	if err := s.lockout.Reset(ctx, key); err != nil {
		slog.Warn("failed to reset lockout", slog.String("error", err.Error()))
	}
	return nil
}

// registerFailure は認証失敗を記録し、ロックした場合はロックアウトエラーを返す。
func (s *Service) registerFailure(ctx context.Context, scope, key string, failure error) error {
	s.metrics.RecordAuthFailure(scope)

	lockedFor, err := s.lockout.RegisterFailure(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to register auth failure: %w", err)
	}
	if lockedFor > 0 {
		s.metrics.RecordLockout(scope)
		slog.Warn("lockout triggered",
			slog.String("scope", scope),
			slog.Duration("duration", lockedFor),
		)
		return model.NewAccountLockedError(lockedFor)
	}
	return failure
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// GetUser はユーザーIDからユーザーを取得する。
func (s *Service) GetUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, user *model.User) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    user.ID,
		Role:      user.Role,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
