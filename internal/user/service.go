// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/concurseiro/internal/auth"
	"github.com/hitoshi/concurseiro/internal/model"
	"github.com/hitoshi/concurseiro/internal/repository"
)

// PasswordVerifier はパスワード再確認のインターフェース。
// auth.Serviceが実装する。
type PasswordVerifier interface {
	VerifyPassword(ctx context.Context, scope string, user *model.User, password string) error
}

// Service はユーザー管理のサービス層。
// 退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	verifier PasswordVerifier
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, verifier PasswordVerifier) *Service {
	return &Service{
		userRepo: userRepo,
		verifier: verifier,
	}
}

// Withdraw はパスワードを確認したうえでユーザーを論理削除する。
// セッションは同一トランザクションで削除され、フラッシュカード・解答状況などの
// 関連データは保持期間経過後のクリーンアップでCASCADE削除される。
// パスワードの誤りが続いた場合はロックアウトされる。
func (s *Service) Withdraw(ctx context.Context, userID, password string) error {
	if password == "" {
		return model.NewValidationError("Confirme sua senha para excluir a conta.")
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	if err := s.verifier.VerifyPassword(ctx, auth.ScopeWithdraw, user, password); err != nil {
		slog.Warn("退会時のパスワード確認に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return err
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	if err := s.userRepo.SoftDelete(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}
