// Package preference はユーザー設定（選択中の concurso）を管理する。
// 変更はデータベーストリガーの通知を経由して他のタブ・セッションに配信される。
package preference

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/concurseiro/internal/model"
	"github.com/hitoshi/concurseiro/internal/repository"
)

// Service はユーザー設定のサービス層。
type Service struct {
	prefs     repository.PreferenceRepository
	concursos repository.ConcursoRepository
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(prefs repository.PreferenceRepository, concursos repository.ConcursoRepository) *Service {
	return &Service{prefs: prefs, concursos: concursos, now: time.Now}
}

// Get はユーザー設定を返す。未設定の場合は空の設定を返す。
func (s *Service) Get(ctx context.Context, userID string) (*model.UserPreference, error) {
	pref, err := s.prefs.Find(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザー設定の取得に失敗しました: %w", err)
	}
	if pref == nil {
		return &model.UserPreference{UserID: userID}, nil
	}
	return pref, nil
}

// SelectConcurso は選択中の concurso を更新する。空文字の場合は選択を解除する。
// 複数タブからの同時更新は最後の書き込みが優先される。
func (s *Service) SelectConcurso(ctx context.Context, userID, concursoID string) (*model.UserPreference, error) {
	concursoID = strings.TrimSpace(concursoID)
	if concursoID != "" {
		c, err := s.concursos.FindByID(ctx, concursoID)
		if err != nil {
			return nil, fmt.Errorf("concursoの取得に失敗しました: %w", err)
		}
		if c == nil {
			return nil, model.NewConcursoNotFoundError(concursoID)
		}
	}

	pref := &model.UserPreference{
		UserID:             userID,
		SelectedConcursoID: concursoID,
		UpdatedAt:          s.now().UTC(),
	}
	if err := s.prefs.Upsert(ctx, pref); err != nil {
		return nil, fmt.Errorf("ユーザー設定の保存に失敗しました: %w", err)
	}

	slog.Debug("selected concurso changed",
		slog.String("user_id", userID),
		slog.String("concurso_id", concursoID),
	)
	return pref, nil
}
