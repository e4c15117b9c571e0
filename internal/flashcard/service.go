// Package flashcard はユーザーごとのフラッシュカード管理を提供する。
package flashcard

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/concurseiro/internal/model"
	"github.com/hitoshi/concurseiro/internal/repository"
	"github.com/hitoshi/concurseiro/internal/security"
)

// maxFieldLength はサニタイズ後の表面・裏面の最大文字数。
const maxFieldLength = 5000

// Input はカードの作成・更新入力を表す。
type Input struct {
	ConcursoID   string
	DisciplineID string
	Front        string
	Back         string
}

// Service はフラッシュカードのサービス層。
type Service struct {
	cards     repository.FlashcardRepository
	concursos repository.ConcursoRepository
	sanitizer security.HTMLSanitizer
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	cards repository.FlashcardRepository,
	concursos repository.ConcursoRepository,
	sanitizer security.HTMLSanitizer,
) *Service {
	return &Service{
		cards:     cards,
		concursos: concursos,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// List はユーザーのカードを返す。concursoIDが空でなければ絞り込む。
func (s *Service) List(ctx context.Context, userID, concursoID string) ([]*model.Flashcard, error) {
	cards, err := s.cards.ListByUser(ctx, userID, concursoID)
	if err != nil {
		return nil, fmt.Errorf("フラッシュカード一覧の取得に失敗しました: %w", err)
	}
	return cards, nil
}

// Create はカードを作成する。表面・裏面のHTMLはサニタイズして保存する。
func (s *Service) Create(ctx context.Context, userID string, in Input) (*model.Flashcard, error) {
	if in.ConcursoID == "" {
		return nil, model.NewValidationError("Selecione um concurso.")
	}
	c, err := s.concursos.FindByID(ctx, in.ConcursoID)
	if err != nil {
		return nil, fmt.Errorf("concursoの取得に失敗しました: %w", err)
	}
	if c == nil {
		return nil, model.NewConcursoNotFoundError(in.ConcursoID)
	}

	front, back, err := s.sanitizeSides(in)
	if err != nil {
		return nil, err
	}

	now := s.now()
	card := &model.Flashcard{
		ID:           uuid.New().String(),
		UserID:       userID,
		ConcursoID:   in.ConcursoID,
		DisciplineID: in.DisciplineID,
		Front:        front,
		Back:         back,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.cards.Create(ctx, card); err != nil {
		return nil, fmt.Errorf("フラッシュカードの作成に失敗しました: %w", err)
	}
	return card, nil
}

// Update はカードの内容と科目を更新する。concurso は変更できない。
func (s *Service) Update(ctx context.Context, userID, id string, in Input) (*model.Flashcard, error) {
	card, err := s.find(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	front, back, err := s.sanitizeSides(in)
	if err != nil {
		return nil, err
	}

	card.Front = front
	card.Back = back
	card.DisciplineID = in.DisciplineID
	card.UpdatedAt = s.now()

	if err := s.cards.Update(ctx, card); err != nil {
		return nil, fmt.Errorf("フラッシュカードの更新に失敗しました: %w", err)
	}
	return card, nil
}

// Review は復習結果を記録する。
func (s *Service) Review(ctx context.Context, userID, id string, correct bool) (*model.Flashcard, error) {
	card, err := s.cards.RecordReview(ctx, userID, id, correct, s.now())
	if err != nil {
		return nil, fmt.Errorf("復習結果の記録に失敗しました: %w", err)
	}
	if card == nil {
		return nil, model.NewFlashcardNotFoundError(id)
	}
	return card, nil
}

// Delete はカードを論理削除する。
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	deleted, err := s.cards.SoftDelete(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("フラッシュカードの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewFlashcardNotFoundError(id)
	}
	return nil
}

func (s *Service) find(ctx context.Context, userID, id string) (*model.Flashcard, error) {
	card, err := s.cards.FindByID(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("フラッシュカードの取得に失敗しました: %w", err)
	}
	if card == nil {
		return nil, model.NewFlashcardNotFoundError(id)
	}
	return card, nil
}

// sanitizeSides は表面・裏面をサニタイズし、空でないこと・長さ上限を検証する。
func (s *Service) sanitizeSides(in Input) (string, string, error) {
	front := s.sanitizer.Rich(in.Front)
	back := s.sanitizer.Rich(in.Back)

	if s.sanitizer.Plain(front) == "" || s.sanitizer.Plain(back) == "" {
		return "", "", model.NewValidationError("Preencha a frente e o verso do flashcard.")
	}
	if utf8.RuneCountInString(front) > maxFieldLength || utf8.RuneCountInString(back) > maxFieldLength {
		return "", "", model.NewValidationError("Cada lado do flashcard deve ter no máximo 5000 caracteres.")
	}
	return front, back, nil
}
