// Package concurso は concurso・カテゴリ・科目の閲覧と管理のドメインロジックを提供する。
package concurso

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/hitoshi/concurseiro/internal/model"
	"github.com/hitoshi/concurseiro/internal/repository"
)

const maxNameLength = 200

// Input は concurso の作成・更新入力を表す。
// CategorySlugが空の場合はカテゴリなしとする。
type Input struct {
	Name         string
	Banca        string
	Organ        string
	Status       model.ConcursoStatus
	ExamDate     *time.Time
	CategorySlug string
}

// Service は concurso のサービス層。
type Service struct {
	repo repository.ConcursoRepository
	now  func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.ConcursoRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// ListCategories は全カテゴリを返す。
func (s *Service) ListCategories(ctx context.Context) ([]*model.Category, error) {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("カテゴリ一覧の取得に失敗しました: %w", err)
	}
	return categories, nil
}

// ListDisciplines はカテゴリに属する科目を返す。
func (s *Service) ListDisciplines(ctx context.Context, categorySlug string) ([]*model.Discipline, error) {
	category, err := s.findCategory(ctx, categorySlug)
	if err != nil {
		return nil, err
	}
	disciplines, err := s.repo.ListDisciplines(ctx, category.ID)
	if err != nil {
		return nil, fmt.Errorf("科目一覧の取得に失敗しました: %w", err)
	}
	return disciplines, nil
}

// List は concurso 一覧を返す。categorySlugが指定された場合は存在を確認して絞り込む。
func (s *Service) List(ctx context.Context, categorySlug string) ([]*model.Concurso, error) {
	if categorySlug != "" {
		if _, err := s.findCategory(ctx, categorySlug); err != nil {
			return nil, err
		}
	}
	concursos, err := s.repo.List(ctx, categorySlug)
	if err != nil {
		return nil, fmt.Errorf("concurso一覧の取得に失敗しました: %w", err)
	}
	return concursos, nil
}

// GetBySlug はスラッグで concurso を取得する。
func (s *Service) GetBySlug(ctx context.Context, concursoSlug string) (*model.Concurso, error) {
	c, err := s.repo.FindBySlug(ctx, concursoSlug)
	if err != nil {
		return nil, fmt.Errorf("concursoの取得に失敗しました: %w", err)
	}
	if c == nil {
		return nil, model.NewConcursoNotFoundError(concursoSlug)
	}
	return c, nil
}

// GetByID はIDで concurso を取得する。
func (s *Service) GetByID(ctx context.Context, id string) (*model.Concurso, error) {
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("concursoの取得に失敗しました: %w", err)
	}
	if c == nil {
		return nil, model.NewConcursoNotFoundError(id)
	}
	return c, nil
}

// Create は concurso を作成する。スラッグは名前から生成する。
func (s *Service) Create(ctx context.Context, in Input) (*model.Concurso, error) {
	in, err := s.normalize(in)
	if err != nil {
		return nil, err
	}
	categoryID, err := s.resolveCategoryID(ctx, in.CategorySlug)
	if err != nil {
		return nil, err
	}

	now := s.now()
	c := &model.Concurso{
		ID:         uuid.New().String(),
		Slug:       slug.Make(in.Name),
		Name:       in.Name,
		Banca:      in.Banca,
		Organ:      in.Organ,
		Status:     in.Status,
		ExamDate:   in.ExamDate,
		CategoryID: categoryID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if c.Slug == "" {
		return nil, model.NewValidationError("O nome precisa conter letras ou números.")
	}

	if err := s.repo.Create(ctx, c); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewSlugConflictError(c.Slug)
		}
		return nil, fmt.Errorf("concursoの作成に失敗しました: %w", err)
	}

	slog.Info("concurso created", slog.String("concurso_id", c.ID), slog.String("slug", c.Slug))
	return c, nil
}

// Update は concurso を更新する。名前が変わった場合はスラッグも再生成する。
func (s *Service) Update(ctx context.Context, id string, in Input) (*model.Concurso, error) {
	c, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	in, err = s.normalize(in)
	if err != nil {
		return nil, err
	}
	categoryID, err := s.resolveCategoryID(ctx, in.CategorySlug)
	if err != nil {
		return nil, err
	}

	if in.Name != c.Name {
		c.Slug = slug.Make(in.Name)
		if c.Slug == "" {
			return nil, model.NewValidationError("O nome precisa conter letras ou números.")
		}
	}
	c.Name = in.Name
	c.Banca = in.Banca
	c.Organ = in.Organ
	c.Status = in.Status
	c.ExamDate = in.ExamDate
	c.CategoryID = categoryID
	c.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, c); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewSlugConflictError(c.Slug)
		}
		return nil, fmt.Errorf("concursoの更新に失敗しました: %w", err)
	}
	return c, nil
}

// Delete は concurso を論理削除する。
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return fmt.Errorf("concursoの削除に失敗しました: %w", err)
	}
	slog.Info("concurso deleted", slog.String("concurso_id", id))
	return nil
}

// normalize は入力をトリムし検証する。ステータス未指定時は previsto とする。
func (s *Service) normalize(in Input) (Input, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Banca = strings.TrimSpace(in.Banca)
	in.Organ = strings.TrimSpace(in.Organ)
	in.CategorySlug = strings.TrimSpace(in.CategorySlug)

	if in.Name == "" {
		return in, model.NewValidationError("Informe o nome do concurso.")
	}
	if utf8.RuneCountInString(in.Name) > maxNameLength {
		return in, model.NewValidationError("O nome deve ter no máximo 200 caracteres.")
	}
	if in.Status == "" {
		in.Status = model.ConcursoStatusPrevisto
	}
	if !in.Status.IsValid() {
		return in, model.NewValidationError("Status inválido. Use previsto, aberto ou encerrado.")
	}
	return in, nil
}

func (s *Service) resolveCategoryID(ctx context.Context, categorySlug string) (string, error) {
	if categorySlug == "" {
		return "", nil
	}
	category, err := s.findCategory(ctx, categorySlug)
	if err != nil {
		return "", err
	}
	return category.ID, nil
}

func (s *Service) findCategory(ctx context.Context, categorySlug string) (*model.Category, error) {
	category, err := s.repo.FindCategoryBySlug(ctx, categorySlug)
	if err != nil {
		return nil, fmt.Errorf("カテゴリの取得に失敗しました: %w", err)
	}
	if category == nil {
		return nil, model.NewCategoryNotFoundError(categorySlug)
	}
	return category, nil
}
