// Package simulado は模擬試験の公開API（一覧・詳細・設問・解答状況）と管理操作を提供する。
// 公開レスポンスはレンダリング済みJSONとしてキャッシュし、
// ハンドラはその本文からETagを計算して条件付きGETに応答する。
package simulado

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

	"github.com/hitoshi/concurseiro/internal/httpjson"
	"github.com/hitoshi/concurseiro/internal/metrics"
	"github.com/hitoshi/concurseiro/internal/model"
	"github.com/hitoshi/concurseiro/internal/repository"
	"github.com/hitoshi/concurseiro/internal/security"
)

// 設問の入力制約
const (
	minAlternatives    = 2
	maxAlternatives    = 5
	maxStatementLength = 20000
	maxTitleLength     = 200
)

var validAlternativeKeys = map[string]bool{"A": true, "B": true, "C": true, "D": true, "E": true}

// ServiceConfig は simulado サービスの設定。
type ServiceConfig struct {
	// PayloadTTL はレンダリング済みレスポンスの保持期間。
	PayloadTTL time.Duration
}

// CreateInput は simulado 作成入力。
type CreateInput struct {
	Title           string
	Description     string
	DurationMinutes int
	Published       bool
}

// QuestionInput は設問の差し替え入力。出題順は配列順となる。
type QuestionInput struct {
	Statement          string
	Alternatives       []model.Alternative
	CorrectAlternative string
	Explanation        string
	DisciplineID       string
}

// Service は simulado のサービス層。
type Service struct {
	simulados repository.SimuladoRepository
	progress  repository.ProgressRepository
	concursos repository.ConcursoRepository
	sanitizer security.HTMLSanitizer
	cache     PayloadCache
	metrics   metrics.SimuladoMetrics
	config    ServiceConfig
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// cacheがnilの場合はインメモリキャッシュ、mがnilの場合はメトリクスを記録しない。
func NewService(
	simulados repository.SimuladoRepository,
	progress repository.ProgressRepository,
	concursos repository.ConcursoRepository,
	sanitizer security.HTMLSanitizer,
	cache PayloadCache,
	m metrics.SimuladoMetrics,
	config ServiceConfig,
) *Service {
	if cache == nil {
		cache = NewMemoryPayloadCache()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if config.PayloadTTL <= 0 {
		config.PayloadTTL = 5 * time.Minute
	}
	return &Service{
		simulados: simulados,
		progress:  progress,
		concursos: concursos,
		sanitizer: sanitizer,
		cache:     cache,
		metrics:   m,
		config:    config,
		now:       time.Now,
	}
}

// Index は concurso の公開済み simulado 一覧をレンダリングして返す。
// Last-Modifiedは一覧中の最新のupdated_at。
func (s *Service) Index(ctx context.Context, concursoID string) (*CachedPayload, error) {
	return s.render(ctx, SectionIndex, concursoID, "", func() (any, time.Time, error) {
		c, err := s.concursos.FindByID(ctx, concursoID)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("concursoの取得に失敗しました: %w", err)
		}
		if c == nil {
			return nil, time.Time{}, model.NewConcursoNotFoundError(concursoID)
		}

		sims, err := s.simulados.ListByConcurso(ctx, concursoID, true)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("simulado一覧の取得に失敗しました: %w", err)
		}

		idx := &Index{ConcursoID: concursoID, Simulados: make([]IndexEntry, 0, len(sims))}
		var lastMod time.Time
		for _, sim := range sims {
			idx.Simulados = append(idx.Simulados, newIndexEntry(sim))
			lastMod = latest(lastMod, sim.UpdatedAt)
		}
		if lastMod.IsZero() {
			lastMod = c.UpdatedAt
		}
		return idx, lastMod, nil
	})
}

// Meta は simulado のメタデータをレンダリングして返す。
func (s *Service) Meta(ctx context.Context, concursoID, slug string) (*CachedPayload, error) {
	return s.render(ctx, SectionMeta, concursoID, slug, func() (any, time.Time, error) {
		sim, err := s.findPublished(ctx, concursoID, slug)
		if err != nil {
			return nil, time.Time{}, err
		}
		return newMeta(sim), sim.UpdatedAt, nil
	})
}

// Questions は設問一覧（正答を除く）をレンダリングして返す。
// Last-Modifiedは simulado と設問のupdated_atの最大値。
func (s *Service) Questions(ctx context.Context, concursoID, slug string) (*CachedPayload, error) {
	return s.render(ctx, SectionQuestions, concursoID, slug, func() (any, time.Time, error) {
		sim, err := s.findPublished(ctx, concursoID, slug)
		if err != nil {
			return nil, time.Time{}, err
		}
		questions, err := s.simulados.ListQuestions(ctx, sim.ID)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("設問一覧の取得に失敗しました: %w", err)
		}

		out := &Questions{SimuladoID: sim.ID, Questions: make([]QuestionView, 0, len(questions))}
		lastMod := sim.UpdatedAt
		for _, q := range questions {
			out.Questions = append(out.Questions, QuestionView{
				ID:           q.ID,
				Position:     q.Position,
				Statement:    q.Statement,
				Alternatives: q.Alternatives,
				DisciplineID: q.DisciplineID,
			})
			lastMod = latest(lastMod, q.UpdatedAt)
		}
		return out, lastMod, nil
	})
}

// Progress はユーザーの解答状況をレンダリングして返す。
// ユーザーごとに異なるためキャッシュしない。未着手の場合は空の状況を返す。
func (s *Service) Progress(ctx context.Context, userID, concursoID, slug string) (*CachedPayload, error) {
	view, err := s.GetProgress(ctx, userID, concursoID, slug)
	if err != nil {
		return nil, err
	}
	body, err := httpjson.MarshalSuccess(view)
	if err != nil {
		return nil, fmt.Errorf("解答状況のエンコードに失敗しました: %w", err)
	}
	return &CachedPayload{Body: body, LastModified: view.UpdatedAt}, nil
}

// GetProgress はユーザーの解答状況を返す。
func (s *Service) GetProgress(ctx context.Context, userID, concursoID, slug string) (*ProgressView, error) {
	sim, err := s.findPublished(ctx, concursoID, slug)
	if err != nil {
		return nil, err
	}

	p, err := s.progress.Find(ctx, userID, sim.ID)
	if err != nil {
		return nil, fmt.Errorf("解答状況の取得に失敗しました: %w", err)
	}
	if p == nil {
		return &ProgressView{SimuladoID: sim.ID, Answers: map[string]string{}}, nil
	}

	var questions []model.Question
	if p.IsFinished() {
		questions, err = s.simulados.ListQuestions(ctx, sim.ID)
		if err != nil {
			return nil, fmt.Errorf("設問一覧の取得に失敗しました: %w", err)
		}
	}
	return newProgressView(p, questions), nil
}

// SaveProgress は解答状況を保存する。
// 確定済みの解答は変更できない。Finishがtrueの場合は採点して確定する。
func (s *Service) SaveProgress(ctx context.Context, userID, concursoID, slug string, in ProgressInput) (*ProgressView, error) {
	sim, err := s.findPublished(ctx, concursoID, slug)
	if err != nil {
		return nil, err
	}

	current, err := s.progress.Find(ctx, userID, sim.ID)
	if err != nil {
		return nil, fmt.Errorf("解答状況の取得に失敗しました: %w", err)
	}
	if current != nil && current.IsFinished() {
		return nil, model.NewSimuladoFinishedError()
	}

	questions, err := s.simulados.ListQuestions(ctx, sim.ID)
	if err != nil {
		return nil, fmt.Errorf("設問一覧の取得に失敗しました: %w", err)
	}
	if err := validateAnswers(questions, in); err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	p := &model.Progress{
		UserID:          userID,
		SimuladoID:      sim.ID,
		Answers:         in.Answers,
		CurrentPosition: in.CurrentPosition,
		UpdatedAt:       now,
	}
	if p.Answers == nil {
		p.Answers = map[string]string{}
	}
	if in.Finish {
		score := model.ComputeScore(questions, p.Answers)
		p.Score = &score
		p.FinishedAt = &now
	}

	if err := s.progress.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("解答状況の保存に失敗しました: %w", err)
	}

	if in.Finish {
		slog.Info("simulado finished",
			slog.String("user_id", userID),
			slog.String("simulado_id", sim.ID),
			slog.Int("score", *p.Score),
		)
		return newProgressView(p, questions), nil
	}
	return newProgressView(p, nil), nil
}

func validateAnswers(questions []model.Question, in ProgressInput) error {
	byID := make(map[string]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	for questionID, key := range in.Answers {
		q, ok := byID[questionID]
		if !ok {
			return model.NewValidationError(fmt.Sprintf("Questão inexistente neste simulado: %s", questionID))
		}
		if !hasAlternative(q, key) {
			return model.NewValidationError(fmt.Sprintf("Alternativa inválida para a questão %d.", q.Position))
		}
	}
	if in.CurrentPosition < 0 || in.CurrentPosition > len(questions) {
		return model.NewValidationError("Posição atual inválida.")
	}
	return nil
}

func hasAlternative(q model.Question, key string) bool {
	for _, a := range q.Alternatives {
		if a.Key == key {
			return true
		}
	}
	return false
}

// Create は concurso に simulado を作成する。スラッグはタイトルから生成する。
func (s *Service) Create(ctx context.Context, concursoID string, in CreateInput) (*model.Simulado, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, model.NewValidationError("Informe o título do simulado.")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return nil, model.NewValidationError(fmt.Sprintf("O título deve ter no máximo %d caracteres.", maxTitleLength))
	}
	if in.DurationMinutes <= 0 {
		return nil, model.NewValidationError("A duração deve ser maior que zero.")
	}

	c, err := s.concursos.FindByID(ctx, concursoID)
	if err != nil {
		return nil, fmt.Errorf("concursoの取得に失敗しました: %w", err)
	}
	if c == nil {
		return nil, model.NewConcursoNotFoundError(concursoID)
	}

	sl := slug.Make(title)
	if sl == "" {
		return nil, model.NewValidationError("O título precisa conter letras ou números.")
	}

	now := s.now().UTC()
	sim := &model.Simulado{
		ID:              uuid.New().String(),
		ConcursoID:      concursoID,
		Slug:            sl,
		Title:           title,
		Description:     s.sanitizer.Plain(in.Description),
		DurationMinutes: in.DurationMinutes,
		Published:       in.Published,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.simulados.Create(ctx, sim); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewSlugConflictError(sl)
		}
		return nil, fmt.Errorf("simuladoの作成に失敗しました: %w", err)
	}

	s.invalidate(ctx, concursoID)
	slog.Info("simulado created", slog.String("simulado_id", sim.ID), slog.String("slug", sim.Slug))
	return sim, nil
}

// ReplaceQuestions は simulado の設問を一括で差し替える。
// 設問文・選択肢・解説のHTMLはサニタイズして保存する。
func (s *Service) ReplaceQuestions(ctx context.Context, simuladoID string, inputs []QuestionInput) (*model.Simulado, error) {
	sim, err := s.simulados.FindByID(ctx, simuladoID)
	if err != nil {
		return nil, fmt.Errorf("simuladoの取得に失敗しました: %w", err)
	}
	if sim == nil {
		return nil, model.NewSimuladoNotFoundError(simuladoID)
	}

	questions := make([]model.Question, 0, len(inputs))
	for i, in := range inputs {
		q, err := s.buildQuestion(i+1, in)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}

	if err := s.simulados.ReplaceQuestions(ctx, simuladoID, questions); err != nil {
		return nil, fmt.Errorf("設問の差し替えに失敗しました: %w", err)
	}

	s.invalidate(ctx, sim.ConcursoID)
	slog.Info("simulado questions replaced",
		slog.String("simulado_id", simuladoID),
		slog.Int("question_count", len(questions)),
	)

	updated, err := s.simulados.FindByID(ctx, simuladoID)
	if err != nil {
		return nil, fmt.Errorf("simuladoの取得に失敗しました: %w", err)
	}
	if updated == nil {
		return nil, model.NewSimuladoNotFoundError(simuladoID)
	}
	return updated, nil
}

func (s *Service) buildQuestion(position int, in QuestionInput) (model.Question, error) {
	statement := s.sanitizer.Rich(in.Statement)
	if strings.TrimSpace(s.sanitizer.Plain(statement)) == "" {
		return model.Question{}, model.NewValidationError(fmt.Sprintf("Questão %d: informe o enunciado.", position))
	}
	if utf8.RuneCountInString(statement) > maxStatementLength {
		return model.Question{}, model.NewValidationError(fmt.Sprintf("Questão %d: enunciado muito longo.", position))
	}
	if len(in.Alternatives) < minAlternatives || len(in.Alternatives) > maxAlternatives {
		return model.Question{}, model.NewValidationError(
			fmt.Sprintf("Questão %d: informe de %d a %d alternativas.", position, minAlternatives, maxAlternatives))
	}

	seen := make(map[string]bool, len(in.Alternatives))
	alternatives := make([]model.Alternative, 0, len(in.Alternatives))
	for _, a := range in.Alternatives {
		key := strings.ToUpper(strings.TrimSpace(a.Key))
		if !validAlternativeKeys[key] || seen[key] {
			return model.Question{}, model.NewValidationError(
				fmt.Sprintf("Questão %d: alternativa inválida ou repetida (%s).", position, a.Key))
		}
		seen[key] = true
		text := s.sanitizer.Rich(a.Text)
		if strings.TrimSpace(s.sanitizer.Plain(text)) == "" {
			return model.Question{}, model.NewValidationError(
				fmt.Sprintf("Questão %d: a alternativa %s está vazia.", position, key))
		}
		alternatives = append(alternatives, model.Alternative{Key: key, Text: text})
	}

	correct := strings.ToUpper(strings.TrimSpace(in.CorrectAlternative))
	if !seen[correct] {
		return model.Question{}, model.NewValidationError(
			fmt.Sprintf("Questão %d: a alternativa correta não está entre as opções.", position))
	}

	return model.Question{
		Position:           position,
		Statement:          statement,
		Alternatives:       alternatives,
		CorrectAlternative: correct,
		Explanation:        s.sanitizer.Rich(in.Explanation),
		DisciplineID:       strings.TrimSpace(in.DisciplineID),
	}, nil
}

// Delete は simulado を論理削除する。
func (s *Service) Delete(ctx context.Context, simuladoID string) error {
	sim, err := s.simulados.FindByID(ctx, simuladoID)
	if err != nil {
		return fmt.Errorf("simuladoの取得に失敗しました: %w", err)
	}
	if sim == nil {
		return model.NewSimuladoNotFoundError(simuladoID)
	}
	if err := s.simulados.SoftDelete(ctx, simuladoID); err != nil {
		return fmt.Errorf("simuladoの削除に失敗しました: %w", err)
	}

	s.invalidate(ctx, sim.ConcursoID)
	slog.Info("simulado deleted", slog.String("simulado_id", simuladoID))
	return nil
}

// InvalidateConcurso は concurso のレンダリング済みレスポンスを破棄する。
// 変更通知の受信時に呼び出される。
func (s *Service) InvalidateConcurso(ctx context.Context, concursoID string) error {
	return s.cache.InvalidateConcurso(ctx, concursoID)
}

// InvalidateSimulado は simulado が属する concurso のキャッシュを破棄する。
// 削除済みなどで所属が解決できない場合は何もしない。
func (s *Service) InvalidateSimulado(ctx context.Context, simuladoID string) error {
	sim, err := s.simulados.FindByID(ctx, simuladoID)
	if err != nil {
		return fmt.Errorf("simuladoの取得に失敗しました: %w", err)
	}
	if sim == nil {
		return nil
	}
	return s.cache.InvalidateConcurso(ctx, sim.ConcursoID)
}

func (s *Service) invalidate(ctx context.Context, concursoID string) {
	if err := s.cache.InvalidateConcurso(ctx, concursoID); err != nil {
		slog.Warn("failed to invalidate simulado payload cache",
			slog.String("concurso_id", concursoID),
			slog.String("error", err.Error()),
		)
	}
}

// findPublished は公開済みの simulado を取得する。非公開は存在しないものとして扱う。
func (s *Service) findPublished(ctx context.Context, concursoID, slug string) (*model.Simulado, error) {
	sim, err := s.simulados.FindBySlug(ctx, concursoID, slug)
	if err != nil {
		return nil, fmt.Errorf("simuladoの取得に失敗しました: %w", err)
	}
	if sim == nil || !sim.Published {
		return nil, model.NewSimuladoNotFoundError(slug)
	}
	return sim, nil
}

// render はキャッシュ済みのレスポンスを返し、なければbuildで生成して保存する。
// キャッシュ障害時はデータベースから直接生成する。
// 生成中に concurso が破棄された場合、生成結果は返すが保存しない。
func (s *Service) render(
	ctx context.Context,
	section, concursoID, slug string,
	build func() (any, time.Time, error),
) (*CachedPayload, error) {
	key := PayloadKey(section, concursoID, slug)

	generation, err := s.cache.Generation(ctx, concursoID)
	if err != nil {
		slog.Warn("failed to read simulado payload cache generation",
			slog.String("concurso_id", concursoID),
			slog.String("error", err.Error()),
		)
		generation = -1
	}

	cached, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("failed to read simulado payload cache",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	if cached != nil {
		s.metrics.RecordPayloadCache(section, true)
		return cached, nil
	}
	s.metrics.RecordPayloadCache(section, false)

	data, lastMod, err := build()
	if err != nil {
		return nil, err
	}
	body, err := httpjson.MarshalSuccess(data)
	if err != nil {
		return nil, fmt.Errorf("レスポンスのエンコードに失敗しました: %w", err)
	}

	p := &CachedPayload{Body: body, LastModified: lastMod.UTC().Truncate(time.Second)}
	if generation < 0 {
		return p, nil
	}
	stored, err := s.cache.Set(ctx, key, concursoID, generation, p, s.config.PayloadTTL)
	if err != nil {
		slog.Warn("failed to write simulado payload cache",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	} else if !stored {
		slog.Debug("simulado payload discarded after concurrent invalidation", slog.String("key", key))
	}
	return p, nil
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
