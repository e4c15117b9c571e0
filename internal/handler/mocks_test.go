package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/concurseiro/internal/auth"
	"github.com/hitoshi/concurseiro/internal/concurso"
	"github.com/hitoshi/concurseiro/internal/edital"
	"github.com/hitoshi/concurseiro/internal/flashcard"
	"github.com/hitoshi/concurseiro/internal/middleware"
	"github.com/hitoshi/concurseiro/internal/model"
	"github.com/hitoshi/concurseiro/internal/simulado"
)

// --- モック定義 ---

type mockAuthService struct {
	registerFn func(ctx context.Context, in auth.RegisterInput) (*model.Session, *model.User, error)
	loginFn    func(ctx context.Context, email, password string) (*model.Session, *model.User, error)
	logoutFn   func(ctx context.Context, sessionID string) error
	getUserFn  func(ctx context.Context, userID string) (*model.User, error)
}

func (m *mockAuthService) Register(ctx context.Context, in auth.RegisterInput) (*model.Session, *model.User, error) {
	return m.registerFn(ctx, in)
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*model.Session, *model.User, error) {
	return m.loginFn(ctx, email, password)
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) GetUser(ctx context.Context, userID string) (*model.User, error) {
	return m.getUserFn(ctx, userID)
}

type mockConcursoService struct {
	listCategoriesFn  func(ctx context.Context) ([]*model.Category, error)
	listDisciplinesFn func(ctx context.Context, categorySlug string) ([]*model.Discipline, error)
	listFn            func(ctx context.Context, categorySlug string) ([]*model.Concurso, error)
	getBySlugFn       func(ctx context.Context, slug string) (*model.Concurso, error)
	createFn          func(ctx context.Context, in concurso.Input) (*model.Concurso, error)
	updateFn          func(ctx context.Context, id string, in concurso.Input) (*model.Concurso, error)
	deleteFn          func(ctx context.Context, id string) error
}

func (m *mockConcursoService) ListCategories(ctx context.Context) ([]*model.Category, error) {
	return m.listCategoriesFn(ctx)
}

func (m *mockConcursoService) ListDisciplines(ctx context.Context, categorySlug string) ([]*model.Discipline, error) {
	return m.listDisciplinesFn(ctx, categorySlug)
}

func (m *mockConcursoService) List(ctx context.Context, categorySlug string) ([]*model.Concurso, error) {
	return m.listFn(ctx, categorySlug)
}

func (m *mockConcursoService) GetBySlug(ctx context.Context, slug string) (*model.Concurso, error) {
	return m.getBySlugFn(ctx, slug)
}

func (m *mockConcursoService) Create(ctx context.Context, in concurso.Input) (*model.Concurso, error) {
	return m.createFn(ctx, in)
}

func (m *mockConcursoService) Update(ctx context.Context, id string, in concurso.Input) (*model.Concurso, error) {
	return m.updateFn(ctx, id, in)
}

func (m *mockConcursoService) Delete(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}

type mockSimuladoService struct {
	indexFn            func(ctx context.Context, concursoID string) (*simulado.CachedPayload, error)
	metaFn             func(ctx context.Context, concursoID, slug string) (*simulado.CachedPayload, error)
	questionsFn        func(ctx context.Context, concursoID, slug string) (*simulado.CachedPayload, error)
	progressFn         func(ctx context.Context, userID, concursoID, slug string) (*simulado.CachedPayload, error)
	saveProgressFn     func(ctx context.Context, userID, concursoID, slug string, in simulado.ProgressInput) (*simulado.ProgressView, error)
	createFn           func(ctx context.Context, concursoID string, in simulado.CreateInput) (*model.Simulado, error)
	replaceQuestionsFn func(ctx context.Context, simuladoID string, inputs []simulado.QuestionInput) (*model.Simulado, error)
	deleteFn           func(ctx context.Context, simuladoID string) error
}

func (m *mockSimuladoService) Index(ctx context.Context, concursoID string) (*simulado.CachedPayload, error) {
	return m.indexFn(ctx, concursoID)
}

func (m *mockSimuladoService) Meta(ctx context.Context, concursoID, slug string) (*simulado.CachedPayload, error) {
	return m.metaFn(ctx, concursoID, slug)
}

func (m *mockSimuladoService) Questions(ctx context.Context, concursoID, slug string) (*simulado.CachedPayload, error) {
	return m.questionsFn(ctx, concursoID, slug)
}

func (m *mockSimuladoService) Progress(ctx context.Context, userID, concursoID, slug string) (*simulado.CachedPayload, error) {
	return m.progressFn(ctx, userID, concursoID, slug)
}

func (m *mockSimuladoService) SaveProgress(ctx context.Context, userID, concursoID, slug string, in simulado.ProgressInput) (*simulado.ProgressView, error) {
	return m.saveProgressFn(ctx, userID, concursoID, slug, in)
}

func (m *mockSimuladoService) Create(ctx context.Context, concursoID string, in simulado.CreateInput) (*model.Simulado, error) {
	return m.createFn(ctx, concursoID, in)
}

func (m *mockSimuladoService) ReplaceQuestions(ctx context.Context, simuladoID string, inputs []simulado.QuestionInput) (*model.Simulado, error) {
	return m.replaceQuestionsFn(ctx, simuladoID, inputs)
}

func (m *mockSimuladoService) Delete(ctx context.Context, simuladoID string) error {
	return m.deleteFn(ctx, simuladoID)
}

type mockFlashcardService struct {
	listFn   func(ctx context.Context, userID, concursoID string) ([]*model.Flashcard, error)
	createFn func(ctx context.Context, userID string, in flashcard.Input) (*model.Flashcard, error)
	updateFn func(ctx context.Context, userID, id string, in flashcard.Input) (*model.Flashcard, error)
	reviewFn func(ctx context.Context, userID, id string, correct bool) (*model.Flashcard, error)
	deleteFn func(ctx context.Context, userID, id string) error
}

func (m *mockFlashcardService) List(ctx context.Context, userID, concursoID string) ([]*model.Flashcard, error) {
	return m.listFn(ctx, userID, concursoID)
}

func (m *mockFlashcardService) Create(ctx context.Context, userID string, in flashcard.Input) (*model.Flashcard, error) {
	return m.createFn(ctx, userID, in)
}

func (m *mockFlashcardService) Update(ctx context.Context, userID, id string, in flashcard.Input) (*model.Flashcard, error) {
	return m.updateFn(ctx, userID, id, in)
}

func (m *mockFlashcardService) Review(ctx context.Context, userID, id string, correct bool) (*model.Flashcard, error) {
	return m.reviewFn(ctx, userID, id, correct)
}

func (m *mockFlashcardService) Delete(ctx context.Context, userID, id string) error {
	return m.deleteFn(ctx, userID, id)
}

type mockUserService struct {
	withdrawFn func(ctx context.Context, userID, password string) error
}

func (m *mockUserService) Withdraw(ctx context.Context, userID, password string) error {
	return m.withdrawFn(ctx, userID, password)
}

type mockPreferenceService struct {
	getFn            func(ctx context.Context, userID string) (*model.UserPreference, error)
	selectConcursoFn func(ctx context.Context, userID, concursoID string) (*model.UserPreference, error)
}

func (m *mockPreferenceService) Get(ctx context.Context, userID string) (*model.UserPreference, error) {
	return m.getFn(ctx, userID)
}

func (m *mockPreferenceService) SelectConcurso(ctx context.Context, userID, concursoID string) (*model.UserPreference, error) {
	return m.selectConcursoFn(ctx, userID, concursoID)
}

type mockEditalService struct {
	registerFeedFn func(ctx context.Context, in edital.RegisterInput) (*model.EditalFeed, error)
	listFeedsFn    func(ctx context.Context) ([]*model.EditalFeed, error)
	resumeFeedFn   func(ctx context.Context, id string) (*model.EditalFeed, error)
	listRecentFn   func(ctx context.Context, concursoID string, limit int) ([]*model.Edital, error)
}

func (m *mockEditalService) RegisterFeed(ctx context.Context, in edital.RegisterInput) (*model.EditalFeed, error) {
	return m.registerFeedFn(ctx, in)
}

func (m *mockEditalService) ListFeeds(ctx context.Context) ([]*model.EditalFeed, error) {
	return m.listFeedsFn(ctx)
}

func (m *mockEditalService) ResumeFeed(ctx context.Context, id string) (*model.EditalFeed, error) {
	return m.resumeFeedFn(ctx, id)
}

func (m *mockEditalService) ListRecent(ctx context.Context, concursoID string, limit int) ([]*model.Edital, error) {
	return m.listRecentFn(ctx, concursoID, limit)
}

type mockAdminService struct {
	dbUsageFn func(ctx context.Context) (*model.DBUsageReport, error)
}

func (m *mockAdminService) DBUsage(ctx context.Context) (*model.DBUsageReport, error) {
	return m.dbUsageFn(ctx)
}

type recordingMetrics struct {
	conditional []string
}

func (m *recordingMetrics) RecordConditionalResponse(section string, statusCode int) {
	m.conditional = append(m.conditional, section+":"+http.StatusText(statusCode))
}

func (m *recordingMetrics) RecordPayloadCache(string, bool) {}

// --- テストヘルパー ---

// withUser はテスト用にリクエストコンテキストへ認証済みユーザーを注入する。
func withUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUser(r.Context(), userID, model.RoleUser))
}

// withChiURLParams はテスト用にchiのURLパラメータを注入する。
func withChiURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code     string `json:"code"`
		Message  string `json:"message"`
		Category string `json:"category"`
		Action   string `json:"action"`
	} `json:"error"`
}

func parseEnvelope(t *testing.T, w *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var env testEnvelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	return env
}

func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Errorf("status = %d, want %d", w.Code, status)
	}
	env := parseEnvelope(t, w)
	if env.Success || env.Error == nil || env.Error.Code != code {
		t.Errorf("error envelope = %+v, want code %s", env, code)
	}
}
