package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/concurseiro/internal/httpcache"
	"github.com/hitoshi/concurseiro/internal/httpjson"
	"github.com/hitoshi/concurseiro/internal/metrics"
	"github.com/hitoshi/concurseiro/internal/model"
	"github.com/hitoshi/concurseiro/internal/simulado"
)

// SimuladoServiceInterface は simulado ハンドラーが必要とするサービスインターフェース。
type SimuladoServiceInterface interface {
	Index(ctx context.Context, concursoID string) (*simulado.CachedPayload, error)
	Meta(ctx context.Context, concursoID, slug string) (*simulado.CachedPayload, error)
	Questions(ctx context.Context, concursoID, slug string) (*simulado.CachedPayload, error)
	Progress(ctx context.Context, userID, concursoID, slug string) (*simulado.CachedPayload, error)
	SaveProgress(ctx context.Context, userID, concursoID, slug string, in simulado.ProgressInput) (*simulado.ProgressView, error)
	Create(ctx context.Context, concursoID string, in simulado.CreateInput) (*model.Simulado, error)
	ReplaceQuestions(ctx context.Context, simuladoID string, inputs []simulado.QuestionInput) (*model.Simulado, error)
	Delete(ctx context.Context, simuladoID string) error
}

// SimuladoHandler は simulado のHTTPハンドラー。
// 公開GETはレンダリング済み本文から検証子を計算し、条件付きGETに応答する。
type SimuladoHandler struct {
	service SimuladoServiceInterface
	metrics metrics.SimuladoMetrics
}

// NewSimuladoHandler はSimuladoHandlerを生成する。mがnilの場合はメトリクスを記録しない。
func NewSimuladoHandler(service SimuladoServiceInterface, m metrics.SimuladoMetrics) *SimuladoHandler {
	if m == nil {
		m = metrics.Nop{}
	}
	return &SimuladoHandler{service: service, metrics: m}
}

type createSimuladoRequest struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	DurationMinutes int    `json:"duration_minutes"`
	Published       bool   `json:"published"`
}

type questionRequest struct {
	Statement          string              `json:"statement"`
	Alternatives       []model.Alternative `json:"alternatives"`
	CorrectAlternative string              `json:"correct_alternative"`
	Explanation        string              `json:"explanation"`
	DisciplineID       string              `json:"discipline_id"`
}

type replaceQuestionsRequest struct {
	Questions []questionRequest `json:"questions"`
}

// simuladoResponse は管理操作の結果として返す simulado。
type simuladoResponse struct {
	ID              string    `json:"id"`
	ConcursoID      string    `json:"concurso_id"`
	Slug            string    `json:"slug"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	DurationMinutes int       `json:"duration_minutes"`
	QuestionCount   int       `json:"question_count"`
	Published       bool      `json:"published"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toSimuladoResponse(s *model.Simulado) simuladoResponse {
	return simuladoResponse{
		ID:              s.ID,
		ConcursoID:      s.ConcursoID,
		Slug:            s.Slug,
		Title:           s.Title,
		Description:     s.Description,
		DurationMinutes: s.DurationMinutes,
		QuestionCount:   s.QuestionCount,
		Published:       s.Published,
		UpdatedAt:       s.UpdatedAt,
	}
}

// serve はレンダリング済み本文を条件付きGETとして返す。
func (h *SimuladoHandler) serve(w http.ResponseWriter, r *http.Request, section string, p *simulado.CachedPayload, err error) {
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	status := httpcache.Serve(w, r, p.Body, p.LastModified)
	h.metrics.RecordConditionalResponse(section, status)
}

// Index は concurso の公開済み simulado 一覧を返す。
// GET /api/concursos/{concurso}/simulados
func (h *SimuladoHandler) Index(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Index(r.Context(), chi.URLParam(r, "concurso"))
	h.serve(w, r, simulado.SectionIndex, p, err)
}

// Meta は simulado のメタデータを返す。
// GET /api/concursos/{concurso}/simulados/{slug}
func (h *SimuladoHandler) Meta(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Meta(r.Context(), chi.URLParam(r, "concurso"), chi.URLParam(r, "slug"))
	h.serve(w, r, simulado.SectionMeta, p, err)
}

// Questions は設問一覧を返す。
// GET /api/concursos/{concurso}/simulados/{slug}/questions
func (h *SimuladoHandler) Questions(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Questions(r.Context(), chi.URLParam(r, "concurso"), chi.URLParam(r, "slug"))
	h.serve(w, r, simulado.SectionQuestions, p, err)
}

// GetProgress はユーザーの解答状況を返す。
// GET /api/concursos/{concurso}/simulados/{slug}/progress
func (h *SimuladoHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	p, err := h.service.Progress(r.Context(), userID, chi.URLParam(r, "concurso"), chi.URLParam(r, "slug"))
	h.serve(w, r, simulado.SectionProgress, p, err)
}

// SaveProgress は解答状況を保存する。finish=true の場合は採点して確定する。
// PUT /api/concursos/{concurso}/simulados/{slug}/progress
func (h *SimuladoHandler) SaveProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var in simulado.ProgressInput
	if !decodeJSON(w, r, &in) {
		return
	}

	view, err := h.service.SaveProgress(r.Context(), userID, chi.URLParam(r, "concurso"), chi.URLParam(r, "slug"), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	httpjson.WriteSuccess(w, http.StatusOK, view)
}

// Create は simulado を作成する。
// POST /api/admin/concursos/{id}/simulados
func (h *SimuladoHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSimuladoRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	s, err := h.service.Create(r.Context(), chi.URLParam(r, "id"), simulado.CreateInput{
		Title:           req.Title,
		Description:     req.Description,
		DurationMinutes: req.DurationMinutes,
		Published:       req.Published,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	httpjson.WriteSuccess(w, http.StatusCreated, toSimuladoResponse(s))
}

// ReplaceQuestions は設問を一括で差し替える。
// PUT /api/admin/simulados/{id}/questions
func (h *SimuladoHandler) ReplaceQuestions(w http.ResponseWriter, r *http.Request) {
	var req replaceQuestionsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	inputs := make([]simulado.QuestionInput, 0, len(req.Questions))
	for _, q := range req.Questions {
		inputs = append(inputs, simulado.QuestionInput{
			Statement:          q.Statement,
			Alternatives:       q.Alternatives,
			CorrectAlternative: q.CorrectAlternative,
			Explanation:        q.Explanation,
			DisciplineID:       q.DisciplineID,
		})
	}

	s, err := h.service.ReplaceQuestions(r.Context(), chi.URLParam(r, "id"), inputs)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	httpjson.WriteSuccess(w, http.StatusOK, toSimuladoResponse(s))
}

// Delete は simulado を論理削除する。
// DELETE /api/admin/simulados/{id}
func (h *SimuladoHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	httpjson.WriteNoContent(w)
}
