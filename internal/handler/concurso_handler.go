package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/concurseiro/internal/concurso"
	"github.com/hitoshi/concurseiro/internal/httpjson"
	"github.com/hitoshi/concurseiro/internal/model"
)

// ConcursoServiceInterface は concurso ハンドラーが必要とするサービスインターフェース。
type ConcursoServiceInterface interface {
	ListCategories(ctx context.Context) ([]*model.Category, error)
	ListDisciplines(ctx context.Context, categorySlug string) ([]*model.Discipline, error)
	List(ctx context.Context, categorySlug string) ([]*model.Concurso, error)
	GetBySlug(ctx context.Context, slug string) (*model.Concurso, error)
	Create(ctx context.Context, in concurso.Input) (*model.Concurso, error)
	Update(ctx context.Context, id string, in concurso.Input) (*model.Concurso, error)
	Delete(ctx context.Context, id string) error
}

// ConcursoHandler は concurso・カテゴリ・科目のHTTPハンドラー。
type ConcursoHandler struct {
	service ConcursoServiceInterface
}

// NewConcursoHandler はConcursoHandlerを生成する。
func NewConcursoHandler(service ConcursoServiceInterface) *ConcursoHandler {
	return &ConcursoHandler{service: service}
}

type categoryResponse struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

type disciplineResponse struct {
	ID         string `json:"id"`
	Slug       string `json:"slug"`
	Name       string `json:"name"`
	CategoryID string `json:"category_id"`
}

type concursoResponse struct {
	ID         string               `json:"id"`
	Slug       string               `json:"slug"`
	Name       string               `json:"name"`
	Banca      string               `json:"banca"`
	Organ      string               `json:"organ"`
	Status     model.ConcursoStatus `json:"status"`
	ExamDate   string               `json:"exam_date,omitempty"`
	CategoryID string               `json:"category_id,omitempty"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// concursoRequest は concurso の作成・更新リクエスト。exam_date は YYYY-MM-DD。
type concursoRequest struct {
	Name     string `json:"name"`
	Banca    string `json:"banca"`
	Organ    string `json:"organ"`
	Status   string `json:"status"`
	ExamDate string `json:"exam_date"`
	Category string `json:"category"`
}

func (req concursoRequest) toInput() (concurso.Input, error) {
	examDate, err := parseDate(req.ExamDate)
	if err != nil {
		return concurso.Input{}, err
	}
	return concurso.Input{
		Name:         req.Name,
		Banca:        req.Banca,
		Organ:        req.Organ,
		Status:       model.ConcursoStatus(req.Status),
		ExamDate:     examDate,
		CategorySlug: req.Category,
	}, nil
}

func toConcursoResponse(c *model.Concurso) concursoResponse {
	return concursoResponse{
		ID:         c.ID,
		Slug:       c.Slug,
		Name:       c.Name,
		Banca:      c.Banca,
		Organ:      c.Organ,
		Status:     c.Status,
		ExamDate:   formatDate(c.ExamDate),
		CategoryID: c.CategoryID,
		UpdatedAt:  c.UpdatedAt,
	}
}

// ListCategories はカテゴリ一覧を返す。
// GET /api/categories
func (h *ConcursoHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.service.ListCategories(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	out := make([]categoryResponse, 0, len(cats))
	for _, c := range cats {
		out = append(out, categoryResponse{ID: c.ID, Slug: c.Slug, Name: c.Name})
	}
	httpjson.WriteSuccess(w, http.StatusOK, out)
}

// ListDisciplines はカテゴリの科目一覧を返す。
// GET /api/categories/{slug}/disciplines
func (h *ConcursoHandler) ListDisciplines(w http.ResponseWriter, r *http.Request) {
	ds, err := h.service.ListDisciplines(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	out := make([]disciplineResponse, 0, len(ds))
	for _, d := range ds {
		out = append(out, disciplineResponse{ID: d.ID, Slug: d.Slug, Name: d.Name, CategoryID: d.CategoryID})
	}
	httpjson.WriteSuccess(w, http.StatusOK, out)
}

// List は concurso 一覧を返す。
// GET /api/concursos?category=
func (h *ConcursoHandler) List(w http.ResponseWriter, r *http.Request) {
	cs, err := h.service.List(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	out := make([]concursoResponse, 0, len(cs))
	for _, c := range cs {
		out = append(out, toConcursoResponse(c))
	}
	httpjson.WriteSuccess(w, http.StatusOK, out)
}

// Get はスラッグで concurso を返す。
// GET /api/concursos/{concurso}
func (h *ConcursoHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.GetBySlug(r.Context(), chi.URLParam(r, "concurso"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	httpjson.WriteSuccess(w, http.StatusOK, toConcursoResponse(c))
}

// Create は concurso を作成する。
// POST /api/admin/concursos
func (h *ConcursoHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req concursoRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	c, err := h.service.Create(r.Context(), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	httpjson.WriteSuccess(w, http.StatusCreated, toConcursoResponse(c))
}

// Update は concurso を更新する。
// PATCH /api/admin/concursos/{id}
func (h *ConcursoHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req concursoRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	c, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	httpjson.WriteSuccess(w, http.StatusOK, toConcursoResponse(c))
}

// Delete は concurso を論理削除する。
// DELETE /api/admin/concursos/{id}
func (h *ConcursoHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	httpjson.WriteNoContent(w)
}
