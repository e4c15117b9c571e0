package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/concurseiro/internal/flashcard"
	"github.com/hitoshi/concurseiro/internal/httpjson"
	"github.com/hitoshi/concurseiro/internal/model"
)

// FlashcardServiceInterface はフラッシュカードハンドラーが必要とするサービスインターフェース。
type FlashcardServiceInterface interface {
	List(ctx context.Context, userID, concursoID string) ([]*model.Flashcard, error)
	Create(ctx context.Context, userID string, in flashcard.Input) (*model.Flashcard, error)
	Update(ctx context.Context, userID, id string, in flashcard.Input) (*model.Flashcard, error)
	Review(ctx context.Context, userID, id string, correct bool) (*model.Flashcard, error)
	Delete(ctx context.Context, userID, id string) error
}

// FlashcardHandler はフラッシュカードのHTTPハンドラー。
type FlashcardHandler struct {
	service FlashcardServiceInterface
}

// NewFlashcardHandler はFlashcardHandlerを生成する。
func NewFlashcardHandler(service FlashcardServiceInterface) *FlashcardHandler {
	return &FlashcardHandler{service: service}
}

type flashcardRequest struct {
	ConcursoID   string `json:"concurso_id"`
	DisciplineID string `json:"discipline_id"`
	Front        string `json:"front"`
	Back         string `json:"back"`
}

type reviewRequest struct {
	Correct *bool `json:"correct"`
}

type flashcardResponse struct {
	ID             string     `json:"id"`
	ConcursoID     string     `json:"concurso_id"`
	DisciplineID   string     `json:"discipline_id,omitempty"`
	Front          string     `json:"front"`
	Back           string     `json:"back"`
	CorrectCount   int        `json:"correct_count"`
	WrongCount     int        `json:"wrong_count"`
	LastReviewedAt *time.Time `json:"last_reviewed_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toFlashcardResponse(c *model.Flashcard) flashcardResponse {
	return flashcardResponse{
		ID:             c.ID,
		ConcursoID:     c.ConcursoID,
		DisciplineID:   c.DisciplineID,
		Front:          c.Front,
		Back:           c.Back,
		CorrectCount:   c.CorrectCount,
		WrongCount:     c.WrongCount,
		LastReviewedAt: c.LastReviewedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func (req flashcardRequest) toInput() flashcard.Input {
	return flashcard.Input{
		ConcursoID:   req.ConcursoID,
		DisciplineID: req.DisciplineID,
		Front:        req.Front,
		Back:         req.Back,
	}
}

// List はユーザーのカード一覧を返す。
// GET /api/flashcards?concurso=
func (h *FlashcardHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	cards, err := h.service.List(r.Context(), userID, r.URL.Query().Get("concurso"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	out := make([]flashcardResponse, 0, len(cards))
	for _, c := range cards {
		out = append(out, toFlashcardResponse(c))
	}
	httpjson.WriteSuccess(w, http.StatusOK, out)
}

// Create はカードを作成する。
// POST /api/flashcards
func (h *FlashcardHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req flashcardRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	card, err := h.service.Create(r.Context(), userID, req.toInput())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	httpjson.WriteSuccess(w, http.StatusCreated, toFlashcardResponse(card))
}

// Update はカードを更新する。
// PATCH /api/flashcards/{id}
func (h *FlashcardHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req flashcardRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	card, err := h.service.Update(r.Context(), userID, chi.URLParam(r, "id"), req.toInput())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	httpjson.WriteSuccess(w, http.StatusOK, toFlashcardResponse(card))
}

// Review は復習結果を記録する。
// POST /api/flashcards/{id}/review
func (h *FlashcardHandler) Review(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req reviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Correct == nil {
		httpjson.WriteError(w, model.NewValidationError("Informe se a resposta foi correta."))
		return
	}

	card, err := h.service.Review(r.Context(), userID, chi.URLParam(r, "id"), *req.Correct)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	httpjson.WriteSuccess(w, http.StatusOK, toFlashcardResponse(card))
}

// Delete はカードを論理削除する。
// DELETE /api/flashcards/{id}
func (h *FlashcardHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	httpjson.WriteNoContent(w)
}
