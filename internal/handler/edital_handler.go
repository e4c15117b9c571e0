package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/concurseiro/internal/edital"
	"github.com/hitoshi/concurseiro/internal/httpjson"
	"github.com/hitoshi/concurseiro/internal/model"
)

// EditalServiceInterface は公示ハンドラーが必要とするサービスインターフェース。
type EditalServiceInterface interface {
	// RegisterFeed はURLからフィードを検出し登録する。
	RegisterFeed(ctx context.Context, in edital.RegisterInput) (*model.EditalFeed, error)
	ListFeeds(ctx context.Context) ([]*model.EditalFeed, error)
	// ResumeFeed は停止中のフィードの取得を再開する。
	ResumeFeed(ctx context.Context, id string) (*model.EditalFeed, error)
	ListRecent(ctx context.Context, concursoID string, limit int) ([]*model.Edital, error)
}

// EditalHandler は公示フィード管理と公示一覧のHTTPハンドラー。
type EditalHandler struct {
	service EditalServiceInterface
}

// NewEditalHandler はEditalHandlerを生成する。
func NewEditalHandler(service EditalServiceInterface) *EditalHandler {
	return &EditalHandler{service: service}
}

// registerFeedRequest はフィード登録リクエストのボディ。
type registerFeedRequest struct {
	URL        string `json:"url"`
	ConcursoID string `json:"concurso_id"`
}

// editalFeedResponse はフィード情報のAPIレスポンス。
type editalFeedResponse struct {
	ID                string            `json:"id"`
	ConcursoID        string            `json:"concurso_id,omitempty"`
	FeedURL           string            `json:"feed_url"`
	SiteURL           string            `json:"site_url"`
	Title             string            `json:"title"`
	FetchStatus       model.FetchStatus `json:"fetch_status"`
	ConsecutiveErrors int               `json:"consecutive_errors"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	NextFetchAt       time.Time         `json:"next_fetch_at"`
}

type editalResponse struct {
	ID          string     `json:"id"`
	ConcursoID  string     `json:"concurso_id,omitempty"`
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Summary     string     `json:"summary"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	FetchedAt   time.Time  `json:"fetched_at"`
}

func toEditalFeedResponse(f *model.EditalFeed) editalFeedResponse {
	return editalFeedResponse{
		ID:                f.ID,
		ConcursoID:        f.ConcursoID,
		FeedURL:           f.FeedURL,
		SiteURL:           f.SiteURL,
		Title:             f.Title,
		FetchStatus:       f.FetchStatus,
		ConsecutiveErrors: f.ConsecutiveErrors,
		ErrorMessage:      f.ErrorMessage,
		NextFetchAt:       f.NextFetchAt,
	}
}

// RegisterFeed はフィード登録を処理する。
// POST /api/admin/edital-feeds
func (h *EditalHandler) RegisterFeed(w http.ResponseWriter, r *http.Request) {
	var req registerFeedRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.URL == "" {
		httpjson.WriteError(w, model.NewInvalidURLError("URL vazia"))
		return
	}

	feed, err := h.service.RegisterFeed(r.Context(), edital.RegisterInput{URL: req.URL, ConcursoID: req.ConcursoID})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	httpjson.WriteSuccess(w, http.StatusCreated, toEditalFeedResponse(feed))
}

// ListFeeds は登録済みフィード一覧を返す。
// GET /api/admin/edital-feeds
func (h *EditalHandler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := h.service.ListFeeds(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	out := make([]editalFeedResponse, 0, len(feeds))
	for _, f := range feeds {
		out = append(out, toEditalFeedResponse(f))
	}
	httpjson.WriteSuccess(w, http.StatusOK, out)
}

// ResumeFeed は停止中のフィードの取得を再開する。
// POST /api/admin/edital-feeds/{id}/resume
func (h *EditalHandler) ResumeFeed(w http.ResponseWriter, r *http.Request) {
	feed, err := h.service.ResumeFeed(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	httpjson.WriteSuccess(w, http.StatusOK, toEditalFeedResponse(feed))
}

// ListRecent は新しい順に公示を返す。
// GET /api/editais?concurso=&limit=
func (h *EditalHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	editais, err := h.service.ListRecent(r.Context(), r.URL.Query().Get("concurso"), parseLimit(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	out := make([]editalResponse, 0, len(editais))
	for _, e := range editais {
		out = append(out, editalResponse{
			ID:          e.ID,
			ConcursoID:  e.ConcursoID,
			Title:       e.Title,
			Link:        e.Link,
			Summary:     e.Summary,
			PublishedAt: e.PublishedAt,
			FetchedAt:   e.FetchedAt,
		})
	}
	httpjson.WriteSuccess(w, http.StatusOK, out)
}
