package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/concurseiro/internal/edital"
	"github.com/hitoshi/concurseiro/internal/model"
)

func TestEditalHandler_RegisterFeed(t *testing.T) {
	var got edital.RegisterInput
	svc := &mockEditalService{
		registerFeedFn: func(_ context.Context, in edital.RegisterInput) (*model.EditalFeed, error) {
			got = in
			return &model.EditalFeed{ID: "f1", ConcursoID: in.ConcursoID, FeedURL: "https://banca.example/rss", FetchStatus: model.FetchStatusActive}, nil
		},
	}
	w := httptest.NewRecorder()
	NewEditalHandler(svc).RegisterFeed(w, httptest.NewRequest(http.MethodPost, "/",
		strings.NewReader(`{"url":"https://banca.example","concurso_id":"c1"}`)))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	if got.URL != "https://banca.example" || got.ConcursoID != "c1" {
		t.Errorf("input = %+v", got)
	}
	if !strings.Contains(w.Body.String(), `"fetch_status":"active"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestEditalHandler_RegisterFeed_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"URL空", `{"url":""}`, nil, http.StatusBadRequest, model.ErrCodeInvalidURL},
		{"SSRF", `{"url":"http://10.0.0.1"}`, model.NewSSRFBlockedError(), http.StatusBadRequest, model.ErrCodeSSRFBlocked},
		{"未検出", `{"url":"https://x.example"}`, model.NewFeedNotDetectedError("https://x.example"), http.StatusUnprocessableEntity, model.ErrCodeFeedNotDetected},
		{"重複", `{"url":"https://x.example"}`, model.NewDuplicateEditalFeedError(), http.StatusConflict, model.ErrCodeDuplicateEditalFeed},
		{"取得失敗", `{"url":"https://x.example"}`, model.NewFetchFailedError("timeout"), http.StatusBadGateway, model.ErrCodeFetchFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockEditalService{
				registerFeedFn: func(context.Context, edital.RegisterInput) (*model.EditalFeed, error) {
					return nil, tt.err
				},
			}
			w := httptest.NewRecorder()
			NewEditalHandler(svc).RegisterFeed(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body)))
			assertErrorCode(t, w, tt.status, tt.code)
		})
	}
}

func TestEditalHandler_ResumeFeed(t *testing.T) {
	svc := &mockEditalService{
		resumeFeedFn: func(_ context.Context, id string) (*model.EditalFeed, error) {
			if id == "active" {
				return nil, model.NewFeedNotStoppedError()
			}
			return &model.EditalFeed{ID: id, FetchStatus: model.FetchStatusActive}, nil
		},
	}
	h := NewEditalHandler(svc)

	w := httptest.NewRecorder()
	h.ResumeFeed(w, withChiURLParams(httptest.NewRequest(http.MethodPost, "/", nil), "id", "f1"))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ResumeFeed(w, withChiURLParams(httptest.NewRequest(http.MethodPost, "/", nil), "id", "active"))
	assertErrorCode(t, w, http.StatusConflict, model.ErrCodeFeedNotStopped)
}

func TestEditalHandler_ListRecent(t *testing.T) {
	published := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	var gotConcurso string
	var gotLimit int
	svc := &mockEditalService{
		listRecentFn: func(_ context.Context, concursoID string, limit int) ([]*model.Edital, error) {
			gotConcurso, gotLimit = concursoID, limit
			return []*model.Edital{{ID: "e1", Title: "Edital nº 1", Link: "https://banca.example/1", PublishedAt: &published}}, nil
		},
	}
	h := NewEditalHandler(svc)

	w := httptest.NewRecorder()
	h.ListRecent(w, httptest.NewRequest(http.MethodGet, "/api/editais?concurso=c1&limit=10", nil))
	if w.Code != http.StatusOK || gotConcurso != "c1" || gotLimit != 10 {
		t.Errorf("status = %d concurso = %q limit = %d", w.Code, gotConcurso, gotLimit)
	}
	if !strings.Contains(w.Body.String(), `"published_at":"2026-02-10T09:00:00Z"`) {
		t.Errorf("body = %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	h.ListRecent(w, httptest.NewRequest(http.MethodGet, "/api/editais?limit=abc", nil))
	if gotLimit != 0 {
		t.Errorf("不正なlimitは0として扱う: %d", gotLimit)
	}
}

func TestEditalHandler_ListFeeds(t *testing.T) {
	svc := &mockEditalService{
		listFeedsFn: func(context.Context) ([]*model.EditalFeed, error) {
			return []*model.EditalFeed{{ID: "f1", FetchStatus: model.FetchStatusStopped, ErrorMessage: "HTTP 410"}}, nil
		},
	}
	w := httptest.NewRecorder()
	NewEditalHandler(svc).ListFeeds(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.Contains(w.Body.String(), `"error_message":"HTTP 410"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}
