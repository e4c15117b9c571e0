package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/concurseiro/internal/auth"
	"github.com/hitoshi/concurseiro/internal/flashcard"
	"github.com/hitoshi/concurseiro/internal/middleware"
	"github.com/hitoshi/concurseiro/internal/model"
	"github.com/hitoshi/concurseiro/internal/proxy"
)

type stubSessionFinder struct{}

func (stubSessionFinder) FindByID(_ context.Context, id string) (*model.Session, error) {
	switch id {
	case "user-sess":
		return &model.Session{ID: id, UserID: "user-1", Role: model.RoleUser, ExpiresAt: time.Now().Add(time.Hour)}, nil
	case "admin-sess":
		return &model.Session{ID: id, UserID: "admin-1", Role: model.RoleAdmin, ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	return nil, nil
}

type stubHealthChecker struct{ err error }

func (s stubHealthChecker) PingContext(context.Context) error { return s.err }

func newTestRouter(t *testing.T, authPerMinute int, trusted ...netip.Prefix) http.Handler {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{GeneralPerMinute: 1000, AuthPerMinute: authPerMinute, CleanupInterval: time.Minute})
	t.Cleanup(rl.Stop)

	return NewRouter(&RouterDeps{
		HealthChecker:     stubHealthChecker{},
		SessionFinder:     stubSessionFinder{},
		CORSAllowedOrigin: "https://app.example",
		TrustedProxies:    trusted,
		RateLimiter:       rl,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics"))
		}),
		AuthService: &mockAuthService{
			loginFn: func(context.Context, string, string) (*model.Session, *model.User, error) {
				return nil, nil, model.NewInvalidCredentialsError()
			},
			getUserFn: func(_ context.Context, userID string) (*model.User, error) {
				return &model.User{ID: userID, Role: model.RoleUser}, nil
			},
			registerFn: func(context.Context, auth.RegisterInput) (*model.Session, *model.User, error) {
				return nil, nil, errors.New("unused")
			},
		},
		ConcursoService: &mockConcursoService{
			listFn: func(context.Context, string) ([]*model.Concurso, error) { return nil, nil },
		},
		SimuladoService: &mockSimuladoService{},
		FlashcardService: &mockFlashcardService{
			listFn: func(context.Context, string, string) ([]*model.Flashcard, error) { return nil, nil },
			createFn: func(_ context.Context, userID string, in flashcard.Input) (*model.Flashcard, error) {
				return &model.Flashcard{ID: "f1", UserID: userID}, nil
			},
		},
		PreferenceService: &mockPreferenceService{},
		UserService:       &mockUserService{},
		EditalService: &mockEditalService{
			listFeedsFn: func(context.Context) ([]*model.EditalFeed, error) { return nil, nil },
		},
		AdminService: &mockAdminService{
			dbUsageFn: func(context.Context) (*model.DBUsageReport, error) {
				return &model.DBUsageReport{DatabaseName: "concurseiro"}, nil
			},
		},
		BackendProxy: proxy.Handler(nil),
	})
}

func doRequest(router http.Handler, method, path, session string, csrf bool, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if session != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: session})
	}
	if csrf {
		req.AddCookie(&http.Cookie{Name: middleware.CSRFCookieName, Value: "tok"})
		req.Header.Set(middleware.CSRFHeaderName, "tok")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouter_PublicRoutes(t *testing.T) {
	router := newTestRouter(t, 20)

	w := doRequest(router, http.MethodGet, "/health", "", false, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = doRequest(router, http.MethodGet, "/metrics", "", false, "")
	assert.Equal(t, "# metrics", w.Body.String())

	w = doRequest(router, http.MethodGet, "/api/concursos", "", false, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Content-Type-Options"))

	w = doRequest(router, http.MethodGet, "/api/csrf-token", "", false, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, w.Result().Cookies(), 1)
}

func TestRouter_HealthUnavailable(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)
	router := NewRouter(&RouterDeps{HealthChecker: stubHealthChecker{err: errors.New("down")}, RateLimiter: rl})

	w := doRequest(router, http.MethodGet, "/health", "", false, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRouter_NotFoundEnvelope(t *testing.T) {
	w := doRequest(newTestRouter(t, 20), http.MethodGet, "/api/nao-existe", "", false, "")
	assertErrorCode(t, w, http.StatusNotFound, model.ErrCodeNotFound)
}

func TestRouter_AuthenticatedRoutes(t *testing.T) {
	router := newTestRouter(t, 20)

	w := doRequest(router, http.MethodGet, "/api/flashcards", "", false, "")
	assertErrorCode(t, w, http.StatusUnauthorized, model.ErrCodeUnauthorized)

	w = doRequest(router, http.MethodGet, "/api/flashcards", "user-sess", false, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/api/auth/me", "user-sess", false, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_CSRFOnMutations(t *testing.T) {
	router := newTestRouter(t, 20)
	body := `{"concurso_id":"c1","front":"F","back":"B"}`

	w := doRequest(router, http.MethodPost, "/api/flashcards", "user-sess", false, body)
	assertErrorCode(t, w, http.StatusForbidden, model.ErrCodeCSRFInvalid)

	w = doRequest(router, http.MethodPost, "/api/flashcards", "user-sess", true, body)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestRouter_AdminRoutes(t *testing.T) {
	router := newTestRouter(t, 20)

	w := doRequest(router, http.MethodGet, "/api/admin/db-usage", "user-sess", false, "")
	assertErrorCode(t, w, http.StatusForbidden, model.ErrCodeForbidden)

	w = doRequest(router, http.MethodGet, "/api/admin/db-usage", "admin-sess", false, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database_name":"concurseiro"`)

	w = doRequest(router, http.MethodGet, "/api/admin/edital-feeds", "admin-sess", false, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_BackendNotConfigured(t *testing.T) {
	router := newTestRouter(t, 20)

	w := doRequest(router, http.MethodGet, "/api/backend/questoes", "", false, "")
	assertErrorCode(t, w, http.StatusUnauthorized, model.ErrCodeUnauthorized)

	w = doRequest(router, http.MethodGet, "/api/backend/questoes", "user-sess", false, "")
	assertErrorCode(t, w, http.StatusServiceUnavailable, model.ErrCodeBackendNotConfigured)
}

func TestRouter_AuthRateLimit(t *testing.T) {
	router := newTestRouter(t, 1)
	body := `{"email":"ana@example.com","password":"x"}`

	w := doRequest(router, http.MethodPost, "/api/auth/login", "", true, body)
	assertErrorCode(t, w, http.StatusUnauthorized, model.ErrCodeInvalidCredentials)

	w = doRequest(router, http.MethodPost, "/api/auth/login", "", true, body)
	assertErrorCode(t, w, http.StatusTooManyRequests, model.ErrCodeRateLimited)
}

func loginFrom(router http.Handler, remoteAddr, forwardedFor string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"ana@example.com","password":"x"}`))
	req.RemoteAddr = remoteAddr
	req.Header.Set("X-Forwarded-For", forwardedFor)
	req.AddCookie(&http.Cookie{Name: middleware.CSRFCookieName, Value: "tok"})
	req.Header.Set(middleware.CSRFHeaderName, "tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouter_AuthRateLimit_IgnoresSpoofedForwardedFor(t *testing.T) {
	router := newTestRouter(t, 1)

	w := loginFrom(router, "203.0.113.7:40000", "198.51.100.1")
	assertErrorCode(t, w, http.StatusUnauthorized, model.ErrCodeInvalidCredentials)

	for _, xff := range []string{"198.51.100.2", "198.51.100.3", "198.51.100.4", "198.51.100.5"} {
		w = loginFrom(router, "203.0.113.7:40000", xff)
		assertErrorCode(t, w, http.StatusTooManyRequests, model.ErrCodeRateLimited)
	}
}

func TestRouter_AuthRateLimit_TrustedProxyKeysOnClient(t *testing.T) {
	router := newTestRouter(t, 1, netip.MustParsePrefix("10.0.0.0/8"))

	w := loginFrom(router, "10.0.0.2:40000", "198.51.100.1")
	assertErrorCode(t, w, http.StatusUnauthorized, model.ErrCodeInvalidCredentials)

	// 別のクライアントはプロキシ経由でも独立した枠を持つ
	w = loginFrom(router, "10.0.0.2:40001", "198.51.100.2")
	assertErrorCode(t, w, http.StatusUnauthorized, model.ErrCodeInvalidCredentials)

	w = loginFrom(router, "10.0.0.3:40002", "198.51.100.1")
	assertErrorCode(t, w, http.StatusTooManyRequests, model.ErrCodeRateLimited)
}
