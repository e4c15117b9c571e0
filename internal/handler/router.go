package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/concurseiro/internal/httpjson"
	"github.com/hitoshi/concurseiro/internal/metrics"
	"github.com/hitoshi/concurseiro/internal/middleware"
	"github.com/hitoshi/concurseiro/internal/model"
)

// HealthChecker はヘルスチェックでデータベース疎通を確認するためのインターフェース。
// *sql.DB が実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	HealthChecker     HealthChecker
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	// TrustedProxies からの接続に限り X-Forwarded-For を信頼する。
	TrustedProxies []netip.Prefix
	CSRFConfig     middleware.CSRFConfig
	RateLimiter    *middleware.RateLimiter

	// MetricsHandler は /metrics のハンドラー。nilの場合は公開しない。
	MetricsHandler  http.Handler
	SimuladoMetrics metrics.SimuladoMetrics

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	ConcursoService   ConcursoServiceInterface
	SimuladoService   SimuladoServiceInterface
	FlashcardService  FlashcardServiceInterface
	PreferenceService PreferenceServiceInterface
	UserService       UserServiceInterface
	EditalService     EditalServiceInterface
	AdminService      AdminServiceInterface

	// BackendProxy は /api/backend/* の転送先。proxy.Handler で生成する。
	BackendProxy http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders → CORS → CSRF(/api)
//	→ [公開] RateLimit(General, IP単位)
//	→ [認証API] RateLimit(Auth, IP単位)
//	→ [要ログイン] Session → RateLimit(General, ユーザー単位) → [管理者] AdminOnly
func NewRouter(deps *RouterDeps) http.Handler {
	base := deps.Logger
	if base == nil {
		base = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewRealIPMiddleware(deps.TrustedProxies))
	r.Use(middleware.NewLoggingMiddleware(base))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpjson.WriteError(w, model.NewNotFoundError())
	})

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	concursoHandler := NewConcursoHandler(deps.ConcursoService)
	simuladoHandler := NewSimuladoHandler(deps.SimuladoService, deps.SimuladoMetrics)
	flashcardHandler := NewFlashcardHandler(deps.FlashcardService)
	userHandler := NewUserHandler(deps.UserService, deps.PreferenceService, deps.AuthConfig)
	editalHandler := NewEditalHandler(deps.EditalService)
	adminHandler := NewAdminHandler(deps.AdminService)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		// --- 認証不要のルート ---
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

			r.Get("/categories", concursoHandler.ListCategories)
			r.Get("/categories/{slug}/disciplines", concursoHandler.ListDisciplines)

			r.Get("/concursos", concursoHandler.List)
			r.Get("/concursos/{concurso}", concursoHandler.Get)
			r.Get("/concursos/{concurso}/simulados", simuladoHandler.Index)
			r.Get("/concursos/{concurso}/simulados/{slug}", simuladoHandler.Meta)
			r.Get("/concursos/{concurso}/simulados/{slug}/questions", simuladoHandler.Questions)

			r.Get("/editais", editalHandler.ListRecent)
		})

		// 認証API（ブルートフォース対策のためIP単位で厳しく制限する）
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())
			r.Post("/auth/register", authHandler.Register)
			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/logout", authHandler.Logout)
		})

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/auth/me", authHandler.Me)

			r.Get("/concursos/{concurso}/simulados/{slug}/progress", simuladoHandler.GetProgress)
			r.Put("/concursos/{concurso}/simulados/{slug}/progress", simuladoHandler.SaveProgress)

			r.Route("/flashcards", func(r chi.Router) {
				r.Get("/", flashcardHandler.List)
				r.Post("/", flashcardHandler.Create)
				r.Patch("/{id}", flashcardHandler.Update)
				r.Delete("/{id}", flashcardHandler.Delete)
				r.Post("/{id}/review", flashcardHandler.Review)
			})

			r.Get("/me/preferences", userHandler.GetPreferences)
			r.Put("/me/preferences", userHandler.UpdatePreferences)
			r.Delete("/users/me", userHandler.Withdraw)

			if deps.BackendProxy != nil {
				r.Handle("/backend/*", deps.BackendProxy)
			}

			// --- 管理者ルート ---
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.NewAdminOnlyMiddleware())

				r.Get("/db-usage", adminHandler.DBUsage)

				r.Post("/concursos", concursoHandler.Create)
				r.Patch("/concursos/{id}", concursoHandler.Update)
				r.Delete("/concursos/{id}", concursoHandler.Delete)
				r.Post("/concursos/{id}/simulados", simuladoHandler.Create)

				r.Put("/simulados/{id}/questions", simuladoHandler.ReplaceQuestions)
				r.Delete("/simulados/{id}", simuladoHandler.Delete)

				r.Get("/edital-feeds", editalHandler.ListFeeds)
				r.Post("/edital-feeds", editalHandler.RegisterFeed)
				r.Post("/edital-feeds/{id}/resume", editalHandler.ResumeFeed)
			})
		})
	})

	return r
}

// healthHandler はデータベースへの疎通を確認する。
// checkerがnilの場合はプロセスの生存のみを返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]string{"status": "ok"}

		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				status = http.StatusServiceUnavailable
				body["status"] = "unavailable"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}
}
