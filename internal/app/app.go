package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/concurseiro/internal/admin"
	"github.com/hitoshi/concurseiro/internal/auth"
	"github.com/hitoshi/concurseiro/internal/concurso"
	"github.com/hitoshi/concurseiro/internal/config"
	"github.com/hitoshi/concurseiro/internal/database"
	"github.com/hitoshi/concurseiro/internal/edital"
	"github.com/hitoshi/concurseiro/internal/flashcard"
	"github.com/hitoshi/concurseiro/internal/handler"
	"github.com/hitoshi/concurseiro/internal/logger"
	"github.com/hitoshi/concurseiro/internal/metrics"
	"github.com/hitoshi/concurseiro/internal/middleware"
	"github.com/hitoshi/concurseiro/internal/model"
	"github.com/hitoshi/concurseiro/internal/preference"
	"github.com/hitoshi/concurseiro/internal/proxy"
	"github.com/hitoshi/concurseiro/internal/realtime"
	"github.com/hitoshi/concurseiro/internal/repository"
	"github.com/hitoshi/concurseiro/internal/security"
	"github.com/hitoshi/concurseiro/internal/simulado"
	"github.com/hitoshi/concurseiro/internal/user"
	"github.com/hitoshi/concurseiro/internal/worker/cleanup"
	fetchpkg "github.com/hitoshi/concurseiro/internal/worker/fetch"
)

// backendTokenTTL はバックエンドプロキシ用トークンの有効期間。
const backendTokenTTL = 5 * time.Minute

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// .env から LOG_LEVEL が読み込まれた場合に備えて再設定する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// initClient は sync 用に Init と同じ手順でログと設定を準備する。
func initClient(w io.Writer) (*config.Config, error) {
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadClient()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, cfg.LogLevel)
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	// sync はAPIの外側で動くクライアントのため、サーバー用の必須設定を要求しない
	if cmd == CommandSync {
		cfg, err := initClient(w)
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		return runSync(cfg, w, args[1:])
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. Redis（未設定ならインメモリ実装を使う）
	rdb, err := openRedis(cfg.RedisURL)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	concursoRepo := repository.NewPostgresConcursoRepo(db)
	simuladoRepo := repository.NewPostgresSimuladoRepo(db)
	progressRepo := repository.NewPostgresProgressRepo(db)
	flashcardRepo := repository.NewPostgresFlashcardRepo(db)
	preferenceRepo := repository.NewPostgresPreferenceRepo(db)
	editalFeedRepo := repository.NewPostgresEditalFeedRepo(db)
	editalRepo := repository.NewPostgresEditalRepo(db)
	statsRepo := repository.NewPostgresStatsRepo(db)

	// 4. セキュリティ・メトリクスの初期化
	urlGuard := security.NewURLGuard()
	sanitizer := security.NewSanitizer()
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	// 5. ドメインサービスの初期化
	lockoutPolicy := auth.LockoutPolicy{MaxAttempts: cfg.LoginMaxAttempts, Duration: cfg.LoginLockout}
	var lockout auth.Lockout = auth.NewMemoryLockout(lockoutPolicy)
	var payloadCache simulado.PayloadCache = simulado.NewMemoryPayloadCache()
	if rdb != nil {
		lockout = auth.NewRedisLockout(rdb, lockoutPolicy)
		payloadCache = simulado.NewRedisPayloadCache(rdb)
	}

	authService := auth.NewService(userRepo, sessionRepo, lockout, collector,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	userService := user.NewService(userRepo, authService)
	concursoService := concurso.NewService(concursoRepo)
	simuladoService := simulado.NewService(simuladoRepo, progressRepo, concursoRepo, sanitizer,
		payloadCache, collector, simulado.ServiceConfig{PayloadTTL: cfg.SimuladoCacheTTL},
	)
	flashcardService := flashcard.NewService(flashcardRepo, concursoRepo, sanitizer)
	preferenceService := preference.NewService(preferenceRepo, concursoRepo)
	editalDetector := edital.NewDetector(urlGuard, cfg.EditalFetchTimeout, cfg.EditalFetchMaxSize)
	editalService := edital.NewService(editalFeedRepo, editalRepo, concursoRepo, editalDetector)
	adminService := admin.NewService(statsRepo)

	// 6. バックエンドプロキシ（BACKEND_API_URL 未設定時は503を返す）
	backend, err := proxy.New(cfg.BackendAPIURL,
		proxy.NewTokenIssuer(cfg.BackendJWTSecret, backendTokenTTL),
		sessionIdentity,
	)
	if err != nil {
		return fmt.Errorf("failed to configure backend proxy: %w", err)
	}

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralPerMinute: cfg.RateLimitGeneral,
		AuthPerMinute:    cfg.RateLimitAuth,
	})
	defer rateLimiter.Stop()

	authConfig := handler.AuthHandlerConfig{
		CookieDomain:  cfg.CookieDomain,
		CookieSecure:  cfg.CookieSecure,
		SessionMaxAge: cfg.SessionMaxAge,
	}

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		HealthChecker:     db,
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TrustedProxies:    cfg.TrustedProxies,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:     rateLimiter,
		MetricsHandler:  metrics.Handler(prometheus.DefaultGatherer),
		SimuladoMetrics: collector,

		AuthService: authService,
		AuthConfig:  authConfig,

		ConcursoService:   concursoService,
		SimuladoService:   simuladoService,
		FlashcardService:  flashcardService,
		PreferenceService: preferenceService,
		UserService:       userService,
		EditalService:     editalService,
		AdminService:      adminService,

		BackendProxy: proxy.Handler(backend),
	}

	router := handler.NewRouter(deps)

	// 8. 変更通知の購読（他インスタンスや管理画面からの更新でキャッシュを破棄する）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := realtime.NewListener(realtime.ListenerConfig{
		DSN: cfg.DatabaseURL,
	}, collector, payloadInvalidator(simuladoService))
	go runListener(ctx, listener)

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、公示フィードのフェッチスケジューラとクリーンアップジョブを起動する。
// REDIS_URLが設定されていれば、変更通知をRedis Pub/Subへ中継する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	rdb, err := openRedis(cfg.RedisURL)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// 2. リポジトリの初期化
	editalFeedRepo := repository.NewPostgresEditalFeedRepo(db)
	editalRepo := repository.NewPostgresEditalRepo(db)

	// 3. セキュリティサービス・メトリクスの初期化
	urlGuard := security.NewURLGuard()
	sanitizer := security.NewSanitizer()
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	// 4. フェッチャーの初期化
	upserter := edital.NewUpserter(editalRepo, sanitizer)
	fetcher := fetchpkg.NewFetcher(
		editalFeedRepo, upserter, urlGuard, collector, slog.Default(),
		fetchpkg.FetcherConfig{
			Timeout:     cfg.EditalFetchTimeout,
			MaxBodySize: cfg.EditalFetchMaxSize,
			Interval:    cfg.EditalFetchInterval,
		},
	)

	// 5. スケジューラ・クリーンアップジョブの初期化
	scheduler := fetchpkg.NewScheduler(
		editalFeedRepo, fetcher, slog.Default(), cfg.EditalFetchMaxConcurrent,
	)
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default(), cfg.RetentionDays)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("fetch_interval", cfg.EditalFetchInterval),
		slog.Int("max_concurrent", cfg.EditalFetchMaxConcurrent),
		slog.Bool("pubsub_relay", rdb != nil),
	)

	// 6. 変更通知の中継（Redis設定時のみ）
	if rdb != nil {
		publisher := realtime.NewPublisher(rdb, realtime.DefaultPubSubChannel)
		listener := realtime.NewListener(realtime.ListenerConfig{
			DSN: cfg.DatabaseURL,
		}, collector, publisher.Handler())
		go runListener(ctx, listener)
	}

	// クリーンアップジョブを日次でバックグラウンド実行
	go cleanupJob.Start(ctx, 24*time.Hour)

	// フェッチスケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.EditalFetchInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// openRedis はREDIS_URLからクライアントを生成して疎通を確認する。
// URLが空の場合はnilを返す。
func openRedis(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis connection established", slog.String("addr", opts.Addr))
	return client, nil
}

// payloadInvalidatorService は payloadInvalidator が呼び出すキャッシュ破棄操作。
type payloadInvalidatorService interface {
	InvalidateConcurso(ctx context.Context, concursoID string) error
	InvalidateSimulado(ctx context.Context, simuladoID string) error
}

// payloadInvalidator は concurso・simulado の変更通知でレンダリング済みレスポンスを破棄する。
// simulado の通知に concurso_id が無い場合は simulado ID から所属を引く。
// 解答状況はキャッシュしないため対象外。
func payloadInvalidator(svc payloadInvalidatorService) realtime.Handler {
	return func(ctx context.Context, ev realtime.ChangeEvent) {
		if ev.Table != realtime.TableConcursos && ev.Table != realtime.TableSimulados {
			return
		}
		if concursoID := ev.Concurso(); concursoID != "" {
			if err := svc.InvalidateConcurso(ctx, concursoID); err != nil {
				slog.Warn("failed to invalidate simulado cache",
					slog.String("concurso_id", concursoID),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		if ev.Table == realtime.TableSimulados && ev.ID != "" {
			if err := svc.InvalidateSimulado(ctx, ev.ID); err != nil {
				slog.Warn("failed to invalidate simulado cache",
					slog.String("simulado_id", ev.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func runListener(ctx context.Context, l *realtime.Listener) {
	if err := l.Run(ctx); err != nil {
		slog.Error("realtime listener failed", slog.String("error", err.Error()))
	}
}

// sessionIdentity はセッションミドルウェアが格納したユーザー情報をプロキシへ渡す。
func sessionIdentity(r *http.Request) (string, model.Role, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil || userID == "" {
		return "", "", false
	}
	return userID, middleware.RoleFromContext(r.Context()), true
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
