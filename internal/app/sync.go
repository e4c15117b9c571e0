package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hitoshi/concurseiro/internal/config"
	"github.com/hitoshi/concurseiro/internal/realtime"
	"github.com/hitoshi/concurseiro/internal/simcache"
)

// syncOptions は sync サブコマンドの引数。
type syncOptions struct {
	ConcursoID string
	Watch      bool
	SessionID  string

	// TTLs はセクションごとの鮮度期間の上書き。
	TTLs map[string]time.Duration
	// 0 の場合はクライアントの既定値を使う。
	PayloadRetention   time.Duration
	ValidatorRetention time.Duration
}

// clientOptions はフラグの指定を simcache のオプションに変換する。
func (o *syncOptions) clientOptions() []simcache.Option {
	var opts []simcache.Option
	if o.SessionID != "" {
		opts = append(opts, simcache.WithSession(o.SessionID, ""))
	}
	for section, ttl := range o.TTLs {
		opts = append(opts, simcache.WithTTL(section, ttl))
	}
	if o.PayloadRetention > 0 || o.ValidatorRetention > 0 {
		payload, validators := o.PayloadRetention, o.ValidatorRetention
		if payload <= 0 {
			payload = simcache.DefaultPayloadRetention
		}
		if validators <= 0 {
			validators = simcache.DefaultValidatorRetention
		}
		opts = append(opts, simcache.WithRetention(payload, validators))
	}
	return opts
}

// parseTTLFlag は `section=duration` を解析する。
func parseTTLFlag(ttls map[string]time.Duration) func(string) error {
	return func(v string) error {
		section, raw, ok := strings.Cut(v, "=")
		if !ok {
			return fmt.Errorf("expected section=duration, got %q", v)
		}
		if _, known := simcache.DefaultTTLs[section]; !known {
			return fmt.Errorf("unknown section %q", section)
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		if d < 0 {
			return fmt.Errorf("negative ttl for %s", section)
		}
		ttls[section] = d
		return nil
	}
}

// parseSyncArgs は `sync <concursoID> [--watch] [--session id] [--ttl section=duration]...
// [--retention d] [--validator-retention d]` を解析する。
// フラグは concursoID の前後どちらにも置ける。
func parseSyncArgs(args []string) (*syncOptions, error) {
	opts := &syncOptions{TTLs: map[string]time.Duration{}}
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVar(&opts.Watch, "watch", false, "keep the cache subscribed to change notifications")
	fs.StringVar(&opts.SessionID, "session", os.Getenv("SYNC_SESSION_ID"), "session id sent as cookie")
	fs.Func("ttl", "freshness override as section=duration (repeatable)", parseTTLFlag(opts.TTLs))
	fs.DurationVar(&opts.PayloadRetention, "retention", 0, "how long cached payloads are kept")
	fs.DurationVar(&opts.ValidatorRetention, "validator-retention", 0, "how long ETag/Last-Modified validators are kept")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("invalid sync arguments: %w", err)
	}
	rest := fs.Args()
	if len(rest) == 0 || rest[0] == "" {
		return nil, errors.New("usage: concurseiro sync <concursoID> [--watch] [--session id]")
	}
	opts.ConcursoID = rest[0]
	if err := fs.Parse(rest[1:]); err != nil {
		return nil, fmt.Errorf("invalid sync arguments: %w", err)
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected sync arguments: %v", fs.Args())
	}
	if opts.PayloadRetention < 0 || opts.ValidatorRetention < 0 {
		return nil, errors.New("retention must not be negative")
	}
	return opts, nil
}

// runSync は concurso の全 simulado についてキャッシュを温め、集計値をJSONで出力する。
// --watch 指定時はシグナルを受けるまで変更通知を購読し続ける。
func runSync(cfg *config.Config, w io.Writer, args []string) error {
	opts, err := parseSyncArgs(args)
	if err != nil {
		return err
	}
	if w == nil {
		w = os.Stdout
	}

	rdb, err := openRedis(cfg.RedisURL)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}
	if opts.Watch && rdb == nil {
		return errors.New("--watch requires REDIS_URL")
	}

	var store simcache.Store = simcache.NewMemoryStore()
	if rdb != nil {
		store = simcache.NewRedisStore(rdb)
	}

	clientOpts := append([]simcache.Option{simcache.WithStore(store)}, opts.clientOptions()...)
	client := simcache.New(cfg.APIBaseURL, clientOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	warmed, err := warmConcurso(ctx, client, opts.ConcursoID)
	if err != nil {
		return err
	}
	slog.Info("simulado cache warmed",
		slog.String("concurso_id", opts.ConcursoID),
		slog.Int("simulados", warmed),
		slog.String("api_base_url", cfg.APIBaseURL),
	)

	if opts.Watch {
		slog.Info("watching change notifications", slog.String("channel", realtime.DefaultPubSubChannel))
		sub := realtime.NewSubscriber(rdb, realtime.DefaultPubSubChannel)
		if err := sub.Run(ctx, client.Handler()); err != nil {
			return fmt.Errorf("subscription failed: %w", err)
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(client.Stats().Snapshot()); err != nil {
		return fmt.Errorf("failed to write stats: %w", err)
	}
	return nil
}

// warmConcurso は一覧・詳細・設問を取得してストアに載せる。
// 一覧の取得に失敗した場合はエラー、個別の simulado の失敗はログに残して続行する。
func warmConcurso(ctx context.Context, client *simcache.Client, concursoID string) (int, error) {
	idx, err := client.List(ctx, concursoID)
	if err != nil {
		return 0, fmt.Errorf("failed to list simulados: %w", err)
	}

	warmed := 0
	for _, entry := range idx.Simulados {
		if _, err := client.Get(ctx, concursoID, entry.Slug); err != nil {
			slog.Warn("failed to warm simulado meta",
				slog.String("slug", entry.Slug),
				slog.String("error", err.Error()),
			)
			continue
		}
		if _, err := client.Questions(ctx, concursoID, entry.Slug); err != nil {
			slog.Warn("failed to warm simulado questions",
				slog.String("slug", entry.Slug),
				slog.String("error", err.Error()),
			)
			continue
		}
		warmed++
	}
	return warmed, nil
}
