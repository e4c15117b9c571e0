package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/concurseiro/internal/metrics"
	"github.com/hitoshi/concurseiro/internal/model"
	"github.com/hitoshi/concurseiro/internal/repository"
	"github.com/hitoshi/concurseiro/internal/security"
)

const userAgent = "Concurseiro/1.0 (+editais)"

// EditalUpserter は取得した公示を保存する。
type EditalUpserter interface {
	Upsert(ctx context.Context, feed *model.EditalFeed, items []model.ParsedEdital) (inserted, updated int, err error)
}

// FetcherConfig はフェッチャーの設定。
type FetcherConfig struct {
	Timeout     time.Duration
	MaxBodySize int64
	// Interval は成功時（200/304）の次回フェッチまでの間隔。
	Interval time.Duration
}

// Fetcher は1フィードを条件付きGETで取得し、パースして公示を保存する。
type Fetcher struct {
	feeds    repository.EditalFeedRepository
	upserter EditalUpserter
	guard    security.URLGuard
	metrics  metrics.EditalFetchMetrics
	logger   *slog.Logger
	config   FetcherConfig
	now      func() time.Time
}

// NewFetcher はFetcherを生成する。
func NewFetcher(
	feeds repository.EditalFeedRepository,
	upserter EditalUpserter,
	guard security.URLGuard,
	m metrics.EditalFetchMetrics,
	logger *slog.Logger,
	config FetcherConfig,
) *Fetcher {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = 5 << 20
	}
	if config.Interval <= 0 {
		config.Interval = 15 * time.Minute
	}
	return &Fetcher{
		feeds:    feeds,
		upserter: upserter,
		guard:    guard,
		metrics:  m,
		logger:   logger,
		config:   config,
		now:      time.Now,
	}
}

// Fetch はフィードを取得し、結果に応じてフィードのフェッチ状態を更新する。
// パース失敗はエラーとして返さず、連続失敗回数として記録する。
func (f *Fetcher) Fetch(ctx context.Context, feed *model.EditalFeed) error {
	start := time.Now()
	log := f.logger.With(slog.String("feed_id", feed.ID), slog.String("feed_url", feed.FeedURL))

	if err := f.guard.ValidateURL(feed.FeedURL); err != nil {
		log.Error("SSRF検証に失敗しました", slog.String("error", err.Error()))
		f.metrics.RecordFetchFailure(feed.ID, "ssrf")
		ApplyStopFeed(feed, fmt.Sprintf("SSRF検証失敗: %s", err.Error()), f.now())
		f.saveState(ctx, log, feed)
		return fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.FeedURL, nil)
	if err != nil {
		return fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")
	if feed.ETag != "" {
		req.Header.Set("If-None-Match", feed.ETag)
	}
	if feed.LastModified != "" {
		req.Header.Set("If-Modified-Since", feed.LastModified)
	}

	resp, err := f.guard.NewSafeClient(f.config.Timeout).Do(req)
	f.metrics.RecordFetchLatency(time.Since(start))
	if err != nil {
		log.Error("HTTPリクエストに失敗しました", slog.String("error", err.Error()))
		f.metrics.RecordFetchFailure(feed.ID, "network")
		ApplyBackoff(feed, fmt.Sprintf("HTTPリクエスト失敗: %s", err.Error()), f.now())
		f.saveState(ctx, log, feed)
		return fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	f.metrics.RecordHTTPStatus(resp.StatusCode)
	result := ClassifyHTTPStatus(resp.StatusCode)

	switch result {
	case FetchResultNotModified:
		log.Info("フィードは未変更です", slog.Int("http_status", resp.StatusCode))
		f.metrics.RecordFetchSuccess(feed.ID)
		ApplySuccess(feed, f.config.Interval, f.now())
		return f.feeds.UpdateFetchState(ctx, feed)

	case FetchResultStop:
		reason := fmt.Sprintf("HTTPステータス %d によりフェッチを停止しました", resp.StatusCode)
		log.Warn("フィードフェッチを停止します", slog.Int("http_status", resp.StatusCode))
		f.metrics.RecordFetchFailure(feed.ID, result.String())
		ApplyStopFeed(feed, reason, f.now())
		return f.feeds.UpdateFetchState(ctx, feed)

	case FetchResultBackoff, FetchResultUnknown:
		log.Warn("フィードフェッチにバックオフを適用します",
			slog.Int("http_status", resp.StatusCode),
			slog.Int("consecutive_errors", feed.ConsecutiveErrors+1),
		)
		f.metrics.RecordFetchFailure(feed.ID, result.String())
		ApplyBackoff(feed, fmt.Sprintf("HTTPステータス %d", resp.StatusCode), f.now())
		return f.feeds.UpdateFetchState(ctx, feed)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodySize))
	if err != nil {
		log.Error("レスポンスボディの読み取りに失敗しました", slog.String("error", err.Error()))
		f.metrics.RecordFetchFailure(feed.ID, "read")
		ApplyBackoff(feed, fmt.Sprintf("レスポンス読み取り失敗: %s", err.Error()), f.now())
		return f.feeds.UpdateFetchState(ctx, feed)
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		log.Error("フィードのパースに失敗しました", slog.String("error", err.Error()))
		f.metrics.RecordParseFailure(feed.ID)
		ApplyParseFailure(feed, err.Error(), f.now())
		f.saveState(ctx, log, feed)
		return nil
	}

	// パースに成功した場合のみバリデータを更新する
	if etag := resp.Header.Get("ETag"); etag != "" {
		feed.ETag = etag
	}
	if lastMod := resp.Header.Get("Last-Modified"); lastMod != "" {
		feed.LastModified = lastMod
	}

	items := convertItems(parsed.Items)
	inserted, updated, err := f.upserter.Upsert(ctx, feed, items)
	if err != nil {
		log.Error("公示の保存に失敗しました", slog.String("error", err.Error()))
		f.metrics.RecordFetchFailure(feed.ID, "upsert")
		ApplyBackoff(feed, fmt.Sprintf("公示の保存に失敗: %s", err.Error()), f.now())
		f.saveState(ctx, log, feed)
		return fmt.Errorf("公示の保存に失敗: %w", err)
	}
	f.metrics.RecordEditaisUpserted(inserted + updated)

	if parsed.Title != "" {
		feed.Title = strings.TrimSpace(parsed.Title)
	}
	if parsed.Link != "" {
		feed.SiteURL = parsed.Link
	}

	f.metrics.RecordFetchSuccess(feed.ID)
	ApplySuccess(feed, f.config.Interval, f.now())
	if err := f.feeds.UpdateFetchState(ctx, feed); err != nil {
		log.Error("フィード状態の更新に失敗しました", slog.String("error", err.Error()))
		return err
	}

	log.Info("フィードフェッチが完了しました",
		slog.Int("http_status", resp.StatusCode),
		slog.Int("inserted", inserted),
		slog.Int("updated", updated),
		slog.Int("total", len(items)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

// saveState は失敗経路でフェッチ状態を保存する。保存エラーはログのみ。
func (f *Fetcher) saveState(ctx context.Context, log *slog.Logger, feed *model.EditalFeed) {
	if err := f.feeds.UpdateFetchState(ctx, feed); err != nil {
		log.Error("フィード状態の更新に失敗しました", slog.String("error", err.Error()))
	}
}

// convertItems はgofeedの項目を未保存の公示に変換する。
func convertItems(items []*gofeed.Item) []model.ParsedEdital {
	out := make([]model.ParsedEdital, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}

		e := model.ParsedEdital{
			GuidOrID: item.GUID,
			Title:    item.Title,
			Link:     item.Link,
			Summary:  item.Description,
		}
		if e.Summary == "" {
			e.Summary = item.Content
		}

		switch {
		case item.PublishedParsed != nil:
			t := item.PublishedParsed.UTC()
			e.PublishedAt = &t
		case item.UpdatedParsed != nil:
			t := item.UpdatedParsed.UTC()
			e.PublishedAt = &t
		}

		if e.Link == "" && (strings.HasPrefix(e.GuidOrID, "http://") || strings.HasPrefix(e.GuidOrID, "https://")) {
			e.Link = e.GuidOrID
		}
		out = append(out, e)
	}
	return out
}
