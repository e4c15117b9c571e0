// Package fetch は公示フィードのバックグラウンド取得を行う。
// スケジューラ、フェッチャー、バックオフ戦略を含む。
package fetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/concurseiro/internal/model"
	"github.com/hitoshi/concurseiro/internal/repository"
)

// FeedFetcher は1フィード分のフェッチを行う。
type FeedFetcher interface {
	Fetch(ctx context.Context, feed *model.EditalFeed) error
}

// Scheduler は期限の来たフィードを一定間隔で取得し、並列数を制限してフェッチする。
type Scheduler struct {
	feeds          repository.EditalFeedRepository
	fetcher        FeedFetcher
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerを生成する。maxConcurrencyが0以下なら5を使う。
func NewScheduler(
	feeds repository.EditalFeedRepository,
	fetcher FeedFetcher,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		feeds:          feeds,
		fetcher:        fetcher,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start は起動直後に1回、その後 interval ごとにフェッチサイクルを実行する。
// コンテキストがキャンセルされると戻る。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("公示フェッチスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	s.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("公示フェッチスケジューラを停止しました")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("フェッチサイクルの実行に失敗しました", slog.String("error", err.Error()))
	}
}

// RunOnce は期限の来たフィードを取得し、最大 maxConcurrency 並列でフェッチする。
// 個々のフェッチ失敗はログに残し、サイクル全体は継続する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	feeds, err := s.feeds.ListDueForFetch(ctx)
	if err != nil {
		return err
	}
	if len(feeds) == 0 {
		s.logger.Debug("フェッチ対象のフィードはありません")
		return nil
	}

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, feed := range feeds {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(f *model.EditalFeed) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.fetcher.Fetch(ctx, f); err != nil {
				s.logger.Error("フィードフェッチに失敗しました",
					slog.String("feed_id", f.ID),
					slog.String("feed_url", f.FeedURL),
					slog.String("error", err.Error()),
				)
			}
		}(feed)
	}
	wg.Wait()

	s.logger.Info("フェッチサイクルが完了しました",
		slog.Int("feed_count", len(feeds)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return ctx.Err()
}
