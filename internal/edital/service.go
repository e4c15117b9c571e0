package edital

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/concurseiro/internal/model"
	"github.com/hitoshi/concurseiro/internal/repository"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// FeedDetector はフィードURL検出のインターフェース。
type FeedDetector interface {
	Detect(ctx context.Context, inputURL string) (string, error)
}

// RegisterInput はフィード登録の入力。ConcursoIDは任意。
type RegisterInput struct {
	URL        string
	ConcursoID string
}

// Service は公示フィードの登録・再開と公示一覧を扱う。
type Service struct {
	feeds     repository.EditalFeedRepository
	editais   repository.EditalRepository
	concursos repository.ConcursoRepository
	detector  FeedDetector
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	feeds repository.EditalFeedRepository,
	editais repository.EditalRepository,
	concursos repository.ConcursoRepository,
	detector FeedDetector,
) *Service {
	return &Service{
		feeds:     feeds,
		editais:   editais,
		concursos: concursos,
		detector:  detector,
		now:       time.Now,
	}
}

// RegisterFeed はサイトURLからフィードを検出して登録する。
// フロー: concurso確認 → フィード検出 → 重複チェック → 保存
func (s *Service) RegisterFeed(ctx context.Context, in RegisterInput) (*model.EditalFeed, error) {
	concursoID := strings.TrimSpace(in.ConcursoID)
	if concursoID != "" {
		c, err := s.concursos.FindByID(ctx, concursoID)
		if err != nil {
			return nil, fmt.Errorf("concursoの取得に失敗しました: %w", err)
		}
		if c == nil {
			return nil, model.NewConcursoNotFoundError(concursoID)
		}
	}

	feedURL, err := s.detector.Detect(ctx, in.URL)
	if err != nil {
		return nil, err
	}

	existing, err := s.feeds.FindByFeedURL(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("フィードの検索に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateEditalFeedError()
	}

	now := s.now()
	feed := &model.EditalFeed{
		ID:          uuid.New().String(),
		ConcursoID:  concursoID,
		FeedURL:     feedURL,
		SiteURL:     siteURL(strings.TrimSpace(in.URL)),
		Title:       feedURL, // 初回フェッチでフィードのタイトルに置き換わる
		FetchStatus: model.FetchStatusActive,
		NextFetchAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.feeds.Create(ctx, feed); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewDuplicateEditalFeedError()
		}
		return nil, fmt.Errorf("フィードの保存に失敗しました: %w", err)
	}

	slog.Info("公示フィードを登録しました",
		"feed_id", feed.ID,
		"feed_url", feed.FeedURL,
		"concurso_id", feed.ConcursoID,
	)
	return feed, nil
}

// ListFeeds は登録済みフィードを返す。
func (s *Service) ListFeeds(ctx context.Context) ([]*model.EditalFeed, error) {
	feeds, err := s.feeds.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("フィード一覧の取得に失敗しました: %w", err)
	}
	return feeds, nil
}

// ResumeFeed は停止中のフィードを再開し、即時フェッチ対象にする。
func (s *Service) ResumeFeed(ctx context.Context, id string) (*model.EditalFeed, error) {
	feed, err := s.feeds.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	if feed == nil {
		return nil, model.NewEditalFeedNotFoundError(id)
	}
	if feed.FetchStatus != model.FetchStatusStopped {
		return nil, model.NewFeedNotStoppedError()
	}

	feed.FetchStatus = model.FetchStatusActive
	feed.ConsecutiveErrors = 0
	feed.ErrorMessage = ""
	feed.NextFetchAt = s.now()
	if err := s.feeds.UpdateFetchState(ctx, feed); err != nil {
		return nil, fmt.Errorf("フィードの再開に失敗しました: %w", err)
	}

	slog.Info("公示フィードを再開しました", "feed_id", feed.ID)
	return feed, nil
}

// ListRecent は新しい順に公示を返す。limitは1〜200に丸める（0はデフォルト）。
func (s *Service) ListRecent(ctx context.Context, concursoID string, limit int) ([]*model.Edital, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	editais, err := s.editais.ListRecent(ctx, strings.TrimSpace(concursoID), limit)
	if err != nil {
		return nil, fmt.Errorf("公示一覧の取得に失敗しました: %w", err)
	}
	return editais, nil
}

// siteURL は入力URLのスキームとホスト部分を返す。
func siteURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
