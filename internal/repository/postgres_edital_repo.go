package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/concurseiro/internal/model"
)

// PostgresEditalFeedRepo はPostgreSQLを使用した公示フィードリポジトリ。
type PostgresEditalFeedRepo struct {
	db *sql.DB
}

// NewPostgresEditalFeedRepo はPostgresEditalFeedRepoを生成する。
func NewPostgresEditalFeedRepo(db *sql.DB) *PostgresEditalFeedRepo {
	return &PostgresEditalFeedRepo{db: db}
}

const editalFeedColumns = `id, concurso_id, feed_url, site_url, title, etag, last_modified, fetch_status,
	consecutive_errors, error_message, next_fetch_at, created_at, updated_at`

func scanEditalFeed(row rowScanner) (*model.EditalFeed, error) {
	feed := &model.EditalFeed{}
	var concursoID sql.NullString
	if err := row.Scan(&feed.ID, &concursoID, &feed.FeedURL, &feed.SiteURL, &feed.Title,
		&feed.ETag, &feed.LastModified, &feed.FetchStatus, &feed.ConsecutiveErrors,
		&feed.ErrorMessage, &feed.NextFetchAt, &feed.CreatedAt, &feed.UpdatedAt); err != nil {
		return nil, err
	}
	feed.ConcursoID = nullStringValue(concursoID)
	return feed, nil
}

// FindByID は指定IDのフィードを取得する。見つからない場合はnilを返す。
func (r *PostgresEditalFeedRepo) FindByID(ctx context.Context, id string) (*model.EditalFeed, error) {
	feed, err := scanEditalFeed(r.db.QueryRowContext(ctx,
		`SELECT `+editalFeedColumns+` FROM edital_feeds WHERE id = $1`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	return feed, nil
}

// FindByFeedURL はフィードURLでフィードを検索する。見つからない場合はnilを返す。
func (r *PostgresEditalFeedRepo) FindByFeedURL(ctx context.Context, feedURL string) (*model.EditalFeed, error) {
	feed, err := scanEditalFeed(r.db.QueryRowContext(ctx,
		`SELECT `+editalFeedColumns+` FROM edital_feeds WHERE feed_url = $1`, feedURL,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フィードURLによるフィードの検索に失敗しました: %w", err)
	}
	return feed, nil
}

// List は全フィードを登録順に返す。
func (r *PostgresEditalFeedRepo) List(ctx context.Context) ([]*model.EditalFeed, error) {
	return r.query(ctx, `SELECT `+editalFeedColumns+` FROM edital_feeds ORDER BY created_at ASC`)
}

// Create はフィードを作成する。
func (r *PostgresEditalFeedRepo) Create(ctx context.Context, feed *model.EditalFeed) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO edital_feeds (id, concurso_id, feed_url, site_url, title, etag, last_modified,
		                           fetch_status, consecutive_errors, error_message, next_fetch_at,
		                           created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		feed.ID, nullString(feed.ConcursoID), feed.FeedURL, feed.SiteURL, feed.Title,
		feed.ETag, feed.LastModified, feed.FetchStatus, feed.ConsecutiveErrors,
		feed.ErrorMessage, feed.NextFetchAt, feed.CreatedAt, feed.UpdatedAt,
	)
	if err != nil {
		return wrapWriteError(err, "フィードの作成に失敗しました")
	}
	return nil
}

// ListDueForFetch はフェッチ対象のフィードを取得する。
// next_fetch_at <= now() かつ fetch_status = 'active' のフィードを
// FOR UPDATE SKIP LOCKEDで排他的に取得する。
func (r *PostgresEditalFeedRepo) ListDueForFetch(ctx context.Context) ([]*model.EditalFeed, error) {
	return r.query(ctx,
		`SELECT `+editalFeedColumns+`
		 FROM edital_feeds
		 WHERE next_fetch_at <= now()
		   AND fetch_status = 'active'
		 ORDER BY next_fetch_at ASC
		 FOR UPDATE SKIP LOCKED`,
	)
}

// UpdateFetchState はフィードのフェッチ状態を更新する。
func (r *PostgresEditalFeedRepo) UpdateFetchState(ctx context.Context, feed *model.EditalFeed) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE edital_feeds SET
		    fetch_status = $2,
		    consecutive_errors = $3,
		    error_message = $4,
		    next_fetch_at = $5,
		    etag = $6,
		    last_modified = $7,
		    updated_at = now()
		 WHERE id = $1`,
		feed.ID,
		feed.FetchStatus,
		feed.ConsecutiveErrors,
		feed.ErrorMessage,
		feed.NextFetchAt,
		feed.ETag,
		feed.LastModified,
	)
	if err != nil {
		return fmt.Errorf("フェッチ状態の更新に失敗しました: %w", err)
	}
	return nil
}

func (r *PostgresEditalFeedRepo) query(ctx context.Context, query string, args ...any) ([]*model.EditalFeed, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("フィード一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var feeds []*model.EditalFeed
	for rows.Next() {
		feed, err := scanEditalFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("フィードの読み取りに失敗しました: %w", err)
		}
		feeds = append(feeds, feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フィード一覧の走査に失敗しました: %w", err)
	}
	return feeds, nil
}

// PostgresEditalRepo はPostgreSQLを使用した公示リポジトリ。
type PostgresEditalRepo struct {
	db *sql.DB
}

// NewPostgresEditalRepo はPostgresEditalRepoを生成する。
func NewPostgresEditalRepo(db *sql.DB) *PostgresEditalRepo {
	return &PostgresEditalRepo{db: db}
}

const editalColumns = `id, feed_id, concurso_id, guid_or_id, title, link, summary, published_at,
	content_hash, fetched_at, created_at, updated_at`

func scanEdital(row rowScanner) (*model.Edital, error) {
	e := &model.Edital{}
	var concursoID, guid sql.NullString
	var publishedAt sql.NullTime
	if err := row.Scan(&e.ID, &e.FeedID, &concursoID, &guid, &e.Title, &e.Link, &e.Summary,
		&publishedAt, &e.ContentHash, &e.FetchedAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.ConcursoID = nullStringValue(concursoID)
	e.GuidOrID = nullStringValue(guid)
	e.PublishedAt = nullTimePtr(publishedAt)
	return e, nil
}

func (r *PostgresEditalRepo) findOne(ctx context.Context, where string, args ...any) (*model.Edital, error) {
	e, err := scanEdital(r.db.QueryRowContext(ctx,
		`SELECT `+editalColumns+` FROM editais WHERE `+where+` LIMIT 1`, args...,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("公示の検索に失敗しました: %w", err)
	}
	return e, nil
}

// FindByFeedAndGUID はfeed_idとguid_or_idで公示を検索する。見つからない場合はnilを返す。
func (r *PostgresEditalRepo) FindByFeedAndGUID(ctx context.Context, feedID, guid string) (*model.Edital, error) {
	return r.findOne(ctx, `feed_id = $1 AND guid_or_id = $2`, feedID, guid)
}

// FindByFeedAndLink はfeed_idとlinkで公示を検索する。見つからない場合はnilを返す。
func (r *PostgresEditalRepo) FindByFeedAndLink(ctx context.Context, feedID, link string) (*model.Edital, error) {
	return r.findOne(ctx, `feed_id = $1 AND link = $2`, feedID, link)
}

// FindByContentHash はfeed_idとcontent_hashで公示を検索する。見つからない場合はnilを返す。
func (r *PostgresEditalRepo) FindByContentHash(ctx context.Context, feedID, contentHash string) (*model.Edital, error) {
	return r.findOne(ctx, `feed_id = $1 AND content_hash = $2`, feedID, contentHash)
}

// Create は公示を作成する。
func (r *PostgresEditalRepo) Create(ctx context.Context, e *model.Edital) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO editais (id, feed_id, concurso_id, guid_or_id, title, link, summary,
		                      published_at, content_hash, fetched_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.FeedID, nullString(e.ConcursoID), nullString(e.GuidOrID), e.Title, e.Link, e.Summary,
		nullTime(e.PublishedAt), e.ContentHash, e.FetchedAt, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("公示の作成に失敗しました: %w", err)
	}
	return nil
}

// Update は既存の公示を上書き更新する。履歴は保持しない。
func (r *PostgresEditalRepo) Update(ctx context.Context, e *model.Edital) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE editais SET
		    guid_or_id = $2, title = $3, link = $4, summary = $5, published_at = $6,
		    content_hash = $7, concurso_id = $8, fetched_at = $9, updated_at = $10
		 WHERE id = $1`,
		e.ID, nullString(e.GuidOrID), e.Title, e.Link, e.Summary, nullTime(e.PublishedAt),
		e.ContentHash, nullString(e.ConcursoID), e.FetchedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("公示の更新に失敗しました: %w", err)
	}
	return nil
}

// ListRecent は公開日時の新しい順に公示を返す。concursoIDが空でなければ絞り込む。
func (r *PostgresEditalRepo) ListRecent(ctx context.Context, concursoID string, limit int) ([]*model.Edital, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+editalColumns+`
		 FROM editais
		 WHERE ($1 = '' OR concurso_id::text = $1)
		 ORDER BY COALESCE(published_at, fetched_at) DESC
		 LIMIT $2`,
		concursoID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("公示一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var out []*model.Edital
	for rows.Next() {
		e, err := scanEdital(rows)
		if err != nil {
			return nil, fmt.Errorf("公示の読み取りに失敗しました: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("公示一覧の走査に失敗しました: %w", err)
	}
	return out, nil
}

// compile-time interface check
var (
	_ EditalFeedRepository = (*PostgresEditalFeedRepo)(nil)
	_ EditalRepository     = (*PostgresEditalRepo)(nil)
)
