// Package simcache は simulado APIの再検証型フェッチキャッシュ。
//
// 一覧・メタデータ・設問・解答状況をセクションごとのTTLでローカルに保持し、
// TTL経過後は保存済みのETag / Last-Modifiedで条件付きリクエストを送る。
// 304は保存済みペイロードを変更せず鮮度のみ更新し、200はペイロードと検証子を一括で上書きする。
// 通信に失敗した場合は古いキャッシュで応答する。
package simcache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/concurseiro/internal/httpjson"
	"github.com/hitoshi/concurseiro/internal/model"
	"github.com/hitoshi/concurseiro/internal/simulado"
)

const (
	keyPrefix          = "simcache:"
	validatorKeyPrefix = keyPrefix + "validators:"

	maxResponseSize = 10 << 20
)

// DefaultTTLs はセクションごとの鮮度期間。解答状況は常に再検証する。
var DefaultTTLs = map[string]time.Duration{
	simulado.SectionIndex:     15 * time.Minute,
	simulado.SectionMeta:      60 * time.Minute,
	simulado.SectionQuestions: 30 * time.Minute,
	simulado.SectionProgress:  0,
}

// 保存エントリの既定の保持期間。
const (
	DefaultPayloadRetention   = 24 * time.Hour
	DefaultValidatorRetention = 7 * 24 * time.Hour
)

// Key はセクション・concurso・スラッグからキャッシュキーを生成する。
func Key(section, concursoID, slug string) string {
	key := keyPrefix + section + ":" + concursoID
	if slug != "" {
		key += ":" + slug
	}
	return key
}

func validatorKey(key string) string {
	return validatorKeyPrefix + strings.TrimPrefix(key, keyPrefix)
}

// validators はレスポンスの検証子と保存時刻。鮮度判定はStoredAtで行う。
type validators struct {
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	StoredAt     time.Time `json:"stored_at"`
}

// Client は simulado APIのキャッシュ付きクライアント。
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      Store
	ttls       map[string]time.Duration
	stats      *Stats
	now        func() time.Time

	sessionID string
	csrfToken string

	// 保存エントリの保持期間。TTL経過後も検証子とフォールバック用に残す。
	payloadRetention   time.Duration
	validatorRetention time.Duration
}

// Option はClientの設定関数。
type Option func(*Client)

// WithHTTPClient は使用するHTTPクライアントを設定する。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithStore はキャッシュの保存先を設定する。既定はMemoryStore。
func WithStore(s Store) Option {
	return func(c *Client) { c.store = s }
}

// WithTTL はセクションの鮮度期間を上書きする。
func WithTTL(section string, ttl time.Duration) Option {
	return func(c *Client) { c.ttls[section] = ttl }
}

// WithSession はセッションCookieとCSRFトークンを設定する。
// 解答状況の取得・保存に必要。
func WithSession(sessionID, csrfToken string) Option {
	return func(c *Client) {
		c.sessionID = sessionID
		c.csrfToken = csrfToken
	}
}

// WithRetention は保存エントリの保持期間を設定する。
func WithRetention(payload, validators time.Duration) Option {
	return func(c *Client) {
		c.payloadRetention = payload
		c.validatorRetention = validators
	}
}

// WithClock はテスト用に時刻関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New はClientを生成する。baseURLはAPIのオリジン（例: http://localhost:8080）。
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:            strings.TrimRight(baseURL, "/"),
		httpClient:         &http.Client{Timeout: 10 * time.Second},
		store:              NewMemoryStore(),
		ttls:               make(map[string]time.Duration, len(DefaultTTLs)),
		stats:              newStats(),
		now:                time.Now,
		payloadRetention:   DefaultPayloadRetention,
		validatorRetention: DefaultValidatorRetention,
	}
	for k, v := range DefaultTTLs {
		c.ttls[k] = v
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stats は診断用カウンターを返す。
func (c *Client) Stats() *Stats {
	return c.stats
}

// List は concurso の simulado 一覧を返す。
func (c *Client) List(ctx context.Context, concursoID string) (*simulado.Index, error) {
	raw, err := c.fetch(ctx, request{
		section:    simulado.SectionIndex,
		concursoID: concursoID,
		path:       simuladosPath(concursoID),
	})
	if err != nil {
		return nil, err
	}
	var idx simulado.Index
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("failed to decode simulado index: %w", err)
	}
	return &idx, nil
}

// Get は simulado のメタデータを返す。
// 詳細が失われている場合は一覧から再構築し、Degradedをtrueにする。
func (c *Client) Get(ctx context.Context, concursoID, slug string) (*simulado.Meta, error) {
	raw, err := c.fetch(ctx, request{
		section:    simulado.SectionMeta,
		concursoID: concursoID,
		slug:       slug,
		path:       simuladosPath(concursoID, slug),
		reconstruct: func(ctx context.Context) ([]byte, bool) {
			return c.metaFromIndex(ctx, concursoID, slug)
		},
	})
	if err != nil {
		return nil, err
	}
	var meta simulado.Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode simulado metadata: %w", err)
	}
	return &meta, nil
}

// Questions は simulado の設問一覧を返す。
func (c *Client) Questions(ctx context.Context, concursoID, slug string) (*simulado.Questions, error) {
	raw, err := c.fetch(ctx, request{
		section:    simulado.SectionQuestions,
		concursoID: concursoID,
		slug:       slug,
		path:       simuladosPath(concursoID, slug, "questions"),
	})
	if err != nil {
		return nil, err
	}
	var qs simulado.Questions
	if err := json.Unmarshal(raw, &qs); err != nil {
		return nil, fmt.Errorf("failed to decode simulado questions: %w", err)
	}
	return &qs, nil
}

// Progress はユーザーの解答状況を返す。
func (c *Client) Progress(ctx context.Context, concursoID, slug string) (*simulado.ProgressView, error) {
	raw, err := c.fetch(ctx, request{
		section:    simulado.SectionProgress,
		concursoID: concursoID,
		slug:       slug,
		path:       simuladosPath(concursoID, slug, "progress"),
	})
	if err != nil {
		return nil, err
	}
	var p simulado.ProgressView
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode simulado progress: %w", err)
	}
	return &p, nil
}

// SaveProgress は解答状況を楽観的に保存する。
// 送信前にローカルキャッシュを新しい値で更新し、失敗した場合は以前の値に戻す。
func (c *Client) SaveProgress(ctx context.Context, concursoID, slug string, in simulado.ProgressInput) (*simulado.ProgressView, error) {
	key := Key(simulado.SectionProgress, concursoID, slug)

	previous, err := c.store.Get(ctx, key)
	if err != nil {
		slog.Warn("failed to read cached progress", slog.String("key", key), slog.String("error", err.Error()))
	}

	optimistic := simulado.ProgressView{
		Answers:         in.Answers,
		CurrentPosition: in.CurrentPosition,
		UpdatedAt:       c.now().UTC(),
	}
	if previous != nil {
		var prev simulado.ProgressView
		if json.Unmarshal(previous, &prev) == nil {
			optimistic.SimuladoID = prev.SimuladoID
		}
	}
	if err := c.putPayload(ctx, key, optimistic); err != nil {
		return nil, err
	}

	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode progress: %w", err)
	}
	raw, _, err := c.send(ctx, http.MethodPut, simuladosPath(concursoID, slug, "progress"), bytes.NewReader(body), nil)
	if err != nil {
		c.rollback(ctx, key, previous)
		c.stats.record(simulado.SectionProgress, func(s *SectionStats) { s.Errors++ })
		return nil, err
	}

	var saved simulado.ProgressView
	if err := json.Unmarshal(raw, &saved); err != nil {
		c.rollback(ctx, key, previous)
		return nil, fmt.Errorf("failed to decode saved progress: %w", err)
	}
	if err := c.putPayload(ctx, key, saved); err != nil {
		return nil, err
	}
	// 保存済みの検証子は古い解答状況のもの
	if err := c.store.Delete(ctx, validatorKey(key)); err != nil {
		slog.Warn("failed to drop progress validators", slog.String("key", key), slog.String("error", err.Error()))
	}
	return &saved, nil
}

func (c *Client) putPayload(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cached payload: %w", err)
	}
	if err := c.store.SetMulti(ctx, Item{Key: key, Value: raw, TTL: c.payloadRetention}); err != nil {
		return fmt.Errorf("failed to write cached payload: %w", err)
	}
	return nil
}

func (c *Client) rollback(ctx context.Context, key string, previous []byte) {
	var err error
	if previous != nil {
		err = c.store.SetMulti(ctx, Item{Key: key, Value: previous, TTL: c.payloadRetention})
	} else {
		err = c.store.Delete(ctx, key)
	}
	if err != nil {
		slog.Error("failed to roll back optimistic progress", slog.String("key", key), slog.String("error", err.Error()))
	}
}

type request struct {
	section    string
	concursoID string
	slug       string
	path       string

	// reconstruct はペイロードが失われている場合の代替データを返す。
	reconstruct func(ctx context.Context) ([]byte, bool)
}

// fetch はキャッシュを確認し、必要に応じて条件付きリクエストを送る。
func (c *Client) fetch(ctx context.Context, req request) ([]byte, error) {
	key := Key(req.section, req.concursoID, req.slug)

	payload, err := c.store.Get(ctx, key)
	if err != nil {
		slog.Warn("failed to read cache", slog.String("key", key), slog.String("error", err.Error()))
		payload = nil
	}
	val := c.loadValidators(ctx, key)

	if payload != nil && val != nil {
		if ttl := c.ttls[req.section]; ttl > 0 && c.now().Sub(val.StoredAt) < ttl {
			c.stats.record(req.section, func(s *SectionStats) { s.Hits++ })
			return payload, nil
		}
	}

	raw, resp, err := c.send(ctx, http.MethodGet, req.path, nil, val)
	if err != nil {
		if ctx.Err() == nil && isNetwork(err) {
			if data, ok := c.fallback(ctx, req, payload); ok {
				slog.Warn("serving cached data after network failure",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				return data, nil
			}
		}
		c.stats.record(req.section, func(s *SectionStats) { s.Errors++ })
		return nil, err
	}

	if resp.StatusCode == http.StatusNotModified {
		if payload != nil {
			c.confirm(ctx, key, val, resp)
			c.stats.record(req.section, func(s *SectionStats) { s.NotModified++ })
			return payload, nil
		}
		if req.reconstruct != nil {
			if data, ok := req.reconstruct(ctx); ok {
				c.confirm(ctx, key, val, resp)
				c.stats.record(req.section, func(s *SectionStats) { s.NotModified++; s.Degraded++ })
				return data, nil
			}
		}
		// 検証子だけが残っていて再構築もできない場合は無条件で取り直す
		raw, resp, err = c.send(ctx, http.MethodGet, req.path, nil, nil)
		if err != nil {
			c.stats.record(req.section, func(s *SectionStats) { s.Errors++ })
			return nil, err
		}
		if resp.StatusCode == http.StatusNotModified {
			c.stats.record(req.section, func(s *SectionStats) { s.Errors++ })
			return nil, &Error{Category: model.CategoryServer, Status: resp.StatusCode, Message: "unexpected 304 for unconditional request"}
		}
	}

	if err := c.store.SetMulti(ctx, c.entriesFor(key, raw, resp)...); err != nil {
		slog.Warn("failed to write cache", slog.String("key", key), slog.String("error", err.Error()))
	}
	c.stats.record(req.section, func(s *SectionStats) { s.OK++ })
	return raw, nil
}

// fallback は通信失敗時に返すキャッシュを選ぶ。
// 古くても詳細ペイロードを優先し、なければ一覧から再構築する。
func (c *Client) fallback(ctx context.Context, req request, payload []byte) ([]byte, bool) {
	if payload != nil {
		c.stats.record(req.section, func(s *SectionStats) { s.Fallbacks++ })
		return payload, true
	}
	if req.reconstruct != nil {
		if data, ok := req.reconstruct(ctx); ok {
			c.stats.record(req.section, func(s *SectionStats) { s.Fallbacks++; s.Degraded++ })
			return data, true
		}
	}
	return nil, false
}

// confirm は304を受けて検証子の保存時刻のみを更新する。ペイロードには触れない。
func (c *Client) confirm(ctx context.Context, key string, prev *validators, resp *http.Response) {
	v := validators{StoredAt: c.now().UTC()}
	if prev != nil {
		v.ETag = prev.ETag
		v.LastModified = prev.LastModified
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		v.ETag = etag
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		v.LastModified = lm
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.store.SetMulti(ctx, Item{Key: validatorKey(key), Value: raw, TTL: c.validatorRetention}); err != nil {
		slog.Warn("failed to refresh validators", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// entriesFor は200のレスポンスからペイロードと検証子のエントリを作る。
func (c *Client) entriesFor(key string, payload []byte, resp *http.Response) []Item {
	v := validators{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		StoredAt:     c.now().UTC(),
	}
	raw, _ := json.Marshal(v)
	return []Item{
		{Key: key, Value: payload, TTL: c.payloadRetention},
		{Key: validatorKey(key), Value: raw, TTL: c.validatorRetention},
	}
}

func (c *Client) loadValidators(ctx context.Context, key string) *validators {
	raw, err := c.store.Get(ctx, validatorKey(key))
	if err != nil {
		slog.Warn("failed to read validators", slog.String("key", key), slog.String("error", err.Error()))
		return nil
	}
	if raw == nil {
		return nil
	}
	var v validators
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return &v
}

// metaFromIndex はキャッシュ済みの一覧からメタデータを再構築する。
func (c *Client) metaFromIndex(ctx context.Context, concursoID, slug string) ([]byte, bool) {
	raw, err := c.store.Get(ctx, Key(simulado.SectionIndex, concursoID, ""))
	if err != nil || raw == nil {
		return nil, false
	}
	var idx simulado.Index
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, false
	}
	entry, ok := idx.Find(slug)
	if !ok {
		return nil, false
	}
	data, err := json.Marshal(simulado.MetaFromIndex(concursoID, entry))
	if err != nil {
		return nil, false
	}
	return data, true
}

// send はAPIを呼び出し、成功時はエンベロープのdataを返す。
// 304の場合はdataなしでレスポンスを返す。
func (c *Client) send(ctx context.Context, method, path string, body io.Reader, val *validators) ([]byte, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if val != nil {
		if val.ETag != "" {
			req.Header.Set("If-None-Match", val.ETag)
		}
		if val.LastModified != "" {
			req.Header.Set("If-Modified-Since", val.LastModified)
		}
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, networkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		io.Copy(io.Discard, resp.Body)
		return nil, resp, nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, nil, networkError(err)
	}

	var env httpjson.DataEnvelope[json.RawMessage]
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode != http.StatusOK {
		apiErr := &Error{Category: ClassifyStatus(resp.StatusCode), Status: resp.StatusCode}
		if decodeErr == nil && env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			if env.Error.Category != "" && !isGatewayStatus(resp.StatusCode) {
				apiErr.Category = env.Error.Category
			}
		}
		return nil, nil, apiErr
	}
	if decodeErr != nil || !env.Success {
		return nil, nil, &Error{Category: model.CategoryServer, Status: resp.StatusCode, Message: "malformed response envelope"}
	}
	return env.Data, resp, nil
}

func isGatewayStatus(status int) bool {
	return status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout
}

func (c *Client) authorize(req *http.Request) {
	if c.sessionID != "" {
		req.AddCookie(&http.Cookie{Name: "session_id", Value: c.sessionID})
	}
	if c.csrfToken != "" {
		req.AddCookie(&http.Cookie{Name: "csrf_token", Value: c.csrfToken})
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			req.Header.Set("X-CSRF-Token", c.csrfToken)
		}
	}
}

func simuladosPath(concursoID string, rest ...string) string {
	var b strings.Builder
	b.WriteString("/api/concursos/")
	b.WriteString(url.PathEscape(concursoID))
	b.WriteString("/simulados")
	for _, seg := range rest {
		b.WriteString("/")
		b.WriteString(url.PathEscape(seg))
	}
	return b.String()
}
