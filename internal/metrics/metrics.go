// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EditalFetchMetrics は公示フィード取得ワーカーが使用するメトリクス。
type EditalFetchMetrics interface {
	RecordFetchSuccess(feedID string)
	RecordFetchFailure(feedID string, reason string)
	RecordParseFailure(feedID string)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordEditaisUpserted(count int)
}

// SimuladoMetrics は条件付きGETとペイロードキャッシュのメトリクス。
type SimuladoMetrics interface {
	// RecordConditionalResponse はセクション別に200/304の応答数を記録する。
	RecordConditionalResponse(section string, statusCode int)
	// RecordPayloadCache はサーバー側ペイロードキャッシュのヒット・ミスを記録する。
	RecordPayloadCache(section string, hit bool)
}

// AuthMetrics は認証失敗とロックアウトのメトリクス。
type AuthMetrics interface {
	// RecordAuthFailure は scope（login / withdraw）ごとの認証失敗を記録する。
	RecordAuthFailure(scope string)
	// RecordLockout は scope ごとのロックアウト発生を記録する。
	RecordLockout(scope string)
}

// RealtimeMetrics は変更通知の受信数を記録する。
type RealtimeMetrics interface {
	RecordChangeEvent(table string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchSuccess  prometheus.Counter
	fetchFail     *prometheus.CounterVec
	parseFail     prometheus.Counter
	httpStatus    *prometheus.CounterVec
	fetchLatency  prometheus.Histogram
	editaisUpsert prometheus.Counter
	conditional   *prometheus.CounterVec
	payloadCache  *prometheus.CounterVec
	authFailures  *prometheus.CounterVec
	lockouts      *prometheus.CounterVec
	changeEvents  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "concurseiro_edital_fetch_success_total",
			Help: "公示フィード取得成功の合計数",
		}),
		fetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "concurseiro_edital_fetch_fail_total",
			Help: "公示フィード取得失敗の合計数",
		}, []string{"reason"}),
		parseFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "concurseiro_edital_parse_fail_total",
			Help: "公示フィードのパース失敗の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "concurseiro_edital_http_status_total",
			Help: "公示フィード取得時のHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "concurseiro_edital_fetch_latency_seconds",
			Help:    "公示フィード取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		editaisUpsert: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "concurseiro_editais_upserted_total",
			Help: "アップサートされた公示の合計数",
		}),
		conditional: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "concurseiro_simulado_responses_total",
			Help: "simulado エンドポイントのセクション・ステータス別応答数",
		}, []string{"section", "status_code"}),
		payloadCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "concurseiro_simulado_payload_cache_total",
			Help: "simulado ペイロードキャッシュのヒット・ミス数",
		}, []string{"section", "result"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "concurseiro_auth_failures_total",
			Help: "認証失敗の合計数",
		}, []string{"scope"}),
		lockouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "concurseiro_auth_lockouts_total",
			Help: "ロックアウト発生の合計数",
		}, []string{"scope"}),
		changeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "concurseiro_realtime_events_total",
			Help: "受信した変更通知のテーブル別件数",
		}, []string{"table"}),
	}

	reg.MustRegister(
		c.fetchSuccess,
		c.fetchFail,
		c.parseFail,
		c.httpStatus,
		c.fetchLatency,
		c.editaisUpsert,
		c.conditional,
		c.payloadCache,
		c.authFailures,
		c.lockouts,
		c.changeEvents,
	)

	return c
}

// RecordFetchSuccess はフェッチ成功を記録する。
func (c *Collector) RecordFetchSuccess(feedID string) {
	c.fetchSuccess.Inc()
}

// RecordFetchFailure はフェッチ失敗を理由別に記録する。
func (c *Collector) RecordFetchFailure(feedID string, reason string) {
	c.fetchFail.WithLabelValues(reason).Inc()
}

// RecordParseFailure はパース失敗を記録する。
func (c *Collector) RecordParseFailure(feedID string) {
	c.parseFail.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordEditaisUpserted はアップサートされた公示数を記録する。
func (c *Collector) RecordEditaisUpserted(count int) {
	c.editaisUpsert.Add(float64(count))
}

// RecordConditionalResponse はセクション別に200/304の応答数を記録する。
func (c *Collector) RecordConditionalResponse(section string, statusCode int) {
	c.conditional.WithLabelValues(section, strconv.Itoa(statusCode)).Inc()
}

// RecordPayloadCache はペイロードキャッシュのヒット・ミスを記録する。
func (c *Collector) RecordPayloadCache(section string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.payloadCache.WithLabelValues(section, result).Inc()
}

// RecordAuthFailure は認証失敗を記録する。
func (c *Collector) RecordAuthFailure(scope string) {
	c.authFailures.WithLabelValues(scope).Inc()
}

// RecordLockout はロックアウト発生を記録する。
func (c *Collector) RecordLockout(scope string) {
	c.lockouts.WithLabelValues(scope).Inc()
}

// RecordChangeEvent は変更通知の受信を記録する。
func (c *Collector) RecordChangeEvent(table string) {
	c.changeEvents.WithLabelValues(table).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しない実装。メトリクス未設定時やテストで使用する。
type Nop struct{}

func (Nop) RecordFetchSuccess(string)             {}
func (Nop) RecordFetchFailure(string, string)     {}
func (Nop) RecordParseFailure(string)             {}
func (Nop) RecordHTTPStatus(int)                  {}
func (Nop) RecordFetchLatency(time.Duration)      {}
func (Nop) RecordEditaisUpserted(int)             {}
func (Nop) RecordConditionalResponse(string, int) {}
func (Nop) RecordPayloadCache(string, bool)       {}
func (Nop) RecordAuthFailure(string)              {}
func (Nop) RecordLockout(string)                  {}
func (Nop) RecordChangeEvent(string)              {}

var (
	_ EditalFetchMetrics = Nop{}
	_ SimuladoMetrics    = Nop{}
	_ AuthMetrics        = Nop{}
	_ RealtimeMetrics    = Nop{}
	_ EditalFetchMetrics = (*Collector)(nil)
	_ SimuladoMetrics    = (*Collector)(nil)
	_ AuthMetrics        = (*Collector)(nil)
	_ RealtimeMetrics    = (*Collector)(nil)
)
