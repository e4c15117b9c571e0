package fetch

import (
	"fmt"
	"time"

	"github.com/hitoshi/concurseiro/internal/model"
)

// FetchResult はHTTPステータスコードに基づくフェッチ結果の分類。
type FetchResult int

const (
	// FetchResultOK はフェッチ成功（200）。
	FetchResultOK FetchResult = iota
	// FetchResultNotModified はコンテンツ未変更（304）。
	FetchResultNotModified
	// FetchResultStop は停止が必要なステータス（404/410/401/403）。
	FetchResultStop
	// FetchResultBackoff はバックオフが必要なステータス（429/5xx）。
	FetchResultBackoff
	// FetchResultUnknown は上記以外。バックオフとして扱う。
	FetchResultUnknown
)

func (r FetchResult) String() string {
	switch r {
	case FetchResultOK:
		return "ok"
	case FetchResultNotModified:
		return "not_modified"
	case FetchResultStop:
		return "stop"
	case FetchResultBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

const (
	initialBackoff = 30 * time.Minute
	maxBackoff     = 12 * time.Hour
	// parseFailureThreshold に達した連続パース失敗でフィードを停止する。
	parseFailureThreshold = 10
)

// ClassifyHTTPStatus はHTTPステータスコードをフェッチ結果に分類する。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch statusCode {
	case 200:
		return FetchResultOK
	case 304:
		return FetchResultNotModified
	case 401, 403, 404, 410:
		return FetchResultStop
	case 429:
		return FetchResultBackoff
	}
	if statusCode >= 500 {
		return FetchResultBackoff
	}
	return FetchResultUnknown
}

// CalculateBackoff は連続エラー回数からバックオフ遅延を返す。
// 30分から2倍ずつ増え、12時間で頭打ちになる。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for range consecutiveErrors {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// ApplyStopFeed はフィードを停止状態にする。再開は管理者の操作でのみ行う。
func ApplyStopFeed(feed *model.EditalFeed, reason string, now time.Time) {
	feed.FetchStatus = model.FetchStatusStopped
	feed.ErrorMessage = reason
	feed.UpdatedAt = now
}

// ApplyBackoff は連続エラー回数を増やし、次回フェッチを遅らせる。
func ApplyBackoff(feed *model.EditalFeed, reason string, now time.Time) {
	feed.ConsecutiveErrors++
	feed.ErrorMessage = reason
	feed.NextFetchAt = now.Add(CalculateBackoff(feed.ConsecutiveErrors - 1))
	feed.UpdatedAt = now
}

// ApplySuccess はエラー状態をリセットし、interval 後を次回フェッチに設定する。
func ApplySuccess(feed *model.EditalFeed, interval time.Duration, now time.Time) {
	feed.ConsecutiveErrors = 0
	feed.ErrorMessage = ""
	feed.NextFetchAt = now.Add(interval)
	feed.UpdatedAt = now
}

// ApplyParseFailure は連続エラー回数を増やし、閾値に達したら停止する。
// 停止しない場合もバックオフで次回フェッチを遅らせる。
func ApplyParseFailure(feed *model.EditalFeed, reason string, now time.Time) {
	feed.ConsecutiveErrors++
	feed.UpdatedAt = now

	if feed.ConsecutiveErrors >= parseFailureThreshold {
		feed.FetchStatus = model.FetchStatusStopped
		feed.ErrorMessage = fmt.Sprintf("パース失敗が%d回連続したため停止: %s", feed.ConsecutiveErrors, reason)
		return
	}
	feed.ErrorMessage = fmt.Sprintf("パース失敗 (%d回連続): %s", feed.ConsecutiveErrors, reason)
	feed.NextFetchAt = now.Add(CalculateBackoff(feed.ConsecutiveErrors - 1))
}
