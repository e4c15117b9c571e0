package fetch

import (
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/concurseiro/internal/model"
)

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   FetchResult
	}{
		{200, FetchResultOK},
		{304, FetchResultNotModified},
		{401, FetchResultStop},
		{403, FetchResultStop},
		{404, FetchResultStop},
		{410, FetchResultStop},
		{429, FetchResultBackoff},
		{500, FetchResultBackoff},
		{502, FetchResultBackoff},
		{503, FetchResultBackoff},
		{418, FetchResultUnknown},
		{301, FetchResultUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyHTTPStatus(tt.status); got != tt.want {
			t.Errorf("ClassifyHTTPStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		errors int
		want   time.Duration
	}{
		{0, 30 * time.Minute},
		{1, time.Hour},
		{2, 2 * time.Hour},
		{4, 8 * time.Hour},
		{5, 12 * time.Hour},
		{50, 12 * time.Hour},
	}
	for _, tt := range tests {
		if got := CalculateBackoff(tt.errors); got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.errors, got, tt.want)
		}
	}
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestApplyStopFeed(t *testing.T) {
	feed := &model.EditalFeed{FetchStatus: model.FetchStatusActive}
	ApplyStopFeed(feed, "HTTP 404", testNow)

	if feed.FetchStatus != model.FetchStatusStopped {
		t.Errorf("FetchStatus = %s, want stopped", feed.FetchStatus)
	}
	if feed.ErrorMessage != "HTTP 404" || !feed.UpdatedAt.Equal(testNow) {
		t.Errorf("feed = %+v", feed)
	}
}

func TestApplyBackoff(t *testing.T) {
	feed := &model.EditalFeed{FetchStatus: model.FetchStatusActive}

	ApplyBackoff(feed, "HTTP 503", testNow)
	if feed.ConsecutiveErrors != 1 || !feed.NextFetchAt.Equal(testNow.Add(30*time.Minute)) {
		t.Errorf("1回目: errors=%d next=%v", feed.ConsecutiveErrors, feed.NextFetchAt)
	}

	ApplyBackoff(feed, "HTTP 503", testNow)
	if feed.ConsecutiveErrors != 2 || !feed.NextFetchAt.Equal(testNow.Add(time.Hour)) {
		t.Errorf("2回目: errors=%d next=%v", feed.ConsecutiveErrors, feed.NextFetchAt)
	}
	if feed.FetchStatus != model.FetchStatusActive {
		t.Error("バックオフで停止してはならない")
	}
}

func TestApplySuccess(t *testing.T) {
	feed := &model.EditalFeed{ConsecutiveErrors: 3, ErrorMessage: "x"}
	ApplySuccess(feed, 15*time.Minute, testNow)

	if feed.ConsecutiveErrors != 0 || feed.ErrorMessage != "" {
		t.Errorf("エラー状態がリセットされていない: %+v", feed)
	}
	if !feed.NextFetchAt.Equal(testNow.Add(15 * time.Minute)) {
		t.Errorf("NextFetchAt = %v", feed.NextFetchAt)
	}
}

func TestApplyParseFailure(t *testing.T) {
	feed := &model.EditalFeed{FetchStatus: model.FetchStatusActive}
	for i := 1; i < parseFailureThreshold; i++ {
		ApplyParseFailure(feed, "xml inválido", testNow)
		if feed.FetchStatus != model.FetchStatusActive {
			t.Fatalf("%d回目で停止してはならない", i)
		}
	}
	if !feed.NextFetchAt.After(testNow) {
		t.Error("パース失敗時は次回フェッチを遅らせるべき")
	}

	ApplyParseFailure(feed, "xml inválido", testNow)
	if feed.FetchStatus != model.FetchStatusStopped {
		t.Errorf("%d回目で停止すべき", parseFailureThreshold)
	}
	if !strings.Contains(feed.ErrorMessage, "xml inválido") {
		t.Errorf("ErrorMessage = %q", feed.ErrorMessage)
	}
}
