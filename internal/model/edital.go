package model

import "time"

// EditalFeed は試験実施機関（banca）が公開する公示情報のRSS/Atomフィードを表す。
type EditalFeed struct {
	ID                string
	ConcursoID        string // 任意。設定されている場合、取得した公示はこの concurso に紐づく
	FeedURL           string
	SiteURL           string
	Title             string
	ETag              string
	LastModified      string
	FetchStatus       FetchStatus
	ConsecutiveErrors int
	ErrorMessage      string
	NextFetchAt       time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// FetchStatus はフィードのフェッチ状態を表す。
type FetchStatus string

const (
	// FetchStatusActive はアクティブなフェッチ状態。
	FetchStatusActive FetchStatus = "active"
	// FetchStatusStopped は停止されたフェッチ状態。
	FetchStatusStopped FetchStatus = "stopped"
)

// Edital はフィードから取得した公示（試験告知）を表す。
type Edital struct {
	ID          string
	FeedID      string
	ConcursoID  string
	GuidOrID    string
	Title       string
	Link        string
	Summary     string // サニタイズ済みHTML
	PublishedAt *time.Time
	ContentHash string
	FetchedAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ParsedEdital はフィードパーサーから取得した未保存の公示データを表す。
type ParsedEdital struct {
	GuidOrID    string
	Title       string
	Link        string
	Summary     string // 未サニタイズ
	PublishedAt *time.Time
}
