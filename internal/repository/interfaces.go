// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/concurseiro/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDの有効なユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスで有効なユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error

	// SoftDelete はユーザーを論理削除し、全セッションを同一トランザクションで削除する。
	SoftDelete(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションをユーザーのロール付きで取得する。
	// 期限切れ、またはユーザーが退会済みの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ConcursoRepository は concurso・カテゴリ・科目の永続化インターフェース。
type ConcursoRepository interface {
	// List は有効な concurso を試験日順に返す。categorySlugが空でなければ絞り込む。
	List(ctx context.Context, categorySlug string) ([]*model.Concurso, error)
	// FindByID は指定IDの有効な concurso を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Concurso, error)
	// FindBySlug はスラッグで有効な concurso を取得する。見つからない場合はnilを返す。
	FindBySlug(ctx context.Context, slug string) (*model.Concurso, error)
	// Create は concurso を作成する。
	Create(ctx context.Context, c *model.Concurso) error
	// Update は concurso を更新する。
	Update(ctx context.Context, c *model.Concurso) error
	// SoftDelete は concurso を論理削除する。
	SoftDelete(ctx context.Context, id string) error

	// ListCategories は全カテゴリを名前順に返す。
	ListCategories(ctx context.Context) ([]*model.Category, error)
	// FindCategoryBySlug はスラッグでカテゴリを取得する。見つからない場合はnilを返す。
	FindCategoryBySlug(ctx context.Context, slug string) (*model.Category, error)
	// ListDisciplines はカテゴリに属する科目を名前順に返す。
	ListDisciplines(ctx context.Context, categoryID string) ([]*model.Discipline, error)
}

// FlashcardRepository はフラッシュカードの永続化インターフェース。
type FlashcardRepository interface {
	// ListByUser はユーザーの有効なカードを返す。concursoIDが空でなければ絞り込む。
	ListByUser(ctx context.Context, userID, concursoID string) ([]*model.Flashcard, error)
	// FindByID はユーザー所有のカードを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, userID, id string) (*model.Flashcard, error)
	// Create はカードを作成する。
	Create(ctx context.Context, card *model.Flashcard) error
	// Update はカードの内容を更新する。
	Update(ctx context.Context, card *model.Flashcard) error
	// RecordReview は復習結果を記録し、更新後のカードを返す。
	RecordReview(ctx context.Context, userID, id string, correct bool, reviewedAt time.Time) (*model.Flashcard, error)
	// SoftDelete はカードを論理削除する。対象がなければ false を返す。
	SoftDelete(ctx context.Context, userID, id string) (bool, error)
}

// SimuladoRepository は模擬試験と設問の永続化インターフェース。
type SimuladoRepository interface {
	// ListByConcurso は concurso の有効な simulado を返す。
	// publishedOnlyがtrueの場合は公開済みのみ返す。
	ListByConcurso(ctx context.Context, concursoID string, publishedOnly bool) ([]*model.Simulado, error)
	// FindBySlug は concurso 内のスラッグで simulado を取得する。見つからない場合はnilを返す。
	FindBySlug(ctx context.Context, concursoID, slug string) (*model.Simulado, error)
	// FindByID は指定IDの simulado を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Simulado, error)
	// Create は simulado を作成する。
	Create(ctx context.Context, s *model.Simulado) error
	// SoftDelete は simulado を論理削除する。
	SoftDelete(ctx context.Context, id string) error
	// ListQuestions は設問を出題順に返す。
	ListQuestions(ctx context.Context, simuladoID string) ([]model.Question, error)
	// ReplaceQuestions は設問を一括で差し替え、question_count と updated_at を更新する。
	ReplaceQuestions(ctx context.Context, simuladoID string, questions []model.Question) error
}

// ProgressRepository は模擬試験の解答状況の永続化インターフェース。
type ProgressRepository interface {
	// Find はユーザーの解答状況を取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, userID, simuladoID string) (*model.Progress, error)
	// Upsert は解答状況を作成または上書きする。
	Upsert(ctx context.Context, p *model.Progress) error
}

// PreferenceRepository はユーザー設定の永続化インターフェース。
type PreferenceRepository interface {
	// Find はユーザー設定を取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, userID string) (*model.UserPreference, error)
	// Upsert はユーザー設定を作成または上書きする。
	Upsert(ctx context.Context, pref *model.UserPreference) error
}

// EditalFeedRepository は公示フィードの永続化インターフェース。
type EditalFeedRepository interface {
	// FindByID は指定IDのフィードを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.EditalFeed, error)
	// FindByFeedURL はフィードURLでフィードを検索する。見つからない場合はnilを返す。
	FindByFeedURL(ctx context.Context, feedURL string) (*model.EditalFeed, error)
	// List は全フィードを登録順に返す。
	List(ctx context.Context) ([]*model.EditalFeed, error)
	// Create はフィードを作成する。
	Create(ctx context.Context, feed *model.EditalFeed) error
	// ListDueForFetch はフェッチ対象のフィードを取得する。
	// next_fetch_at <= now() かつ fetch_status = 'active' のフィードを
	// FOR UPDATE SKIP LOCKEDで排他的に取得する。
	ListDueForFetch(ctx context.Context) ([]*model.EditalFeed, error)
	// UpdateFetchState はフィードのフェッチ状態を更新する。
	// fetch_status、consecutive_errors、error_message、next_fetch_at、etag、last_modifiedを更新する。
	UpdateFetchState(ctx context.Context, feed *model.EditalFeed) error
}

// EditalRepository は公示の永続化インターフェース。
// 公示の同一性判定（3段階の優先順位）とCRUD操作を提供する。
type EditalRepository interface {
	// FindByFeedAndGUID はfeed_idとguid_or_idで公示を検索する。見つからない場合はnilを返す。
	FindByFeedAndGUID(ctx context.Context, feedID, guid string) (*model.Edital, error)
	// FindByFeedAndLink はfeed_idとlinkで公示を検索する。見つからない場合はnilを返す。
	FindByFeedAndLink(ctx context.Context, feedID, link string) (*model.Edital, error)
	// FindByContentHash はfeed_idとcontent_hashで公示を検索する。見つからない場合はnilを返す。
	FindByContentHash(ctx context.Context, feedID, contentHash string) (*model.Edital, error)
	// Create は公示を作成する。
	Create(ctx context.Context, e *model.Edital) error
	// Update は既存の公示を上書き更新する。
	Update(ctx context.Context, e *model.Edital) error
	// ListRecent は公開日時の新しい順に公示を返す。concursoIDが空でなければ絞り込む。
	ListRecent(ctx context.Context, concursoID string, limit int) ([]*model.Edital, error)
}

// StatsRepository はデータベース使用状況の取得インターフェース。
type StatsRepository interface {
	// DBUsage はデータベース全体とテーブルごとの使用状況を返す。
	DBUsage(ctx context.Context) (*model.DBUsageReport, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
