// Package cleanup は保持期間を過ぎたデータを物理削除する日次ジョブを提供する。
package cleanup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付ける。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DefaultEditalRetentionDays は公示の保持日数。
const DefaultEditalRetentionDays = 365

// step は1種類の削除処理。$1 には保持期間（interval文字列）が渡る。
type step struct {
	name  string
	query string
	days  func(j *CleanupJob) int
}

// 子テーブルを持つ行はON DELETE CASCADEで一緒に削除される。
var steps = []step{
	{
		name:  "sessions",
		query: `DELETE FROM sessions WHERE expires_at < now()`,
	},
	{
		name:  "flashcards",
		query: `DELETE FROM flashcards WHERE deleted_at IS NOT NULL AND deleted_at < now() - $1::interval`,
		days:  func(j *CleanupJob) int { return j.RetentionDays },
	},
	{
		name:  "simulados",
		query: `DELETE FROM simulados WHERE deleted_at IS NOT NULL AND deleted_at < now() - $1::interval`,
		days:  func(j *CleanupJob) int { return j.RetentionDays },
	},
	{
		name:  "concursos",
		query: `DELETE FROM concursos WHERE deleted_at IS NOT NULL AND deleted_at < now() - $1::interval`,
		days:  func(j *CleanupJob) int { return j.RetentionDays },
	},
	{
		name:  "users",
		query: `DELETE FROM users WHERE deleted_at IS NOT NULL AND deleted_at < now() - $1::interval`,
		days:  func(j *CleanupJob) int { return j.RetentionDays },
	},
	{
		name:  "editais",
		query: `DELETE FROM editais WHERE COALESCE(published_at, fetched_at) < now() - $1::interval`,
		days:  func(j *CleanupJob) int { return j.EditalRetentionDays },
	},
}

// CleanupJob は論理削除済みの行、期限切れセッション、古い公示を物理削除する。
// 何度実行しても結果は変わらない。
type CleanupJob struct {
	db     Executor
	logger *slog.Logger
	// RetentionDays は論理削除後に行を保持する日数。
	RetentionDays int
	// EditalRetentionDays は公示を保持する日数。
	EditalRetentionDays int
}

// NewCleanupJob はCleanupJobを生成する。retentionDaysが0以下なら30日。
func NewCleanupJob(db Executor, logger *slog.Logger, retentionDays int) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		db:                  db,
		logger:              logger,
		RetentionDays:       retentionDays,
		EditalRetentionDays: DefaultEditalRetentionDays,
	}
}

// Run は全ての削除処理を実行する。1つが失敗しても残りは実行し、エラーはまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	var errs []error
	var total int64

	for _, s := range steps {
		var args []any
		if s.days != nil {
			args = append(args, fmt.Sprintf("%d days", s.days(j)))
		}

		result, err := j.db.ExecContext(ctx, s.query, args...)
		if err != nil {
			j.logger.Error("クリーンアップに失敗しました",
				slog.String("target", s.name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s のクリーンアップに失敗: %w", s.name, err))
			continue
		}
		n, err := result.RowsAffected()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s の削除件数の取得に失敗: %w", s.name, err))
			continue
		}
		total += n
		if n > 0 {
			j.logger.Info("クリーンアップで行を削除しました",
				slog.String("target", s.name),
				slog.Int64("deleted_count", n),
			)
		}
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", total),
		slog.Int("retention_days", j.RetentionDays),
		slog.Int("edital_retention_days", j.EditalRetentionDays),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return errors.Join(errs...)
}

// Start は起動直後に1回、その後 interval ごとにRunを実行する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := j.Run(ctx); err != nil && ctx.Err() == nil {
			j.logger.Error("クリーンアップジョブの実行に失敗しました", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
