package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/concurseiro/internal/model"
)

// softDeleteTables は deleted_at による論理削除を行うテーブル。
var softDeleteTables = map[string]bool{
	"users":      true,
	"concursos":  true,
	"flashcards": true,
	"simulados":  true,
}

// PostgresStatsRepo はPostgreSQLの統計ビューからデータベース使用状況を取得する。
type PostgresStatsRepo struct {
	db *sql.DB
}

// NewPostgresStatsRepo はPostgresStatsRepoを生成する。
func NewPostgresStatsRepo(db *sql.DB) *PostgresStatsRepo {
	return &PostgresStatsRepo{db: db}
}

// DBUsage はデータベース全体とテーブルごとの使用状況を返す。
func (r *PostgresStatsRepo) DBUsage(ctx context.Context) (*model.DBUsageReport, error) {
	report := &model.DBUsageReport{GeneratedAt: time.Now()}

	// 1. データベース全体
	err := r.db.QueryRowContext(ctx,
		`SELECT current_database(),
		        pg_database_size(current_database()),
		        (SELECT count(*) FROM pg_stat_activity WHERE datname = current_database())`,
	).Scan(&report.DatabaseName, &report.DatabaseBytes, &report.Connections)
	if err != nil {
		return nil, fmt.Errorf("データベースサイズの取得に失敗しました: %w", err)
	}

	// 2. テーブルごとの統計
	rows, err := r.db.QueryContext(ctx,
		`SELECT relname,
		        n_live_tup,
		        n_dead_tup,
		        pg_total_relation_size(relid),
		        pg_relation_size(relid),
		        pg_indexes_size(relid),
		        COALESCE(seq_scan, 0),
		        COALESCE(idx_scan, 0),
		        GREATEST(last_vacuum, last_autovacuum),
		        GREATEST(last_analyze, last_autoanalyze)
		 FROM pg_stat_user_tables
		 WHERE schemaname = 'public'
		 ORDER BY pg_total_relation_size(relid) DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("テーブル統計の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t model.TableUsage
		var lastVacuum, lastAnalyze sql.NullTime
		if err := rows.Scan(&t.Name, &t.LiveRows, &t.DeadRows, &t.TotalBytes, &t.TableBytes,
			&t.IndexBytes, &t.SeqScans, &t.IndexScans, &lastVacuum, &lastAnalyze); err != nil {
			return nil, fmt.Errorf("テーブル統計の読み取りに失敗しました: %w", err)
		}
		t.LastVacuum = nullTimePtr(lastVacuum)
		t.LastAnalyze = nullTimePtr(lastAnalyze)
		report.Tables = append(report.Tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("テーブル統計の走査に失敗しました: %w", err)
	}

	// 3. 論理削除済みの行数（テーブル名はホワイトリストのみ埋め込む）
	for i := range report.Tables {
		name := report.Tables[i].Name
		if !softDeleteTables[name] {
			continue
		}
		var n int64
		if err := r.db.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT count(*) FROM %s WHERE deleted_at IS NOT NULL`, name),
		).Scan(&n); err != nil {
			return nil, fmt.Errorf("論理削除件数の取得に失敗しました (%s): %w", name, err)
		}
		report.Tables[i].SoftDeletedRows = &n
	}

	return report, nil
}

// compile-time interface check
var _ StatsRepository = (*PostgresStatsRepo)(nil)
