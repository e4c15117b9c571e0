package model

import "time"

// TableUsage はテーブル単位のデータベース使用状況を表す。
// pg_stat_user_tables と pg_total_relation_size から取得する。
type TableUsage struct {
	Name            string     `json:"name"`
	LiveRows        int64      `json:"live_rows"`
	DeadRows        int64      `json:"dead_rows"`
	SoftDeletedRows *int64     `json:"soft_deleted_rows,omitempty"`
	TotalBytes      int64      `json:"total_bytes"`
	TableBytes      int64      `json:"table_bytes"`
	IndexBytes      int64      `json:"index_bytes"`
	SeqScans        int64      `json:"seq_scans"`
	IndexScans      int64      `json:"index_scans"`
	LastVacuum      *time.Time `json:"last_vacuum,omitempty"`
	LastAnalyze     *time.Time `json:"last_analyze,omitempty"`
}

// DBUsageReport は管理パネル向けのデータベース使用状況レポート。
type DBUsageReport struct {
	DatabaseName  string       `json:"database_name"`
	DatabaseBytes int64        `json:"database_bytes"`
	Connections   int          `json:"connections"`
	Tables        []TableUsage `json:"tables"`
	GeneratedAt   time.Time    `json:"generated_at"`
}
