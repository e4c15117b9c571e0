package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/concurseiro/internal/model"
)

// PostgresPreferenceRepo はPostgreSQLを使用したユーザー設定リポジトリ。
type PostgresPreferenceRepo struct {
	db *sql.DB
}

// NewPostgresPreferenceRepo はPostgresPreferenceRepoを生成する。
func NewPostgresPreferenceRepo(db *sql.DB) *PostgresPreferenceRepo {
	return &PostgresPreferenceRepo{db: db}
}

// Find はユーザー設定を取得する。見つからない場合はnilを返す。
func (r *PostgresPreferenceRepo) Find(ctx context.Context, userID string) (*model.UserPreference, error) {
	pref := &model.UserPreference{}
	var selected sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, selected_concurso_id, updated_at FROM user_preferences WHERE user_id = $1`,
		userID,
	).Scan(&pref.UserID, &selected, &pref.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザー設定の取得に失敗しました: %w", err)
	}
	pref.SelectedConcursoID = nullStringValue(selected)
	return pref, nil
}

// Upsert はユーザー設定を作成または上書きする。
func (r *PostgresPreferenceRepo) Upsert(ctx context.Context, pref *model.UserPreference) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_preferences (user_id, selected_concurso_id, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET
		    selected_concurso_id = EXCLUDED.selected_concurso_id,
		    updated_at = EXCLUDED.updated_at`,
		pref.UserID, nullString(pref.SelectedConcursoID), pref.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ユーザー設定の保存に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ PreferenceRepository = (*PostgresPreferenceRepo)(nil)
