package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/concurseiro/internal/model"
)

// PostgresProgressRepo はPostgreSQLを使用した解答状況リポジトリ。
type PostgresProgressRepo struct {
	db *sql.DB
}

// NewPostgresProgressRepo はPostgresProgressRepoを生成する。
func NewPostgresProgressRepo(db *sql.DB) *PostgresProgressRepo {
	return &PostgresProgressRepo{db: db}
}

// Find はユーザーの解答状況を取得する。見つからない場合はnilを返す。
func (r *PostgresProgressRepo) Find(ctx context.Context, userID, simuladoID string) (*model.Progress, error) {
	p := &model.Progress{}
	var answers []byte
	var score sql.NullInt64
	var finishedAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, simulado_id, answers, current_position, score, finished_at, updated_at
		 FROM simulado_progress
		 WHERE user_id = $1 AND simulado_id = $2`,
		userID, simuladoID,
	).Scan(&p.UserID, &p.SimuladoID, &answers, &p.CurrentPosition, &score, &finishedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("解答状況の取得に失敗しました: %w", err)
	}

	if err := json.Unmarshal(answers, &p.Answers); err != nil {
		return nil, fmt.Errorf("解答のデコードに失敗しました: %w", err)
	}
	if score.Valid {
		s := int(score.Int64)
		p.Score = &s
	}
	p.FinishedAt = nullTimePtr(finishedAt)
	return p, nil
}

// Upsert は解答状況を作成または上書きする。
func (r *PostgresProgressRepo) Upsert(ctx context.Context, p *model.Progress) error {
	answers := p.Answers
	if answers == nil {
		answers = map[string]string{}
	}
	encoded, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("解答のエンコードに失敗しました: %w", err)
	}

	var score sql.NullInt64
	if p.Score != nil {
		score = sql.NullInt64{Int64: int64(*p.Score), Valid: true}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO simulado_progress (user_id, simulado_id, answers, current_position, score, finished_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, simulado_id) DO UPDATE SET
		    answers = EXCLUDED.answers,
		    current_position = EXCLUDED.current_position,
		    score = EXCLUDED.score,
		    finished_at = EXCLUDED.finished_at,
		    updated_at = EXCLUDED.updated_at`,
		p.UserID, p.SimuladoID, encoded, p.CurrentPosition, score, nullTime(p.FinishedAt), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("解答状況の保存に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ProgressRepository = (*PostgresProgressRepo)(nil)
