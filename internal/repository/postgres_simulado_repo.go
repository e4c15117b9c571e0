package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/concurseiro/internal/model"
)

// PostgresSimuladoRepo はPostgreSQLを使用した simulado リポジトリ。
type PostgresSimuladoRepo struct {
	db *sql.DB
}

// NewPostgresSimuladoRepo はPostgresSimuladoRepoを生成する。
func NewPostgresSimuladoRepo(db *sql.DB) *PostgresSimuladoRepo {
	return &PostgresSimuladoRepo{db: db}
}

const simuladoColumns = `id, concurso_id, slug, title, description, duration_minutes, question_count,
	published, created_at, updated_at, deleted_at`

func scanSimulado(row rowScanner) (*model.Simulado, error) {
	s := &model.Simulado{}
	var deletedAt sql.NullTime
	if err := row.Scan(&s.ID, &s.ConcursoID, &s.Slug, &s.Title, &s.Description, &s.DurationMinutes,
		&s.QuestionCount, &s.Published, &s.CreatedAt, &s.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}
	s.DeletedAt = nullTimePtr(deletedAt)
	return s, nil
}

// ListByConcurso は concurso の有効な simulado を作成順に返す。
func (r *PostgresSimuladoRepo) ListByConcurso(ctx context.Context, concursoID string, publishedOnly bool) ([]*model.Simulado, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+simuladoColumns+`
		 FROM simulados
		 WHERE concurso_id = $1 AND deleted_at IS NULL
		   AND (NOT $2 OR published)
		 ORDER BY created_at ASC, slug ASC`,
		concursoID, publishedOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("simulado一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var out []*model.Simulado
	for rows.Next() {
		s, err := scanSimulado(rows)
		if err != nil {
			return nil, fmt.Errorf("simuladoの読み取りに失敗しました: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("simulado一覧の走査に失敗しました: %w", err)
	}
	return out, nil
}

// FindBySlug は concurso 内のスラッグで simulado を取得する。見つからない場合はnilを返す。
func (r *PostgresSimuladoRepo) FindBySlug(ctx context.Context, concursoID, slug string) (*model.Simulado, error) {
	s, err := scanSimulado(r.db.QueryRowContext(ctx,
		`SELECT `+simuladoColumns+` FROM simulados
		 WHERE concurso_id = $1 AND slug = $2 AND deleted_at IS NULL`,
		concursoID, slug,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("simuladoの取得に失敗しました: %w", err)
	}
	return s, nil
}

// FindByID は指定IDの simulado を取得する。見つからない場合はnilを返す。
func (r *PostgresSimuladoRepo) FindByID(ctx context.Context, id string) (*model.Simulado, error) {
	s, err := scanSimulado(r.db.QueryRowContext(ctx,
		`SELECT `+simuladoColumns+` FROM simulados WHERE id = $1 AND deleted_at IS NULL`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("simuladoの取得に失敗しました: %w", err)
	}
	return s, nil
}

// Create は simulado を作成する。
func (r *PostgresSimuladoRepo) Create(ctx context.Context, s *model.Simulado) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO simulados (id, concurso_id, slug, title, description, duration_minutes,
		                        question_count, published, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.ConcursoID, s.Slug, s.Title, s.Description, s.DurationMinutes,
		s.QuestionCount, s.Published, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return wrapWriteError(err, "simuladoの作成に失敗しました")
	}
	return nil
}

// SoftDelete は simulado を論理削除する。
func (r *PostgresSimuladoRepo) SoftDelete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE simulados SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("simuladoの削除に失敗しました: %w", err)
	}
	return nil
}

// ListQuestions は設問を出題順に返す。
func (r *PostgresSimuladoRepo) ListQuestions(ctx context.Context, simuladoID string) ([]model.Question, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, simulado_id, position, statement, alternatives, correct_alternative,
		        explanation, discipline_id, updated_at
		 FROM questions
		 WHERE simulado_id = $1
		 ORDER BY position ASC`,
		simuladoID,
	)
	if err != nil {
		return nil, fmt.Errorf("設問一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var out []model.Question
	for rows.Next() {
		var q model.Question
		var alternatives []byte
		var disciplineID sql.NullString
		if err := rows.Scan(&q.ID, &q.SimuladoID, &q.Position, &q.Statement, &alternatives,
			&q.CorrectAlternative, &q.Explanation, &disciplineID, &q.UpdatedAt); err != nil {
			return nil, fmt.Errorf("設問の読み取りに失敗しました: %w", err)
		}
		if err := json.Unmarshal(alternatives, &q.Alternatives); err != nil {
			return nil, fmt.Errorf("選択肢のデコードに失敗しました: %w", err)
		}
		q.DisciplineID = nullStringValue(disciplineID)
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("設問一覧の走査に失敗しました: %w", err)
	}
	return out, nil
}

// ReplaceQuestions は設問を一括で差し替え、question_count と updated_at を更新する。
// simulados の更新により変更通知トリガーが発火する。
func (r *PostgresSimuladoRepo) ReplaceQuestions(ctx context.Context, simuladoID string, questions []model.Question) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE simulado_id = $1`, simuladoID); err != nil {
		return fmt.Errorf("既存設問の削除に失敗しました: %w", err)
	}

	for i := range questions {
		q := &questions[i]
		if q.ID == "" {
			q.ID = uuid.New().String()
		}
		q.SimuladoID = simuladoID
		alternatives, err := json.Marshal(q.Alternatives)
		if err != nil {
			return fmt.Errorf("選択肢のエンコードに失敗しました: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO questions (id, simulado_id, position, statement, alternatives,
			                        correct_alternative, explanation, discipline_id, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
			q.ID, simuladoID, q.Position, q.Statement, alternatives,
			q.CorrectAlternative, q.Explanation, nullString(q.DisciplineID),
		); err != nil {
			return fmt.Errorf("設問の作成に失敗しました (position=%d): %w", q.Position, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE simulados SET question_count = $2, updated_at = now() WHERE id = $1`,
		simuladoID, len(questions),
	); err != nil {
		return fmt.Errorf("simuladoの更新に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SimuladoRepository = (*PostgresSimuladoRepo)(nil)
