package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/concurseiro/internal/model"
)

// PostgresFlashcardRepo はPostgreSQLを使用したフラッシュカードリポジトリ。
type PostgresFlashcardRepo struct {
	db *sql.DB
}

// NewPostgresFlashcardRepo はPostgresFlashcardRepoを生成する。
func NewPostgresFlashcardRepo(db *sql.DB) *PostgresFlashcardRepo {
	return &PostgresFlashcardRepo{db: db}
}

const flashcardColumns = `id, user_id, concurso_id, discipline_id, front, back, correct_count, wrong_count,
	last_reviewed_at, created_at, updated_at, deleted_at`

func scanFlashcard(row rowScanner) (*model.Flashcard, error) {
	f := &model.Flashcard{}
	var disciplineID sql.NullString
	var lastReviewedAt, deletedAt sql.NullTime
	if err := row.Scan(&f.ID, &f.UserID, &f.ConcursoID, &disciplineID, &f.Front, &f.Back,
		&f.CorrectCount, &f.WrongCount, &lastReviewedAt, &f.CreatedAt, &f.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}
	f.DisciplineID = nullStringValue(disciplineID)
	f.LastReviewedAt = nullTimePtr(lastReviewedAt)
	f.DeletedAt = nullTimePtr(deletedAt)
	return f, nil
}

// ListByUser はユーザーの有効なカードを作成の新しい順に返す。concursoIDが空でなければ絞り込む。
func (r *PostgresFlashcardRepo) ListByUser(ctx context.Context, userID, concursoID string) ([]*model.Flashcard, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+flashcardColumns+`
		 FROM flashcards
		 WHERE user_id = $1 AND deleted_at IS NULL
		   AND ($2 = '' OR concurso_id::text = $2)
		 ORDER BY created_at DESC`,
		userID, concursoID,
	)
	if err != nil {
		return nil, fmt.Errorf("フラッシュカード一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var out []*model.Flashcard
	for rows.Next() {
		f, err := scanFlashcard(rows)
		if err != nil {
			return nil, fmt.Errorf("フラッシュカードの読み取りに失敗しました: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フラッシュカード一覧の走査に失敗しました: %w", err)
	}
	return out, nil
}

// FindByID はユーザー所有のカードを取得する。見つからない場合はnilを返す。
func (r *PostgresFlashcardRepo) FindByID(ctx context.Context, userID, id string) (*model.Flashcard, error) {
	f, err := scanFlashcard(r.db.QueryRowContext(ctx,
		`SELECT `+flashcardColumns+` FROM flashcards WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		id, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フラッシュカードの取得に失敗しました: %w", err)
	}
	return f, nil
}

// Create はカードを作成する。
func (r *PostgresFlashcardRepo) Create(ctx context.Context, card *model.Flashcard) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO flashcards (id, user_id, concurso_id, discipline_id, front, back, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		card.ID, card.UserID, card.ConcursoID, nullString(card.DisciplineID),
		card.Front, card.Back, card.CreatedAt, card.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("フラッシュカードの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はカードの内容を更新する。
func (r *PostgresFlashcardRepo) Update(ctx context.Context, card *model.Flashcard) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE flashcards SET front = $3, back = $4, discipline_id = $5, updated_at = $6
		 WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		card.ID, card.UserID, card.Front, card.Back, nullString(card.DisciplineID), card.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("フラッシュカードの更新に失敗しました: %w", err)
	}
	return nil
}

// RecordReview は復習結果を記録し、更新後のカードを返す。対象がなければnilを返す。
func (r *PostgresFlashcardRepo) RecordReview(ctx context.Context, userID, id string, correct bool, reviewedAt time.Time) (*model.Flashcard, error) {
	f, err := scanFlashcard(r.db.QueryRowContext(ctx,
		`UPDATE flashcards SET
		    correct_count = correct_count + CASE WHEN $3 THEN 1 ELSE 0 END,
		    wrong_count = wrong_count + CASE WHEN $3 THEN 0 ELSE 1 END,
		    last_reviewed_at = $4,
		    updated_at = $4
		 WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
		 RETURNING `+flashcardColumns,
		id, userID, correct, reviewedAt,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("復習結果の記録に失敗しました: %w", err)
	}
	return f, nil
}

// SoftDelete はカードを論理削除する。対象がなければ false を返す。
func (r *PostgresFlashcardRepo) SoftDelete(ctx context.Context, userID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE flashcards SET deleted_at = now(), updated_at = now()
		 WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("フラッシュカードの削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ FlashcardRepository = (*PostgresFlashcardRepo)(nil)
