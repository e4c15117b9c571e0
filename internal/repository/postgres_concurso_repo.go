package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/concurseiro/internal/model"
)

// PostgresConcursoRepo はPostgreSQLを使用した concurso リポジトリ。
// カテゴリと科目の参照も扱う。
type PostgresConcursoRepo struct {
	db *sql.DB
}

// NewPostgresConcursoRepo はPostgresConcursoRepoを生成する。
func NewPostgresConcursoRepo(db *sql.DB) *PostgresConcursoRepo {
	return &PostgresConcursoRepo{db: db}
}

const concursoColumns = `c.id, c.slug, c.name, c.banca, c.organ, c.status, c.exam_date,
	c.category_id, c.created_at, c.updated_at, c.deleted_at`

func scanConcurso(row rowScanner) (*model.Concurso, error) {
	c := &model.Concurso{}
	var examDate, deletedAt sql.NullTime
	var categoryID sql.NullString
	if err := row.Scan(&c.ID, &c.Slug, &c.Name, &c.Banca, &c.Organ, &c.Status, &examDate,
		&categoryID, &c.CreatedAt, &c.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}
	c.ExamDate = nullTimePtr(examDate)
	c.CategoryID = nullStringValue(categoryID)
	c.DeletedAt = nullTimePtr(deletedAt)
	return c, nil
}

// List は有効な concurso を試験日順（未定は末尾）に返す。categorySlugが空でなければ絞り込む。
func (r *PostgresConcursoRepo) List(ctx context.Context, categorySlug string) ([]*model.Concurso, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+concursoColumns+`
		 FROM concursos c
		 LEFT JOIN categories cat ON cat.id = c.category_id
		 WHERE c.deleted_at IS NULL
		   AND ($1 = '' OR cat.slug = $1)
		 ORDER BY c.exam_date ASC NULLS LAST, c.name ASC`,
		categorySlug,
	)
	if err != nil {
		return nil, fmt.Errorf("concurso一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var out []*model.Concurso
	for rows.Next() {
		c, err := scanConcurso(rows)
		if err != nil {
			return nil, fmt.Errorf("concursoの読み取りに失敗しました: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("concurso一覧の走査に失敗しました: %w", err)
	}
	return out, nil
}

// FindByID は指定IDの有効な concurso を取得する。見つからない場合はnilを返す。
func (r *PostgresConcursoRepo) FindByID(ctx context.Context, id string) (*model.Concurso, error) {
	c, err := scanConcurso(r.db.QueryRowContext(ctx,
		`SELECT `+concursoColumns+` FROM concursos c WHERE c.id = $1 AND c.deleted_at IS NULL`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("concursoの取得に失敗しました: %w", err)
	}
	return c, nil
}

// FindBySlug はスラッグで有効な concurso を取得する。見つからない場合はnilを返す。
func (r *PostgresConcursoRepo) FindBySlug(ctx context.Context, slug string) (*model.Concurso, error) {
	c, err := scanConcurso(r.db.QueryRowContext(ctx,
		`SELECT `+concursoColumns+` FROM concursos c WHERE c.slug = $1 AND c.deleted_at IS NULL`,
		slug,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("スラッグによるconcursoの検索に失敗しました: %w", err)
	}
	return c, nil
}

// Create は concurso を作成する。
func (r *PostgresConcursoRepo) Create(ctx context.Context, c *model.Concurso) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO concursos (id, slug, name, banca, organ, status, exam_date, category_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.Slug, c.Name, c.Banca, c.Organ, c.Status, nullTime(c.ExamDate),
		nullString(c.CategoryID), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return wrapWriteError(err, "concursoの作成に失敗しました")
	}
	return nil
}

// Update は concurso を更新する。
func (r *PostgresConcursoRepo) Update(ctx context.Context, c *model.Concurso) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE concursos SET
		    slug = $2, name = $3, banca = $4, organ = $5, status = $6,
		    exam_date = $7, category_id = $8, updated_at = $9
		 WHERE id = $1 AND deleted_at IS NULL`,
		c.ID, c.Slug, c.Name, c.Banca, c.Organ, c.Status, nullTime(c.ExamDate),
		nullString(c.CategoryID), c.UpdatedAt,
	)
	if err != nil {
		return wrapWriteError(err, "concursoの更新に失敗しました")
	}
	return nil
}

// SoftDelete は concurso を論理削除する。
func (r *PostgresConcursoRepo) SoftDelete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE concursos SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("concursoの削除に失敗しました: %w", err)
	}
	return nil
}

// ListCategories は全カテゴリを名前順に返す。
func (r *PostgresConcursoRepo) ListCategories(ctx context.Context) ([]*model.Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, slug, name FROM categories ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("カテゴリ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var out []*model.Category
	for rows.Next() {
		cat := &model.Category{}
		if err := rows.Scan(&cat.ID, &cat.Slug, &cat.Name); err != nil {
			return nil, fmt.Errorf("カテゴリの読み取りに失敗しました: %w", err)
		}
		out = append(out, cat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("カテゴリ一覧の走査に失敗しました: %w", err)
	}
	return out, nil
}

// FindCategoryBySlug はスラッグでカテゴリを取得する。見つからない場合はnilを返す。
func (r *PostgresConcursoRepo) FindCategoryBySlug(ctx context.Context, slug string) (*model.Category, error) {
	cat := &model.Category{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, slug, name FROM categories WHERE slug = $1`,
		slug,
	).Scan(&cat.ID, &cat.Slug, &cat.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("カテゴリの取得に失敗しました: %w", err)
	}
	return cat, nil
}

// ListDisciplines はカテゴリに属する科目を名前順に返す。
func (r *PostgresConcursoRepo) ListDisciplines(ctx context.Context, categoryID string) ([]*model.Discipline, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, slug, name, category_id FROM disciplines WHERE category_id = $1 ORDER BY name ASC`,
		categoryID,
	)
	if err != nil {
		return nil, fmt.Errorf("科目一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var out []*model.Discipline
	for rows.Next() {
		d := &model.Discipline{}
		if err := rows.Scan(&d.ID, &d.Slug, &d.Name, &d.CategoryID); err != nil {
			return nil, fmt.Errorf("科目の読み取りに失敗しました: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("科目一覧の走査に失敗しました: %w", err)
	}
	return out, nil
}

// compile-time interface check
var _ ConcursoRepository = (*PostgresConcursoRepo)(nil)
