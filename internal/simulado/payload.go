package simulado

import (
	"time"

	"github.com/hitoshi/concurseiro/internal/model"
)

// キャッシュ・条件付きGETのセクション名
const (
	SectionIndex     = "index"
	SectionMeta      = "meta"
	SectionQuestions = "questions"
	SectionProgress  = "progress"
)

// IndexEntry は一覧に含まれる simulado の要約。
// 詳細が失われた場合のメタデータ再構築にも使われる。
type IndexEntry struct {
	ID              string    `json:"id"`
	Slug            string    `json:"slug"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	DurationMinutes int       `json:"duration_minutes"`
	QuestionCount   int       `json:"question_count"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Index は concurso の公開済み simulado 一覧。
type Index struct {
	ConcursoID string       `json:"concurso_id"`
	Simulados  []IndexEntry `json:"simulados"`
}

// Find はスラッグで一覧の要素を探す。
func (idx *Index) Find(slug string) (IndexEntry, bool) {
	for _, e := range idx.Simulados {
		if e.Slug == slug {
			return e, true
		}
	}
	return IndexEntry{}, false
}

// Meta は simulado の詳細メタデータ。
// Degradedはクライアントが一覧から再構築した場合にのみtrueとなる。
type Meta struct {
	ID              string    `json:"id"`
	ConcursoID      string    `json:"concurso_id"`
	Slug            string    `json:"slug"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	DurationMinutes int       `json:"duration_minutes"`
	QuestionCount   int       `json:"question_count"`
	Published       bool      `json:"published"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Degraded        bool      `json:"degraded,omitempty"`
}

// MetaFromIndex は一覧の要約からメタデータを再構築する。
// 一覧に含まれない作成日時は空となる。
func MetaFromIndex(concursoID string, e IndexEntry) *Meta {
	return &Meta{
		ID:              e.ID,
		ConcursoID:      concursoID,
		Slug:            e.Slug,
		Title:           e.Title,
		Description:     e.Description,
		DurationMinutes: e.DurationMinutes,
		QuestionCount:   e.QuestionCount,
		Published:       true,
		UpdatedAt:       e.UpdatedAt,
		Degraded:        true,
	}
}

// QuestionView は受験者向けの設問。正答と解説は含まない。
type QuestionView struct {
	ID           string              `json:"id"`
	Position     int                 `json:"position"`
	Statement    string              `json:"statement"`
	Alternatives []model.Alternative `json:"alternatives"`
	DisciplineID string              `json:"discipline_id,omitempty"`
}

// Questions は simulado の設問一覧。
type Questions struct {
	SimuladoID string         `json:"simulado_id"`
	Questions  []QuestionView `json:"questions"`
}

// Correction は確定後に返す正答と解説。
type Correction struct {
	QuestionID         string `json:"question_id"`
	CorrectAlternative string `json:"correct_alternative"`
	Explanation        string `json:"explanation,omitempty"`
}

// ProgressView はユーザーの解答状況。Correctionsは確定後のみ設定される。
type ProgressView struct {
	SimuladoID      string            `json:"simulado_id"`
	Answers         map[string]string `json:"answers"`
	CurrentPosition int               `json:"current_position"`
	Score           *int              `json:"score,omitempty"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Corrections     []Correction      `json:"corrections,omitempty"`
}

// ProgressInput は解答状況の保存入力。Finishがtrueの場合は採点して確定する。
type ProgressInput struct {
	Answers         map[string]string `json:"answers"`
	CurrentPosition int               `json:"current_position"`
	Finish          bool              `json:"finish"`
}

func newIndexEntry(s *model.Simulado) IndexEntry {
	return IndexEntry{
		ID:              s.ID,
		Slug:            s.Slug,
		Title:           s.Title,
		Description:     s.Description,
		DurationMinutes: s.DurationMinutes,
		QuestionCount:   s.QuestionCount,
		UpdatedAt:       s.UpdatedAt.UTC(),
	}
}

func newMeta(s *model.Simulado) *Meta {
	return &Meta{
		ID:              s.ID,
		ConcursoID:      s.ConcursoID,
		Slug:            s.Slug,
		Title:           s.Title,
		Description:     s.Description,
		DurationMinutes: s.DurationMinutes,
		QuestionCount:   s.QuestionCount,
		Published:       s.Published,
		CreatedAt:       s.CreatedAt.UTC(),
		UpdatedAt:       s.UpdatedAt.UTC(),
	}
}

func newProgressView(p *model.Progress, questions []model.Question) *ProgressView {
	answers := p.Answers
	if answers == nil {
		answers = map[string]string{}
	}
	v := &ProgressView{
		SimuladoID:      p.SimuladoID,
		Answers:         answers,
		CurrentPosition: p.CurrentPosition,
		Score:           p.Score,
		FinishedAt:      p.FinishedAt,
		UpdatedAt:       p.UpdatedAt.UTC(),
	}
	if p.IsFinished() {
		for _, q := range questions {
			v.Corrections = append(v.Corrections, Correction{
				QuestionID:         q.ID,
				CorrectAlternative: q.CorrectAlternative,
				Explanation:        q.Explanation,
			})
		}
	}
	return v
}
