package model

import "time"

// ConcursoStatus は concurso の進行状況を表す。
type ConcursoStatus string

const (
	// ConcursoStatusPrevisto は公示前の concurso。
	ConcursoStatusPrevisto ConcursoStatus = "previsto"
	// ConcursoStatusAberto は受付中の concurso。
	ConcursoStatusAberto ConcursoStatus = "aberto"
	// ConcursoStatusEncerrado は終了した concurso。
	ConcursoStatusEncerrado ConcursoStatus = "encerrado"
)

// IsValid は定義済みのステータスかどうかを返す。
func (s ConcursoStatus) IsValid() bool {
	switch s {
	case ConcursoStatusPrevisto, ConcursoStatusAberto, ConcursoStatusEncerrado:
		return true
	default:
		return false
	}
}

// Concurso は公務員試験（学習コンテンツの整理単位）を表す。
type Concurso struct {
	ID         string
	Slug       string
	Name       string
	Banca      string // 試験実施機関
	Organ      string // 募集機関
	Status     ConcursoStatus
	ExamDate   *time.Time
	CategoryID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

// Category は concurso の分類（例: 警察、税務、司法）を表す。
type Category struct {
	ID   string
	Slug string
	Name string
}

// Discipline は出題科目を表す。
type Discipline struct {
	ID         string
	Slug       string
	Name       string
	CategoryID string
}

// Flashcard はユーザーが作成する暗記カードを表す。
type Flashcard struct {
	ID             string
	UserID         string
	ConcursoID     string
	DisciplineID   string
	Front          string // サニタイズ済みHTML
	Back           string // サニタイズ済みHTML
	CorrectCount   int
	WrongCount     int
	LastReviewedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}
