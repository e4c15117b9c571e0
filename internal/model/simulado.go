package model

import "time"

// Simulado は concurso に紐づく模擬試験を表す。
type Simulado struct {
	ID              string
	ConcursoID      string
	Slug            string
	Title           string
	Description     string
	DurationMinutes int
	QuestionCount   int
	Published       bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// Alternative は選択肢を表す。Keyは "A"〜"E"。
type Alternative struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// Question は模擬試験の設問を表す。
type Question struct {
	ID                 string
	SimuladoID         string
	Position           int
	Statement          string // サニタイズ済みHTML
	Alternatives       []Alternative
	CorrectAlternative string
	Explanation        string
	DisciplineID       string
	UpdatedAt          time.Time
}

// Progress はユーザーの模擬試験の解答状況を表す。
// Answersは設問IDから選択した選択肢キーへのマップ。
type Progress struct {
	UserID          string
	SimuladoID      string
	Answers         map[string]string
	CurrentPosition int
	Score           *int
	FinishedAt      *time.Time
	UpdatedAt       time.Time
}

// IsFinished は解答が確定済みかを返す。
func (p *Progress) IsFinished() bool {
	return p.FinishedAt != nil
}

// ComputeScore は正答数を数える。
func ComputeScore(questions []Question, answers map[string]string) int {
	score := 0
	for _, q := range questions {
		if a, ok := answers[q.ID]; ok && a == q.CorrectAlternative {
			score++
		}
	}
	return score
}
