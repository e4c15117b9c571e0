// Package realtime はデータベースの変更通知（LISTEN/NOTIFY）を受信し、
// サーバー内のキャッシュ無効化とRedis pub/subによるクライアントへの配信を行う。
package realtime

import (
	"encoding/json"
	"fmt"
)

// 通知対象のテーブル
const (
	TableConcursos       = "concursos"
	TableSimulados       = "simulados"
	TableProgress        = "simulado_progress"
	TableUserPreferences = "user_preferences"
)

// ChangeEvent はトリガーが送出する変更通知。
type ChangeEvent struct {
	Table      string `json:"table"`
	Action     string `json:"action"`
	ID         string `json:"id,omitempty"`
	ConcursoID string `json:"concurso_id,omitempty"`
	Slug       string `json:"slug,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	SimuladoID string `json:"simulado_id,omitempty"`
}

// ParseChangeEvent は通知ペイロードをデコードする。
func ParseChangeEvent(payload []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("failed to decode change event: %w", err)
	}
	if ev.Table == "" {
		return ChangeEvent{}, fmt.Errorf("change event without table: %s", payload)
	}
	return ev, nil
}

// Concurso は変更が影響する concurso のIDを返す。
// concursos テーブル自体の変更では行IDが concurso ID となる。
func (e ChangeEvent) Concurso() string {
	if e.Table == TableConcursos {
		return e.ID
	}
	return e.ConcursoID
}
