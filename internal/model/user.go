// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの権限を表す。
type Role string

const (
	// RoleUser は一般ユーザー。
	RoleUser Role = "user"
	// RoleAdmin は管理パネルにアクセスできるユーザー。
	RoleAdmin Role = "admin"
)

// User はサービス利用ユーザーを表す。
// 退会時はDeletedAtを設定する論理削除とする。
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// IsAdmin は管理者権限を持つかを返す。
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Session はユーザーのログインセッションを表す。
// Roleは検索時にusersテーブルから結合して取得する。
type Session struct {
	ID        string
	UserID    string
	Role      Role
	ExpiresAt time.Time
	CreatedAt time.Time
}

// UserPreference はユーザーごとの表示設定を表す。
// 選択中の concurso は複数タブ・複数セッション間で共有され、最後の書き込みが優先される。
type UserPreference struct {
	UserID             string
	SelectedConcursoID string
	UpdatedAt          time.Time
}
