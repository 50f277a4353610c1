// Package model はドメインモデルを定義する。
package model

import "time"

// 組み込みロール名。rolesテーブルの初期データと一致する。
const (
	RoleAdmin  = "Admin"
	RoleCoach  = "Coach"
	RolePlayer = "Player"
	RoleGuest  = "Guest"
)

// Role はユーザーに付与される権限グループを表す。
type Role struct {
	ID   int
	Name string
}

// User はサービス利用ユーザーを表す。
// PasswordHash と ExternalID の少なくとも一方は必ず設定される。
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash *string
	ExternalID   *string
	RoleID       int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword はローカル認証用のパスワードが設定されているかを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Principal はリクエスト単位で復元される認証済みの主体を表す。
// セッション → ユーザー → ロールの順に毎リクエスト組み立て直し、リクエストをまたいで保持しない。
type Principal struct {
	ID       string
	Email    string
	Name     string
	RoleID   int
	RoleName string
}

// HasAnyRole は主体のロールが指定ロールのいずれかに一致するかを返す。
func (p *Principal) HasAnyRole(roles ...string) bool {
	if p == nil {
		return false
	}
	for _, r := range roles {
		if p.RoleName == r {
			return true
		}
	}
	return false
}
