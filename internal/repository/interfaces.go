// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/courtside/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindPrincipalByID はユーザーとロールを結合して認証主体を組み立てる。
	// 見つからない場合はnilを返す。
	FindPrincipalByID(ctx context.Context, id string) (*model.Principal, error)

	// Create はユーザーを作成する。
	// emailまたはexternal_idの一意性制約違反はConflictとして返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateProfile は名前とメールアドレスを更新する。見つからない場合はnilを返す。
	UpdateProfile(ctx context.Context, id, name, email string, updatedAt time.Time) (*model.User, error)

	// UpdateRole はロールを変更する。見つからない場合はnilを返す。
	UpdateRole(ctx context.Context, id string, roleID int, updatedAt time.Time) (*model.User, error)

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するsessionsはCASCADE削除、teams.created_byはNULLに更新される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdPの識別子とユーザーの紐付けを扱うインターフェース。
type IdentityRepository interface {
	// FindByExternalID は外部IdPのsubjectでユーザーを検索する。見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, externalID string) (*model.User, error)

	// LinkExternalID はexternal_idが未設定のユーザーに外部IdPの識別子を紐付ける。
	// 既に紐付け済み、またはユーザーが存在しない場合はnilを返す。
	LinkExternalID(ctx context.Context, userID, externalID string, updatedAt time.Time) (*model.User, error)
}

// RoleRepository はロールの参照インターフェース。
type RoleRepository interface {
	// FindByID は指定IDのロールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int) (*model.Role, error)
	// FindByName は名前でロールを取得する。見つからない場合はnilを返す。
	FindByName(ctx context.Context, name string) (*model.Role, error)
	// List は全ロールをID順に返す。
	List(ctx context.Context) ([]*model.Role, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。削除した場合はtrueを返す。
	DeleteByID(ctx context.Context, id string) (bool, error)
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// TeamRepository はチームデータの永続化インターフェース。
type TeamRepository interface {
	// FindByID は指定IDのチームを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Team, error)
	// List は全チームを名前順に返す。
	List(ctx context.Context) ([]*model.Team, error)
	// Create はチームを作成する。名前の重複はConflictとして返す。
	Create(ctx context.Context, team *model.Team) error
	// Update はチームの名前と学校名を更新する。見つからない場合はnilを返す。
	Update(ctx context.Context, team *model.Team) (*model.Team, error)
	// DeleteByID はチームを削除する。削除した場合はtrueを返す。
	DeleteByID(ctx context.Context, id string) (bool, error)
}
