package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/courtside/internal/database"
	"github.com/hitoshi/courtside/internal/database/dbtest"
	"github.com/hitoshi/courtside/internal/model"
)

// ロールIDはマイグレーションの初期データと一致する。
const (
	roleAdminID  = 1
	roleCoachID  = 2
	rolePlayerID = 3
	roleGuestID  = 4
)

// setupRepoDB はマイグレーション適用済みのテスト用データベースを返す。
func setupRepoDB(t *testing.T) *sql.DB {
	t.Helper()
	db, dbURL := dbtest.Open(t)
	if err := database.RunMigrations(dbURL, 0); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	return db
}

func strPtr(s string) *string { return &s }

// newLocalUser はパスワードを持つユーザーを組み立てる。
func newLocalUser(email string, roleID int) *model.User {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &model.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         "Test User",
		PasswordHash: strPtr("$2a$10$hash"),
		RoleID:       roleID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// insertUser はユーザーを作成し、失敗したらテストを中断する。
func insertUser(t *testing.T, db *sql.DB, user *model.User) *model.User {
	t.Helper()
	if err := NewPostgresUserRepo(db).Create(context.Background(), user); err != nil {
		t.Fatalf("ユーザー作成に失敗: %v", err)
	}
	return user
}
