package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/courtside/internal/model"
)

// DefaultRoles は初期投入するロール名の一覧。
var DefaultRoles = []string{model.RoleAdmin, model.RoleCoach, model.RolePlayer, model.RoleGuest}

// SeedRoles は既定のロールを冪等に投入する。
// マイグレーションでも投入済みのため、運用中に削除されたロールの復旧に使う。
func SeedRoles(ctx context.Context, db *sql.DB) error {
	for _, name := range DefaultRoles {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO roles (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`,
			name,
		); err != nil {
			return fmt.Errorf("failed to seed role %q: %w", name, err)
		}
	}
	return nil
}
