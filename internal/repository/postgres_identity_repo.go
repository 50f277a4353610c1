package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/courtside/internal/model"
)

// PostgresIdentityRepo はPostgreSQLを使用したidentityリポジトリ。
// 外部IdPの識別子はusers.external_idに保持する。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByExternalID は外部IdPのsubjectでユーザーを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE external_id = $1`,
		externalID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by external ID: %w", err)
	}
	return user, nil
}

// LinkExternalID はexternal_idが未設定のユーザーに外部IdPの識別子を紐付ける。
// external_id IS NULL を条件に含めるため、同時に別の識別子が紐付けられた場合はnilを返す。
func (r *PostgresIdentityRepo) LinkExternalID(ctx context.Context, userID, externalID string, updatedAt time.Time) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users SET external_id = $2, updated_at = $3
		 WHERE id = $1 AND external_id IS NULL
		 RETURNING `+userColumns,
		userID, externalID, updatedAt,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translateError("failed to link external identity", err)
	}
	return user, nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
