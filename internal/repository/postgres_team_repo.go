package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/courtside/internal/model"
)

const teamColumns = `id, name, school, created_by, created_at, updated_at`

func scanTeam(row rowScanner) (*model.Team, error) {
	team := &model.Team{}
	var createdBy sql.NullString
	if err := row.Scan(&team.ID, &team.Name, &team.School, &createdBy, &team.CreatedAt, &team.UpdatedAt); err != nil {
		return nil, err
	}
	if createdBy.Valid {
		team.CreatedBy = &createdBy.String
	}
	return team, nil
}

// PostgresTeamRepo はPostgreSQLを使用したチームリポジトリ。
type PostgresTeamRepo struct {
	db *sql.DB
}

// NewPostgresTeamRepo はPostgresTeamRepoを生成する。
func NewPostgresTeamRepo(db *sql.DB) *PostgresTeamRepo {
	return &PostgresTeamRepo{db: db}
}

// FindByID は指定IDのチームを取得する。見つからない場合はnilを返す。
func (r *PostgresTeamRepo) FindByID(ctx context.Context, id string) (*model.Team, error) {
	team, err := scanTeam(r.db.QueryRowContext(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find team: %w", err)
	}
	return team, nil
}

// List は全チームを名前順に返す。
func (r *PostgresTeamRepo) List(ctx context.Context) ([]*model.Team, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+teamColumns+` FROM teams ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	teams := make([]*model.Team, 0)
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		teams = append(teams, team)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate teams: %w", err)
	}
	return teams, nil
}

// Create はチームを作成する。名前の重複はConflictとして返す。
func (r *PostgresTeamRepo) Create(ctx context.Context, team *model.Team) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO teams (`+teamColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		team.ID, team.Name, team.School, nullString(team.CreatedBy), team.CreatedAt, team.UpdatedAt,
	)
	if err != nil {
		return translateError("failed to insert team", err)
	}
	return nil
}

// Update はチームの名前と学校名を更新する。見つからない場合はnilを返す。
func (r *PostgresTeamRepo) Update(ctx context.Context, team *model.Team) (*model.Team, error) {
	updated, err := scanTeam(r.db.QueryRowContext(ctx,
		`UPDATE teams SET name = $2, school = $3, updated_at = $4
		 WHERE id = $1
		 RETURNING `+teamColumns,
		team.ID, team.Name, team.School, team.UpdatedAt,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translateError("failed to update team", err)
	}
	return updated, nil
}

// DeleteByID はチームを削除する。削除した場合はtrueを返す。
func (r *PostgresTeamRepo) DeleteByID(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM teams WHERE id = $1`, id)
	if err != nil {
		return false, translateError("failed to delete team", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ TeamRepository = (*PostgresTeamRepo)(nil)
