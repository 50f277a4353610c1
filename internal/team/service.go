// Package team はチームの参照・管理を提供する。
// 参照は誰でも可能、作成・更新はAdminまたはCoach、削除はAdminのみに限定する。
package team

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/courtside/internal/auth"
	"github.com/hitoshi/courtside/internal/model"
	"github.com/hitoshi/courtside/internal/repository"
)

// 入力値の上限。
const (
	MaxNameLength   = 100
	MaxSchoolLength = 200
)

// 操作ごとに許可するロール。
var (
	editorRoles  = []string{model.RoleAdmin, model.RoleCoach}
	deleterRoles = []string{model.RoleAdmin}
)

// EditorRoles はチームの作成・更新を許可するロールを返す。
func EditorRoles() []string { return append([]string(nil), editorRoles...) }

// DeleterRoles はチームの削除を許可するロールを返す。
func DeleterRoles() []string { return append([]string(nil), deleterRoles...) }

// Input はチームの作成・更新の入力。更新時にnilのフィールドは変更しない。
type Input struct {
	Name   *string
	School *string
}

// TextSanitizer はチーム名・学校名の無害化インターフェース。
type TextSanitizer interface {
	Sanitize(raw string) string
}

// Service はチーム管理のサービス層。
type Service struct {
	repo      repository.TeamRepository
	sanitizer TextSanitizer
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.TeamRepository, sanitizer TextSanitizer) *Service {
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// List は全チームを返す。
func (s *Service) List(ctx context.Context) ([]*model.Team, error) {
	teams, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	return teams, nil
}

// Get は指定IDのチームを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Team, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewNotFoundError("team")
	}
	team, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	if team == nil {
		return nil, model.NewNotFoundError("team")
	}
	return team, nil
}

// Create はチームを作成する。名前の重複はConflictになる。
func (s *Service) Create(ctx context.Context, principal *model.Principal, in Input) (*model.Team, error) {
	if err := auth.Authorize(principal, editorRoles...); err != nil {
		return nil, err
	}

	var name, school string
	if in.Name != nil {
		name = s.sanitize(*in.Name)
	}
	if in.School != nil {
		school = s.sanitize(*in.School)
	}
	if err := validate(name, school); err != nil {
		return nil, err
	}

	now := s.now()
	createdBy := principal.ID
	team := &model.Team{
		ID:        uuid.New().String(),
		Name:      name,
		School:    school,
		CreatedBy: &createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, team); err != nil {
		return nil, err
	}

	slog.Info("team created",
		slog.String("team_id", team.ID),
		slog.String("user_id", principal.ID),
	)
	return team, nil
}

// Update はチームの名前・学校名を更新する。
func (s *Service) Update(ctx context.Context, principal *model.Principal, id string, in Input) (*model.Team, error) {
	if err := auth.Authorize(principal, editorRoles...); err != nil {
		return nil, err
	}

	team, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		team.Name = s.sanitize(*in.Name)
	}
	if in.School != nil {
		team.School = s.sanitize(*in.School)
	}
	if err := validate(team.Name, team.School); err != nil {
		return nil, err
	}
	team.UpdatedAt = s.now()

	updated, err := s.repo.Update(ctx, team)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, model.NewNotFoundError("team")
	}

	slog.Info("team updated",
		slog.String("team_id", id),
		slog.String("user_id", principal.ID),
	)
	return updated, nil
}

// Delete はチームを削除する。
func (s *Service) Delete(ctx context.Context, principal *model.Principal, id string) error {
	if err := auth.Authorize(principal, deleterRoles...); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return model.NewNotFoundError("team")
	}

	deleted, err := s.repo.DeleteByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete team: %w", err)
	}
	if !deleted {
		return model.NewNotFoundError("team")
	}

	slog.Info("team deleted",
		slog.String("team_id", id),
		slog.String("user_id", principal.ID),
	)
	return nil
}

func (s *Service) sanitize(raw string) string {
	if s.sanitizer != nil {
		return s.sanitizer.Sanitize(raw)
	}
	return strings.TrimSpace(raw)
}

func validate(name, school string) error {
	if name == "" {
		return model.NewValidationError("name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return model.NewValidationError(fmt.Sprintf("name must be at most %d characters", MaxNameLength))
	}
	if school == "" {
		return model.NewValidationError("school is required")
	}
	if utf8.RuneCountInString(school) > MaxSchoolLength {
		return model.NewValidationError(fmt.Sprintf("school must be at most %d characters", MaxSchoolLength))
	}
	return nil
}
