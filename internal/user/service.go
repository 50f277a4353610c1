// Package user はユーザー管理のドメインロジックを提供する。
package user

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

// MaxNameLength は表示名の最大文字数。登録時と同じ上限を使う。
const MaxNameLength = auth.MaxNameLength

// ProfileInput はプロフィール更新の入力。nilのフィールドは変更しない。
type ProfileInput struct {
	Name  *string
	Email *string
}

// NameSanitizer は表示名の無害化インターフェース。
type NameSanitizer interface {
	Sanitize(raw string) string
}

// Service はユーザー管理のサービス層。
// プロフィール更新、ロール付与、退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	roleRepo    repository.RoleRepository
	sessionRepo repository.SessionRepository
	sanitizer   NameSanitizer
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// sanitizerがnilの場合は前後の空白除去のみを行う。
func NewService(
	userRepo repository.UserRepository,
	roleRepo repository.RoleRepository,
	sessionRepo repository.SessionRepository,
	sanitizer NameSanitizer,
) *Service {
	return &Service{
		userRepo:    userRepo,
		roleRepo:    roleRepo,
		sessionRepo: sessionRepo,
		sanitizer:   sanitizer,
		now:         time.Now,
	}
}

// ListRoles は全ロールを返す。
func (s *Service) ListRoles(ctx context.Context) ([]*model.Role, error) {
	roles, err := s.roleRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return roles, nil
}

// UpdateProfile はログイン中ユーザーの名前・メールアドレスを更新する。
// メールアドレスの重複はDBの一意性制約でConflictとして返る。
func (s *Service) UpdateProfile(ctx context.Context, principal *model.Principal, in ProfileInput) (*model.User, error) {
	if err := auth.Authorize(principal); err != nil {
		return nil, err
	}

	current, err := s.userRepo.FindByID(ctx, principal.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if current == nil {
		return nil, model.NewNotFoundError("user")
	}

	name := current.Name
	if in.Name != nil {
		name = s.sanitizeName(*in.Name)
		if name == "" {
			return nil, model.NewValidationError("name must not be empty")
		}
		if utf8.RuneCountInString(name) > MaxNameLength {
			return nil, model.NewValidationError(fmt.Sprintf("name must be at most %d characters", MaxNameLength))
		}
	}

	email := current.Email
	if in.Email != nil {
		email = auth.NormalizeEmail(*in.Email)
		if !auth.ValidEmail(email) {
			return nil, model.NewValidationError("email is invalid")
		}
	}

	if name == current.Name && email == current.Email {
		return withoutHash(current), nil
	}

	updated, err := s.userRepo.UpdateProfile(ctx, principal.ID, name, email, s.now())
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, model.NewNotFoundError("user")
	}

	slog.Info("user profile updated", slog.String("user_id", principal.ID))
	return withoutHash(updated), nil
}

// AssignRole は管理者が指定ユーザーのロールを変更する。
// 存在しないロールは外部キー制約違反としてValidationになる。
func (s *Service) AssignRole(ctx context.Context, principal *model.Principal, userID string, roleID int) (*model.User, error) {
	if err := auth.Authorize(principal, model.RoleAdmin); err != nil {
		return nil, err
	}
	if roleID <= 0 {
		return nil, model.NewValidationError("roleId is required")
	}
	if _, err := uuid.Parse(userID); err != nil {
		return nil, model.NewNotFoundError("user")
	}

	updated, err := s.userRepo.UpdateRole(ctx, userID, roleID, s.now())
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, model.NewNotFoundError("user")
	}

	slog.Info("user role assigned",
		slog.String("admin_id", principal.ID),
		slog.String("user_id", userID),
		slog.Int("role_id", roleID),
	)
	return withoutHash(updated), nil
}

// Withdraw はログイン中ユーザーの退会処理を実行する。
// 削除順序: sessions → user（teams.created_byはNULLに更新される）
func (s *Service) Withdraw(ctx context.Context, principal *model.Principal) error {
	if err := auth.Authorize(principal); err != nil {
		return err
	}

	user, err := s.userRepo.FindByID(ctx, principal.ID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewNotFoundError("user")
	}

	slog.Info("user withdrawal started", slog.String("user_id", principal.ID))

	if err := s.sessionRepo.DeleteByUserID(ctx, principal.ID); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}

	if err := s.userRepo.DeleteByID(ctx, principal.ID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	slog.Info("user withdrawal completed", slog.String("user_id", principal.ID))
	return nil
}

func (s *Service) sanitizeName(name string) string {
	if s.sanitizer != nil {
		return s.sanitizer.Sanitize(name)
	}
	return strings.TrimSpace(name)
}

func withoutHash(u *model.User) *model.User {
	c := *u
	c.PasswordHash = nil
	return &c
}
