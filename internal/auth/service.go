// Package auth はローカル認証・OAuth認証・セッション管理と認可判定を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/mail"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/courtside/internal/metrics"
	"github.com/hitoshi/courtside/internal/model"
	"github.com/hitoshi/courtside/internal/repository"
)

// パスワードの長さ制約。上限はbcryptが扱えるバイト数。
const (
	MinPasswordLength = 6
	MaxPasswordBytes  = 72
)

// MaxNameLength は表示名の最大文字数。プロフィール更新と同じ上限を使う。
const MaxNameLength = 100

// 認証方式のメトリクスラベル。
const (
	methodLocal  = "local"
	methodGoogle = "google"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
	Provider       string // "google" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// NameSanitizer は表示名を保存可能なプレーンテキストに正規化する。
type NameSanitizer interface {
	Sanitize(raw string) string
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge   int    // セッション有効期間（秒）
	DefaultRoleName string // OAuth初回ログイン時に付与するロール名

	// SelfAssignableRoles はローカル登録時に自分で選べるロール名。
	// 空の場合はroleIdで指定された任意の既存ロールを受け付ける。
	SelfAssignableRoles []string
}

// RegisterInput はローカル登録の入力値。
type RegisterInput struct {
	Email    string
	Name     string
	Password string
	RoleID   int
}

// Option はServiceの任意設定。
type Option func(*Service)

// WithMetrics はメトリクスの記録先を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *Service) { s.metrics = m }
}

// WithSanitizer は表示名のサニタイザーを設定する。
func WithSanitizer(san NameSanitizer) Option {
	return func(s *Service) { s.sanitizer = san }
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service は認証に関するビジネスロジックを提供する。
// 起動時に一度だけ生成し、ハンドラーへ参照で渡す。
type Service struct {
	oauth       OAuthProvider
	hasher      Hasher
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	roleRepo    repository.RoleRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig

	metrics   metrics.MetricsCollector
	sanitizer NameSanitizer
	now       func() time.Time
}

// NewService はServiceを生成する。
// oauthはGoogleログインが無効な場合nilでよい。
func NewService(
	oauth OAuthProvider,
	hasher Hasher,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	roleRepo repository.RoleRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
	opts ...Option,
) *Service {
	if config.DefaultRoleName == "" {
		config.DefaultRoleName = model.RoleGuest
	}
	s := &Service{
		oauth:       oauth,
		hasher:      hasher,
		userRepo:    userRepo,
		identRepo:   identRepo,
		roleRepo:    roleRepo,
		sessionRepo: sessionRepo,
		config:      config,
		metrics:     metrics.Nop{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GoogleEnabled はOAuthログインが利用可能かを返す。
func (s *Service) GoogleEnabled() bool {
	return s.oauth != nil
}

// ValidateDefaultRole は既定ロールがrolesテーブルに存在するかを確認する。
// 起動時に呼び出し、存在しない場合は設定エラーとして起動を中止する。
func (s *Service) ValidateDefaultRole(ctx context.Context) error {
	_, err := s.defaultRole(ctx)
	return err
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	if s.oauth == nil {
		return ""
	}
	return s.oauth.GetLoginURL(state)
}

// RegisterLocal はメールアドレスとパスワードでユーザーを登録し、セッションを発行する。
// prevSessionIDが指定されている場合はセッション固定化を防ぐため破棄してから発行する。
// メールアドレスの重複はDBの一意性制約で検出し、事前チェックは行わない。
func (s *Service) RegisterLocal(ctx context.Context, in RegisterInput, prevSessionID string) (*model.User, *model.Session, error) {
	email := NormalizeEmail(in.Email)
	name := s.sanitizeName(in.Name)

	if email == "" || name == "" || in.Password == "" || in.RoleID <= 0 {
		return nil, nil, model.NewValidationError("email, name, password and roleId are required")
	}
	if !ValidEmail(email) {
		return nil, nil, model.NewValidationError("email is invalid")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return nil, nil, model.NewValidationError(fmt.Sprintf("name must be at most %d characters", MaxNameLength))
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, nil, err
	}
	if err := s.checkSelfAssignableRole(ctx, in.RoleID); err != nil {
		return nil, nil, err
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: &digest,
		RoleID:       in.RoleID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, nil, err
	}
	s.metrics.RecordRegistration()

	slog.Info("local user registered",
		slog.String("user_id", user.ID),
		slog.Int("role_id", user.RoleID),
	)

	session, err := s.establishSession(ctx, user.ID, prevSessionID)
	if err != nil {
		s.discardRegistration(ctx, user.ID)
		return nil, nil, err
	}

	return withoutHash(user), session, nil
}

// checkSelfAssignableRole は登録時に指定されたロールが自己選択可能かを確認する。
// 許可リスト未設定の場合はロールの存在確認をDBの外部キー制約に任せる。
func (s *Service) checkSelfAssignableRole(ctx context.Context, roleID int) error {
	if len(s.config.SelfAssignableRoles) == 0 {
		return nil
	}
	role, err := s.roleRepo.FindByID(ctx, roleID)
	if err != nil {
		return fmt.Errorf("failed to find role: %w", err)
	}
	if role == nil {
		return model.NewValidationError("role does not exist")
	}
	if !slices.Contains(s.config.SelfAssignableRoles, role.Name) {
		slog.Warn("self registration with restricted role rejected", slog.String("role", role.Name))
		return model.NewValidationError("role cannot be chosen at registration")
	}
	return nil
}

// discardRegistration はセッション発行に失敗した登録を取り消す。
// ユーザーだけが残ると再試行が常にConflictになるため、作成したユーザーを削除する。
func (s *Service) discardRegistration(ctx context.Context, userID string) {
	if err := s.userRepo.DeleteByID(context.WithoutCancel(ctx), userID); err != nil {
		slog.Error("failed to discard registration without session",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}
	slog.Warn("registration discarded: session could not be established", slog.String("user_id", userID))
}

// AuthenticateLocal はメールアドレスとパスワードを照合し、セッションを発行する。
// パスワード未設定（外部IdP専用）のアカウントは元のログイン方法を案内するエラーを返す。
func (s *Service) AuthenticateLocal(ctx context.Context, email, password, prevSessionID string) (*model.User, *model.Session, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, nil, model.NewValidationError("email and password are required")
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		s.metrics.RecordAuthAttempt(methodLocal, metrics.ResultError)
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		s.metrics.RecordAuthAttempt(methodLocal, metrics.ResultFailure)
		return nil, nil, model.NewInvalidCredentialsError()
	}
	if !user.HasPassword() {
		s.metrics.RecordAuthAttempt(methodLocal, metrics.ResultFailure)
		return nil, nil, model.NewUseOriginalMethodError()
	}
	if !s.hasher.Verify(password, *user.PasswordHash) {
		s.metrics.RecordAuthAttempt(methodLocal, metrics.ResultFailure)
		slog.Info("local login rejected", slog.String("user_id", user.ID))
		return nil, nil, model.NewInvalidCredentialsError()
	}

	session, err := s.establishSession(ctx, user.ID, prevSessionID)
	if err != nil {
		s.metrics.RecordAuthAttempt(methodLocal, metrics.ResultError)
		return nil, nil, err
	}
	s.metrics.RecordAuthAttempt(methodLocal, metrics.ResultSuccess)

	slog.Info("local user logged in", slog.String("user_id", user.ID))
	return withoutHash(user), session, nil
}

// ResolveExternal は外部IdPのプロフィールから対応するユーザーを1件に特定する。
//
//  1. external_idが一致するユーザーがいればそのユーザー
//  2. メールアドレスが一致する未連携ユーザーがいれば、IdPがメール所有を確認済みの場合に限り連携する
//  3. いずれもなければ既定ロールで新規作成する
//
// 初回ログインの同時実行で作成が競合した場合は、external_idで再検索して勝者を返す。
func (s *Service) ResolveExternal(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	if info == nil || info.ProviderUserID == "" {
		return nil, model.NewExternalIdentityError("provider profile has no subject")
	}
	email := NormalizeEmail(info.Email)
	if email == "" {
		return nil, model.NewExternalIdentityError("provider profile has no email")
	}

	user, err := s.identRepo.FindByExternalID(ctx, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by external id: %w", err)
	}
	if user != nil {
		return withoutHash(user), nil
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		return s.linkExternal(ctx, existing, info)
	}

	return s.createExternal(ctx, email, info)
}

// linkExternal は既存ユーザーに外部IdPの識別子を紐付ける。
func (s *Service) linkExternal(ctx context.Context, user *model.User, info *OAuthUserInfo) (*model.User, error) {
	if user.ExternalID != nil {
		// 別の外部アカウントに紐付け済み
		return nil, model.NewConflictError("email is linked to a different external account")
	}
	if !info.EmailVerified {
		slog.Warn("refused to link unverified external email",
			slog.String("user_id", user.ID),
			slog.String("provider", info.Provider),
		)
		return nil, model.NewExternalIdentityError("provider has not verified this email address")
	}

	linked, err := s.identRepo.LinkExternalID(ctx, user.ID, info.ProviderUserID, s.now())
	if err != nil {
		return nil, err
	}
	if linked == nil {
		// 並行リクエストが先に紐付けた可能性がある
		winner, err := s.identRepo.FindByExternalID(ctx, info.ProviderUserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user by external id: %w", err)
		}
		if winner == nil {
			return nil, model.NewConflictError("email is linked to a different external account")
		}
		return withoutHash(winner), nil
	}

	slog.Info("external identity linked",
		slog.String("user_id", linked.ID),
		slog.String("provider", info.Provider),
	)
	return withoutHash(linked), nil
}

// createExternal は外部IdPのプロフィールから新規ユーザーを作成する。
func (s *Service) createExternal(ctx context.Context, email string, info *OAuthUserInfo) (*model.User, error) {
	role, err := s.defaultRole(ctx)
	if err != nil {
		return nil, err
	}

	name := s.sanitizeName(info.Name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	name = truncateRunes(name, MaxNameLength)

	externalID := info.ProviderUserID
	now := s.now()
	user := &model.User{
		ID:         uuid.New().String(),
		Email:      email,
		Name:       name,
		ExternalID: &externalID,
		RoleID:     role.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if model.KindOf(err) != model.KindConflict {
			return nil, err
		}
		winner, findErr := s.identRepo.FindByExternalID(ctx, externalID)
		if findErr != nil {
			return nil, fmt.Errorf("failed to find user by external id: %w", findErr)
		}
		if winner == nil {
			return nil, err
		}
		return withoutHash(winner), nil
	}
	s.metrics.RecordRegistration()

	slog.Info("external user created",
		slog.String("user_id", user.ID),
		slog.String("provider", info.Provider),
		slog.String("role", role.Name),
	)
	return user, nil
}

// HandleCallback はOAuthコールバックを処理し、ユーザーを特定してセッションを発行する。
func (s *Service) HandleCallback(ctx context.Context, code, prevSessionID string) (*model.User, *model.Session, error) {
	if s.oauth == nil {
		return nil, nil, model.NewNotFoundError("oauth provider")
	}
	if code == "" {
		s.metrics.RecordAuthAttempt(methodGoogle, metrics.ResultFailure)
		return nil, nil, model.NewExternalIdentityError("authorization code is missing")
	}

	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		s.metrics.RecordAuthAttempt(methodGoogle, metrics.ResultError)
		return nil, nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	user, err := s.ResolveExternal(ctx, info)
	if err != nil {
		result := metrics.ResultFailure
		if model.KindOf(err) == model.KindInfrastructure {
			result = metrics.ResultError
		}
		s.metrics.RecordAuthAttempt(methodGoogle, result)
		return nil, nil, err
	}

	session, err := s.establishSession(ctx, user.ID, prevSessionID)
	if err != nil {
		s.metrics.RecordAuthAttempt(methodGoogle, metrics.ResultError)
		return nil, nil, err
	}
	s.metrics.RecordAuthAttempt(methodGoogle, metrics.ResultSuccess)

	return user, session, nil
}

// Logout はセッションを破棄する。
// 主体がない場合、またはセッションが既に存在しない場合はNotLoggedInを返す。
func (s *Service) Logout(ctx context.Context, principal *model.Principal, sessionID string) error {
	if principal == nil || sessionID == "" {
		return model.NewNotLoggedInError()
	}

	deleted, err := s.sessionRepo.DeleteByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if !deleted {
		return model.NewNotLoggedInError()
	}
	s.metrics.RecordSessionDestroyed()

	slog.Info("user logged out",
		slog.String("user_id", principal.ID),
		slog.String("session", sessionPrefix(sessionID)),
	)
	return nil
}

// Status は現在の主体を返す。未ログインの場合はUnauthenticatedを返す。
func (s *Service) Status(principal *model.Principal) (*model.Principal, error) {
	if principal == nil {
		return nil, model.NewUnauthenticatedError()
	}
	return principal, nil
}

// CurrentPrincipal はセッションIDからユーザーとロールを読み込み、主体を組み立てる。
// セッションが存在しない・期限切れ・ユーザーが削除済みの場合はnilを返す。
func (s *Service) CurrentPrincipal(ctx context.Context, sessionID string) (*model.Principal, error) {
	if sessionID == "" {
		return nil, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	principal, err := s.userRepo.FindPrincipalByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load principal: %w", err)
	}
	return principal, nil
}

// establishSession は直前のセッションを破棄した上で新しいセッションを発行する。
func (s *Service) establishSession(ctx context.Context, userID, prevSessionID string) (*model.Session, error) {
	if prevSessionID != "" {
		deleted, err := s.sessionRepo.DeleteByID(ctx, prevSessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to rotate session: %w", err)
		}
		if deleted {
			s.metrics.RecordSessionDestroyed()
		}
	}

	session, err := s.createSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	s.metrics.RecordSessionCreated()

	return session, nil
}

// defaultRole は設定された既定ロールを名前で取得する。
// 存在しない場合は固定IDにフォールバックせず、設定エラーとして返す。
func (s *Service) defaultRole(ctx context.Context) (*model.Role, error) {
	role, err := s.roleRepo.FindByName(ctx, s.config.DefaultRoleName)
	if err != nil {
		return nil, fmt.Errorf("failed to find default role: %w", err)
	}
	if role == nil {
		return nil, fmt.Errorf("default role %q does not exist: check DEFAULT_ROLE_NAME and run seed", s.config.DefaultRoleName)
	}
	return role, nil
}

func (s *Service) sanitizeName(name string) string {
	if s.sanitizer != nil {
		return s.sanitizer.Sanitize(name)
	}
	return strings.TrimSpace(name)
}

// validatePassword はパスワードの長さを検証する。
func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return model.NewValidationError(fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if len(password) > MaxPasswordBytes {
		return model.NewValidationError(fmt.Sprintf("password must be at most %d bytes", MaxPasswordBytes))
	}
	return nil
}

// truncateRunes は文字数がmaxを超える場合に先頭max文字へ切り詰める。
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:max]))
}

// NormalizeEmail は比較・保存用にメールアドレスを小文字化し前後の空白を除く。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail は表示名なしの単一アドレスとして解釈できるかを返す。
func ValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// withoutHash はパスワードハッシュを除いたコピーを返す。
func withoutHash(u *model.User) *model.User {
	c := *u
	c.PasswordHash = nil
	return &c
}

// sessionPrefix はログ出力用にセッションIDの先頭だけを返す。
func sessionPrefix(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
