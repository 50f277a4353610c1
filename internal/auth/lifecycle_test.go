package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/courtside/internal/model"
	"github.com/hitoshi/courtside/internal/repository"
)

// memStore は一意性制約を再現するインメモリのリポジトリ実装。
type memStore struct {
	mu       sync.Mutex
	users    map[string]*model.User
	roles    []*model.Role
	sessions map[string]*model.Session
	now      func() time.Time
}

func newMemStore() *memStore {
	return &memStore{
		users: make(map[string]*model.User),
		roles: []*model.Role{
			{ID: 1, Name: model.RoleAdmin},
			{ID: 2, Name: model.RoleCoach},
			{ID: 3, Name: model.RolePlayer},
			{ID: 4, Name: model.RoleGuest},
		},
		sessions: make(map[string]*model.Session),
		now:      time.Now,
	}
}

func cloneUser(u *model.User) *model.User {
	c := *u
	return &c
}

func (s *memStore) FindByID(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return cloneUser(u), nil
	}
	return nil, nil
}

func (s *memStore) FindByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, nil
}

func (s *memStore) FindPrincipalByID(_ context.Context, id string) (*model.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	p := &model.Principal{ID: u.ID, Email: u.Email, Name: u.Name, RoleID: u.RoleID}
	for _, r := range s.roles {
		if r.ID == u.RoleID {
			p.RoleName = r.Name
		}
	}
	return p, nil
}

func (s *memStore) Create(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == user.Email {
			return model.NewEmailTakenError()
		}
		if user.ExternalID != nil && u.ExternalID != nil && *u.ExternalID == *user.ExternalID {
			return model.NewConflictError("external identity already linked to another account")
		}
	}
	s.users[user.ID] = cloneUser(user)
	return nil
}

func (s *memStore) UpdateProfile(context.Context, string, string, string, time.Time) (*model.User, error) {
	return nil, errors.New("not implemented")
}

func (s *memStore) UpdateRole(context.Context, string, int, time.Time) (*model.User, error) {
	return nil, errors.New("not implemented")
}

func (s *memStore) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
	return nil
}

// sessionStore はSessionRepositoryとしての振る舞いを分離したビュー。
type sessionStore struct{ *memStore }

func (s sessionStore) Create(_ context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *session
	s.sessions[session.ID] = &c
	return nil
}

func (s sessionStore) FindByID(_ context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || !sess.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	c := *sess
	return &c, nil
}

func (s sessionStore) DeleteByID(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok, nil
}

func (s sessionStore) DeleteByUserID(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, id)
		}
	}
	return nil
}

// identityStore はIdentityRepositoryとしての振る舞いを分離したビュー。
type identityStore struct{ *memStore }

func (s identityStore) FindByExternalID(_ context.Context, externalID string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ExternalID != nil && *u.ExternalID == externalID {
			return cloneUser(u), nil
		}
	}
	return nil, nil
}

func (s identityStore) LinkExternalID(_ context.Context, userID, externalID string, updatedAt time.Time) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.ExternalID != nil {
		return nil, nil
	}
	u.ExternalID = &externalID
	u.UpdatedAt = updatedAt
	return cloneUser(u), nil
}

// roleStore はRoleRepositoryとしての振る舞いを分離したビュー。
type roleStore struct{ *memStore }

func (s roleStore) FindByID(_ context.Context, id int) (*model.Role, error) {
	for _, r := range s.roles {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (s roleStore) FindByName(_ context.Context, name string) (*model.Role, error) {
	for _, r := range s.roles {
		if r.Name == name {
			return r, nil
		}
	}
	return nil, nil
}

func (s roleStore) List(context.Context) ([]*model.Role, error) {
	return s.roles, nil
}

var (
	_ repository.UserRepository     = (*memStore)(nil)
	_ repository.SessionRepository  = sessionStore{}
	_ repository.IdentityRepository = identityStore{}
	_ repository.RoleRepository     = roleStore{}
)

func newLifecycleService(store *memStore) *Service {
	return NewService(&mockOAuthProvider{}, NewBcryptHasher(bcrypt.MinCost),
		store, identityStore{store}, roleStore{store}, sessionStore{store},
		ServiceConfig{SessionMaxAge: 3600, DefaultRoleName: model.RoleGuest})
}

func messageOf(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}

// TestLifecycle_RegisterLoginStatusLogout は登録からログアウトまでの一連の遷移を検証する。
func TestLifecycle_RegisterLoginStatusLogout(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newLifecycleService(store)

	registered, regSession, err := svc.RegisterLocal(ctx, RegisterInput{
		Email: "a@x.com", Password: "secret1", Name: "A", RoleID: 3,
	}, "")
	if err != nil {
		t.Fatalf("RegisterLocal() error = %v", err)
	}

	_, _, err = svc.AuthenticateLocal(ctx, "a@x.com", "wrong-password", regSession.ID)
	requireKind(t, err, model.KindAuthentication)
	if got := messageOf(err); got != model.MessageInvalidCredentials {
		t.Errorf("message = %q, want %q", got, model.MessageInvalidCredentials)
	}

	loggedIn, session, err := svc.AuthenticateLocal(ctx, "a@x.com", "secret1", regSession.ID)
	if err != nil {
		t.Fatalf("AuthenticateLocal() error = %v", err)
	}
	if loggedIn.ID != registered.ID {
		t.Errorf("login id = %q, want %q", loggedIn.ID, registered.ID)
	}

	// ログイン時に登録時のセッションはローテーションされる
	if p, _ := svc.CurrentPrincipal(ctx, regSession.ID); p != nil {
		t.Error("registration session should be destroyed on login")
	}

	principal, err := svc.CurrentPrincipal(ctx, session.ID)
	if err != nil || principal == nil {
		t.Fatalf("CurrentPrincipal() = (%v, %v), want principal", principal, err)
	}
	status, err := svc.Status(principal)
	if err != nil || status.ID != registered.ID || status.RoleName != model.RolePlayer {
		t.Fatalf("Status() = (%+v, %v), want %s Player", status, err, registered.ID)
	}

	if err := svc.Logout(ctx, principal, session.ID); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	after, err := svc.CurrentPrincipal(ctx, session.ID)
	if err != nil {
		t.Fatalf("CurrentPrincipal() error = %v", err)
	}
	_, err = svc.Status(after)
	requireKind(t, err, model.KindUnauthenticated)

	// 二重ログアウトはエラー
	err = svc.Logout(ctx, principal, session.ID)
	requireKind(t, err, model.KindUnauthenticated)
}

// TestLifecycle_ExternalOnlyUserCannotLoginLocally は外部IdP専用ユーザーのローカルログインを検証する。
func TestLifecycle_ExternalOnlyUserCannotLoginLocally(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.users["u-g1"] = &model.User{ID: "u-g1", Email: "g@x.com", Name: "G", ExternalID: strPtr("g1"), RoleID: 4}
	svc := newLifecycleService(store)

	for _, password := range []string{"anything", "secret1", "x"} {
		_, _, err := svc.AuthenticateLocal(ctx, "g@x.com", password, "")
		requireKind(t, err, model.KindAuthentication)
		if got := messageOf(err); got != model.MessageUseOriginalMethod {
			t.Errorf("message = %q, want %q", got, model.MessageUseOriginalMethod)
		}
	}
}

// TestLifecycle_ConcurrentDuplicateRegistration は同時登録で成功が1件のみになることを検証する。
func TestLifecycle_ConcurrentDuplicateRegistration(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newLifecycleService(store)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = svc.RegisterLocal(ctx, RegisterInput{
				Email: "dup@x.com", Password: "secret1", Name: "Dup", RoleID: 3,
			}, "")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case model.KindOf(err) != model.KindConflict:
			t.Errorf("unexpected error kind %s: %v", model.KindOf(err), err)
		}
	}
	if succeeded != 1 {
		t.Errorf("succeeded = %d, want exactly 1", succeeded)
	}
}

// TestLifecycle_ExternalLinkThenBothMethodsWork は連携後にローカル・外部の両方でログインできることを検証する。
func TestLifecycle_ExternalLinkThenBothMethodsWork(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newLifecycleService(store)

	local, _, err := svc.RegisterLocal(ctx, RegisterInput{
		Email: "a@x.com", Password: "secret1", Name: "A", RoleID: 2,
	}, "")
	if err != nil {
		t.Fatalf("RegisterLocal() error = %v", err)
	}

	info := &OAuthUserInfo{ProviderUserID: "g1", Email: "a@x.com", EmailVerified: true, Provider: ProviderGoogle}
	linked, err := svc.ResolveExternal(ctx, info)
	if err != nil {
		t.Fatalf("ResolveExternal() error = %v", err)
	}
	if linked.ID != local.ID {
		t.Errorf("linked id = %q, want %q", linked.ID, local.ID)
	}

	again, err := svc.ResolveExternal(ctx, info)
	if err != nil || again.ID != local.ID {
		t.Errorf("second ResolveExternal() = (%v, %v), want %s", again, err, local.ID)
	}

	if _, _, err := svc.AuthenticateLocal(ctx, "a@x.com", "secret1", ""); err != nil {
		t.Errorf("local login after link error = %v", err)
	}
}

// TestLifecycle_ExpiredSessionIsAnonymous は期限切れセッションが匿名として扱われることを検証する。
func TestLifecycle_ExpiredSessionIsAnonymous(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newLifecycleService(store)

	_, session, err := svc.RegisterLocal(ctx, RegisterInput{
		Email: "a@x.com", Password: "secret1", Name: "A", RoleID: 3,
	}, "")
	if err != nil {
		t.Fatalf("RegisterLocal() error = %v", err)
	}

	store.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	p, err := svc.CurrentPrincipal(ctx, session.ID)
	if err != nil || p != nil {
		t.Errorf("CurrentPrincipal() = (%v, %v), want anonymous", p, err)
	}
}
