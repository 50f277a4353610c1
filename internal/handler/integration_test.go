package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/courtside/internal/auth"
	"github.com/hitoshi/courtside/internal/middleware"
	"github.com/hitoshi/courtside/internal/model"
	"github.com/hitoshi/courtside/internal/team"
	"github.com/hitoshi/courtside/internal/user"
)

// --- 統合テスト用のステートフルリポジトリ ---

// integrationState は統合テスト用の共有状態を保持する。
type integrationState struct {
	mu       sync.Mutex
	users    map[string]*model.User
	sessions map[string]*model.Session
	teams    map[string]*model.Team
	roles    []*model.Role
}

func newIntegrationState() *integrationState {
	return &integrationState{
		users:    make(map[string]*model.User),
		sessions: make(map[string]*model.Session),
		teams:    make(map[string]*model.Team),
		roles: []*model.Role{
			{ID: 1, Name: model.RoleAdmin},
			{ID: 2, Name: model.RoleCoach},
			{ID: 3, Name: model.RolePlayer},
			{ID: 4, Name: model.RoleGuest},
		},
	}
}

type integrationUsers struct{ *integrationState }

func (s integrationUsers) FindByID(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, nil
}

func (s integrationUsers) FindByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (s integrationUsers) FindPrincipalByID(_ context.Context, id string) (*model.Principal, error) {
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

func (s integrationUsers) Create(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == user.Email {
			return model.NewEmailTakenError()
		}
	}
	c := *user
	s.users[user.ID] = &c
	return nil
}

func (s integrationUsers) UpdateProfile(_ context.Context, id, name, email string, updatedAt time.Time) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	u.Name, u.Email, u.UpdatedAt = name, email, updatedAt
	c := *u
	return &c, nil
}

func (s integrationUsers) UpdateRole(_ context.Context, id string, roleID int, updatedAt time.Time) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if roleID > len(s.roles) {
		return nil, model.NewValidationError("role does not exist")
	}
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	u.RoleID, u.UpdatedAt = roleID, updatedAt
	c := *u
	return &c, nil
}

func (s integrationUsers) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
	return nil
}

type integrationIdentities struct{ *integrationState }

func (integrationIdentities) FindByExternalID(context.Context, string) (*model.User, error) {
	return nil, nil
}

func (integrationIdentities) LinkExternalID(context.Context, string, string, time.Time) (*model.User, error) {
	return nil, nil
}

type integrationRoles struct{ *integrationState }

func (s integrationRoles) FindByID(_ context.Context, id int) (*model.Role, error) {
	for _, r := range s.roles {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (s integrationRoles) FindByName(_ context.Context, name string) (*model.Role, error) {
	for _, r := range s.roles {
		if r.Name == name {
			return r, nil
		}
	}
	return nil, nil
}

func (s integrationRoles) List(context.Context) ([]*model.Role, error) {
	return s.roles, nil
}

type integrationSessions struct{ *integrationState }

func (s integrationSessions) Create(_ context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *session
	s.sessions[session.ID] = &c
	return nil
}

func (s integrationSessions) FindByID(_ context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || !sess.ExpiresAt.After(time.Now()) {
		return nil, nil
	}
	c := *sess
	return &c, nil
}

func (s integrationSessions) DeleteByID(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok, nil
}

func (s integrationSessions) DeleteByUserID(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, id)
		}
	}
	return nil
}

type integrationTeams struct{ *integrationState }

func (s integrationTeams) FindByID(_ context.Context, id string) (*model.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.teams[id]; ok {
		c := *t
		return &c, nil
	}
	return nil, nil
}

func (s integrationTeams) List(context.Context) ([]*model.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	teams := make([]*model.Team, 0, len(s.teams))
	for _, t := range s.teams {
		c := *t
		teams = append(teams, &c)
	}
	return teams, nil
}

func (s integrationTeams) Create(_ context.Context, team *model.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.teams {
		if t.Name == team.Name {
			return model.NewConflictError("team name already exists")
		}
	}
	c := *team
	s.teams[team.ID] = &c
	return nil
}

func (s integrationTeams) Update(_ context.Context, team *model.Team) (*model.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.teams[team.ID]; !ok {
		return nil, nil
	}
	c := *team
	s.teams[team.ID] = &c
	return team, nil
}

func (s integrationTeams) DeleteByID(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.teams[id]
	delete(s.teams, id)
	return ok, nil
}

// --- 統合テスト用ルーター構築ヘルパー ---

func createIntegrationServer(t *testing.T, state *integrationState) *httptest.Server {
	t.Helper()

	cookie := newTestCookie()
	authSvc := auth.NewService(nil, auth.NewBcryptHasher(bcrypt.MinCost),
		integrationUsers{state}, integrationIdentities{state}, integrationRoles{state}, integrationSessions{state},
		auth.ServiceConfig{SessionMaxAge: 3600},
	)
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		Principals:    authSvc,
		SessionCookie: cookie,
		RateLimiter:   rl,
		AuthService:   authSvc,
		AuthConfig:    testAuthConfig,
		UserService:   user.NewService(integrationUsers{state}, integrationRoles{state}, integrationSessions{state}, nil),
		TeamService:   team.NewService(integrationTeams{state}, nil),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

// client はCookieを保持するHTTPクライアント。
type client struct {
	t    *testing.T
	base string
	http *http.Client
}

func newClient(t *testing.T, srv *httptest.Server) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("failed to create cookie jar: %v", err)
	}
	return &client{t: t, base: srv.URL, http: &http.Client{Jar: jar}}
}

func (c *client) do(method, path, body string) (int, map[string]any) {
	c.t.Helper()
	var req *http.Request
	var err error
	if body == "" {
		req, err = http.NewRequest(method, c.base+path, nil)
	} else {
		req, err = http.NewRequest(method, c.base+path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if err != nil {
		c.t.Fatalf("failed to build request: %v", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

func (c *client) sessionCookie() *http.Cookie {
	u, _ := url.Parse(c.base)
	for _, ck := range c.http.Jar.Cookies(u) {
		if ck.Name == middleware.SessionCookieName {
			return ck
		}
	}
	return nil
}

// --- 統合テスト ---

// TestIntegration_RegisterLoginStatusLogout は登録からログアウトまでの一連の流れを検証する。
func TestIntegration_RegisterLoginStatusLogout(t *testing.T) {
	srv := createIntegrationServer(t, newIntegrationState())
	c := newClient(t, srv)

	status, body := c.do(http.MethodPost, "/auth/register", `{"email":"a@x.com","password":"secret1","name":"A","roleId":3}`)
	if status != http.StatusCreated {
		t.Fatalf("register status = %d, want 201 (body=%v)", status, body)
	}
	userID, _ := body["id"].(string)
	if userID == "" || body["email"] != "a@x.com" || body["roleId"] != float64(3) {
		t.Fatalf("register body = %v", body)
	}
	registeredCookie := c.sessionCookie()
	if registeredCookie == nil {
		t.Fatal("register should set a session cookie")
	}

	status, body = c.do(http.MethodPost, "/auth/login", `{"email":"a@x.com","password":"wrong12"}`)
	if status != http.StatusUnauthorized || body["message"] != model.MessageInvalidCredentials {
		t.Fatalf("wrong password: status=%d body=%v", status, body)
	}

	status, body = c.do(http.MethodPost, "/auth/login", `{"email":"a@x.com","password":"secret1"}`)
	if status != http.StatusOK || body["id"] != userID {
		t.Fatalf("login: status=%d body=%v", status, body)
	}
	if c.sessionCookie().Value == registeredCookie.Value {
		t.Error("login should rotate the session")
	}

	status, body = c.do(http.MethodGet, "/auth/status", "")
	if status != http.StatusOK || body["id"] != userID || body["roleName"] != model.RolePlayer {
		t.Fatalf("status: status=%d body=%v", status, body)
	}

	status, _ = c.do(http.MethodPost, "/auth/logout", "")
	if status != http.StatusOK {
		t.Fatalf("logout status = %d, want 200", status)
	}

	status, body = c.do(http.MethodGet, "/auth/status", "")
	if status != http.StatusUnauthorized || body["message"] != model.MessageNotAuthenticated {
		t.Fatalf("status after logout: status=%d body=%v", status, body)
	}

	status, body = c.do(http.MethodPost, "/auth/logout", "")
	if status != http.StatusUnauthorized || body["message"] != model.MessageNotLoggedIn {
		t.Fatalf("second logout: status=%d body=%v", status, body)
	}
}

// TestIntegration_DuplicateRegistration は同じメールアドレスの二重登録が409になることを検証する。
func TestIntegration_DuplicateRegistration(t *testing.T) {
	srv := createIntegrationServer(t, newIntegrationState())

	const body = `{"email":"dup@x.com","password":"secret1","name":"D","roleId":3}`
	if status, _ := newClient(t, srv).do(http.MethodPost, "/auth/register", body); status != http.StatusCreated {
		t.Fatalf("first register status = %d, want 201", status)
	}
	if status, _ := newClient(t, srv).do(http.MethodPost, "/auth/register", strings.Replace(body, "dup@", "DUP@", 1)); status != http.StatusConflict {
		t.Errorf("second register status = %d, want 409", status)
	}
}

// TestIntegration_RoleGate はロールによってチーム作成の可否が決まることを検証する。
func TestIntegration_RoleGate(t *testing.T) {
	state := newIntegrationState()
	srv := createIntegrationServer(t, state)
	const teamBody = `{"name":"Aces","school":"North High"}`

	anon := newClient(t, srv)
	if status, _ := anon.do(http.MethodPost, "/api/teams", teamBody); status != http.StatusUnauthorized {
		t.Errorf("anonymous create status = %d, want 401", status)
	}

	player := newClient(t, srv)
	player.do(http.MethodPost, "/auth/register", `{"email":"p@x.com","password":"secret1","name":"P","roleId":3}`)
	if status, _ := player.do(http.MethodPost, "/api/teams", teamBody); status != http.StatusForbidden {
		t.Errorf("player create status = %d, want 403", status)
	}

	coach := newClient(t, srv)
	coach.do(http.MethodPost, "/auth/register", `{"email":"c@x.com","password":"secret1","name":"C","roleId":2}`)
	status, body := coach.do(http.MethodPost, "/api/teams", teamBody)
	if status != http.StatusCreated {
		t.Fatalf("coach create status = %d, want 201 (body=%v)", status, body)
	}
	teamID, _ := body["id"].(string)
	if status, _ := coach.do(http.MethodDelete, "/api/teams/"+teamID, ""); status != http.StatusForbidden {
		t.Errorf("coach delete status = %d, want 403", status)
	}

	if status, _ := player.do(http.MethodGet, "/api/teams/"+teamID, ""); status != http.StatusOK {
		t.Errorf("player read status = %d, want 200", status)
	}
}

// TestIntegration_WithdrawEndsSession は退会後に同じCookieが匿名扱いになることを検証する。
func TestIntegration_WithdrawEndsSession(t *testing.T) {
	srv := createIntegrationServer(t, newIntegrationState())
	c := newClient(t, srv)

	c.do(http.MethodPost, "/auth/register", `{"email":"w@x.com","password":"secret1","name":"W","roleId":4}`)
	stale := c.sessionCookie()

	if status, _ := c.do(http.MethodDelete, "/api/users/me", ""); status != http.StatusNoContent {
		t.Fatalf("withdraw status = %d, want 204", status)
	}

	u, _ := url.Parse(srv.URL)
	c.http.Jar.SetCookies(u, []*http.Cookie{{Name: stale.Name, Value: stale.Value, Path: "/"}})
	if status, _ := c.do(http.MethodGet, "/auth/status", ""); status != http.StatusUnauthorized {
		t.Errorf("status after withdraw = %d, want 401", status)
	}
	if status, _ := c.do(http.MethodPost, "/auth/login", `{"email":"w@x.com","password":"secret1"}`); status != http.StatusUnauthorized {
		t.Errorf("login after withdraw = %d, want 401", status)
	}
}
