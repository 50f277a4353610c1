// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/hitoshi/courtside/internal/auth"
	"github.com/hitoshi/courtside/internal/middleware"
	"github.com/hitoshi/courtside/internal/model"
)

const oauthStateCookie = "oauth_state"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GoogleEnabled() bool
	GetLoginURL(state string) string
	RegisterLocal(ctx context.Context, in auth.RegisterInput, prevSessionID string) (*model.User, *model.Session, error)
	AuthenticateLocal(ctx context.Context, email, password, prevSessionID string) (*model.User, *model.Session, error)
	HandleCallback(ctx context.Context, code, prevSessionID string) (*model.User, *model.Session, error)
	Logout(ctx context.Context, principal *model.Principal, sessionID string) error
	Status(principal *model.Principal) (*model.Principal, error)
}

var _ AuthServiceInterface = (*auth.Service)(nil)

// LoginLimiter はメールアドレス単位でログイン試行を制限する。
// 拒否時は実装側がレスポンスを書き込む。
type LoginLimiter interface {
	AllowLogin(w http.ResponseWriter, email string) bool
}

var _ LoginLimiter = (*middleware.RateLimiter)(nil)

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	SuccessRedirect string // OAuthログイン成功時のリダイレクト先
	FailureRedirect string // OAuthログイン失敗時のリダイレクト先
	CookieSecure    bool
	LoginLimiter    LoginLimiter // nilの場合はメールアドレス単位の制限を行わない
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	cookie  *middleware.SessionCookie
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, cookie *middleware.SessionCookie, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		cookie:  cookie,
		config:  config,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	RoleID   int    `json:"roleId"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register はローカルユーザーを登録し、そのままログイン状態にする。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	user, session, err := h.service.RegisterLocal(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
		RoleID:   req.RoleID,
	}, middleware.SessionIDFromContext(r.Context()))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	h.cookie.Set(w, session.ID, session.ExpiresAt)
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// Login はメールアドレスとパスワードでログインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	if h.config.LoginLimiter != nil && !h.config.LoginLimiter.AllowLogin(w, auth.NormalizeEmail(req.Email)) {
		return
	}

	user, session, err := h.service.AuthenticateLocal(r.Context(), req.Email, req.Password, middleware.SessionIDFromContext(r.Context()))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	h.cookie.Set(w, session.ID, session.ExpiresAt)
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// GoogleLogin はGoogle OAuthフローを開始する。
// GET /auth/google
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.service.GoogleEnabled() {
		middleware.WriteError(w, model.NewNotFoundError("oauth provider"))
		return
	}

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/google",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusFound)
}

// GoogleCallback はOAuthコールバックを処理する。
// 失敗時はエラー内容をログに残し、フロントエンドの失敗ページへリダイレクトする。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if !h.service.GoogleEnabled() {
		middleware.WriteError(w, model.NewNotFoundError("oauth provider"))
		return
	}

	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	h.clearStateCookie(w)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		slog.Warn("oauth state mismatch")
		http.Redirect(w, r, h.config.FailureRedirect, http.StatusFound)
		return
	}

	// 2. プロバイダー側でユーザーが拒否した場合
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		slog.Warn("oauth provider returned error", slog.String("error", errParam))
		http.Redirect(w, r, h.config.FailureRedirect, http.StatusFound)
		return
	}

	// 3. 認証処理
	user, session, err := h.service.HandleCallback(r.Context(), r.URL.Query().Get("code"), middleware.SessionIDFromContext(r.Context()))
	if err != nil {
		logCallbackFailure(err)
		http.Redirect(w, r, h.config.FailureRedirect, http.StatusFound)
		return
	}

	h.cookie.Set(w, session.ID, session.ExpiresAt)
	slog.Info("oauth login succeeded", slog.String("user_id", user.ID))
	http.Redirect(w, r, h.config.SuccessRedirect, http.StatusFound)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.service.Logout(ctx, middleware.PrincipalFromContext(ctx), middleware.SessionIDFromContext(ctx)); err != nil {
		if model.KindOf(err) == model.KindUnauthenticated {
			h.cookie.Clear(w)
		}
		middleware.WriteError(w, err)
		return
	}

	h.cookie.Clear(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

// Status は現在のログイン主体を返す。
// GET /auth/status
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	principal, err := h.service.Status(middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPrincipalResponse(principal))
}

func (h *AuthHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/auth/google",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func logCallbackFailure(err error) {
	kind := model.KindOf(err)
	if kind == model.KindInfrastructure {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		return
	}
	slog.Warn("oauth callback rejected",
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
