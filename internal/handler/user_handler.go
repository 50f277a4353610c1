package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/courtside/internal/middleware"
	"github.com/hitoshi/courtside/internal/model"
	"github.com/hitoshi/courtside/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	ListRoles(ctx context.Context) ([]*model.Role, error)
	UpdateProfile(ctx context.Context, principal *model.Principal, in user.ProfileInput) (*model.User, error)
	AssignRole(ctx context.Context, principal *model.Principal, userID string, roleID int) (*model.User, error)
	// Withdraw はユーザーの退会処理を実行する。
	// sessionsを削除した後にuserを削除する。
	Withdraw(ctx context.Context, principal *model.Principal) error
}

var _ UserServiceInterface = (*user.Service)(nil)

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	cookie  *middleware.SessionCookie
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, cookie *middleware.SessionCookie) *UserHandler {
	return &UserHandler{
		service: service,
		cookie:  cookie,
	}
}

type updateProfileRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

type assignRoleRequest struct {
	RoleID int `json:"roleId"`
}

// ListRoles はロール一覧を返す。
// GET /api/roles
func (h *UserHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	resp := make([]roleResponse, len(roles))
	for i, role := range roles {
		resp[i] = roleResponse{ID: role.ID, Name: role.Name}
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateProfile はログイン中ユーザーのプロフィールを更新する。
// PATCH /api/users/me
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	u, err := h.service.UpdateProfile(r.Context(), middleware.PrincipalFromContext(r.Context()), user.ProfileInput{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// AssignRole は指定ユーザーのロールを変更する。
// PUT /api/users/{id}/role
func (h *UserHandler) AssignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	u, err := h.service.AssignRole(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "id"), req.RoleID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// Withdraw はユーザーの退会処理を実行し、セッションCookieを破棄する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Withdraw(r.Context(), middleware.PrincipalFromContext(r.Context())); err != nil {
		middleware.WriteError(w, err)
		return
	}

	h.cookie.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}
