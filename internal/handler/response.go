package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/courtside/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限。
const maxRequestBodyBytes = 1 << 20

// userResponse はユーザー情報のAPIレスポンス。パスワードハッシュは含めない。
type userResponse struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	RoleID int    `json:"roleId"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:     u.ID,
		Email:  u.Email,
		Name:   u.Name,
		RoleID: u.RoleID,
	}
}

// principalResponse は認証済み主体のAPIレスポンス。
type principalResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	RoleID   int    `json:"roleId"`
	RoleName string `json:"roleName"`
}

func toPrincipalResponse(p *model.Principal) principalResponse {
	return principalResponse{
		ID:       p.ID,
		Email:    p.Email,
		Name:     p.Name,
		RoleID:   p.RoleID,
		RoleName: p.RoleName,
	}
}

type roleResponse struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type teamResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	School    string    `json:"school"`
	CreatedBy *string   `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toTeamResponse(t *model.Team) teamResponse {
	return teamResponse{
		ID:        t.ID,
		Name:      t.Name,
		School:    t.School,
		CreatedBy: t.CreatedBy,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

type messageResponse struct {
	Message string `json:"message"`
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをJSONとして読み込む。
// 空ボディや不正なJSONはValidationエラーを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return model.NewValidationError("request body is too large")
		case errors.Is(err, io.EOF):
			return model.NewValidationError("request body is empty")
		default:
			return model.NewValidationError("request body must be valid JSON")
		}
	}
	return nil
}
