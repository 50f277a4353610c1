package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/courtside/internal/middleware"
	"github.com/hitoshi/courtside/internal/model"
	"github.com/hitoshi/courtside/internal/team"
)

// TeamServiceInterface はチームハンドラーが必要とするサービスインターフェース。
type TeamServiceInterface interface {
	List(ctx context.Context) ([]*model.Team, error)
	Get(ctx context.Context, id string) (*model.Team, error)
	Create(ctx context.Context, principal *model.Principal, in team.Input) (*model.Team, error)
	Update(ctx context.Context, principal *model.Principal, id string, in team.Input) (*model.Team, error)
	Delete(ctx context.Context, principal *model.Principal, id string) error
}

var _ TeamServiceInterface = (*team.Service)(nil)

// TeamHandler はチーム管理のHTTPハンドラー。
type TeamHandler struct {
	service TeamServiceInterface
}

// NewTeamHandler はTeamHandlerを生成する。
func NewTeamHandler(service TeamServiceInterface) *TeamHandler {
	return &TeamHandler{service: service}
}

type teamRequest struct {
	Name   *string `json:"name"`
	School *string `json:"school"`
}

// ListTeams はチーム一覧を返す。
// GET /api/teams
func (h *TeamHandler) ListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := h.service.List(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	resp := make([]teamResponse, len(teams))
	for i, t := range teams {
		resp[i] = toTeamResponse(t)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTeam はチーム詳細を返す。
// GET /api/teams/{id}
func (h *TeamHandler) GetTeam(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTeamResponse(t))
}

// CreateTeam はチームを作成する。
// POST /api/teams
func (h *TeamHandler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	var req teamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	t, err := h.service.Create(r.Context(), middleware.PrincipalFromContext(r.Context()), team.Input{Name: req.Name, School: req.School})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTeamResponse(t))
}

// UpdateTeam はチームを更新する。
// PATCH /api/teams/{id}
func (h *TeamHandler) UpdateTeam(w http.ResponseWriter, r *http.Request) {
	var req teamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	t, err := h.service.Update(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "id"), team.Input{Name: req.Name, School: req.School})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTeamResponse(t))
}

// DeleteTeam はチームを削除する。
// DELETE /api/teams/{id}
func (h *TeamHandler) DeleteTeam(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
