package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/choraleadmin/internal/model"
	"github.com/hitoshi/choraleadmin/internal/permission"
)

// PermissionServiceInterface は権限ハンドラーが必要とするサービスインターフェース。
type PermissionServiceInterface interface {
	Modules(ctx context.Context) ([]*model.PermissionModule, error)
	Matrix(ctx context.Context) ([]*model.UserPermissions, error)
	Effective(ctx context.Context, profile *model.Profile) ([]string, error)
	Grant(ctx context.Context, actor *model.Profile, userID, code string) error
	Revoke(ctx context.Context, actor *model.Profile, userID, code string) error
}

var _ PermissionServiceInterface = (*permission.Service)(nil)

// PermissionHandler は権限管理のHTTPハンドラー。
type PermissionHandler struct {
	service PermissionServiceInterface
}

// NewPermissionHandler はPermissionHandlerを生成する。
func NewPermissionHandler(service PermissionServiceInterface) *PermissionHandler {
	return &PermissionHandler{service: service}
}

type moduleResponse struct {
	Code        string `json:"code"`
	Name        string `json:"nom"`
	Description string `json:"description"`
	Category    string `json:"categorie"`
}

type userPermissionsResponse struct {
	UserID   string   `json:"user_id"`
	FullName string   `json:"full_name"`
	Email    string   `json:"email"`
	Role     string   `json:"role"`
	Modules  []string `json:"modules"`
}

// ListModules は権限モジュールの一覧を返す。
// GET /api/permissions/modules
func (h *PermissionHandler) ListModules(w http.ResponseWriter, r *http.Request) {
	modules, err := h.service.Modules(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]moduleResponse, 0, len(modules))
	for _, m := range modules {
		resp = append(resp, moduleResponse{
			Code:        m.Code,
			Name:        m.Name,
			Description: m.Description,
			Category:    m.Category,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Matrix は管理者ごとの保持モジュールを返す。
// GET /api/permissions
func (h *PermissionHandler) Matrix(w http.ResponseWriter, r *http.Request) {
	matrix, err := h.service.Matrix(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]userPermissionsResponse, 0, len(matrix))
	for _, u := range matrix {
		modules := u.Modules
		if modules == nil {
			modules = []string{}
		}
		resp = append(resp, userPermissionsResponse{
			UserID:   u.UserID,
			FullName: u.FullName,
			Email:    u.Email,
			Role:     string(u.Role),
			Modules:  modules,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Grant は権限を付与する。付与済みでも204を返す。
// PUT /api/permissions/{userID}/{module}
func (h *PermissionHandler) Grant(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.service.Grant)
}

// Revoke は権限を剥奪する。未付与でも204を返す。
// DELETE /api/permissions/{userID}/{module}
func (h *PermissionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.service.Revoke)
}

func (h *PermissionHandler) change(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, actor *model.Profile, userID, code string) error) {
	session, ok := currentSession(w, r)
	if !ok {
		return
	}

	if err := fn(r.Context(), &session.Profile, chi.URLParam(r, "userID"), chi.URLParam(r, "module")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
