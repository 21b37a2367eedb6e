package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/choraleadmin/internal/member"
	"github.com/hitoshi/choraleadmin/internal/middleware"
	"github.com/hitoshi/choraleadmin/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	List(ctx context.Context, filter model.ProfileFilter) ([]*model.Profile, error)
	Get(ctx context.Context, userID string) (*model.Profile, error)
	Create(ctx context.Context, actor *model.Profile, in member.CreateInput) (*member.Created, error)
	Update(ctx context.Context, actor *model.Profile, userID string, in member.UpdateInput) (*model.Profile, error)
	// Delete はユーザーを削除する。権限・プロフィール・identity・セッションをまとめて削除する。
	Delete(ctx context.Context, actor *model.Profile, userID string) error
}

var _ UserServiceInterface = (*member.Service)(nil)

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service  UserServiceInterface
	validate *validator.Validate
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service:  service,
		validate: newValidator(),
	}
}

type createUserRequest struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"omitempty,min=8,max=72"`
	FullName  string `json:"full_name" validate:"required,max=200"`
	Role      string `json:"role" validate:"required"`
	ChoraleID string `json:"chorale_id" validate:"omitempty,uuid"`
}

type updateUserRequest struct {
	FullName  string `json:"full_name" validate:"required,max=200"`
	Role      string `json:"role" validate:"required"`
	ChoraleID string `json:"chorale_id" validate:"omitempty,uuid"`
}

// profileResponse はプロフィールのAPIレスポンス。
type profileResponse struct {
	UserID           string    `json:"user_id"`
	Email            string    `json:"email"`
	FullName         string    `json:"full_name"`
	Role             string    `json:"role"`
	ChoraleID        string    `json:"chorale_id,omitempty"`
	ValidationStatus string    `json:"statut_validation"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type createUserResponse struct {
	profileResponse
	TemporaryPassword string `json:"temporary_password,omitempty"`
}

func toProfileResponse(p *model.Profile) profileResponse {
	return profileResponse{
		UserID:           p.UserID,
		Email:            p.Email,
		FullName:         p.FullName,
		Role:             string(p.Role),
		ChoraleID:        p.ChoraleID,
		ValidationStatus: string(p.ValidationStatus),
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func toProfileResponses(profiles []*model.Profile) []profileResponse {
	resp := make([]profileResponse, 0, len(profiles))
	for _, p := range profiles {
		resp = append(resp, toProfileResponse(p))
	}
	return resp
}

// ListUsers はユーザー一覧を返す。
// GET /api/users?q=...&role=...&statut=...
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.ProfileFilter{Query: q.Get("q")}
	if v := q.Get("role"); v != "" {
		role, err := model.ParseRole(v)
		if err != nil {
			writeAPIError(w, model.NewInvalidInputError("rôle inconnu"))
			return
		}
		filter.Role = role
	}
	if v := q.Get("statut"); v != "" {
		status, err := model.ParseValidationStatus(v)
		if err != nil {
			writeAPIError(w, model.NewInvalidInputError("statut de validation inconnu"))
			return
		}
		filter.Status = status
	}

	profiles, err := h.service.List(r.Context(), filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponses(profiles))
}

// GetUser はユーザー詳細を返す。
// GET /api/users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

// CreateUser はidentityとプロフィールを作成する。
// パスワード未指定の場合は一時パスワードをレスポンスで1回だけ返す。
// POST /api/users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	session, ok := currentSession(w, r)
	if !ok {
		return
	}
	var req createUserRequest
	if !decodeRequest(w, r, h.validate, &req) {
		return
	}

	created, err := h.service.Create(r.Context(), &session.Profile, member.CreateInput{
		Email:     req.Email,
		Password:  req.Password,
		FullName:  req.FullName,
		Role:      model.Role(req.Role),
		ChoraleID: req.ChoraleID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, createUserResponse{
		profileResponse:   toProfileResponse(created.Profile),
		TemporaryPassword: created.TemporaryPassword,
	})
}

// UpdateUser は氏名・ロール・所属チョラルを更新する。
// 自分自身のプロフィールを更新した場合はセッションのプロフィールも再取得する。
// PUT /api/users/{id}
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	session, ok := currentSession(w, r)
	if !ok {
		return
	}
	var req updateUserRequest
	if !decodeRequest(w, r, h.validate, &req) {
		return
	}

	userID := chi.URLParam(r, "id")
	p, err := h.service.Update(r.Context(), &session.Profile, userID, member.UpdateInput{
		FullName:  req.FullName,
		Role:      model.Role(req.Role),
		ChoraleID: req.ChoraleID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if userID == session.Identity.ID {
		if a := middleware.AuthenticatorFromContext(r.Context()); a != nil {
			a.RefreshProfile(r.Context())
		}
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

// DeleteUser はユーザーを削除する。
// DELETE /api/users/{id}
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	session, ok := currentSession(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), &session.Profile, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
