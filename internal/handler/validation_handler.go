package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/choraleadmin/internal/model"
	"github.com/hitoshi/choraleadmin/internal/validation"
)

// ValidationServiceInterface はメンバー承認ハンドラーが必要とするサービスインターフェース。
type ValidationServiceInterface interface {
	Pending(ctx context.Context) ([]*model.Profile, error)
	Validate(ctx context.Context, actor *model.Profile, userID, choraleID string) (*model.Profile, error)
	Reject(ctx context.Context, actor *model.Profile, userID, motive string) (*model.Profile, error)
}

var _ ValidationServiceInterface = (*validation.Service)(nil)

// ValidationHandler はメンバー承認のHTTPハンドラー。
type ValidationHandler struct {
	service  ValidationServiceInterface
	validate *validator.Validate
}

// NewValidationHandler はValidationHandlerを生成する。
func NewValidationHandler(service ValidationServiceInterface) *ValidationHandler {
	return &ValidationHandler{service: service, validate: newValidator()}
}

type validateMemberRequest struct {
	ChoraleID string `json:"chorale_id" validate:"required,uuid"`
}

// 最小長は無害化後にサービス層で検証する
type rejectMemberRequest struct {
	Motive string `json:"motif" validate:"required,max=2000"`
}

// ListPending は承認待ちメンバーを登録が古い順に返す。
// GET /api/validation
func (h *ValidationHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.service.Pending(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponses(profiles))
}

// ValidateMember はメンバーを承認する。
// POST /api/validation/{id}/validate
func (h *ValidationHandler) ValidateMember(w http.ResponseWriter, r *http.Request) {
	session, ok := currentSession(w, r)
	if !ok {
		return
	}
	var req validateMemberRequest
	if !decodeRequest(w, r, h.validate, &req) {
		return
	}

	p, err := h.service.Validate(r.Context(), &session.Profile, chi.URLParam(r, "id"), req.ChoraleID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

// RejectMember はメンバーを却下する。
// POST /api/validation/{id}/reject
func (h *ValidationHandler) RejectMember(w http.ResponseWriter, r *http.Request) {
	session, ok := currentSession(w, r)
	if !ok {
		return
	}
	var req rejectMemberRequest
	if !decodeRequest(w, r, h.validate, &req) {
		return
	}

	p, err := h.service.Reject(r.Context(), &session.Profile, chi.URLParam(r, "id"), req.Motive)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}
