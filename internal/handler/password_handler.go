package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/choraleadmin/internal/identity"
	"github.com/hitoshi/choraleadmin/internal/model"
)

// RecoveryServiceInterface はパスワード再設定ハンドラーが必要とするサービスインターフェース。
type RecoveryServiceInterface interface {
	Request(ctx context.Context, email string) error
	Reset(ctx context.Context, email, code, password string) error
}

var _ RecoveryServiceInterface = (*identity.Recovery)(nil)

// PasswordHandler は確認コードによるパスワード再設定のHTTPハンドラー。
type PasswordHandler struct {
	service  RecoveryServiceInterface
	validate *validator.Validate
}

// NewPasswordHandler はPasswordHandlerを生成する。
func NewPasswordHandler(service RecoveryServiceInterface) *PasswordHandler {
	return &PasswordHandler{service: service, validate: newValidator()}
}

type passwordCodeRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type passwordResetRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Code     string `json:"code" validate:"required,numeric,len=6"`
	Password string `json:"password" validate:"required,max=72"`
}

// RequestCode は確認コードをメールで送る。
// アカウントの有無に関わらず202を返す。
// POST /auth/password/code
func (h *PasswordHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req passwordCodeRequest
	if !decodeRequest(w, r, h.validate, &req) {
		return
	}

	if err := h.service.Request(r.Context(), req.Email); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "Si un compte existe pour cette adresse, un code de vérification a été envoyé.",
	})
}

// Reset は確認コードを検証してパスワードを変更する。
// 変更後は全てのセッションが終了するため、改めてサインインが必要になる。
// POST /auth/password/reset
func (h *PasswordHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if !decodeRequest(w, r, h.validate, &req) {
		return
	}

	err := h.service.Reset(r.Context(), req.Email, req.Code, req.Password)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, identity.ErrInvalidCode):
		writeAPIError(w, model.NewInvalidCodeError())
	case errors.Is(err, identity.ErrWeakPassword):
		writeAPIError(w, model.NewInvalidInputError("le mot de passe doit contenir au moins 8 caractères"))
	default:
		handleServiceError(w, err)
	}
}
