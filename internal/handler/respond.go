// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/choraleadmin/internal/auth"
	"github.com/hitoshi/choraleadmin/internal/middleware"
	"github.com/hitoshi/choraleadmin/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限。
const maxRequestBodyBytes = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIError はコードに対応するステータスで統一エラーフォーマットを書き込む。
func writeAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	middleware.WriteAPIError(w, apiErr)
}

// decodeRequest はJSONボディを読み取り、validateタグで検証する。
// 失敗した場合は400を書き込んでfalseを返す。
func decodeRequest(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeAPIError(w, model.NewInvalidInputError("corps de requête JSON illisible"))
		return false
	}
	if err := v.Struct(dst); err != nil {
		writeAPIError(w, model.NewInvalidInputError(describeValidation(err)))
		return false
	}
	return true
}

// describeValidation はvalidatorのエラーを利用者向けの短い説明に変換する。
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "requête invalide"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+" ("+fe.Tag()+")")
	}
	return "champs invalides : " + strings.Join(fields, ", ")
}

// newValidator はJSONタグ名でフィールドを報告するvalidatorを生成する。
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIError(w, apiErr)
		return
	}

	var authErr *auth.Error
	if errors.As(err, &authErr) {
		writeAuthError(w, authErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// authErrorStatus は認証エラーの分類からHTTPステータスコードを返す。
func authErrorStatus(kind auth.Kind) int {
	switch kind {
	case auth.KindInvalidInput:
		return http.StatusBadRequest
	case auth.KindInvalidCredentials:
		return http.StatusUnauthorized
	case auth.KindProfileMissing, auth.KindAccessDenied,
		auth.KindAccountRejected, auth.KindAccountPending:
		return http.StatusForbidden
	case auth.KindNetworkFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeAuthError は認証エラーを統一エラーフォーマットで書き込む。
// Messageはサインイン画面にそのまま表示する。
func writeAuthError(w http.ResponseWriter, err *auth.Error) {
	action := "Réessayez."
	switch err.Kind {
	case auth.KindAccountPending:
		action = "Patientez jusqu'à la validation de votre compte par un administrateur."
	case auth.KindAccessDenied, auth.KindAccountRejected:
		action = "Contactez un administrateur si vous pensez qu'il s'agit d'une erreur."
	case auth.KindNetworkFailure:
		action = "Vérifiez votre connexion puis réessayez."
	}
	middleware.WriteErrorResponse(w, authErrorStatus(err.Kind), &model.APIError{
		Code:     err.Kind.String(),
		Message:  err.Message,
		Category: "auth",
		Action:   action,
	})
}

// currentSession はルートガードが注入したセッションを返す。
// セッションがない場合は401を書き込んでfalseを返す。
func currentSession(w http.ResponseWriter, r *http.Request) (*auth.Session, bool) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeAPIError(w, model.NewUnauthenticatedError())
		return nil, false
	}
	return session, true
}
