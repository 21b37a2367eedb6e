// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, chorale, member, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeProfileMissing      = "PROFILE_MISSING"
	ErrCodeAccessDenied        = "ACCESS_DENIED"
	ErrCodeAccountRejected     = "ACCOUNT_REJECTED"
	ErrCodeAccountPending      = "ACCOUNT_PENDING"
	ErrCodeNetworkFailure      = "NETWORK_FAILURE"
	ErrCodeUnknown             = "UNKNOWN"
	ErrCodeUnauthenticated     = "UNAUTHENTICATED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeChoraleNotFound     = "CHORALE_NOT_FOUND"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeModuleNotFound      = "MODULE_NOT_FOUND"
	ErrCodeNotificationMissing = "NOTIFICATION_NOT_FOUND"
	ErrCodeAlreadyValidated    = "ALREADY_VALIDATED"
	ErrCodeAlreadyRejected     = "ALREADY_REJECTED"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeInvalidURL          = "INVALID_URL"
	ErrCodeSelfDelete          = "SELF_DELETE"
	ErrCodeChantNotFound       = "CHANT_NOT_FOUND"
	ErrCodeInvalidCode         = "INVALID_CODE"
)

// NewInvalidInputError は入力検証エラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("Données invalides : %s", reason),
		Category: "validation",
		Action:   "Vérifiez les champs du formulaire puis réessayez.",
	}
}

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "Authentification requise.",
		Category: "auth",
		Action:   "Connectez-vous pour continuer.",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("Action non autorisée : %s", reason),
		Category: "auth",
		Action:   "Demandez à un super administrateur d'effectuer cette action.",
	}
}

// NewChoraleNotFoundError はチョラル未検出エラーを生成する。
func NewChoraleNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeChoraleNotFound,
		Message:  fmt.Sprintf("Chorale introuvable : %s", id),
		Category: "chorale",
		Action:   "Rechargez la liste des chorales.",
	}
}

// NewChantNotFoundError は楽曲未検出エラーを生成する。
func NewChantNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeChantNotFound,
		Message:  fmt.Sprintf("Chant introuvable : %s", id),
		Category: "chant",
		Action:   "Rechargez la liste des chants.",
	}
}

// NewInvalidCodeError は確認コードの不一致・期限切れエラーを生成する。
func NewInvalidCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCode,
		Message:  "Code invalide ou expiré.",
		Category: "auth",
		Action:   "Demandez un nouveau code de vérification.",
	}
}

// NewUserNotFoundError はユーザー未検出エラーを生成する。
func NewUserNotFoundError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("Utilisateur %s introuvable dans la base de données.", userID),
		Category: "member",
		Action:   "Rechargez la liste des utilisateurs.",
	}
}

// NewModuleNotFoundError は権限モジュール未検出エラーを生成する。
func NewModuleNotFoundError(code string) *APIError {
	return &APIError{
		Code:     ErrCodeModuleNotFound,
		Message:  fmt.Sprintf("Module de permission inconnu : %s", code),
		Category: "member",
		Action:   "Rechargez la page des permissions.",
	}
}

// NewNotificationNotFoundError は通知未検出エラーを生成する。
func NewNotificationNotFoundError(id int64) *APIError {
	return &APIError{
		Code:     ErrCodeNotificationMissing,
		Message:  fmt.Sprintf("Notification introuvable : %d", id),
		Category: "system",
		Action:   "Rechargez les notifications.",
	}
}

// NewAlreadyValidatedError は承認済みメンバーに対する操作エラーを生成する。
func NewAlreadyValidatedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyValidated,
		Message:  "Ce membre est déjà validé.",
		Category: "member",
		Action:   "Rechargez la liste des membres en attente.",
	}
}

// NewAlreadyRejectedError は却下済みメンバーに対する操作エラーを生成する。
func NewAlreadyRejectedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyRejected,
		Message:  "Ce membre a déjà été refusé.",
		Category: "member",
		Action:   "Rechargez la liste des membres en attente.",
	}
}

// NewConflictError は一意制約違反エラーを生成する。
func NewConflictError(what string) *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  fmt.Sprintf("%s existe déjà.", what),
		Category: "validation",
		Action:   "Choisissez une autre valeur.",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("URL invalide pour %s : %s", field, reason),
		Category: "validation",
		Action:   "Saisissez une URL publique commençant par http:// ou https://.",
	}
}

// NewSelfDeleteError は自分自身を削除しようとした場合のエラーを生成する。
func NewSelfDeleteError() *APIError {
	return &APIError{
		Code:     ErrCodeSelfDelete,
		Message:  "Vous ne pouvez pas supprimer votre propre compte.",
		Category: "member",
		Action:   "Demandez à un autre administrateur.",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Trop de requêtes.",
		Category: "system",
		Action:   "Patientez quelques instants avant de réessayer.",
	}
}
