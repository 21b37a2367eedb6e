package auth

import (
	"errors"

	"github.com/hitoshi/choraleadmin/internal/model"
)

// Kind は認証エラーの分類。
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindInvalidCredentials
	KindProfileMissing
	KindAccessDenied
	KindAccountRejected
	KindAccountPending
	KindNetworkFailure
)

// String はAPIエラーコードとして使う分類名を返す。
func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return model.ErrCodeInvalidInput
	case KindInvalidCredentials:
		return model.ErrCodeInvalidCredentials
	case KindProfileMissing:
		return model.ErrCodeProfileMissing
	case KindAccessDenied:
		return model.ErrCodeAccessDenied
	case KindAccountRejected:
		return model.ErrCodeAccountRejected
	case KindAccountPending:
		return model.ErrCodeAccountPending
	case KindNetworkFailure:
		return model.ErrCodeNetworkFailure
	}
	return model.ErrCodeUnknown
}

// messages はログイン画面に表示する文言。
var messages = map[Kind]string{
	KindUnknown:            "Une erreur est survenue",
	KindInvalidInput:       "Veuillez saisir votre email et votre mot de passe",
	KindInvalidCredentials: "Email ou mot de passe incorrect",
	KindProfileMissing:     "Impossible de récupérer le profil utilisateur",
	KindAccessDenied:       "Accès refusé : vous n'êtes pas administrateur",
	KindAccountRejected:    "Accès refusé : votre compte a été refusé",
	KindAccountPending:     "Votre compte est en attente de validation",
	KindNetworkFailure:     "Erreur de connexion au serveur, veuillez réessayer",
}

// Error は認証フローが返す型付きエラー。
// Messageはそのまま利用者に表示できる。
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: messages[kind], Err: err}
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap は原因となったエラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf はerrのKindを返す。*Errorを含まない場合はKindUnknown。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CheckPolicy はプロフィールがセッションの保持条件を満たすか検証する。
// ロールはadminまたはsuper_admin、承認状態はrefuse・en_attente以外であること。
func CheckPolicy(p *model.Profile) *Error {
	if !p.Role.IsAdmin() {
		return newError(KindAccessDenied, nil)
	}
	switch p.ValidationStatus {
	case model.StatusRefuse:
		return newError(KindAccountRejected, nil)
	case model.StatusEnAttente:
		return newError(KindAccountPending, nil)
	}
	return nil
}
