package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

const (
	TemplateMemberValidated = "member_validated"
	TemplateMemberRejected  = "member_rejected"
	TemplatePasswordCode    = "password_code"
)

var validatedHTML = template.Must(template.New(TemplateMemberValidated).Parse(
	`<p>Bonjour {{.Name}},</p>
<p>Votre inscription à la chorale <strong>{{.Chorale}}</strong> a été validée.</p>
<p>Vous pouvez dès maintenant vous connecter à votre espace.</p>`))

var rejectedHTML = template.Must(template.New(TemplateMemberRejected).Parse(
	`<p>Bonjour {{.Name}},</p>
<p>Votre demande d'inscription n'a pas été retenue.</p>
<p>Motif : {{.Motive}}</p>`))

var passwordCodeHTML = template.Must(template.New(TemplatePasswordCode).Parse(
	`<p>Bonjour,</p>
<p>Votre code de réinitialisation du mot de passe est :</p>
<p style="font-size:24px;letter-spacing:4px"><strong>{{.Code}}</strong></p>
<p>Ce code expire dans {{.Minutes}} minutes. Si vous n'êtes pas à l'origine de cette demande, ignorez ce message.</p>`))

// MemberValidated はメンバー承認の通知メールを組み立てる。
func MemberValidated(to, name, chorale string) (Message, error) {
	html, err := render(validatedHTML, map[string]string{"Name": name, "Chorale": chorale})
	if err != nil {
		return Message{}, err
	}
	return Message{
		Template: TemplateMemberValidated,
		To:       to,
		Subject:  "Votre inscription a été validée",
		HTML:     html,
		Text:     fmt.Sprintf("Bonjour %s,\nVotre inscription à la chorale %s a été validée.", name, chorale),
	}, nil
}

// MemberRejected はメンバー却下の通知メールを組み立てる。
func MemberRejected(to, name, motive string) (Message, error) {
	html, err := render(rejectedHTML, map[string]string{"Name": name, "Motive": motive})
	if err != nil {
		return Message{}, err
	}
	return Message{
		Template: TemplateMemberRejected,
		To:       to,
		Subject:  "Votre demande d'inscription",
		HTML:     html,
		Text:     fmt.Sprintf("Bonjour %s,\nVotre demande d'inscription n'a pas été retenue.\nMotif : %s", name, motive),
	}, nil
}

// PasswordCode はパスワード再設定コードのメールを組み立てる。
func PasswordCode(to, code string, ttl time.Duration) (Message, error) {
	minutes := int(ttl.Minutes())
	html, err := render(passwordCodeHTML, map[string]any{"Code": code, "Minutes": minutes})
	if err != nil {
		return Message{}, err
	}
	return Message{
		Template: TemplatePasswordCode,
		To:       to,
		Subject:  "Code de réinitialisation du mot de passe",
		HTML:     html,
		Text:     fmt.Sprintf("Votre code de réinitialisation est %s. Il expire dans %d minutes.", code, minutes),
	}, nil
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("メール本文の生成に失敗しました: %w", err)
	}
	return buf.String(), nil
}
