// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は管理画面から入力された自由記述を保存前に無害化する。
// URLGuard は外部URLの静的検証と、SSRF防止付きHTTPクライアントの生成を行う。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は自由記述フィールドのサニタイズ機能のインターフェース。
type TextSanitizer interface {
	// PlainText は全てのタグを除去し、前後の空白を取り除いたテキストを返す。
	// 氏名や却下理由など、書式を持たないフィールドに使う。
	PlainText(raw string) string

	// RichText は段落・強調・リストなど最小限の書式のみを残したHTMLを返す。
	// チョラルの紹介文に使う。リンクはhttpsのみ許可し、rel="noopener noreferrer"を付与する。
	RichText(raw string) string
}

type textSanitizer struct {
	strict *bluemonday.Policy
	rich   *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() TextSanitizer {
	rich := bluemonday.NewPolicy()
	rich.AllowElements("p", "br", "ul", "ol", "li", "strong", "em")
	rich.AllowAttrs("href").OnElements("a")
	rich.AllowURLSchemes("https")
	rich.AllowRelativeURLs(false)
	rich.RequireNoReferrerOnLinks(true)
	rich.AddTargetBlankToFullyQualifiedLinks(true)

	return &textSanitizer{
		strict: bluemonday.StrictPolicy(),
		rich:   rich,
	}
}

func (s *textSanitizer) PlainText(raw string) string {
	// StrictPolicyは&などをエスケープするため、保存用に元の文字へ戻す
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(raw)))
}

func (s *textSanitizer) RichText(raw string) string {
	return strings.TrimSpace(s.rich.Sanitize(raw))
}
