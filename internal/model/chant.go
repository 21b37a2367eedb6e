package model

import (
	"errors"
	"fmt"
	"time"
)

// Pupitre は楽曲が対象とする声部を表す。空文字列は全声部。
type Pupitre string

const (
	PupitreTous    Pupitre = ""
	PupitreSoprano Pupitre = "soprano"
	PupitreAlto    Pupitre = "alto"
	PupitreTenor   Pupitre = "tenor"
	PupitreBasse   Pupitre = "basse"
)

// ErrUnknownPupitre は未知の声部値を表す。
var ErrUnknownPupitre = errors.New("unknown pupitre")

// ParsePupitre は文字列を声部に変換する。未知の値はエラーになる。
func ParsePupitre(s string) (Pupitre, error) {
	switch p := Pupitre(s); p {
	case PupitreTous, PupitreSoprano, PupitreAlto, PupitreTenor, PupitreBasse:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPupitre, s)
}

// Chant はチョラルのレパートリーに含まれる楽曲を表す。
// 楽曲の詳細（作曲者・歌詞・音源など）はモバイルアプリで管理され、
// 管理画面から変更できるのはタイトルと所属チョラルのみ。
type Chant struct {
	ID          string
	ChoraleID   string
	ChoraleName string // 一覧表示用。更新時は無視される
	Title       string
	Composer    string
	Lyrics      string
	AudioURL    string
	Duration    int // 秒
	Language    string
	Category    string
	Pupitre     Pupitre
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChantFilter は楽曲一覧の絞り込み条件。
// Queryはタイトル・作曲者・チョラル名のいずれかに部分一致する。
type ChantFilter struct {
	Query     string
	ChoraleID string
	Pupitre   *Pupitre
}

// ChantSummary は楽曲一覧の声部別件数。
type ChantSummary struct {
	Total      int
	Soprano    int
	Alto       int
	TenorBasse int
}

// SummarizeChants は楽曲を声部別に数える。テノールとバスは合算する。
func SummarizeChants(chants []*Chant) ChantSummary {
	sum := ChantSummary{Total: len(chants)}
	for _, c := range chants {
		switch c.Pupitre {
		case PupitreSoprano:
			sum.Soprano++
		case PupitreAlto:
			sum.Alto++
		case PupitreTenor, PupitreBasse:
			sum.TenorBasse++
		}
	}
	return sum
}
