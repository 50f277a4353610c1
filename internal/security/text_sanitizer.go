// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はユーザーが入力する表示名やチーム名からHTMLを取り除き、
// プレーンテキストとして保存できる形に正規化する。
// bluemondayのStrictPolicyで全タグを除去した上で、エスケープされた実体参照を戻す。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキストのサニタイズを行う。
// bluemondayのポリシーはスレッドセーフなため、単一インスタンスを共有してよい。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はタグと制御文字を取り除き、連続する空白を1つにまとめて返す。
// 同一入力に対して常に同一出力を返す（冪等）。
func (s *TextSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	// StrictPolicyは&や<をエスケープして返すため、保存前に元の文字へ戻す
	text := html.UnescapeString(s.policy.Sanitize(raw))

	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, text)

	return strings.Join(strings.Fields(text), " ")
}
