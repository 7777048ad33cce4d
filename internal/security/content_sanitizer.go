// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は課題のタイトルと説明からHTMLを取り除き、プレーンテキストとして保存させる。
// bluemondayのStrictPolicyを使用し、全てのタグと属性を除去する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxSanitizePasses はエンティティ経由で埋め込まれたタグを除去するための最大反復回数。
const maxSanitizePasses = 3

// TextSanitizerService はユーザー入力テキストのサニタイズ機能のインターフェースを定義する。
type TextSanitizerService interface {
	// Sanitize は全てのHTMLタグを除去し、前後の空白を取り除いたプレーンテキストを返す。
	// エンティティはデコードされるため "A &amp; B" は "A & B" となる。
	// 同一入力に対して常に同一出力を返し、出力を再度渡しても変化しない。
	Sanitize(raw string) string
	// Lossy は除去によってタグ以外の本文まで失われる入力かどうかを返す。
	// 閉じられていないタグは後続のテキストごと捨てられるため、"x <y z" はtrueとなる。
	Lossy(raw string) bool
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフであり、複数のgoroutineから共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はHTMLを除去したプレーンテキストを返す。
// "&lt;script&gt;" のようにエンティティで書かれたタグもデコード後に除去する。
func (s *textSanitizer) Sanitize(raw string) string {
	out := raw
	for i := 0; i < maxSanitizePasses; i++ {
		next := html.UnescapeString(s.policy.Sanitize(out))
		if next == out {
			break
		}
		out = next
	}
	return strings.TrimSpace(out)
}

// Lossy は閉じられていないタグの開始を含むかどうかを返す。
// エンティティで書かれた "&lt;y" もデコード後に同じ扱いとなるため併せて調べる。
func (s *textSanitizer) Lossy(raw string) bool {
	return hasUnterminatedTag(raw) || hasUnterminatedTag(html.UnescapeString(raw))
}

// hasUnterminatedTag は後ろに '>' がないタグ開始を探す。
// HTMLのトークナイザーは '<' の直後が英字、'/'、'!'、'?' の場合にタグとして読む。
func hasUnterminatedTag(s string) bool {
	for i := 0; i+1 < len(s); i++ {
		if s[i] != '<' || !opensTag(s[i+1]) {
			continue
		}
		if !strings.Contains(s[i+1:], ">") {
			return true
		}
	}
	return false
}

func opensTag(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		return true
	case c == '/' || c == '!' || c == '?':
		return true
	}
	return false
}
