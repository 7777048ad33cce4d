// Package issue は課題管理のドメインロジックを提供する。
// 類似タイトル検出とステータス遷移判定は副作用を持たない純粋関数として実装し、
// 任意のgoroutineから同時に呼び出してよい。
package issue

import (
	"regexp"
	"strings"

	"github.com/hitoshi/issuetracker/internal/model"
)

// minSimilarMatches は類似と判定するために必要な一致単語数。
const minSimilarMatches = 2

// minTokenLength 以下の長さの単語は比較対象から除外する。
const minTokenLength = 2

// nonWordRe は単語構成文字（[A-Za-z0-9_]）と空白以外の文字にマッチする。
var nonWordRe = regexp.MustCompile(`[^\w\s]+`)

// Tokenize はタイトルを比較用の単語列に分解する。
// 小文字化し、記号を区切りとして扱い、空白で分割したうえで
// 2文字以下の単語を除外する。重複は除去しない。
func Tokenize(title string) []string {
	cleaned := nonWordRe.ReplaceAllString(strings.ToLower(title), " ")

	fields := strings.Fields(cleaned)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > minTokenLength {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// FindSimilar は候補タイトルと2語以上を共有する既存課題を返す。
// 候補側の単語は集合として扱い、既存課題側の単語は出現ごとに数える。
// 結果はexistingの順序を保つ。候補タイトルが空の場合は空のスライスを返す。
func FindSimilar(candidateTitle string, existing []model.Issue) []model.Issue {
	result := []model.Issue{}
	if candidateTitle == "" || len(existing) == 0 {
		return result
	}

	candidate := make(map[string]struct{})
	for _, t := range Tokenize(candidateTitle) {
		candidate[t] = struct{}{}
	}
	if len(candidate) == 0 {
		return result
	}

	for _, is := range existing {
		matches := 0
		for _, t := range Tokenize(is.Title) {
			if _, ok := candidate[t]; ok {
				matches++
			}
		}
		if matches >= minSimilarMatches {
			result = append(result, is)
		}
	}
	return result
}
