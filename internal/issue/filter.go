package issue

import (
	"strings"

	"github.com/hitoshi/issuetracker/internal/model"
)

// ParseFilter はクエリ文字列の値から一覧フィルタを組み立てる。
// statusとpriorityは空文字列または"All"で無指定となる。
// 未知の値の場合はAPIErrorを返す。
// queryは入力されたまま使い、前後の空白も検索語に含める。
func ParseFilter(status, priority, query string) (model.IssueFilter, error) {
	f := model.IssueFilter{Query: query}

	if status != "" && status != model.FilterAll {
		st, ok := model.ParseStatus(status)
		if !ok {
			return model.IssueFilter{}, model.NewInvalidStatusError(status)
		}
		f.Status = st
	}

	if priority != "" && priority != model.FilterAll {
		p, ok := model.ParsePriority(priority)
		if !ok {
			return model.IssueFilter{}, model.NewInvalidPriorityError(priority)
		}
		f.Priority = p
	}

	return f, nil
}

// Filter は条件に一致する課題を入力順のまま返す。
// Queryはタイトルまたは説明に対する大文字小文字を区別しない部分一致。
func Filter(issues []model.Issue, f model.IssueFilter) []model.Issue {
	q := strings.ToLower(f.Query)

	result := make([]model.Issue, 0, len(issues))
	for _, is := range issues {
		if f.Status != "" && is.Status != f.Status {
			continue
		}
		if f.Priority != "" && is.Priority != f.Priority {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(is.Title), q) &&
			!strings.Contains(strings.ToLower(is.Description), q) {
			continue
		}
		result = append(result, is)
	}
	return result
}
