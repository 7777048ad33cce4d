// Package model はドメインモデルを定義する。
package model

import "time"

// Status は課題のワークフロー上の段階を表す。
type Status string

const (
	// StatusOpen は未着手の課題。
	StatusOpen Status = "Open"
	// StatusInProgress は作業中の課題。
	StatusInProgress Status = "In Progress"
	// StatusDone は完了した課題。
	StatusDone Status = "Done"
)

// Statuses はワークフロー上の順序で並べた全ステータス。
var Statuses = []Status{StatusOpen, StatusInProgress, StatusDone}

// ParseStatus は文字列をStatusに変換する。未知の値の場合はfalseを返す。
func ParseStatus(s string) (Status, bool) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Priority は課題の優先度を表す。
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

// Priorities は全優先度。
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

// ParsePriority は文字列をPriorityに変換する。未知の値の場合はfalseを返す。
func ParsePriority(s string) (Priority, bool) {
	for _, p := range Priorities {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// Issue はトラッキング対象の作業単位を表す。
// 作成者と担当者はメールアドレスで保持し、usersとの参照整合性は持たない。
type Issue struct {
	ID          string
	Title       string
	Description string
	Priority    Priority
	Status      Status
	AssignedTo  string
	CreatedBy   string
	CreatedAt   time.Time
}

// IssueFilter は課題一覧の絞り込み条件を表す。
// StatusとPriorityが空の場合は全件（"All"）として扱う。
type IssueFilter struct {
	Status   Status
	Priority Priority
	Query    string
}

// FilterAll はフィルタ未指定を表すクエリ値。
const FilterAll = "All"

// IssueEventType は課題イベントの種別。
type IssueEventType string

const (
	// IssueEventCreated は課題作成イベント。
	IssueEventCreated IssueEventType = "issue.created"
	// IssueEventStatusChanged はステータス変更イベント。
	IssueEventStatusChanged IssueEventType = "issue.status_changed"
)

// IssueEvent は課題に対する変更の通知内容。
type IssueEvent struct {
	Type           IssueEventType
	Issue          Issue
	PreviousStatus Status // ステータス変更時のみ
	Actor          string // 操作したユーザーのメールアドレス
	OccurredAt     time.Time
}
