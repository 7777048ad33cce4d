// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, issue, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeIssueNotFound           = "ISSUE_NOT_FOUND"
	ErrCodeInvalidStatus           = "INVALID_STATUS"
	ErrCodeInvalidPriority         = "INVALID_PRIORITY"
	ErrCodeInvalidStatusTransition = "INVALID_STATUS_TRANSITION"
	ErrCodeSimilarIssuesFound      = "SIMILAR_ISSUES_FOUND"
	ErrCodeInvalidIssue            = "INVALID_ISSUE"
	ErrCodeUserNotFound            = "USER_NOT_FOUND"
	ErrCodeEmailInUse              = "EMAIL_IN_USE"
	ErrCodeInvalidCredentials      = "INVALID_CREDENTIALS"
	ErrCodeWeakPassword            = "WEAK_PASSWORD"
	ErrCodePasswordTooLong         = "PASSWORD_TOO_LONG"
	ErrCodeInvalidEmail            = "INVALID_EMAIL"
	ErrCodeInvalidRequest          = "INVALID_REQUEST"
	ErrCodeUnauthorized            = "UNAUTHORIZED"
	ErrCodeCSRFTokenInvalid        = "CSRF_TOKEN_INVALID"
	ErrCodeRateLimited             = "RATE_LIMITED"
	ErrCodeInternal                = "INTERNAL_ERROR"
)

// NewIssueNotFoundError は課題未検出エラーを生成する。
func NewIssueNotFoundError(issueID string) *APIError {
	return &APIError{
		Code:     ErrCodeIssueNotFound,
		Message:  fmt.Sprintf("指定された課題が見つかりません: %s", issueID),
		Category: "issue",
		Action:   "課題IDを確認してください。",
	}
}

// NewInvalidStatusError は未知のステータス指定エラーを生成する。
func NewInvalidStatusError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStatus,
		Message:  fmt.Sprintf("無効なステータスです: %s", status),
		Category: "validation",
		Action:   "ステータスには Open、In Progress、Done のいずれかを指定してください。",
	}
}

// NewInvalidPriorityError は未知の優先度指定エラーを生成する。
func NewInvalidPriorityError(priority string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPriority,
		Message:  fmt.Sprintf("無効な優先度です: %s", priority),
		Category: "validation",
		Action:   "優先度には Low、Medium、High のいずれかを指定してください。",
	}
}

// NewInvalidStatusTransitionError は許可されないステータス遷移のエラーを生成する。
func NewInvalidStatusTransitionError(current, proposed Status) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStatusTransition,
		Message:  fmt.Sprintf("%s から %s へは直接変更できません。", current, proposed),
		Category: "issue",
		Action:   "Please move this issue to In Progress before marking it Done.",
	}
}

// SimilarIssuesError は類似タイトルの課題が存在するため作成を保留したことを表す。
// Similarには検出された課題が入力順で格納される。
type SimilarIssuesError struct {
	*APIError
	Similar []Issue
}

// Unwrap はerrors.Asで*APIErrorとして扱えるようにする。
func (e *SimilarIssuesError) Unwrap() error {
	return e.APIError
}

// NewSimilarIssuesError は類似課題検出エラーを生成する。
func NewSimilarIssuesError(similar []Issue) *SimilarIssuesError {
	return &SimilarIssuesError{
		APIError: &APIError{
			Code:     ErrCodeSimilarIssuesFound,
			Message:  fmt.Sprintf("類似したタイトルの課題が%d件見つかりました。", len(similar)),
			Category: "issue",
			Action:   "重複していないか確認し、作成する場合は confirm を true にして再送信してください。",
		},
		Similar: similar,
	}
}

// NewInvalidIssueError は課題の入力値エラーを生成する。
func NewInvalidIssueError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidIssue,
		Message:  fmt.Sprintf("課題の入力内容が不正です: %s", reason),
		Category: "validation",
		Action:   "タイトルと説明を入力してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewEmailInUseError はメールアドレスが登録済みの場合のエラーを生成する。
func NewEmailInUseError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailInUse,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログイン画面からログインしてください。",
	}
}

// NewInvalidCredentialsError は認証情報が一致しない場合のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewWeakPasswordError はパスワードが短すぎる場合のエラーを生成する。
func NewWeakPasswordError(minLength int) *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  fmt.Sprintf("パスワードは%d文字以上で指定してください。", minLength),
		Category: "validation",
		Action:   "より長いパスワードを指定してください。",
	}
}

// NewPasswordTooLongError はパスワードが長すぎる場合のエラーを生成する。
func NewPasswordTooLongError(maxBytes int) *APIError {
	return &APIError{
		Code:     ErrCodePasswordTooLong,
		Message:  fmt.Sprintf("パスワードは%dバイト以内で指定してください。", maxBytes),
		Category: "validation",
		Action:   "より短いパスワードを指定してください。",
	}
}

// NewInvalidEmailError はメールアドレスの形式が不正な場合のエラーを生成する。
func NewInvalidEmailError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  fmt.Sprintf("無効なメールアドレスです: %s", email),
		Category: "validation",
		Action:   "正しいメールアドレスを入力してください。",
	}
}

// NewInvalidRequestError はリクエストボディを解析できない場合のエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewUnauthorizedError は有効なセッションがない場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewCSRFTokenInvalidError はCSRFトークンの検証に失敗した場合のエラーを生成する。
func NewCSRFTokenInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFTokenInvalid,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "/api/csrf-token でトークンを取得し、X-CSRF-Token ヘッダーに設定してください。",
	}
}

// NewRateLimitedError はレート制限を超過した場合のエラーを生成する。
func NewRateLimitedError(retryAfterSec int) *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   fmt.Sprintf("%d秒ほど待ってから再度お試しください。", retryAfterSec),
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
