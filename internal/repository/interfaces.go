// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/issuetracker/internal/model"
)

// ErrDuplicate は一意制約違反により作成できなかったことを表す。
var ErrDuplicate = errors.New("duplicate record")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// ListAll は全ユーザーをメールアドレス昇順で返す。
	ListAll(ctx context.Context) ([]model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	// メールアドレスまたはidentityが重複する場合はErrDuplicateを返す。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessionsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は認証手段の紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// Create は既存ユーザーにidentityを追加する。
	// 同一providerとprovider_user_idが登録済みの場合はErrDuplicateを返す。
	Create(ctx context.Context, identity *model.Identity) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// IssueRepository は課題データの永続化インターフェース。
type IssueRepository interface {
	// Create は課題を作成する。
	Create(ctx context.Context, issue *model.Issue) error

	// FindByID は指定IDの課題を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Issue, error)

	// ListAll は全課題をcreated_at降順で返す。
	ListAll(ctx context.Context) ([]model.Issue, error)

	// UpdateStatus は現在のステータスがfromである場合に限りtoへ更新する。
	// 更新できた場合はtrueを返す。課題が存在しないかステータスが
	// 既に変わっていた場合はfalseを返す。
	UpdateStatus(ctx context.Context, id string, from, to model.Status) (bool, error)
}
