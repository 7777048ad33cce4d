// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// 登録済みユーザーはそのまま担当者候補のディレクトリとなる。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	// ProviderPassword はメールアドレスとパスワードによる認証を表す。
	ProviderPassword = "password"
	// ProviderGoogle はGoogle OAuthによる認証を表す。
	ProviderGoogle = "google"
)

// Identity は認証手段との紐付け情報を表す。
// パスワード認証の場合ProviderUserIDは小文字化したメールアドレス、
// SecretHashはbcryptハッシュとなる。OAuthの場合SecretHashは空。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	SecretHash     string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Actor は操作を行う認証済みユーザーを表す。
// サービス層へは暗黙の共有状態ではなく引数として明示的に渡す。
type Actor struct {
	UserID string
	Email  string
}
