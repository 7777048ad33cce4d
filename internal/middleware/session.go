// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/issuetracker/internal/model"
)

const sessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// actorContextKey は認証済みの操作者を格納するキー。
	actorContextKey = contextKey("actor")
	// actorSlotContextKey はアクセスログへ操作者を伝えるための格納先のキー。
	actorSlotContextKey = contextKey("actor_slot")
)

// actorSlot はリカバリーとロギングのミドルウェアが用意し、セッションミドルウェアが埋める。
// 内側のミドルウェアが作ったコンテキストは外側から参照できないため、ポインタで受け渡す。
type actorSlot struct {
	actor model.Actor
}

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// ActorResolver はセッションのユーザーIDから操作者を解決するインターフェース。
// ユーザーが存在しない場合はUSER_NOT_FOUNDのAPIErrorを返す。
type ActorResolver interface {
	ResolveActor(ctx context.Context, userID string) (model.Actor, error)
}

// NewSessionMiddleware はHTTP Only Cookieのセッションを検証し、
// 操作者（ユーザーIDとメールアドレス）をリクエストコンテキストに注入するミドルウェアを返す。
// セッションがない、期限切れ、またはユーザーが退会済みの場合は401を返す。
func NewSessionMiddleware(sessions SessionFinder, actors ActorResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(sessionCookieName)
			if err != nil || cookie.Value == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			session, err := sessions.FindByID(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to find session",
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if session == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			actor, err := actors.ResolveActor(r.Context(), session.UserID)
			if err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeUserNotFound {
					// セッションは有効だがユーザーが退会済み
					WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
					return
				}
				slog.Error("failed to resolve actor",
					slog.String("user_id", session.UserID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
		})
	}
}

// ActorFromContext はセッションミドルウェアが注入した操作者を取得する。
func ActorFromContext(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey).(model.Actor)
	if !ok || actor.UserID == "" {
		return model.Actor{}, false
	}
	return actor, true
}

// UserIDFromContext はリクエストコンテキストから操作者のユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("user ID not found in context")
	}
	return actor.UserID, nil
}

// withActorSlot は操作者の格納先をリクエストに用意する。既にあればそれを使い回す。
func withActorSlot(r *http.Request) (*http.Request, *actorSlot) {
	if slot, ok := r.Context().Value(actorSlotContextKey).(*actorSlot); ok {
		return r, slot
	}
	slot := &actorSlot{}
	return r.WithContext(context.WithValue(r.Context(), actorSlotContextKey, slot)), slot
}

// ContextWithActor はコンテキストに操作者を注入する。
// 外側のミドルウェアが格納先を用意していれば、そこにも操作者を書き込む。
func ContextWithActor(ctx context.Context, actor model.Actor) context.Context {
	if slot, ok := ctx.Value(actorSlotContextKey).(*actorSlot); ok {
		slot.actor = actor
	}
	return context.WithValue(ctx, actorContextKey, actor)
}
