package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/issuetracker/internal/middleware"
	"github.com/hitoshi/issuetracker/internal/model"
)

// testActor はセッションミドルウェアを通過した想定の操作者。
var testActor = model.Actor{UserID: "user-123", Email: "alice@example.com"}

// withActor はテスト用にリクエストコンテキストへ操作者を注入するヘルパー。
func withActor(r *http.Request, actor model.Actor) *http.Request {
	return r.WithContext(middleware.ContextWithActor(r.Context(), actor))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// mockActorResolver はmiddleware.ActorResolverのモック実装。
// usersに登録されたユーザーIDのみ解決する。
type mockActorResolver struct {
	users map[string]string // userID -> email
}

func (m *mockActorResolver) ResolveActor(_ context.Context, userID string) (model.Actor, error) {
	email, ok := m.users[userID]
	if !ok {
		return model.Actor{}, model.NewUserNotFoundError()
	}
	return model.Actor{UserID: userID, Email: email}, nil
}

func newMockActorResolver() *mockActorResolver {
	return &mockActorResolver{users: map[string]string{"user-123": "alice@example.com"}}
}

// decodeErrorBody はエラーレスポンスのボディを読み取る。
func decodeErrorBody(t *testing.T, resp *http.Response) apiErrorResponse {
	t.Helper()
	var body apiErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body
}
