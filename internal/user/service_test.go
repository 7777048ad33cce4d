package user

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/issuetracker/internal/model"
	"github.com/hitoshi/issuetracker/internal/repository"
)

// --- モック ---

type mockUserRepo struct {
	findByIDFn   func(ctx context.Context, id string) (*model.User, error)
	listAllFn    func(ctx context.Context) ([]model.User, error)
	deleteByIDFn func(ctx context.Context, id string) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return nil, nil
}
func (m *mockUserRepo) ListAll(ctx context.Context) ([]model.User, error) {
	if m.listAllFn != nil {
		return m.listAllFn(ctx)
	}
	return []model.User{}, nil
}
func (m *mockUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	return nil
}
func (m *mockUserRepo) DeleteByID(ctx context.Context, id string) error {
	return m.deleteByIDFn(ctx, id)
}

type mockSessionRepo struct {
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	return nil
}
func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return nil, nil
}
func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	return nil
}
func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	return m.deleteByUserIDFn(ctx, userID)
}
func (m *mockSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)

// --- テスト ---

// TestService_Withdraw は退会処理がセッションとユーザーを削除することを検証する。
func TestService_Withdraw(t *testing.T) {
	var calls []string

	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "test@example.com"}, nil
		},
		deleteByIDFn: func(ctx context.Context, id string) error {
			calls = append(calls, "user")
			return nil
		},
	}
	sessionRepo := &mockSessionRepo{
		deleteByUserIDFn: func(ctx context.Context, userID string) error {
			calls = append(calls, "sessions")
			return nil
		},
	}

	svc := NewService(userRepo, sessionRepo)

	err := svc.Withdraw(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Withdraw returned error: %v", err)
	}
	if len(calls) != 2 || calls[0] != "sessions" || calls[1] != "user" {
		t.Errorf("削除順序 = %v, want [sessions user]", calls)
	}
}

// TestService_Withdraw_UserNotFound は存在しないユーザーの退会がエラーになることを検証する。
func TestService_Withdraw_UserNotFound(t *testing.T) {
	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return nil, nil
		},
	}

	svc := NewService(userRepo, nil)

	err := svc.Withdraw(context.Background(), "nonexistent-user")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
		t.Fatalf("expected USER_NOT_FOUND, got %v", err)
	}
}

// TestService_Withdraw_SessionDeleteError はセッション削除に失敗した場合ユーザーを削除しないことを検証する。
func TestService_Withdraw_SessionDeleteError(t *testing.T) {
	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id}, nil
		},
		deleteByIDFn: func(ctx context.Context, id string) error {
			t.Error("セッション削除失敗後にユーザーが削除された")
			return nil
		},
	}
	sessionRepo := &mockSessionRepo{
		deleteByUserIDFn: func(ctx context.Context, userID string) error {
			return errors.New("db error")
		},
	}

	svc := NewService(userRepo, sessionRepo)

	if err := svc.Withdraw(context.Background(), "user-1"); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestService_ListDirectory(t *testing.T) {
	userRepo := &mockUserRepo{
		listAllFn: func(ctx context.Context) ([]model.User, error) {
			return []model.User{
				{ID: "1", Email: "alice@example.com", Name: "Alice"},
				{ID: "2", Email: "bob@example.com", Name: "Bob Smith"},
				{ID: "3", Email: "carol@corp.example", Name: "Carol"},
			}, nil
		},
	}
	svc := NewService(userRepo, nil)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"空クエリは全件", "", []string{"1", "2", "3"}},
		{"メールアドレスに部分一致", "corp", []string{"3"}},
		{"名前に大文字小文字を区別せず一致", "SMITH", []string{"2"}},
		{"共通ドメイン", "@example.com", []string{"1", "2"}},
		{"一致なし", "zzz", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ListDirectory(context.Background(), tt.query)
			if err != nil {
				t.Fatalf("ListDirectory() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d (%v)", len(got), len(tt.want), got)
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("got[%d].ID = %q, want %q", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestService_ListDirectory_RepoError(t *testing.T) {
	userRepo := &mockUserRepo{
		listAllFn: func(ctx context.Context) ([]model.User, error) {
			return nil, errors.New("db error")
		},
	}
	svc := NewService(userRepo, nil)

	if _, err := svc.ListDirectory(context.Background(), ""); err == nil {
		t.Fatal("expected error, got nil")
	}
}
