package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/issuetracker/internal/model"
	"github.com/hitoshi/issuetracker/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn           func(ctx context.Context, id string) (*model.User, error)
	findByEmailFn        func(ctx context.Context, email string) (*model.User, error)
	createWithIdentityFn func(ctx context.Context, user *model.User, identity *model.Identity) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) ListAll(_ context.Context) ([]model.User, error) {
	return nil, nil
}

func (m *mockUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	if m.createWithIdentityFn != nil {
		return m.createWithIdentityFn(ctx, user, identity)
	}
	return nil
}

func (m *mockUserRepo) DeleteByID(_ context.Context, _ string) error {
	return nil
}

type mockIdentityRepo struct {
	findByProviderFn func(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
	createFn         func(ctx context.Context, identity *model.Identity) error
}

func (m *mockIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	if m.createFn != nil {
		return m.createFn(ctx, identity)
	}
	return nil
}

func (m *mockIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	if m.findByProviderFn != nil {
		return m.findByProviderFn(ctx, provider, providerUserID)
	}
	return nil, nil
}

type mockSessionRepo struct {
	createFn         func(ctx context.Context, session *model.Session) error
	findByIDFn       func(ctx context.Context, id string) (*model.Session, error)
	deleteByIDFn     func(ctx context.Context, id string) error
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if m.deleteByUserIDFn != nil {
		return m.deleteByUserIDFn(ctx, userID)
	}
	return nil
}

func (m *mockSessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	return 0, nil
}

type mockOAuthProvider struct {
	getLoginURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*OAuthUserInfo, error)
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, nil
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.IdentityRepository = (*mockIdentityRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ OAuthProvider = (*mockOAuthProvider)(nil)

// testConfig はテスト用の設定。bcryptのコストを最小にして高速化する。
var testConfig = ServiceConfig{SessionMaxAge: 86400, BcryptCost: bcrypt.MinCost}

// assertAPIErrorCode はエラーが指定コードのAPIErrorであることを検証する。
func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T (%v)", err, err)
	}
	if apiErr.Code != code {
		t.Errorf("error code = %q, want %q", apiErr.Code, code)
	}
}

// --- テスト ---

func TestGetLoginURL_ReturnsOAuthURL(t *testing.T) {
	provider := &mockOAuthProvider{
		getLoginURLFn: func(state string) string {
			return "https://accounts.google.com/o/oauth2/auth?state=" + state
		},
	}
	svc := NewService(provider, nil, nil, nil, testConfig)

	url := svc.GetLoginURL("test-state")

	if url == "" {
		t.Fatal("expected non-empty URL")
	}
	expected := "https://accounts.google.com/o/oauth2/auth?state=test-state"
	if url != expected {
		t.Errorf("GetLoginURL() = %q, want %q", url, expected)
	}
}

func TestHandleCallback_NewUser_CreatesUserAndIdentityAndSession(t *testing.T) {
	ctx := context.Background()

	var createdUser *model.User
	var createdIdentity *model.Identity
	var createdSession *model.Session

	provider := &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return &OAuthUserInfo{
				ProviderUserID: "google-user-123",
				Email:          "test@example.com",
				Name:           "Test User",
				Provider:       "google",
			}, nil
		},
	}

	userRepo := &mockUserRepo{
		createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
			createdUser = user
			createdIdentity = identity
			return nil
		},
	}

	identityRepo := &mockIdentityRepo{
		findByProviderFn: func(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
			// ユーザーが見つからない（新規ユーザー）
			return nil, nil
		},
	}

	sessionRepo := &mockSessionRepo{
		createFn: func(ctx context.Context, session *model.Session) error {
			createdSession = session
			return nil
		},
	}

	svc := NewService(provider, userRepo, identityRepo, sessionRepo, testConfig)

	session, err := svc.HandleCallback(ctx, "auth-code-123")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}

	// セッションが返されること
	if session == nil {
		t.Fatal("expected non-nil session")
	}
	if session.ID == "" {
		t.Error("expected non-empty session ID")
	}
	if session.UserID == "" {
		t.Error("expected non-empty user ID in session")
	}

	// ユーザーが作成されること
	if createdUser == nil {
		t.Fatal("expected user to be created")
	}
	if createdUser.Email != "test@example.com" {
		t.Errorf("user email = %q, want %q", createdUser.Email, "test@example.com")
	}
	if createdUser.Name != "Test User" {
		t.Errorf("user name = %q, want %q", createdUser.Name, "Test User")
	}

	// identityが作成されること
	if createdIdentity == nil {
		t.Fatal("expected identity to be created")
	}
	if createdIdentity.Provider != "google" {
		t.Errorf("identity provider = %q, want %q", createdIdentity.Provider, "google")
	}
	if createdIdentity.ProviderUserID != "google-user-123" {
		t.Errorf("identity providerUserID = %q, want %q", createdIdentity.ProviderUserID, "google-user-123")
	}

	// セッションが作成されること
	if createdSession == nil {
		t.Fatal("expected session to be created")
	}
	if createdSession.UserID != createdUser.ID {
		t.Errorf("session userID = %q, want %q", createdSession.UserID, createdUser.ID)
	}
	if createdSession.ExpiresAt.Before(time.Now()) {
		t.Error("session should not be expired")
	}
}

func TestHandleCallback_ExistingUser_LogsInAndCreatesSession(t *testing.T) {
	ctx := context.Background()

	existingUserID := "existing-user-id-456"
	var createdSession *model.Session

	provider := &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return &OAuthUserInfo{
				ProviderUserID: "google-user-789",
				Email:          "existing@example.com",
				Name:           "Existing User",
				Provider:       "google",
			}, nil
		},
	}

	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{
				ID:    existingUserID,
				Email: "existing@example.com",
				Name:  "Existing User",
			}, nil
		},
	}

	identityRepo := &mockIdentityRepo{
		findByProviderFn: func(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
			// 既存ユーザーのidentityが見つかる
			return &model.Identity{
				ID:             "identity-id-1",
				UserID:         existingUserID,
				Provider:       "google",
				ProviderUserID: "google-user-789",
			}, nil
		},
	}

	sessionRepo := &mockSessionRepo{
		createFn: func(ctx context.Context, session *model.Session) error {
			createdSession = session
			return nil
		},
	}

	svc := NewService(provider, userRepo, identityRepo, sessionRepo, testConfig)

	session, err := svc.HandleCallback(ctx, "auth-code-existing")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}

	if session == nil {
		t.Fatal("expected non-nil session")
	}
	if session.UserID != existingUserID {
		t.Errorf("session userID = %q, want %q", session.UserID, existingUserID)
	}

	// セッションが作成されること
	if createdSession == nil {
		t.Fatal("expected session to be created")
	}
	if createdSession.UserID != existingUserID {
		t.Errorf("session userID = %q, want %q", createdSession.UserID, existingUserID)
	}
}

func TestHandleCallback_OAuthError_ReturnsError(t *testing.T) {
	ctx := context.Background()

	provider := &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return nil, errors.New("oauth exchange failed")
		},
	}

	svc := NewService(provider, nil, nil, nil, testConfig)

	_, err := svc.HandleCallback(ctx, "bad-code")
	if err == nil {
		t.Fatal("expected error from HandleCallback")
	}
}

func TestHandleCallback_UserCreationError_ReturnsError(t *testing.T) {
	ctx := context.Background()

	provider := &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return &OAuthUserInfo{
				ProviderUserID: "google-user-err",
				Email:          "error@example.com",
				Name:           "Error User",
				Provider:       "google",
			}, nil
		},
	}

	identityRepo := &mockIdentityRepo{
		findByProviderFn: func(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
			return nil, nil // 新規ユーザー
		},
	}

	userRepo := &mockUserRepo{
		createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
			return errors.New("db error")
		},
	}

	svc := NewService(provider, userRepo, identityRepo, nil, testConfig)

	_, err := svc.HandleCallback(ctx, "auth-code-err")
	if err == nil {
		t.Fatal("expected error from HandleCallback")
	}
}

func TestLogout_DeletesSession(t *testing.T) {
	ctx := context.Background()

	var deletedSessionID string

	sessionRepo := &mockSessionRepo{
		deleteByIDFn: func(ctx context.Context, id string) error {
			deletedSessionID = id
			return nil
		},
	}

	svc := NewService(nil, nil, nil, sessionRepo, testConfig)

	err := svc.Logout(ctx, "session-to-delete")
	if err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	if deletedSessionID != "session-to-delete" {
		t.Errorf("deleted session ID = %q, want %q", deletedSessionID, "session-to-delete")
	}
}

func TestLogout_EmptySessionID_ReturnsError(t *testing.T) {
	ctx := context.Background()

	svc := NewService(nil, nil, nil, nil, testConfig)

	err := svc.Logout(ctx, "")
	if err == nil {
		t.Fatal("expected error for empty session ID")
	}
}

func TestGetCurrentUser_ValidSession_ReturnsUser(t *testing.T) {
	ctx := context.Background()

	userID := "user-id-123"

	sessionRepo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return &model.Session{
				ID:        "session-valid",
				UserID:    userID,
				ExpiresAt: time.Now().Add(1 * time.Hour),
			}, nil
		},
	}

	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{
				ID:    userID,
				Email: "user@example.com",
				Name:  "Test User",
			}, nil
		},
	}

	svc := NewService(nil, userRepo, nil, sessionRepo, testConfig)

	user, err := svc.GetCurrentUser(ctx, "session-valid")
	if err != nil {
		t.Fatalf("GetCurrentUser() error = %v", err)
	}

	if user == nil {
		t.Fatal("expected non-nil user")
	}
	if user.ID != userID {
		t.Errorf("user ID = %q, want %q", user.ID, userID)
	}
}

func TestGetCurrentUser_ExpiredSession_ReturnsError(t *testing.T) {
	ctx := context.Background()

	sessionRepo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			// 期限切れセッション -> リポジトリはnilを返す
			return nil, nil
		},
	}

	svc := NewService(nil, nil, nil, sessionRepo, testConfig)

	_, err := svc.GetCurrentUser(ctx, "expired-session")
	if err == nil {
		t.Fatal("expected error for expired session")
	}
}

func TestGetCurrentUser_EmptySessionID_ReturnsError(t *testing.T) {
	ctx := context.Background()

	svc := NewService(nil, nil, nil, nil, testConfig)

	_, err := svc.GetCurrentUser(ctx, "")
	if err == nil {
		t.Fatal("expected error for empty session ID")
	}
}

func TestHandleCallback_VerifiedEmailOfExistingUser_LinksIdentity(t *testing.T) {
	ctx := context.Background()

	var linked *model.Identity
	provider := &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return &OAuthUserInfo{
				ProviderUserID: "google-user-link",
				Email:          "alice@example.com",
				EmailVerified:  true,
				Provider:       "google",
			}, nil
		},
	}
	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{ID: "alice-id", Email: email}, nil
		},
		createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
			t.Error("既存ユーザーに対してCreateWithIdentityが呼ばれた")
			return nil
		},
	}
	identityRepo := &mockIdentityRepo{
		createFn: func(ctx context.Context, identity *model.Identity) error {
			linked = identity
			return nil
		},
	}

	svc := NewService(provider, userRepo, identityRepo, &mockSessionRepo{}, testConfig)

	session, err := svc.HandleCallback(ctx, "code")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if session.UserID != "alice-id" {
		t.Errorf("session userID = %q, want %q", session.UserID, "alice-id")
	}
	if linked == nil {
		t.Fatal("identityが追加されていない")
	}
	if linked.UserID != "alice-id" || linked.Provider != "google" || linked.ProviderUserID != "google-user-link" {
		t.Errorf("linked identity = %+v", linked)
	}
}

func TestHandleCallback_UnverifiedEmailOfExistingUser_ReturnsEmailInUse(t *testing.T) {
	provider := &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return &OAuthUserInfo{
				ProviderUserID: "google-user-unverified",
				Email:          "alice@example.com",
				EmailVerified:  false,
				Provider:       "google",
			}, nil
		},
	}
	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{ID: "alice-id", Email: email}, nil
		},
	}
	identityRepo := &mockIdentityRepo{
		createFn: func(ctx context.Context, identity *model.Identity) error {
			t.Error("未確認のメールアドレスでidentityが追加された")
			return nil
		},
	}

	svc := NewService(provider, userRepo, identityRepo, &mockSessionRepo{}, testConfig)

	_, err := svc.HandleCallback(context.Background(), "code")
	assertAPIErrorCode(t, err, model.ErrCodeEmailInUse)
}

func TestOAuthEnabled(t *testing.T) {
	if NewService(nil, nil, nil, nil, testConfig).OAuthEnabled() {
		t.Error("OAuthプロバイダー未設定でOAuthEnabled()がtrue")
	}
	if !NewService(&mockOAuthProvider{}, nil, nil, nil, testConfig).OAuthEnabled() {
		t.Error("OAuthプロバイダー設定済みでOAuthEnabled()がfalse")
	}
}

func TestSignup_CreatesPasswordIdentityAndSession(t *testing.T) {
	ctx := context.Background()

	var createdUser *model.User
	var createdIdentity *model.Identity
	userRepo := &mockUserRepo{
		createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
			createdUser = user
			createdIdentity = identity
			return nil
		},
	}
	var createdSession *model.Session
	sessionRepo := &mockSessionRepo{
		createFn: func(ctx context.Context, session *model.Session) error {
			createdSession = session
			return nil
		},
	}

	svc := NewService(nil, userRepo, &mockIdentityRepo{}, sessionRepo, testConfig)

	session, err := svc.Signup(ctx, "  Alice@Example.COM ", "secret1", "Alice")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	if createdUser == nil || createdIdentity == nil {
		t.Fatal("ユーザーとidentityが作成されていない")
	}
	if createdUser.Email != "alice@example.com" {
		t.Errorf("user email = %q, want %q", createdUser.Email, "alice@example.com")
	}
	if createdIdentity.Provider != model.ProviderPassword {
		t.Errorf("identity provider = %q, want %q", createdIdentity.Provider, model.ProviderPassword)
	}
	if createdIdentity.ProviderUserID != "alice@example.com" {
		t.Errorf("identity providerUserID = %q", createdIdentity.ProviderUserID)
	}
	if createdIdentity.SecretHash == "secret1" || createdIdentity.SecretHash == "" {
		t.Error("パスワードがハッシュ化されていない")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(createdIdentity.SecretHash), []byte("secret1")); err != nil {
		t.Errorf("ハッシュがパスワードと一致しない: %v", err)
	}
	if createdSession == nil || session.UserID != createdUser.ID {
		t.Error("作成したユーザーのセッションが発行されていない")
	}
}

func TestSignup_Validation(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		wantCode string
	}{
		{"不正なメールアドレス", "not-an-email", "secret1", model.ErrCodeInvalidEmail},
		{"表示名付きのアドレス", "Alice <alice@example.com>", "secret1", model.ErrCodeInvalidEmail},
		{"短いパスワード", "alice@example.com", "12345", model.ErrCodeWeakPassword},
		{"長すぎるパスワード", "alice@example.com", strings.Repeat("a", 73), model.ErrCodePasswordTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userRepo := &mockUserRepo{
				createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
					t.Error("検証エラーなのにユーザーが作成された")
					return nil
				},
			}
			svc := NewService(nil, userRepo, &mockIdentityRepo{}, &mockSessionRepo{}, testConfig)

			_, err := svc.Signup(context.Background(), tt.email, tt.password, "")
			assertAPIErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestSignup_EmailInUse(t *testing.T) {
	t.Run("既存ユーザーが見つかる場合", func(t *testing.T) {
		userRepo := &mockUserRepo{
			findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
				return &model.User{ID: "existing", Email: email}, nil
			},
		}
		svc := NewService(nil, userRepo, &mockIdentityRepo{}, &mockSessionRepo{}, testConfig)

		_, err := svc.Signup(context.Background(), "alice@example.com", "secret1", "")
		assertAPIErrorCode(t, err, model.ErrCodeEmailInUse)
	})

	t.Run("作成時に一意制約違反となる場合", func(t *testing.T) {
		userRepo := &mockUserRepo{
			createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
				return repository.ErrDuplicate
			},
		}
		svc := NewService(nil, userRepo, &mockIdentityRepo{}, &mockSessionRepo{}, testConfig)

		_, err := svc.Signup(context.Background(), "alice@example.com", "secret1", "")
		assertAPIErrorCode(t, err, model.ErrCodeEmailInUse)
	})
}

func TestLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	identityRepo := &mockIdentityRepo{
		findByProviderFn: func(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
			if provider != model.ProviderPassword || providerUserID != "alice@example.com" {
				return nil, nil
			}
			return &model.Identity{
				UserID:         "alice-id",
				Provider:       provider,
				ProviderUserID: providerUserID,
				SecretHash:     string(hash),
			}, nil
		},
	}
	svc := NewService(nil, &mockUserRepo{}, identityRepo, &mockSessionRepo{}, testConfig)

	t.Run("正しいパスワード", func(t *testing.T) {
		session, err := svc.Login(context.Background(), "ALICE@example.com", "secret1")
		if err != nil {
			t.Fatalf("Login() error = %v", err)
		}
		if session.UserID != "alice-id" {
			t.Errorf("session userID = %q, want %q", session.UserID, "alice-id")
		}
	})

	t.Run("誤ったパスワード", func(t *testing.T) {
		_, err := svc.Login(context.Background(), "alice@example.com", "wrong-password")
		assertAPIErrorCode(t, err, model.ErrCodeInvalidCredentials)
	})

	t.Run("未登録のメールアドレス", func(t *testing.T) {
		_, err := svc.Login(context.Background(), "bob@example.com", "secret1")
		assertAPIErrorCode(t, err, model.ErrCodeInvalidCredentials)
	})
}

func TestResolveActor(t *testing.T) {
	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			if id == "alice-id" {
				return &model.User{ID: id, Email: "alice@example.com"}, nil
			}
			return nil, nil
		},
	}
	svc := NewService(nil, userRepo, nil, nil, testConfig)

	actor, err := svc.ResolveActor(context.Background(), "alice-id")
	if err != nil {
		t.Fatalf("ResolveActor() error = %v", err)
	}
	if actor.UserID != "alice-id" || actor.Email != "alice@example.com" {
		t.Errorf("actor = %+v", actor)
	}

	_, err = svc.ResolveActor(context.Background(), "deleted-id")
	assertAPIErrorCode(t, err, model.ErrCodeUserNotFound)
}
