package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/hitoshi/issuetracker/internal/database"
	"github.com/hitoshi/issuetracker/internal/model"
)

// openIntegrationDB はTEST_DATABASE_URLのデータベースへ接続しマイグレーションを適用する。
// 未設定または接続できない場合はテストをスキップする。
func openIntegrationDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}

	db, err := database.Connect(context.Background(), dbURL, database.DefaultPoolConfig())
	if err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	if _, err := database.RunMigrations(dbURL); err != nil {
		db.Close()
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	if _, err := db.Exec(`TRUNCATE issues, sessions, identities, users`); err != nil {
		db.Close()
		t.Fatalf("テーブルの初期化に失敗: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func newTestUser(email string) (*model.User, *model.Identity) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	u := &model.User{ID: uuid.New().String(), Email: email, Name: "Test", CreatedAt: now, UpdatedAt: now}
	id := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         u.ID,
		Provider:       model.ProviderPassword,
		ProviderUserID: email,
		SecretHash:     "hash",
		CreatedAt:      now,
	}
	return u, id
}

func TestPostgresUserRepo_Integration(t *testing.T) {
	db := openIntegrationDB(t)
	ctx := context.Background()
	users := NewPostgresUserRepo(db)
	identities := NewPostgresIdentityRepo(db)

	u, ident := newTestUser("alice@example.com")
	if err := users.CreateWithIdentity(ctx, u, ident); err != nil {
		t.Fatalf("CreateWithIdentity: %v", err)
	}

	got, err := users.FindByEmail(ctx, "ALICE@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if got == nil || got.ID != u.ID {
		t.Fatalf("FindByEmail = %+v, want id %s", got, u.ID)
	}

	dup, dupIdent := newTestUser("Alice@Example.com")
	if err := users.CreateWithIdentity(ctx, dup, dupIdent); !errors.Is(err, ErrDuplicate) {
		t.Errorf("重複メールアドレスのエラー = %v, want ErrDuplicate", err)
	}

	found, err := identities.FindByProviderAndProviderUserID(ctx, model.ProviderPassword, "alice@example.com")
	if err != nil {
		t.Fatalf("FindByProviderAndProviderUserID: %v", err)
	}
	if found == nil || found.SecretHash != "hash" {
		t.Errorf("identity = %+v, want secret_hash %q", found, "hash")
	}

	missing, err := users.FindByID(ctx, uuid.New().String())
	if err != nil || missing != nil {
		t.Errorf("FindByID(未登録) = %+v, %v, want nil, nil", missing, err)
	}

	b, bIdent := newTestUser("bob@example.com")
	if err := users.CreateWithIdentity(ctx, b, bIdent); err != nil {
		t.Fatalf("CreateWithIdentity(bob): %v", err)
	}
	list, err := users.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(list) != 2 || list[0].Email != "alice@example.com" || list[1].Email != "bob@example.com" {
		t.Errorf("ListAll はメールアドレス昇順であるべき: got %+v", list)
	}

	if err := users.DeleteByID(ctx, b.ID); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}
	if err := users.DeleteByID(ctx, b.ID); err == nil {
		t.Error("削除済みユーザーの再削除がエラーにならなかった")
	}
}

func TestPostgresSessionRepo_Integration(t *testing.T) {
	db := openIntegrationDB(t)
	ctx := context.Background()
	users := NewPostgresUserRepo(db)
	sessions := NewPostgresSessionRepo(db)

	u, ident := newTestUser("session@example.com")
	if err := users.CreateWithIdentity(ctx, u, ident); err != nil {
		t.Fatalf("CreateWithIdentity: %v", err)
	}

	now := time.Now()
	active := &model.Session{ID: "active", UserID: u.ID, ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	expired := &model.Session{ID: "expired", UserID: u.ID, ExpiresAt: now.Add(-time.Hour), CreatedAt: now.Add(-2 * time.Hour)}
	for _, s := range []*model.Session{active, expired} {
		if err := sessions.Create(ctx, s); err != nil {
			t.Fatalf("Create(%s): %v", s.ID, err)
		}
	}

	if got, err := sessions.FindByID(ctx, "expired"); err != nil || got != nil {
		t.Errorf("期限切れセッションは返さないべき: got %+v, %v", got, err)
	}
	if got, err := sessions.FindByID(ctx, "active"); err != nil || got == nil {
		t.Errorf("有効なセッションが取得できない: got %+v, %v", got, err)
	}

	n, err := sessions.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpired の削除件数 = %d, want 1", n)
	}

	if err := sessions.DeleteByUserID(ctx, u.ID); err != nil {
		t.Fatalf("DeleteByUserID: %v", err)
	}
	if got, _ := sessions.FindByID(ctx, "active"); got != nil {
		t.Error("DeleteByUserID 後もセッションが残っています")
	}
}

func TestPostgresIssueRepo_Integration(t *testing.T) {
	db := openIntegrationDB(t)
	ctx := context.Background()
	repo := NewPostgresIssueRepo(db)

	base := time.Now().UTC().Truncate(time.Microsecond)
	older := &model.Issue{
		ID: uuid.New().String(), Title: "Login fails", Description: "d",
		Priority: model.PriorityHigh, Status: model.StatusOpen,
		AssignedTo: "a@example.com", CreatedBy: "a@example.com", CreatedAt: base.Add(-time.Minute),
	}
	newer := &model.Issue{
		ID: uuid.New().String(), Title: "Signup broken", Description: "d",
		Priority: model.PriorityLow, Status: model.StatusOpen,
		AssignedTo: "b@example.com", CreatedBy: "a@example.com", CreatedAt: base,
	}
	for _, is := range []*model.Issue{older, newer} {
		if err := repo.Create(ctx, is); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	list, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(list) != 2 || list[0].ID != newer.ID || list[1].ID != older.ID {
		t.Fatalf("ListAll はcreated_at降順であるべき: got %+v", list)
	}

	ok, err := repo.UpdateStatus(ctx, older.ID, model.StatusOpen, model.StatusInProgress)
	if err != nil || !ok {
		t.Fatalf("UpdateStatus(Open→In Progress) = %v, %v, want true, nil", ok, err)
	}

	// 古いステータスを前提とした更新は反映されない
	ok, err = repo.UpdateStatus(ctx, older.ID, model.StatusOpen, model.StatusDone)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if ok {
		t.Error("前提ステータスが異なる更新が成功してしまった")
	}

	got, err := repo.FindByID(ctx, older.ID)
	if err != nil || got == nil {
		t.Fatalf("FindByID = %+v, %v", got, err)
	}
	if got.Status != model.StatusInProgress {
		t.Errorf("Status = %q, want %q", got.Status, model.StatusInProgress)
	}

	if got, err := repo.FindByID(ctx, uuid.New().String()); err != nil || got != nil {
		t.Errorf("FindByID(未登録) = %+v, %v, want nil, nil", got, err)
	}

	ok, err = repo.UpdateStatus(ctx, uuid.New().String(), model.StatusOpen, model.StatusInProgress)
	if err != nil || ok {
		t.Errorf("UpdateStatus(未登録) = %v, %v, want false, nil", ok, err)
	}
}
