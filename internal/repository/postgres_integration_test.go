package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/authcare/internal/database"
	"github.com/hitoshi/authcare/internal/model"
)

// openTestDB はTEST_DATABASE_URLのPostgreSQLにマイグレーションを適用して返す。
// 未設定の場合はスキップする。
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}
	if err := database.RunMigrations(url); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	db, err := database.Open(url)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPostgres_RefreshTokenRotationLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	users := NewPostgresUserRepo(db)
	sessions := NewPostgresSessionRepo(db)
	tokens := NewPostgresRefreshTokenRepo(db)
	identities := NewPostgresIdentityRepo(db)

	now := time.Now().UTC().Truncate(time.Microsecond)
	email := uuid.NewString() + "@example.com"
	user := &model.User{ID: uuid.NewString(), Email: email, PasswordHash: "hash", CreatedAt: now, UpdatedAt: now}
	identity := &model.Identity{ID: user.ID, UserID: user.ID, Email: email, Provider: model.ProviderEmail, CreatedAt: now, UpdatedAt: now}
	if err := users.CreateWithIdentity(ctx, user, identity); err != nil {
		t.Fatalf("CreateWithIdentity: %v", err)
	}
	t.Cleanup(func() { _ = users.DeleteByID(context.Background(), user.ID) })

	if err := users.Create(ctx, &model.User{ID: uuid.NewString(), Email: email, CreatedAt: now, UpdatedAt: now}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate email err = %v, want ErrDuplicate", err)
	}

	if err := users.Create(ctx, &model.User{ID: uuid.NewString(), Email: strings.ToUpper(email), CreatedAt: now, UpdatedAt: now}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("case-variant email err = %v, want ErrDuplicate", err)
	}

	found, err := users.FindByEmail(ctx, strings.ToUpper(email))
	if err != nil || found == nil || found.ID != user.ID {
		t.Fatalf("FindByEmail = (%v, %v)", found, err)
	}

	byEmail, err := identities.FindAllByEmail(ctx, []string{strings.ToUpper(email)})
	if err != nil || len(byEmail) != 1 {
		t.Fatalf("FindAllByEmail = (%v, %v)", byEmail, err)
	}

	session := &model.Session{ID: uuid.NewString(), UserID: user.ID, CreatedAt: now, UpdatedAt: now}
	if err := sessions.Create(ctx, session); err != nil {
		t.Fatalf("Create session: %v", err)
	}

	rt := &model.RefreshToken{Token: uuid.NewString(), UserID: user.ID, SessionID: session.ID, CreatedAt: now, UpdatedAt: now}
	if err := tokens.Create(ctx, rt); err != nil {
		t.Fatalf("Create token: %v", err)
	}

	orphan := &model.RefreshToken{Token: uuid.NewString(), UserID: user.ID, SessionID: uuid.NewString(), CreatedAt: now, UpdatedAt: now}
	revoked := *rt
	revoked.Revoke(now)
	if err := tokens.Rotate(ctx, &revoked, orphan); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Rotate into missing session err = %v, want ErrNotFound", err)
	}
	still, err := tokens.FindByToken(ctx, rt.Token)
	if err != nil || still == nil || still.Revoked {
		t.Fatalf("failed Rotate must roll back the revoke, got (%v, %v)", still, err)
	}

	next := &model.RefreshToken{Token: uuid.NewString(), UserID: user.ID, SessionID: session.ID, CreatedAt: now, UpdatedAt: now}
	if err := tokens.Rotate(ctx, &revoked, next); err != nil {
		t.Fatalf("first Rotate: %v", err)
	}
	if next.ID == 0 {
		t.Error("Rotate should assign next.ID")
	}
	again := &model.RefreshToken{Token: uuid.NewString(), UserID: user.ID, SessionID: session.ID, CreatedAt: now, UpdatedAt: now}
	if err := tokens.Rotate(ctx, &revoked, again); !errors.Is(err, ErrStaleRefreshToken) {
		t.Errorf("second Rotate err = %v, want ErrStaleRefreshToken", err)
	}

	if err := sessions.DeleteByID(ctx, session.ID); err != nil {
		t.Fatalf("DeleteByID session: %v", err)
	}
	gone, err := tokens.FindByToken(ctx, rt.Token)
	if err != nil || gone != nil {
		t.Errorf("token should cascade with session, got (%v, %v)", gone, err)
	}
}
