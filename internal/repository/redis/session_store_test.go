package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"suvidha-auth-service/internal/client"
	"suvidha-auth-service/internal/models"
)

func newTestSessionStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rc := client.NewRedisClientFromAddr(mr.Addr())
	t.Cleanup(func() { _ = rc.Close() })

	return NewSessionStore(rc, 7*24*time.Hour), mr
}

func testRecord(hash string) models.SessionRecord {
	return models.SessionRecord{
		RefreshTokenHash: hash,
		CreatedAt:        time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestSessionPutGetRoundTrip(t *testing.T) {
	store, mr := newTestSessionStore(t)
	ctx := context.Background()

	rec := testRecord("abc123hash")
	if err := store.Put(ctx, "user_1", "sid_one", rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, "user_1", "sid_one")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RefreshTokenHash != rec.RefreshTokenHash {
		t.Fatalf("hash = %q, want %q", got.RefreshTokenHash, rec.RefreshTokenHash)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("createdAt = %v, want %v", got.CreatedAt, rec.CreatedAt)
	}

	if ttl := mr.TTL("session:user_1:sid_one"); ttl != 7*24*time.Hour {
		t.Fatalf("record TTL = %v, want 168h", ttl)
	}
}

func TestSessionGetMissReturnsNotFound(t *testing.T) {
	store, _ := newTestSessionStore(t)

	if _, err := store.Get(context.Background(), "user_1", "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("got %v, want ErrSessionNotFound", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	store, mr := newTestSessionStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "user_1", "sid_one", testRecord("h")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	mr.FastForward(7*24*time.Hour + time.Second)

	if _, err := store.Get(ctx, "user_1", "sid_one"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("got %v, want ErrSessionNotFound after expiry", err)
	}
}

func TestSessionDeleteIsIdempotent(t *testing.T) {
	store, _ := newTestSessionStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "user_1", "sid_one", testRecord("h")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Delete(ctx, "user_1", "sid_one"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "user_1", "sid_one"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}

	if _, err := store.Get(ctx, "user_1", "sid_one"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("got %v, want ErrSessionNotFound", err)
	}
}

func TestSessionReplaceRetiresOldRecord(t *testing.T) {
	store, _ := newTestSessionStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "user_1", "sid_old", testRecord("old_hash")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := store.Replace(ctx, "user_1", "sid_old", "sid_new", testRecord("new_hash")); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	if _, err := store.Get(ctx, "user_1", "sid_old"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("old record: got %v, want ErrSessionNotFound", err)
	}

	got, err := store.Get(ctx, "user_1", "sid_new")
	if err != nil {
		t.Fatalf("Get new record: %v", err)
	}
	if got.RefreshTokenHash != "new_hash" {
		t.Fatalf("new hash = %q, want %q", got.RefreshTokenHash, "new_hash")
	}
}

func TestDeleteAllRemovesOnlyThatUser(t *testing.T) {
	store, _ := newTestSessionStore(t)
	ctx := context.Background()

	for _, sid := range []string{"a", "b", "c"} {
		if err := store.Put(ctx, "user_1", sid, testRecord("h")); err != nil {
			t.Fatalf("Put user_1/%s: %v", sid, err)
		}
	}
	if err := store.Put(ctx, "user_2", "x", testRecord("h")); err != nil {
		t.Fatalf("Put user_2: %v", err)
	}

	n, err := store.DeleteAll(ctx, "user_1")
	if err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if n != 3 {
		t.Fatalf("deleted %d records, want 3", n)
	}

	if _, err := store.Get(ctx, "user_2", "x"); err != nil {
		t.Fatalf("user_2 session should survive: %v", err)
	}

	n, err = store.DeleteAll(ctx, "user_1")
	if err != nil {
		t.Fatalf("DeleteAll again: %v", err)
	}
	if n != 0 {
		t.Fatalf("second DeleteAll removed %d records, want 0", n)
	}
}
