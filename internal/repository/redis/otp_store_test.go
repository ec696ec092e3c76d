package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"suvidha-auth-service/internal/client"
)

func newTestOTPStore(t *testing.T) (*OTPStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rc := client.NewRedisClientFromAddr(mr.Addr())
	t.Cleanup(func() { _ = rc.Close() })

	return NewOTPStore(rc, 5*time.Minute, 5, 15*time.Minute), mr
}

func TestVerifyConsumesCodeOnMatch(t *testing.T) {
	store, mr := newTestOTPStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "9876543210", "123456"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	result, _, err := store.VerifyAndConsume(ctx, "9876543210", "123456")
	if err != nil {
		t.Fatalf("VerifyAndConsume: %v", err)
	}
	if result != VerifyOK {
		t.Fatalf("result = %v, want VerifyOK", result)
	}

	if mr.Exists("otp:9876543210") {
		t.Fatal("code key should be deleted after a successful verify")
	}

	// Replay of the same code finds nothing.
	result, _, err = store.VerifyAndConsume(ctx, "9876543210", "123456")
	if err != nil {
		t.Fatalf("VerifyAndConsume replay: %v", err)
	}
	if result != VerifyAbsent {
		t.Fatalf("replay result = %v, want VerifyAbsent", result)
	}
}

func TestVerifyMismatchCountsAttempts(t *testing.T) {
	store, mr := newTestOTPStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "9876543210", "123456"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	for i := 1; i <= 3; i++ {
		result, attempts, err := store.VerifyAndConsume(ctx, "9876543210", "000000")
		if err != nil {
			t.Fatalf("VerifyAndConsume #%d: %v", i, err)
		}
		if result != VerifyMismatch {
			t.Fatalf("result #%d = %v, want VerifyMismatch", i, result)
		}
		if attempts != int64(i) {
			t.Fatalf("attempts #%d = %d, want %d", i, attempts, i)
		}
	}

	// The code itself survives mismatches.
	if !mr.Exists("otp:9876543210") {
		t.Fatal("code key should survive failed attempts")
	}

	// Counter expiry was set on the first failure only.
	if ttl := mr.TTL("otp_attempts:9876543210"); ttl != 15*time.Minute {
		t.Fatalf("attempt counter TTL = %v, want 15m", ttl)
	}
}

func TestSuccessfulVerifyClearsAttemptCounter(t *testing.T) {
	store, mr := newTestOTPStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "9876543210", "123456"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, _, err := store.VerifyAndConsume(ctx, "9876543210", "999999"); err != nil {
		t.Fatalf("mismatch attempt: %v", err)
	}

	result, _, err := store.VerifyAndConsume(ctx, "9876543210", "123456")
	if err != nil {
		t.Fatalf("VerifyAndConsume: %v", err)
	}
	if result != VerifyOK {
		t.Fatalf("result = %v, want VerifyOK", result)
	}

	if mr.Exists("otp_attempts:9876543210") {
		t.Fatal("attempt counter should be cleared on success")
	}
}

func TestVerifyAbsentDoesNotCreateCounter(t *testing.T) {
	store, mr := newTestOTPStore(t)
	ctx := context.Background()

	result, _, err := store.VerifyAndConsume(ctx, "9876543210", "123456")
	if err != nil {
		t.Fatalf("VerifyAndConsume: %v", err)
	}
	if result != VerifyAbsent {
		t.Fatalf("result = %v, want VerifyAbsent", result)
	}
	if mr.Exists("otp_attempts:9876543210") {
		t.Fatal("verifying against no live code should not count an attempt")
	}
}

func TestCodeExpires(t *testing.T) {
	store, mr := newTestOTPStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "9876543210", "123456"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	mr.FastForward(5*time.Minute + time.Second)

	result, _, err := store.VerifyAndConsume(ctx, "9876543210", "123456")
	if err != nil {
		t.Fatalf("VerifyAndConsume: %v", err)
	}
	if result != VerifyAbsent {
		t.Fatalf("result after expiry = %v, want VerifyAbsent", result)
	}
}

func TestLockoutAfterMaxFailures(t *testing.T) {
	store, mr := newTestOTPStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "9876543210", "123456"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, _, err := store.VerifyAndConsume(ctx, "9876543210", "000000"); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	locked, err := store.IsLocked(ctx, "9876543210")
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if !locked {
		t.Fatal("phone should be locked after 5 failures")
	}

	// The lockout lapses with the counter.
	mr.FastForward(15*time.Minute + time.Second)

	locked, err = store.IsLocked(ctx, "9876543210")
	if err != nil {
		t.Fatalf("IsLocked after expiry: %v", err)
	}
	if locked {
		t.Fatal("lockout should lapse when the counter expires")
	}
}

func TestIsLockedPropagatesStoreErrors(t *testing.T) {
	store, mr := newTestOTPStore(t)
	ctx := context.Background()

	mr.Close()

	if _, err := store.IsLocked(ctx, "9876543210"); err == nil {
		t.Fatal("expected an error when the store is unreachable")
	}
}

func TestReissueReplacesLiveCode(t *testing.T) {
	store, _ := newTestOTPStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "9876543210", "111111"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, "9876543210", "222222"); err != nil {
		t.Fatalf("Put reissue: %v", err)
	}

	result, _, err := store.VerifyAndConsume(ctx, "9876543210", "111111")
	if err != nil {
		t.Fatalf("VerifyAndConsume old code: %v", err)
	}
	if result != VerifyMismatch {
		t.Fatalf("old code result = %v, want VerifyMismatch", result)
	}

	result, _, err = store.VerifyAndConsume(ctx, "9876543210", "222222")
	if err != nil {
		t.Fatalf("VerifyAndConsume new code: %v", err)
	}
	if result != VerifyOK {
		t.Fatalf("new code result = %v, want VerifyOK", result)
	}
}
