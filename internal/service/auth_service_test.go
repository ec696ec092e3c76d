package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"suvidha-auth-service/internal/client"
	"suvidha-auth-service/internal/config"
	redisrepo "suvidha-auth-service/internal/repository/redis"
	"suvidha-auth-service/internal/token"
)

const testPhone = "9876543210"

func newTestService(t *testing.T) (*AuthService, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rc := client.NewRedisClientFromAddr(mr.Addr())
	t.Cleanup(func() { _ = rc.Close() })

	cfg := &config.Config{
		Environment: "development",
		OTP: config.OTPConfig{
			Length:      6,
			TTL:         5 * time.Minute,
			MaxAttempts: 5,
			LockoutTTL:  15 * time.Minute,
		},
		JWT: config.JWTConfig{
			Secret:     "test_secret_at_least_32_characters!!",
			AccessTTL:  24 * time.Hour,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "suvidha-auth",
		},
		Session: config.SessionConfig{TTL: 7 * 24 * time.Hour},
	}

	otps := redisrepo.NewOTPStore(rc, cfg.OTP.TTL, cfg.OTP.MaxAttempts, cfg.OTP.LockoutTTL)
	sessions := redisrepo.NewSessionStore(rc, cfg.Session.TTL)
	codec := token.NewCodec(cfg.JWT.Secret, cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL, cfg.JWT.Issuer)

	return NewAuthService(cfg, otps, sessions, codec, nil, nil), mr
}

func login(t *testing.T, svc *AuthService) (string, string) {
	t.Helper()
	ctx := context.Background()

	sent, err := svc.SendOTP(ctx, testPhone, "127.0.0.1")
	if err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	if sent.DevOTP == "" {
		t.Fatal("expected dev echo of the code outside production")
	}

	auth, err := svc.VerifyOTP(ctx, testPhone, sent.DevOTP, "127.0.0.1")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	return auth.AccessToken, auth.RefreshToken
}

func TestSendOTPRejectsInvalidPhone(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, phone := range []string{"", "12345", "1234567890", "98765432101", "98765abc10"} {
		if _, err := svc.SendOTP(ctx, phone, ""); !errors.Is(err, ErrInvalidPhone) {
			t.Fatalf("phone %q: got %v, want ErrInvalidPhone", phone, err)
		}
	}
}

func TestVerifyOTPRejectsMalformedCode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, otp := range []string{"", "12345", "1234567", "12345a"} {
		if _, err := svc.VerifyOTP(ctx, testPhone, otp, ""); !errors.Is(err, ErrInvalidOTP) {
			t.Fatalf("otp %q: got %v, want ErrInvalidOTP", otp, err)
		}
	}
}

func TestFullLoginFlow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sent, err := svc.SendOTP(ctx, testPhone, "127.0.0.1")
	if err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	if !sent.Success || sent.ExpiresIn != 300 {
		t.Fatalf("unexpected send response: %+v", sent)
	}

	auth, err := svc.VerifyOTP(ctx, testPhone, sent.DevOTP, "127.0.0.1")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if auth.AccessToken == "" || auth.RefreshToken == "" {
		t.Fatal("expected a token pair")
	}
	if !auth.User.IsNewUser {
		t.Fatal("mock registry should mark users new")
	}
	if auth.User.Phone != testPhone {
		t.Fatalf("user phone = %q", auth.User.Phone)
	}

	// The code is consumed: replaying it fails.
	if _, err := svc.VerifyOTP(ctx, testPhone, sent.DevOTP, ""); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("replay: got %v, want ErrAuthentication", err)
	}
}

func TestVerifyWithoutLiveCode(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.VerifyOTP(context.Background(), testPhone, "123456", ""); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("got %v, want ErrAuthentication", err)
	}
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SendOTP(ctx, testPhone, ""); err != nil {
		t.Fatalf("SendOTP: %v", err)
	}

	// Five wrong codes exhaust the budget; each is rejected as a plain
	// authentication failure.
	for i := 0; i < 5; i++ {
		if _, err := svc.VerifyOTP(ctx, testPhone, "000000", ""); !errors.Is(err, ErrAuthentication) {
			t.Fatalf("attempt %d: got %v, want ErrAuthentication", i+1, err)
		}
	}

	// The next interaction with the phone reports the lockout.
	if _, err := svc.VerifyOTP(ctx, testPhone, "000000", ""); !errors.Is(err, ErrLockedOut) {
		t.Fatalf("verify while locked: got %v, want ErrLockedOut", err)
	}
	if _, err := svc.SendOTP(ctx, testPhone, ""); !errors.Is(err, ErrLockedOut) {
		t.Fatalf("send while locked: got %v, want ErrLockedOut", err)
	}

	// The lockout lapses with the counter TTL.
	mr.FastForward(15*time.Minute + time.Second)
	if _, err := svc.SendOTP(ctx, testPhone, ""); err != nil {
		t.Fatalf("send after lockout lapses: %v", err)
	}
}

func TestStoreOutageIsNotTreatedAsUnlocked(t *testing.T) {
	svc, mr := newTestService(t)
	mr.Close()

	_, err := svc.SendOTP(context.Background(), testPhone, "")
	if err == nil {
		t.Fatal("expected an error with the store down")
	}
	if errors.Is(err, ErrLockedOut) || errors.Is(err, ErrAuthentication) {
		t.Fatalf("store outage must not map to an auth outcome, got %v", err)
	}
}

func TestRefreshRotatesSession(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, refresh := login(t, svc)

	rotated, err := svc.Refresh(ctx, refresh, "")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.RefreshToken == refresh {
		t.Fatal("rotation must issue a new refresh token")
	}

	// The old refresh token is dead after rotation.
	if _, err := svc.Refresh(ctx, refresh, ""); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("old token after rotation: got %v, want ErrAuthentication", err)
	}

	// The new one keeps working.
	if _, err := svc.Refresh(ctx, rotated.RefreshToken, ""); err != nil {
		t.Fatalf("new token: %v", err)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	svc, _ := newTestService(t)

	access, _ := login(t, svc)

	if _, err := svc.Refresh(context.Background(), access, ""); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("got %v, want ErrAuthentication", err)
	}
}

func TestRefreshRejectsGarbage(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Refresh(context.Background(), "not-a-token", ""); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("got %v, want ErrAuthentication", err)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	access, refresh := login(t, svc)

	svc.Logout(ctx, access, "")

	// The refresh token's session is gone.
	if _, err := svc.Refresh(ctx, refresh, ""); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("refresh after logout: got %v, want ErrAuthentication", err)
	}

	// Logout tolerates repeats and garbage.
	svc.Logout(ctx, access, "")
	svc.Logout(ctx, "not-a-token", "")
}

func TestRevokeAllSessions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	access, refresh := login(t, svc)

	count, err := svc.RevokeAllSessions(ctx, access, "")
	if err != nil {
		t.Fatalf("RevokeAllSessions: %v", err)
	}
	if count != 1 {
		t.Fatalf("revoked %d sessions, want 1", count)
	}

	if _, err := svc.Refresh(ctx, refresh, ""); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("refresh after revocation: got %v, want ErrAuthentication", err)
	}

	if _, err := svc.RevokeAllSessions(ctx, "garbage", ""); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("garbage token: got %v, want ErrAuthentication", err)
	}
}

func TestCurrentUserFromAccessToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sent, err := svc.SendOTP(ctx, testPhone, "")
	if err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	auth, err := svc.VerifyOTP(ctx, testPhone, sent.DevOTP, "")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}

	profile, err := svc.CurrentUser(ctx, auth.AccessToken)
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if profile.ID != auth.User.ID || profile.Phone != testPhone {
		t.Fatalf("profile = %+v, want id %q phone %q", profile, auth.User.ID, testPhone)
	}

	// Identity survives a rotation.
	rotated, err := svc.Refresh(ctx, auth.RefreshToken, "")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	profile2, err := svc.CurrentUser(ctx, rotated.AccessToken)
	if err != nil {
		t.Fatalf("CurrentUser after refresh: %v", err)
	}
	if profile2.ID != profile.ID || profile2.Phone != profile.Phone {
		t.Fatalf("profile after refresh = %+v, want same identity as %+v", profile2, profile)
	}
}

func TestCurrentUserRejectsBadTokens(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, refresh := login(t, svc)

	if _, err := svc.CurrentUser(ctx, refresh); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("refresh token accepted as access token: %v", err)
	}
	if _, err := svc.CurrentUser(ctx, "not-a-token"); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("garbage token: got %v, want ErrAuthentication", err)
	}
}
