package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"suvidha-auth-service/internal/client"
	"suvidha-auth-service/internal/util"
)

const (
	otpPrefix        = "otp:"
	otpAttemptPrefix = "otp_attempts:"
)

// VerifyResult reports the outcome of a single verification attempt.
type VerifyResult int

const (
	// VerifyOK means the code matched; both the code and the attempt counter
	// were deleted in the same step.
	VerifyOK VerifyResult = iota
	// VerifyMismatch means a live code exists but the submitted one differs.
	VerifyMismatch
	// VerifyAbsent means no code is live for the phone (never issued,
	// expired, or already consumed).
	VerifyAbsent
)

// verifyScript compares the submitted code against the stored one and
// consumes it on match, or bumps the attempt counter on mismatch. Running it
// server-side keeps check-and-delete atomic: two concurrent verifications of
// the same code cannot both succeed. The attempt counter's TTL is set only
// when the counter is created, so the lockout window is never extended by
// further failures.
const verifyScript = `
local code = redis.call("GET", KEYS[1])
if not code then
  return {-1, 0}
end
if code == ARGV[1] then
  redis.call("DEL", KEYS[1])
  redis.call("DEL", KEYS[2])
  return {1, 0}
end
local n = redis.call("INCR", KEYS[2])
if n == 1 then
  redis.call("EXPIRE", KEYS[2], tonumber(ARGV[2]))
end
return {0, n}
`

// OTPStore keeps live one-time codes and per-phone failure counters.
type OTPStore struct {
	client      *client.RedisClient
	codeTTL     time.Duration
	maxAttempts int
	lockoutTTL  time.Duration
}

func NewOTPStore(c *client.RedisClient, codeTTL time.Duration, maxAttempts int, lockoutTTL time.Duration) *OTPStore {
	return &OTPStore{
		client:      c,
		codeTTL:     codeTTL,
		maxAttempts: maxAttempts,
		lockoutTTL:  lockoutTTL,
	}
}

// Put stores a freshly issued code, replacing any live one and restarting the
// expiry window.
func (s *OTPStore) Put(ctx context.Context, phone, code string) error {
	key := otpPrefix + phone
	if err := s.client.Set(ctx, key, code, s.codeTTL); err != nil {
		util.Error("failed to store one-time code",
			util.String("phone", phone),
			util.ErrorField(err))
		return fmt.Errorf("store one-time code: %w", err)
	}

	util.Debug("one-time code stored",
		util.String("phone", phone),
		util.Duration("ttl", s.codeTTL))
	return nil
}

// VerifyAndConsume checks the submitted code in a single atomic step. On
// mismatch the returned count is the updated failure total for the phone.
func (s *OTPStore) VerifyAndConsume(ctx context.Context, phone, code string) (VerifyResult, int64, error) {
	keys := []string{otpPrefix + phone, otpAttemptPrefix + phone}
	lockoutSeconds := int64(s.lockoutTTL / time.Second)

	raw, err := s.client.Eval(ctx, verifyScript, keys, code, lockoutSeconds)
	if err != nil {
		util.Error("one-time code verification script failed",
			util.String("phone", phone),
			util.ErrorField(err))
		return VerifyAbsent, 0, fmt.Errorf("verify one-time code: %w", err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 2 {
		return VerifyAbsent, 0, fmt.Errorf("unexpected script reply %T", raw)
	}

	status, _ := reply[0].(int64)
	attempts, _ := reply[1].(int64)

	switch status {
	case 1:
		return VerifyOK, 0, nil
	case 0:
		return VerifyMismatch, attempts, nil
	default:
		return VerifyAbsent, 0, nil
	}
}

// IsLocked reports whether the phone has exhausted its failure budget. A
// store error is returned as an error, never as "not locked".
func (s *OTPStore) IsLocked(ctx context.Context, phone string) (bool, error) {
	count, err := s.AttemptCount(ctx, phone)
	if err != nil {
		return false, err
	}
	return count >= int64(s.maxAttempts), nil
}

// AttemptCount returns the current failure total, zero when the counter has
// expired or was never created.
func (s *OTPStore) AttemptCount(ctx context.Context, phone string) (int64, error) {
	key := otpAttemptPrefix + phone

	raw, err := s.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("read attempt counter: %w", err)
	}

	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		util.Error("invalid attempt counter value",
			util.String("phone", phone),
			util.String("value", raw),
			util.ErrorField(err))
		return 0, fmt.Errorf("invalid attempt counter value: %w", err)
	}

	return count, nil
}

// CodeTTL returns the remaining lifetime of the live code for a phone.
func (s *OTPStore) CodeTTL(ctx context.Context, phone string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, otpPrefix+phone)
	if err != nil {
		return 0, fmt.Errorf("read code TTL: %w", err)
	}
	return ttl, nil
}

// MaxAttempts exposes the configured failure budget.
func (s *OTPStore) MaxAttempts() int {
	return s.maxAttempts
}
