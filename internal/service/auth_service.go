package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"suvidha-auth-service/internal/audit"
	"suvidha-auth-service/internal/config"
	"suvidha-auth-service/internal/models"
	redisrepo "suvidha-auth-service/internal/repository/redis"
	"suvidha-auth-service/internal/token"
	"suvidha-auth-service/internal/util"
)

var (
	// ErrInvalidPhone rejects numbers that are not ten digits starting 6-9.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrInvalidOTP rejects malformed codes before any store access.
	ErrInvalidOTP = errors.New("invalid otp format")
	// ErrLockedOut rejects phones that exhausted their failure budget.
	ErrLockedOut = errors.New("too many failed attempts, try again later")
	// ErrAuthentication covers wrong codes, dead sessions, and bad tokens.
	ErrAuthentication = errors.New("authentication failed")
)

var phonePattern = regexp.MustCompile(`^[6-9][0-9]{9}$`)

// UserRegistry resolves phone numbers to durable user identities. It is
// optional: without one the service falls back to deterministic mock
// identifiers so the flow works before the registry is provisioned.
type UserRegistry interface {
	GetOrCreateByPhone(ctx context.Context, phone string) (*models.User, bool, error)
	GetByID(ctx context.Context, userID string) (*models.User, error)
}

// AuthService implements the OTP login and session lifecycle.
type AuthService struct {
	otps     *redisrepo.OTPStore
	sessions *redisrepo.SessionStore
	codec    *token.Codec
	users    UserRegistry
	recorder *audit.Recorder
	cfg      *config.Config

	now func() time.Time
}

func NewAuthService(cfg *config.Config, otps *redisrepo.OTPStore, sessions *redisrepo.SessionStore, codec *token.Codec, users UserRegistry, recorder *audit.Recorder) *AuthService {
	return &AuthService{
		otps:     otps,
		sessions: sessions,
		codec:    codec,
		users:    users,
		recorder: recorder,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SendOTP issues a fresh code for the phone, replacing any live one. Outside
// production the code is echoed in the response so local clients can complete
// the flow without an SMS gateway.
func (s *AuthService) SendOTP(ctx context.Context, phone, remoteIP string) (*models.SendOTPResponse, error) {
	if !phonePattern.MatchString(phone) {
		return nil, ErrInvalidPhone
	}

	locked, err := s.otps.IsLocked(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("check lockout: %w", err)
	}
	if locked {
		return nil, ErrLockedOut
	}

	code, err := token.GenerateCode(s.cfg.OTP.Length)
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}

	if err := s.otps.Put(ctx, phone, code); err != nil {
		return nil, err
	}

	util.Info("one-time code issued",
		util.String("phone", audit.MaskPhone(phone)),
		util.Duration("ttl", s.cfg.OTP.TTL))

	s.recorder.Record(audit.Event{
		Type:     audit.EventOTPIssued,
		Phone:    phone,
		RemoteIP: remoteIP,
	})

	resp := &models.SendOTPResponse{
		Success:   true,
		Message:   "OTP sent successfully",
		ExpiresIn: int64(s.cfg.OTP.TTL / time.Second),
	}
	if !s.cfg.IsProduction() {
		resp.DevOTP = code
	}

	return resp, nil
}

// VerifyOTP checks the submitted code and, on success, establishes a new
// session and returns a token pair. The check-and-consume is atomic in the
// store, so a correct code can be redeemed at most once.
func (s *AuthService) VerifyOTP(ctx context.Context, phone, otp, remoteIP string) (*models.AuthResponse, error) {
	if !phonePattern.MatchString(phone) {
		return nil, ErrInvalidPhone
	}
	if !validCodeFormat(otp, s.cfg.OTP.Length) {
		return nil, ErrInvalidOTP
	}

	locked, err := s.otps.IsLocked(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("check lockout: %w", err)
	}
	if locked {
		return nil, ErrLockedOut
	}

	result, attempts, err := s.otps.VerifyAndConsume(ctx, phone, otp)
	if err != nil {
		return nil, err
	}

	switch result {
	case redisrepo.VerifyMismatch:
		s.recorder.Record(audit.Event{
			Type:     audit.EventOTPRejected,
			Phone:    phone,
			RemoteIP: remoteIP,
			Detail:   "code mismatch, attempt " + strconv.FormatInt(attempts, 10),
		})
		if attempts >= int64(s.otps.MaxAttempts()) {
			s.recorder.Record(audit.Event{
				Type:     audit.EventLockout,
				Phone:    phone,
				RemoteIP: remoteIP,
			})
		}
		return nil, fmt.Errorf("%w: incorrect code", ErrAuthentication)
	case redisrepo.VerifyAbsent:
		return nil, fmt.Errorf("%w: no active code for phone", ErrAuthentication)
	}

	user, isNew, err := s.resolveUser(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	pair, err := s.codec.SignPair(user.ID, phone, user.Email)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}

	record := models.SessionRecord{
		RefreshTokenHash: pair.RefreshTokenHash,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.sessions.Put(ctx, user.ID, pair.SessionID, record); err != nil {
		return nil, err
	}

	util.Info("login succeeded",
		util.String("user_id", user.ID),
		util.String("session_id", pair.SessionID),
		util.Bool("is_new_user", isNew))

	s.recorder.Record(audit.Event{
		Type:      audit.EventOTPVerified,
		UserID:    user.ID,
		Phone:     phone,
		SessionID: pair.SessionID,
		RemoteIP:  remoteIP,
	})

	return &models.AuthResponse{
		Success: true,
		Message: "OTP verified successfully",
		User: models.UserInfo{
			ID:        user.ID,
			Phone:     phone,
			Name:      user.Name,
			Email:     user.Email,
			IsNewUser: isNew,
		},
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

// Refresh rotates a session: the presented refresh token must verify, its
// session record must still be live, and the stored hash must match the
// presented token exactly. The old record and the new one swap atomically, so
// a token that was just rotated cannot be replayed.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, remoteIP string) (*models.AuthResponse, error) {
	claims, err := s.codec.Parse(refreshToken, token.KindRefresh)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	presentedHash := token.HashToken(refreshToken)
	sessionID := token.SessionIDFromHash(presentedHash)

	record, err := s.sessions.Get(ctx, claims.UserID, sessionID)
	if err != nil {
		if errors.Is(err, redisrepo.ErrSessionNotFound) {
			return nil, fmt.Errorf("%w: session expired or revoked", ErrAuthentication)
		}
		return nil, err
	}

	if record.RefreshTokenHash != presentedHash {
		return nil, fmt.Errorf("%w: refresh token does not match session", ErrAuthentication)
	}

	pair, err := s.codec.SignPair(claims.UserID, claims.Phone, claims.Email)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}

	newRecord := models.SessionRecord{
		RefreshTokenHash: pair.RefreshTokenHash,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.sessions.Replace(ctx, claims.UserID, sessionID, pair.SessionID, newRecord); err != nil {
		return nil, err
	}

	s.recorder.Record(audit.Event{
		Type:      audit.EventSessionRefresh,
		UserID:    claims.UserID,
		Phone:     claims.Phone,
		SessionID: pair.SessionID,
		RemoteIP:  remoteIP,
	})

	return &models.AuthResponse{
		Success: true,
		Message: "Token refreshed successfully",
		User: models.UserInfo{
			ID:    claims.UserID,
			Phone: claims.Phone,
			Email: claims.Email,
		},
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

// CurrentUser returns the profile of the caller identified by a valid access
// token. The token claims are authoritative for identity; when a registry is
// wired the profile is enriched with the stored name, email, and creation
// time, but a registry outage never turns a valid token into a 401.
func (s *AuthService) CurrentUser(ctx context.Context, accessToken string) (*models.UserProfile, error) {
	claims, err := s.codec.Parse(accessToken, token.KindAccess)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	profile := &models.UserProfile{
		ID:    claims.UserID,
		Phone: claims.Phone,
		Email: claims.Email,
	}

	if s.users != nil {
		user, err := s.users.GetByID(ctx, claims.UserID)
		if err != nil {
			util.Warn("profile lookup failed, serving token claims",
				util.String("user_id", claims.UserID),
				util.ErrorField(err))
			return profile, nil
		}
		profile.Name = user.Name
		if user.Email != "" {
			profile.Email = user.Email
		}
		if user.Phone != "" {
			profile.Phone = user.Phone
		}
		if !user.CreatedAt.IsZero() {
			createdAt := user.CreatedAt
			profile.CreatedAt = &createdAt
		}
	}

	return profile, nil
}

// Logout revokes the session named by the access token's session claim. It is
// best-effort and idempotent: a bad token or an already dead session is not
// an error, matching the contract that logout always succeeds from the
// client's point of view.
func (s *AuthService) Logout(ctx context.Context, accessToken, remoteIP string) {
	claims, err := s.codec.Parse(accessToken, token.KindAccess)
	if err != nil {
		util.Debug("logout with unusable access token", util.ErrorField(err))
		return
	}
	if claims.SessionID == "" {
		return
	}

	if err := s.sessions.Delete(ctx, claims.UserID, claims.SessionID); err != nil {
		util.Warn("session revocation failed",
			util.String("user_id", claims.UserID),
			util.String("session_id", claims.SessionID),
			util.ErrorField(err))
		return
	}

	s.recorder.Record(audit.Event{
		Type:      audit.EventLogout,
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
		RemoteIP:  remoteIP,
	})
}

// RevokeAllSessions removes every live session of the caller, identified by a
// valid access token. Unlike Logout this is strict: a bad token is an error,
// since mass revocation should not silently no-op.
func (s *AuthService) RevokeAllSessions(ctx context.Context, accessToken, remoteIP string) (int, error) {
	claims, err := s.codec.Parse(accessToken, token.KindAccess)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	count, err := s.sessions.DeleteAll(ctx, claims.UserID)
	if err != nil {
		return 0, err
	}

	s.recorder.Record(audit.Event{
		Type:     audit.EventSessionsRevoked,
		UserID:   claims.UserID,
		RemoteIP: remoteIP,
		Detail:   strconv.Itoa(count) + " sessions",
	})

	return count, nil
}

func (s *AuthService) resolveUser(ctx context.Context, phone string) (*models.User, bool, error) {
	if s.users != nil {
		return s.users.GetOrCreateByPhone(ctx, phone)
	}

	// No registry wired: derive a stable-enough placeholder identity.
	id := "user_" + phone[len(phone)-4:] + "_" + strconv.FormatInt(s.now().Unix(), 36)
	return &models.User{ID: id, Phone: phone}, true, nil
}

func validCodeFormat(otp string, length int) bool {
	if len(otp) != length {
		return false
	}
	for _, r := range otp {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
