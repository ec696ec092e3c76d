package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind distinguishes the two token flavors carried in the "type" claim.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// SessionIDLength is the number of leading hex characters of a refresh token
// hash used as the session identifier.
const SessionIDLength = 16

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
	ErrWrongKind    = errors.New("token kind mismatch")
)

// Claims is the JWT payload for both access and refresh tokens. Access tokens
// additionally carry the session identifier of the refresh session they were
// minted alongside, so logout can revoke the right session record.
type Claims struct {
	UserID    string `json:"id"`
	Phone     string `json:"phone"`
	Email     string `json:"email,omitempty"`
	Kind      Kind   `json:"type"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Pair is the result of minting a new access/refresh token pair. The hash and
// session identifier are server-side bookkeeping and never serialized to
// clients.
type Pair struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	ExpiresIn        int64  `json:"expiresIn"`
	RefreshTokenHash string `json:"-"`
	SessionID        string `json:"-"`
}

// Codec signs and verifies HS256 tokens with a single shared secret.
type Codec struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string

	// now is swappable for tests.
	now func() time.Time
}

func NewCodec(secret string, accessTTL, refreshTTL time.Duration, issuer string) *Codec {
	return &Codec{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		issuer:     issuer,
		now:        time.Now,
	}
}

// SignPair mints a refresh token first, derives the session identifier from
// its hash, then mints an access token carrying that identifier. ExpiresIn is
// the remaining lifetime of the access token in whole seconds.
func (c *Codec) SignPair(userID, phone, email string) (*Pair, error) {
	now := c.now()

	refresh, err := c.sign(userID, phone, email, KindRefresh, "", now, c.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	hash := HashToken(refresh)
	sid := SessionIDFromHash(hash)

	access, err := c.sign(userID, phone, email, KindAccess, sid, now, c.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	claims, err := c.Parse(access, KindAccess)
	if err != nil {
		return nil, fmt.Errorf("read back access token: %w", err)
	}

	return &Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresIn:        claims.ExpiresAt.Unix() - now.Unix(),
		RefreshTokenHash: hash,
		SessionID:        sid,
	}, nil
}

func (c *Codec) sign(userID, phone, email string, kind Kind, sid string, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID:    userID,
		Phone:     phone,
		Email:     email,
		Kind:      kind,
		SessionID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Parse verifies the signature and expiry, then checks the token carries the
// expected kind. An access token presented where a refresh token is required
// (or vice versa) fails with ErrWrongKind.
func (c *Codec) Parse(tokenString string, kind Kind) (*Claims, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			return c.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if claims.Kind != kind {
		return nil, ErrWrongKind
	}

	return claims, nil
}

// HashToken returns the hex-encoded SHA-256 digest of a token string.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// SessionIDFromHash truncates a token hash to the session identifier prefix.
func SessionIDFromHash(hash string) string {
	if len(hash) < SessionIDLength {
		return hash
	}
	return hash[:SessionIDLength]
}

// GenerateCode produces a numeric one-time code of the given length using
// rejection sampling so every digit is uniformly distributed.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid code length %d", length)
	}

	code := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(code) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			// 250 is the largest multiple of 10 that fits a byte; bytes at or
			// above it would bias the low digits.
			if b >= 250 {
				continue
			}
			code = append(code, '0'+b%10)
			if len(code) == length {
				break
			}
		}
	}

	return string(code), nil
}
