package models

import "time"

// User is a registry record keyed by a stable identifier. The phone number is
// stored encrypted at rest; PhoneHash is the deterministic lookup key.
type User struct {
	ID             string    `json:"id"`
	PhoneHash      string    `json:"-"`
	PhoneEncrypted []byte    `json:"-"`
	Phone          string    `json:"phoneNumber"`
	Name           string    `json:"name,omitempty"`
	Email          string    `json:"email,omitempty"`
	Bucket         int       `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
}

// SessionRecord is the JSON value stored per refresh session. CreatedAt is
// RFC 3339 so records stay readable from redis-cli.
type SessionRecord struct {
	RefreshTokenHash string    `json:"refreshTokenHash"`
	CreatedAt        time.Time `json:"createdAt"`
}

// UserInfo is the user payload returned alongside tokens.
type UserInfo struct {
	ID        string `json:"id"`
	Phone     string `json:"phoneNumber"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	IsNewUser bool   `json:"isNewUser"`
}

// UserProfile is the payload of the current-user endpoint. CreatedAt is a
// pointer so claims-only profiles omit it instead of reporting a zero time.
type UserProfile struct {
	ID        string     `json:"id"`
	Phone     string     `json:"phoneNumber"`
	Name      string     `json:"name,omitempty"`
	Email     string     `json:"email,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

type SendOTPRequest struct {
	Phone string `json:"phoneNumber"`
}

// SendOTPResponse echoes the code in DevOTP only outside production, so local
// clients can complete the flow without an SMS gateway.
type SendOTPResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ExpiresIn int64  `json:"expiresIn"`
	DevOTP    string `json:"_devOtp,omitempty"`
}

type VerifyOTPRequest struct {
	Phone string `json:"phoneNumber"`
	OTP   string `json:"otp"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type AuthResponse struct {
	Success      bool     `json:"success"`
	Message      string   `json:"message,omitempty"`
	User         UserInfo `json:"user"`
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	ExpiresIn    int64    `json:"expiresIn"`
}

type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
