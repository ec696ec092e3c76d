package scylla

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"suvidha-auth-service/internal/bucketing"
	"suvidha-auth-service/internal/encryption"
	"suvidha-auth-service/internal/models"
	"suvidha-auth-service/internal/util"
)

// UserRepository is the durable phone-to-user registry. Phones are stored
// encrypted; lookups go through a deterministic hash so the plaintext never
// reaches a query.
type UserRepository struct {
	client  *ScyllaClient
	buckets *bucketing.Manager
	crypter *encryption.Manager
}

func NewUserRepository(client *ScyllaClient, buckets *bucketing.Manager, crypter *encryption.Manager) *UserRepository {
	return &UserRepository{
		client:  client,
		buckets: buckets,
		crypter: crypter,
	}
}

// HashPhone derives the deterministic registry lookup key for a phone number.
func HashPhone(phone string) string {
	sum := sha256.Sum256([]byte(phone))
	return hex.EncodeToString(sum[:])
}

// GetOrCreateByPhone resolves a phone number to its user, creating the user
// on first sight. The second return value reports whether the user was
// created by this call. Concurrent first-time verifications of the same phone
// are serialized by a lightweight transaction on the phone_to_user row, so
// exactly one caller creates the user and the rest adopt it.
func (r *UserRepository) GetOrCreateByPhone(ctx context.Context, phone string) (*models.User, bool, error) {
	phoneHash := HashPhone(phone)

	user, err := r.getByPhoneHash(ctx, phoneHash)
	if err == nil {
		r.touchLastLogin(ctx, user)
		return user, false, nil
	}
	if !errors.Is(err, gocql.ErrNotFound) {
		return nil, false, fmt.Errorf("lookup user by phone: %w", err)
	}

	userID := "user_" + uuid.NewString()
	bucket := r.buckets.UserBucket(userID)
	now := time.Now().UTC()

	encryptedPhone, err := r.crypter.EncryptFieldBytes(ctx, phone)
	if err != nil {
		return nil, false, fmt.Errorf("encrypt phone: %w", err)
	}

	// MapScanCAS, not ScanCAS: a non-applied INSERT returns every column of
	// the existing row, so positional scanning misaligns.
	previous := make(map[string]interface{})
	applied, err := r.client.Query(`
		INSERT INTO phone_to_user (phone_hash, user_bucket, user_id, created_at)
		VALUES (?, ?, ?, ?) IF NOT EXISTS`,
		phoneHash, bucket, userID, now,
	).WithContext(ctx).MapScanCAS(previous)
	if err != nil {
		return nil, false, fmt.Errorf("register phone mapping: %w", err)
	}

	if !applied {
		// Lost the race; adopt the user the winner created.
		winnerID, _ := previous["user_id"].(string)
		winnerBucket, _ := previous["user_bucket"].(int)

		var winner *models.User
		if winnerID != "" {
			winner, err = r.loadUser(ctx, winnerBucket, winnerID)
		} else {
			winner, err = r.getByPhoneHash(ctx, phoneHash)
		}
		if err != nil {
			return nil, false, fmt.Errorf("load user after lost create race: %w", err)
		}
		winner.Phone = phone
		return winner, false, nil
	}

	if err := r.client.Query(`
		INSERT INTO users (user_bucket, user_id, phone_hash, phone_encrypted, created_at, last_login)
		VALUES (?, ?, ?, ?, ?, ?)`,
		bucket, userID, phoneHash, encryptedPhone, now, now,
	).WithContext(ctx).Exec(); err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}

	util.Info("user created",
		util.String("user_id", userID),
		util.Int("user_bucket", bucket))

	return &models.User{
		ID:             userID,
		PhoneHash:      phoneHash,
		PhoneEncrypted: encryptedPhone,
		Phone:          phone,
		Bucket:         bucket,
		CreatedAt:      now,
	}, true, nil
}

func (r *UserRepository) getByPhoneHash(ctx context.Context, phoneHash string) (*models.User, error) {
	var (
		bucket int
		userID string
	)
	if err := r.client.Query(`
		SELECT user_bucket, user_id FROM phone_to_user WHERE phone_hash = ?`,
		phoneHash,
	).WithContext(ctx).Scan(&bucket, &userID); err != nil {
		return nil, err
	}

	return r.loadUser(ctx, bucket, userID)
}

// GetByID loads a user by identifier alone. The partition bucket is a pure
// function of the identifier, so no mapping lookup is needed.
func (r *UserRepository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	return r.loadUser(ctx, r.buckets.UserBucket(userID), userID)
}

func (r *UserRepository) loadUser(ctx context.Context, bucket int, userID string) (*models.User, error) {
	user := &models.User{ID: userID, Bucket: bucket}

	if err := r.client.Query(`
		SELECT phone_hash, phone_encrypted, name, email, created_at
		FROM users WHERE user_bucket = ? AND user_id = ?`,
		bucket, userID,
	).WithContext(ctx).Scan(&user.PhoneHash, &user.PhoneEncrypted, &user.Name, &user.Email, &user.CreatedAt); err != nil {
		return nil, err
	}

	if len(user.PhoneEncrypted) > 0 {
		phone, err := r.crypter.DecryptFieldBytes(ctx, user.PhoneEncrypted)
		if err != nil {
			util.Warn("failed to decrypt stored phone",
				util.String("user_id", userID),
				util.ErrorField(err))
		} else {
			user.Phone = phone
		}
	}

	return user, nil
}

// touchLastLogin updates the login timestamp best-effort; a failure here must
// not fail the authentication.
func (r *UserRepository) touchLastLogin(ctx context.Context, user *models.User) {
	if err := r.client.Query(`
		UPDATE users SET last_login = ? WHERE user_bucket = ? AND user_id = ?`,
		time.Now().UTC(), user.Bucket, user.ID,
	).WithContext(ctx).Exec(); err != nil {
		util.Warn("failed to update last login",
			util.String("user_id", user.ID),
			util.ErrorField(err))
	}
}
