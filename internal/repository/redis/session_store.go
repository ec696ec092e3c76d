package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"suvidha-auth-service/internal/client"
	"suvidha-auth-service/internal/models"
	"suvidha-auth-service/internal/util"
)

const sessionPrefix = "session:"

// ErrSessionNotFound is returned when no live record exists for a session
// identifier, whether it expired, was revoked, or never existed.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists one record per live refresh session, keyed by user
// and session identifier. The record TTL is the revocation authority: once it
// lapses the refresh token is unusable regardless of its own expiry claim.
type SessionStore struct {
	client *client.RedisClient
	ttl    time.Duration
}

func NewSessionStore(c *client.RedisClient, ttl time.Duration) *SessionStore {
	return &SessionStore{client: c, ttl: ttl}
}

func sessionKey(userID, sessionID string) string {
	return sessionPrefix + userID + ":" + sessionID
}

// Put writes a session record with a fresh TTL.
func (s *SessionStore) Put(ctx context.Context, userID, sessionID string, record models.SessionRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}

	if err := s.client.Set(ctx, sessionKey(userID, sessionID), payload, s.ttl); err != nil {
		util.Error("failed to store session",
			util.String("user_id", userID),
			util.String("session_id", sessionID),
			util.ErrorField(err))
		return fmt.Errorf("store session: %w", err)
	}

	util.Debug("session stored",
		util.String("user_id", userID),
		util.String("session_id", sessionID),
		util.Duration("ttl", s.ttl))
	return nil
}

// Get loads a session record, returning ErrSessionNotFound for a dead key.
func (s *SessionStore) Get(ctx context.Context, userID, sessionID string) (*models.SessionRecord, error) {
	raw, err := s.client.Get(ctx, sessionKey(userID, sessionID))
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	var record models.SessionRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		util.Error("corrupt session record",
			util.String("user_id", userID),
			util.String("session_id", sessionID),
			util.ErrorField(err))
		return nil, fmt.Errorf("unmarshal session record: %w", err)
	}

	return &record, nil
}

// Delete removes a session record. Deleting an absent key is not an error.
func (s *SessionStore) Delete(ctx context.Context, userID, sessionID string) error {
	if err := s.client.Del(ctx, sessionKey(userID, sessionID)); err != nil {
		util.Error("failed to delete session",
			util.String("user_id", userID),
			util.String("session_id", sessionID),
			util.ErrorField(err))
		return fmt.Errorf("delete session: %w", err)
	}

	util.Debug("session deleted",
		util.String("user_id", userID),
		util.String("session_id", sessionID))
	return nil
}

// Replace atomically retires the old session record and installs the new one,
// so a rotation never leaves both refresh tokens usable.
func (s *SessionStore) Replace(ctx context.Context, userID, oldSessionID, newSessionID string, record models.SessionRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(userID, oldSessionID))
	pipe.Set(ctx, sessionKey(userID, newSessionID), payload, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("failed to rotate session",
			util.String("user_id", userID),
			util.String("old_session_id", oldSessionID),
			util.String("new_session_id", newSessionID),
			util.ErrorField(err))
		return fmt.Errorf("rotate session: %w", err)
	}

	util.Debug("session rotated",
		util.String("user_id", userID),
		util.String("old_session_id", oldSessionID),
		util.String("new_session_id", newSessionID))
	return nil
}

// DeleteAll revokes every live session of a user and returns how many records
// were removed.
func (s *SessionStore) DeleteAll(ctx context.Context, userID string) (int, error) {
	keys, err := s.client.ScanKeys(ctx, sessionPrefix+userID+":*", 100)
	if err != nil {
		return 0, fmt.Errorf("scan sessions: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	if err := s.client.Del(ctx, keys...); err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}

	util.Info("all sessions revoked",
		util.String("user_id", userID),
		util.Int("count", len(keys)))
	return len(keys), nil
}
