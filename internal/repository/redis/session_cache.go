package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gate-service/internal/client"
	"gate-service/internal/gate"
	"gate-service/internal/util"
)

const (
	sessionPrefix      = "gate_session:"
	unlockedFieldStem  = "unlocked:"
	sessionUnlockedVal = "1"
)

// SessionCache stores the per-session unlock flags. One Redis hash per
// session id, one field per kind, TTL refreshed whenever a flag is written so
// an unconsumed unlock expires with the session.
type SessionCache struct {
	client *client.RedisClient
	ttl    time.Duration
}

func NewSessionCache(client *client.RedisClient, ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SessionCache{client: client, ttl: ttl}
}

func sessionKey(sessionID string) string {
	return sessionPrefix + sessionID
}

func unlockedField(kind gate.Kind) string {
	return unlockedFieldStem + kind.Namespace()
}

// SetUnlocked marks the session as unlocked for one kind.
func (c *SessionCache) SetUnlocked(ctx context.Context, sessionID string, kind gate.Kind) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := sessionKey(sessionID)

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, unlockedField(kind), sessionUnlockedVal)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to set session unlock flag",
			zap.String("kind", kind.Namespace()),
			zap.Error(err))
		return fmt.Errorf("failed to set session unlock flag: %w", err)
	}

	util.Debug("Session unlocked", zap.String("kind", kind.Namespace()))
	return nil
}

// IsUnlocked reports whether the session holds an unconsumed unlock for the
// kind. Missing sessions simply read as locked.
func (c *SessionCache) IsUnlocked(ctx context.Context, sessionID string, kind gate.Kind) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	val, err := c.client.HGet(ctx, sessionKey(sessionID), unlockedField(kind))
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return false, nil
		}
		util.Error("Failed to read session unlock flag",
			zap.String("kind", kind.Namespace()),
			zap.Error(err))
		return false, fmt.Errorf("failed to read session unlock flag: %w", err)
	}

	return val == sessionUnlockedVal, nil
}

// ClearUnlocked consumes the unlock for one kind; flags for the other kind
// are untouched.
func (c *SessionCache) ClearUnlocked(ctx context.Context, sessionID string, kind gate.Kind) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.HDel(ctx, sessionKey(sessionID), unlockedField(kind)); err != nil {
		util.Error("Failed to clear session unlock flag",
			zap.String("kind", kind.Namespace()),
			zap.Error(err))
		return fmt.Errorf("failed to clear session unlock flag: %w", err)
	}
	return nil
}
