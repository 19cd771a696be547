package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"gate-service/internal/client"
	"gate-service/internal/gate"
	"gate-service/internal/models"
	"gate-service/internal/util"
)

const (
	counterPrefix = "gate_counter:"
	bucketPrefix  = "gate_bucket:"
	secretPrefix  = "gate_secret:"

	// CounterWindow is the fixed rate-limit window. The expiry is set only on
	// the first increment; later increments never renew it.
	CounterWindow = time.Hour

	// BucketTTL is the absolute lifetime of a lockout bucket, refreshed on
	// every attempt.
	BucketTTL = 24 * time.Hour

	fieldLastAttempt  = "last_attempt"
	fieldFailCount    = "fail_count"
	fieldBlockedUntil = "blocked_until"
)

// GateCache holds the store-side primitives of the gate: fixed-window global
// counters, per-client lockout buckets, and the rotating secrets.
type GateCache struct {
	client *client.RedisClient
}

func NewGateCache(client *client.RedisClient) *GateCache {
	return &GateCache{client: client}
}

func counterKey(kind gate.Kind, action string) string {
	return fmt.Sprintf("%s%s:%s", counterPrefix, kind.Namespace(), action)
}

func bucketKey(kind gate.Kind, clientID string) string {
	return fmt.Sprintf("%s%s:%s", bucketPrefix, kind.Namespace(), clientID)
}

func secretKey(kind gate.Kind) string {
	return secretPrefix + kind.Namespace()
}

// IncrementGlobalCounter bumps the per-(kind, action) counter and reports the
// new count plus the seconds left in the window. The expiry is set only when
// this increment created the key; the race between two first increments is
// tolerated (both set the same TTL). A key that somehow lost its TTL reports
// a full window instead of failing.
func (c *GateCache) IncrementGlobalCounter(ctx context.Context, kind gate.Kind, action string) (int64, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := counterKey(kind, action)

	count, err := c.client.Incr(ctx, key)
	if err != nil {
		util.Error("Failed to increment global counter",
			zap.String("kind", kind.Namespace()),
			zap.String("action", action),
			zap.Error(err))
		return 0, 0, fmt.Errorf("failed to increment global counter: %w", err)
	}

	if count == 1 {
		if err := c.client.Expire(ctx, key, CounterWindow); err != nil {
			return 0, 0, fmt.Errorf("failed to set counter window: %w", err)
		}
	}

	remaining, err := c.client.TTL(ctx, key)
	if err != nil || remaining <= 0 {
		remaining = CounterWindow
	}

	util.Debug("Global counter incremented",
		zap.String("kind", kind.Namespace()),
		zap.String("action", action),
		zap.Int64("count", count),
		zap.Duration("window_remaining", remaining))

	return count, remaining, nil
}

// CounterTTL reports the seconds until the window for (kind, action) resets,
// falling back to the full window when the key has no expiry.
func (c *GateCache) CounterTTL(ctx context.Context, kind gate.Kind, action string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	remaining, err := c.client.TTL(ctx, counterKey(kind, action))
	if err != nil {
		return 0, fmt.Errorf("failed to read counter ttl: %w", err)
	}
	if remaining <= 0 {
		remaining = CounterWindow
	}
	return remaining, nil
}

// GetLockoutBucket loads the bucket for (kind, clientID). A missing bucket
// comes back as the zero value, not an error.
func (c *GateCache) GetLockoutBucket(ctx context.Context, kind gate.Kind, clientID string) (*models.LockoutBucket, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	fields, err := c.client.HGetAll(ctx, bucketKey(kind, clientID))
	if err != nil {
		util.Error("Failed to load lockout bucket",
			zap.String("kind", kind.Namespace()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to load lockout bucket: %w", err)
	}

	return &models.LockoutBucket{
		LastAttemptAt: parseInt(fields[fieldLastAttempt]),
		FailCount:     parseInt(fields[fieldFailCount]),
		BlockedUntil:  parseInt(fields[fieldBlockedUntil]),
	}, nil
}

// RecordAttempt stamps the attempt time and refreshes the bucket's absolute
// expiry. This runs before the door code is evaluated, so blocked clients
// still pay the pacing floor and keep their record alive.
func (c *GateCache) RecordAttempt(ctx context.Context, kind gate.Kind, clientID string, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := bucketKey(kind, clientID)

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, fieldLastAttempt, now.Unix())
	pipe.Expire(ctx, key, BucketTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to record attempt",
			zap.String("kind", kind.Namespace()),
			zap.Error(err))
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// IncrementFailCount bumps the failure counter and returns the new value.
func (c *GateCache) IncrementFailCount(ctx context.Context, kind gate.Kind, clientID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	fails, err := c.client.HIncrBy(ctx, bucketKey(kind, clientID), fieldFailCount, 1)
	if err != nil {
		util.Error("Failed to increment fail count",
			zap.String("kind", kind.Namespace()),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment fail count: %w", err)
	}
	return fails, nil
}

// SetBlockedUntil writes the block expiry timestamp into the bucket.
func (c *GateCache) SetBlockedUntil(ctx context.Context, kind gate.Kind, clientID string, until time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.HSet(ctx, bucketKey(kind, clientID), fieldBlockedUntil, until.Unix()); err != nil {
		util.Error("Failed to set block",
			zap.String("kind", kind.Namespace()),
			zap.Error(err))
		return fmt.Errorf("failed to set block: %w", err)
	}
	return nil
}

// ClearLockoutBucket deletes the bucket entirely; all lockout history for the
// client is forgotten.
func (c *GateCache) ClearLockoutBucket(ctx context.Context, kind gate.Kind, clientID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, bucketKey(kind, clientID)); err != nil {
		util.Error("Failed to clear lockout bucket",
			zap.String("kind", kind.Namespace()),
			zap.Error(err))
		return fmt.Errorf("failed to clear lockout bucket: %w", err)
	}

	util.Debug("Lockout bucket cleared", zap.String("kind", kind.Namespace()))
	return nil
}

// GetSecret returns the current rotating secret for a kind, or
// client.ErrKeyNotFound once it has expired.
func (c *GateCache) GetSecret(ctx context.Context, kind gate.Kind) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return c.client.Get(ctx, secretKey(kind))
}

// SetSecret stores a freshly generated secret with the rotation interval as
// its TTL. Concurrent writers race benignly: the last write wins and the
// loser's secret only ever influenced bucketing for requests already
// in flight.
func (c *GateCache) SetSecret(ctx context.Context, kind gate.Kind, secret string, rotation time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Set(ctx, secretKey(kind), secret, rotation); err != nil {
		util.Error("Failed to store rotating secret",
			zap.String("kind", kind.Namespace()),
			zap.Error(err))
		return fmt.Errorf("failed to store rotating secret: %w", err)
	}

	util.Info("Rotating secret generated",
		zap.String("kind", kind.Namespace()),
		zap.Duration("rotation", rotation))
	return nil
}

// ExpireSecret drops the current secret immediately, forcing rotation on the
// next derivation. Used by tests and operational tooling.
func (c *GateCache) ExpireSecret(ctx context.Context, kind gate.Kind) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.client.Del(ctx, secretKey(kind))
}

func parseInt(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
