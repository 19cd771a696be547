package service

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"gate-service/internal/client"
	"gate-service/internal/gate"
	redisrepo "gate-service/internal/repository/redis"
)

const secretBytes = 32 // 256 bits

// ClientIdentifier derives rotating anonymous client ids:
//
//	client_id = HMAC-SHA256(rotating secret, raw caller address)
//
// The raw address is never stored or logged. The secret lives only in the
// store with a TTL equal to the rotation interval; once it expires the old
// mapping is unrecoverable.
type ClientIdentifier struct {
	cache *redisrepo.GateCache
	sf    singleflight.Group
}

func NewClientIdentifier(cache *redisrepo.GateCache) *ClientIdentifier {
	return &ClientIdentifier{cache: cache}
}

// Derive computes the anonymous client id for a caller address, creating the
// kind's rotating secret on first use.
func (ci *ClientIdentifier) Derive(ctx context.Context, kind gate.Kind, rawAddress string, rotation time.Duration) (string, error) {
	secret, err := ci.currentSecret(ctx, kind, rotation)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(rawAddress))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// currentSecret fetches the rotating secret, generating a fresh one when the
// previous one has expired. singleflight collapses concurrent in-process
// generation; across processes the race stays benign (last write wins, see
// GateCache.SetSecret).
func (ci *ClientIdentifier) currentSecret(ctx context.Context, kind gate.Kind, rotation time.Duration) (string, error) {
	secret, err := ci.cache.GetSecret(ctx, kind)
	if err == nil {
		return secret, nil
	}
	if !errors.Is(err, client.ErrKeyNotFound) {
		return "", fmt.Errorf("failed to load rotating secret: %w", err)
	}

	v, err, _ := ci.sf.Do(kind.Namespace(), func() (interface{}, error) {
		// Another goroutine may have just written one.
		if s, err := ci.cache.GetSecret(ctx, kind); err == nil {
			return s, nil
		}

		buf := make([]byte, secretBytes)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate rotating secret: %w", err)
		}
		s := hex.EncodeToString(buf)

		if err := ci.cache.SetSecret(ctx, kind, s, rotation); err != nil {
			return "", err
		}
		return s, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
