package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gate-service/internal/client"
	"gate-service/internal/util"
)

const groupDirectoryKey = "forum:groups"

// ErrGroupNotFound reports a target group name with no directory entry. This
// is a server-configuration problem, never a caller error.
var ErrGroupNotFound = errors.New("group not found")

// GroupDirectory resolves forum group names against the hash the platform
// keeps synchronized in Redis.
type GroupDirectory struct {
	client *client.RedisClient
}

func NewGroupDirectory(client *client.RedisClient) *GroupDirectory {
	return &GroupDirectory{client: client}
}

// Resolve maps a group name to its platform id.
func (d *GroupDirectory) Resolve(ctx context.Context, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	id, err := d.client.HGet(ctx, groupDirectoryKey, name)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return "", fmt.Errorf("%w: %s", ErrGroupNotFound, name)
		}
		util.Error("Failed to resolve group", zap.Error(err))
		return "", fmt.Errorf("failed to resolve group: %w", err)
	}
	return id, nil
}

// Register writes one name -> id mapping. The platform's sync job is the
// normal writer; tests use this directly.
func (d *GroupDirectory) Register(ctx context.Context, name, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := d.client.HSet(ctx, groupDirectoryKey, name, id); err != nil {
		return fmt.Errorf("failed to register group: %w", err)
	}
	return nil
}
