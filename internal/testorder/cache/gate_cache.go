package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/apiforge-labs/testorder-backend/internal/testorder/domain"
)

const (
	gateKeyPrefix    = "testorder:gate:"     // Passed gate result: testorder:gate:{suite_id}
	gateGenKeyPrefix = "testorder:gate:gen:" // Invalidation counter: testorder:gate:gen:{suite_id}
	defaultGateTTL   = 10 * time.Minute
)

// GateCache keeps passed gate results in Redis.
type GateCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewGateCache creates a GateCache; a non-positive ttl uses the default.
func NewGateCache(client *redis.Client, ttl time.Duration) *GateCache {
	if ttl <= 0 {
		ttl = defaultGateTTL
	}
	return &GateCache{client: client, ttl: ttl}
}

// Get returns the cached status of a suite. A miss is (nil, false, nil).
func (c *GateCache) Get(ctx context.Context, suiteID uuid.UUID) (*domain.GateStatus, bool, error) {
	data, err := c.client.Get(ctx, c.key(suiteID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get gate status: %w", err)
	}

	var status domain.GateStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal gate status: %w", err)
	}
	return &status, true, nil
}

// Generation returns the invalidation counter of a suite. Read it before
// evaluating the gate and hand it to Set.
func (c *GateCache) Generation(ctx context.Context, suiteID uuid.UUID) (int64, error) {
	gen, err := c.client.Get(ctx, c.genKey(suiteID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get gate generation: %w", err)
	}
	return gen, nil
}

// Set stores status if no invalidation happened since generation was read.
// It reports whether the status was stored.
func (c *GateCache) Set(ctx context.Context, status *domain.GateStatus, generation int64) (bool, error) {
	data, err := json.Marshal(status)
	if err != nil {
		return false, fmt.Errorf("failed to marshal gate status: %w", err)
	}

	genKey := c.genKey(status.SuiteID)
	stored := false
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		gen, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if gen != generation {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.key(status.SuiteID), data, c.ttl)
			return nil
		})
		stored = err == nil
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to set gate status: %w", err)
	}
	return stored, nil
}

// Invalidate drops the cached status and bumps the generation so that
// evaluations started earlier are not stored.
func (c *GateCache) Invalidate(ctx context.Context, suiteID uuid.UUID) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.genKey(suiteID))
		pipe.Del(ctx, c.key(suiteID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate gate status: %w", err)
	}
	return nil
}

func (c *GateCache) key(suiteID uuid.UUID) string {
	return gateKeyPrefix + suiteID.String()
}

func (c *GateCache) genKey(suiteID uuid.UUID) string {
	return gateGenKeyPrefix + suiteID.String()
}
