package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"trimly/internal/domain"
)

const (
	slotKeyPrefix          = "trimly:avail:slots:"
	providerEpochKeyPrefix = "trimly:avail:epoch:provider:"
	dateEpochKeyPrefix     = "trimly:avail:epoch:date:"
)

// Redis is the shared AvailabilityCache for multi-instance deployments.
// Epoch counters live in Redis alongside the values; value keys carry a TTL
// so generations orphaned by an invalidation expire on their own, while
// epoch keys persist so an expiry can never resurrect a stale generation.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key Key) ([]domain.Slot, Token, bool, error) {
	token, err := r.currentToken(ctx, key)
	if err != nil {
		return nil, Token{}, false, err
	}

	raw, err := r.client.Get(ctx, r.slotKey(key, token)).Bytes()
	if err == redis.Nil {
		return nil, token, false, nil
	}
	if err != nil {
		return nil, token, false, fmt.Errorf("cache get: %w", err)
	}

	var slots []domain.Slot
	if err := json.Unmarshal(raw, &slots); err != nil {
		// Undecodable entries count as misses; the recompute overwrites them.
		return nil, token, false, nil
	}
	return slots, token, true, nil
}

func (r *Redis) Set(ctx context.Context, key Key, token Token, slots []domain.Slot) error {
	raw, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	if err := r.client.Set(ctx, r.slotKey(key, token), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (r *Redis) InvalidateDate(ctx context.Context, providerID string, date time.Time) error {
	if err := r.client.Incr(ctx, dateEpochKeyPrefix+dateKey(providerID, date)).Err(); err != nil {
		return fmt.Errorf("cache invalidate date: %w", err)
	}
	return nil
}

func (r *Redis) InvalidateProvider(ctx context.Context, providerID string) error {
	if err := r.client.Incr(ctx, providerEpochKeyPrefix+providerID).Err(); err != nil {
		return fmt.Errorf("cache invalidate provider: %w", err)
	}
	return nil
}

func (r *Redis) currentToken(ctx context.Context, key Key) (Token, error) {
	vals, err := r.client.MGet(ctx,
		providerEpochKeyPrefix+key.ProviderID,
		dateEpochKeyPrefix+dateKey(key.ProviderID, key.Date),
	).Result()
	if err != nil {
		return Token{}, fmt.Errorf("cache epochs: %w", err)
	}

	var token Token
	token.providerEpoch, err = parseEpoch(vals[0])
	if err != nil {
		return Token{}, err
	}
	token.dateEpoch, err = parseEpoch(vals[1])
	if err != nil {
		return Token{}, err
	}
	return token, nil
}

func (r *Redis) slotKey(key Key, token Token) string {
	return fmt.Sprintf("%s%s:%d:%d", slotKeyPrefix, key.String(), token.providerEpoch, token.dateEpoch)
}

func parseEpoch(v any) (uint64, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("cache epochs: unexpected type %T", v)
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cache epochs: %w", err)
	}
	return n, nil
}
