package preference

import (
	"context"
	"encoding/json"
	"time"

	"notification-dispatcher/internal/common/logger"
	"notification-dispatcher/internal/models"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "notif:prefs:"

// cacheKey names the entry for one generation of a user's preferences.
func cacheKey(userID, generation string) string {
	return cacheKeyPrefix + userID + ":" + generation
}

func generationKey(userID string) string {
	return cacheKeyPrefix + "gen:" + userID
}

// CachedStore keeps each user's full preference set in Redis. Entries are
// keyed by a per-user generation counter; writes go to the underlying store
// first and then bump the generation, so a fill that read the store before
// the write lands on a key no reader asks for. Redis errors are logged and
// fall through to the store.
type CachedStore struct {
	store  Store
	redis  redis.Cmdable
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedStore(store Store, rdb redis.Cmdable, ttl time.Duration, log logger.Logger) *CachedStore {
	return &CachedStore{
		store:  store,
		redis:  rdb,
		ttl:    ttl,
		logger: log.Component("preference-cache"),
	}
}

func (c *CachedStore) ListForEvent(ctx context.Context, userID string, eventType models.EventType) ([]models.Preference, error) {
	all, err := c.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := []models.Preference{}
	for _, p := range all {
		if p.EventType == eventType {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *CachedStore) ListForUser(ctx context.Context, userID string) ([]models.Preference, error) {
	gen, err := c.redis.Get(ctx, generationKey(userID)).Result()
	switch {
	case err == redis.Nil:
		gen = "0"
	case err != nil:
		c.logger.Warn("cache read failed", map[string]interface{}{"userId": userID, "error": err})
		return c.store.ListForUser(ctx, userID)
	}

	key := cacheKey(userID, gen)
	if val, err := c.redis.Get(ctx, key).Result(); err == nil {
		var prefs []models.Preference
		if err := json.Unmarshal([]byte(val), &prefs); err == nil {
			return prefs, nil
		}
		c.logger.Warn("discarding corrupt cache entry", map[string]interface{}{"key": key})
	} else if err != redis.Nil {
		c.logger.Warn("cache read failed", map[string]interface{}{"key": key, "error": err})
	}

	prefs, err := c.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(prefs)
	if err == nil {
		if err := c.redis.Set(ctx, key, string(data), c.ttl).Err(); err != nil {
			c.logger.Warn("cache write failed", map[string]interface{}{"key": key, "error": err})
		}
	}
	return prefs, nil
}

func (c *CachedStore) Upsert(ctx context.Context, p models.Preference) (models.Preference, error) {
	out, err := c.store.Upsert(ctx, p)
	c.invalidate(ctx, p.UserID)
	return out, err
}

func (c *CachedStore) InsertMany(ctx context.Context, userID string, prefs []models.Preference) error {
	err := c.store.InsertMany(ctx, userID, prefs)
	c.invalidate(ctx, userID)
	return err
}

func (c *CachedStore) Delete(ctx context.Context, userID string, eventType models.EventType, channel models.Channel) error {
	err := c.store.Delete(ctx, userID, eventType, channel)
	c.invalidate(ctx, userID)
	return err
}

func (c *CachedStore) invalidate(ctx context.Context, userID string) {
	key := generationKey(userID)
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, key)
		pipe.PExpire(ctx, key, 2*c.ttl)
		return nil
	})
	if err != nil {
		c.logger.Warn("cache invalidation failed", map[string]interface{}{"userId": userID, "error": err})
	}
}
