package channel

import (
	"context"

	"notification-dispatcher/internal/common/logger"
	"notification-dispatcher/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisPushTransport publishes to the per-user channel the socket gateway
// subscribes to for each live connection.
type RedisPushTransport struct {
	redis  redis.Cmdable
	prefix string
	logger logger.Logger
}

func NewRedisPushTransport(rdb redis.Cmdable, prefix string, log logger.Logger) *RedisPushTransport {
	return &RedisPushTransport{redis: rdb, prefix: prefix, logger: log.Component("push-redis")}
}

func (t *RedisPushTransport) ChannelFor(userID string) string {
	return t.prefix + userID
}

// Send publishes r. Zero receivers means the user is offline, which is not an error.
func (t *RedisPushTransport) Send(ctx context.Context, r *models.DeliveryRecord) error {
	data, err := encodeRecord(r)
	if err != nil {
		return err
	}
	return t.publish(ctx, r.UserID, data)
}

func (t *RedisPushTransport) PublishUnsentCount(ctx context.Context, userID string, count int) error {
	data, err := encodeCount(count)
	if err != nil {
		return err
	}
	return t.publish(ctx, userID, data)
}

func (t *RedisPushTransport) publish(ctx context.Context, userID string, data []byte) error {
	receivers, err := t.redis.Publish(ctx, t.ChannelFor(userID), data).Result()
	if err != nil {
		return err
	}
	if receivers == 0 {
		t.logger.Debug("no live connection", map[string]interface{}{"userId": userID})
	}
	return nil
}
