package output

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

const DefaultAlertListKey = "sentry:alerts"

// RedisAlertStore keeps alerts in a capped list with the newest at the head.
type RedisAlertStore struct {
	client *redis.Client
	key    string
	max    int64
}

func NewRedisAlertStore(client *redis.Client, key string, maxAlerts int64) *RedisAlertStore {
	if key == "" {
		key = DefaultAlertListKey
	}
	if maxAlerts <= 0 {
		maxAlerts = 10000
	}
	return &RedisAlertStore{client: client, key: key, max: maxAlerts}
}

func (s *RedisAlertStore) Append(ctx context.Context, alert *domain.Alert) error {
	data, err := alert.ToJSON()
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.key, string(data))
		pipe.LTrim(ctx, s.key, 0, s.max-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("push alert: %w", err)
	}
	return nil
}

func (s *RedisAlertStore) Recent(ctx context.Context, n int) ([]*domain.Alert, error) {
	if n <= 0 {
		return []*domain.Alert{}, nil
	}
	values, err := s.client.LRange(ctx, s.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent alerts: %w", err)
	}
	alerts := make([]*domain.Alert, 0, len(values))
	for _, v := range values {
		var a domain.Alert
		if err := json.Unmarshal([]byte(v), &a); err != nil {
			return nil, fmt.Errorf("decode alert: %w", err)
		}
		alerts = append(alerts, &a)
	}
	return alerts, nil
}

func (s *RedisAlertStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the client is owned by the caller.
func (s *RedisAlertStore) Close() error { return nil }
