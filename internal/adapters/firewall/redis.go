package firewall

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/Kellysabi/Sentry-IoT/pkg/breaker"
)

const DefaultBlockSetKey = "sentry:blocked"

// RedisBlocker keeps the deny list in a redis set shared by every instance.
// SADD and SREM are idempotent, so concurrent instances converge.
type RedisBlocker struct {
	client  *redis.Client
	key     string
	breaker breaker.CircuitBreaker
}

func NewRedisBlocker(client *redis.Client, key string) *RedisBlocker {
	if key == "" {
		key = DefaultBlockSetKey
	}
	return &RedisBlocker{
		client:  client,
		key:     key,
		breaker: breaker.New("redis-blocker", 30*time.Second, 5),
	}
}

func (b *RedisBlocker) Name() string {
	return "redis"
}

func (b *RedisBlocker) IsBlocked(ctx context.Context, addr string) (bool, error) {
	ip, err := parseAddr(addr)
	if err != nil {
		return false, err
	}
	var member bool
	err = b.breaker.Execute(func() error {
		var err error
		member, err = b.client.SIsMember(ctx, b.key, ip.String()).Result()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("probe block set: %w", err)
	}
	return member, nil
}

func (b *RedisBlocker) Block(ctx context.Context, addr string) error {
	ip, err := parseAddr(addr)
	if err != nil {
		return err
	}
	err = b.breaker.Execute(func() error {
		return b.client.SAdd(ctx, b.key, ip.String()).Err()
	})
	if err != nil {
		return fmt.Errorf("add to block set: %w", err)
	}
	log.Info().Str("source_ip", ip.String()).Str("key", b.key).Msg("Blocked source address")
	return nil
}

func (b *RedisBlocker) Unblock(ctx context.Context, addr string) error {
	ip, err := parseAddr(addr)
	if err != nil {
		return err
	}
	err = b.breaker.Execute(func() error {
		return b.client.SRem(ctx, b.key, ip.String()).Err()
	})
	if err != nil {
		return fmt.Errorf("remove from block set: %w", err)
	}
	return nil
}
