package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	appLog "schedview/internal/log"
)

const flagTrue = "true"

// RedisStore keeps flags in Redis so several schedview processes share one
// view of every scope. Changes are broadcast with PUBLISH on a channel named
// after the flag key.
type RedisStore struct {
	key    string
	client *redis.Client
}

// NewRedisStore parses url (redis://host:port/db), connects and pings.
func NewRedisStore(ctx context.Context, url, storageKey string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	appLog.Info("auth store connected to redis", "addr", opts.Addr, "db", opts.DB)
	return &RedisStore{key: storageKey, client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, scope string) (bool, error) {
	v, err := s.client.Get(ctx, storageKey(s.key, scope)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == flagTrue, nil
}

func (s *RedisStore) Set(ctx context.Context, scope string, authenticated bool) error {
	k := storageKey(s.key, scope)

	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if authenticated {
			p.Set(ctx, k, flagTrue, 0)
		} else {
			p.Del(ctx, k)
		}
		p.Publish(ctx, k, fmt.Sprintf("%t", authenticated))
		return nil
	})
	if err != nil {
		return fmt.Errorf("set auth flag: %w", err)
	}
	return nil
}

func (s *RedisStore) Subscribe(ctx context.Context, scope string) (<-chan bool, error) {
	k := storageKey(s.key, scope)

	pubsub := s.client.Subscribe(ctx, k)
	// Wait for the subscription confirmation so no publish is missed after
	// Subscribe returns.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe auth flag: %w", err)
	}

	out := make(chan bool, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				deliverLatest(out, msg.Payload == flagTrue)
			}
		}
	}()

	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
