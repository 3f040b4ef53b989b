package storage

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "herald/pkg/logx"
)

// redisStore keeps one Redis SET per key kind. Inserts are idempotent
// (SADD) which matches the cache's monotonic-insert semantics.
type redisStore struct {
	client *redis.Client
	prefix string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	prefix := strings.TrimSpace(cfg.RedisPrefix)
	if prefix == "" {
		prefix = "herald"
	}
	log.Info("connected to redis", logx.String("addr", cfg.RedisAddr))
	return &redisStore{client: client, prefix: prefix, log: log}, nil
}

func (s *redisStore) key(kind Kind) string {
	return s.prefix + ":seen:" + string(kind)
}

func (s *redisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *redisStore) AddSeen(ctx context.Context, keys ...SeenKey) error {
	if s == nil || s.client == nil {
		return ErrDisabled
	}
	for _, k := range keys {
		if k.Value == "" {
			continue
		}
		if err := s.client.SAdd(ctx, s.key(k.Kind), k.Value).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *redisStore) LoadSeen(ctx context.Context) ([]SeenKey, error) {
	if s == nil || s.client == nil {
		return nil, ErrDisabled
	}
	var out []SeenKey
	for _, kind := range []Kind{KindID, KindURL, KindFingerprint} {
		values, err := s.client.SMembers(ctx, s.key(kind)).Result()
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			out = append(out, SeenKey{Kind: kind, Value: v})
		}
	}
	return out, nil
}
