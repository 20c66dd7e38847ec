package storage

import (
	"context"
	"fmt"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const presenceKey = "roulette:online"

// RedisPresence keeps live connection ids in one set shared by every instance.
type RedisPresence struct {
	rdb *redis.Client
	key string
}

var _ core.PresenceStore = (*RedisPresence)(nil)

// ConnectRedis returns a client that answered a ping.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	log.Info().Str("module", "storage").Str("addr", addr).Msg("redis ready")
	return rdb, nil
}

func NewRedisPresence(rdb *redis.Client, key string) *RedisPresence {
	if key == "" {
		key = presenceKey
	}
	return &RedisPresence{rdb: rdb, key: key}
}

func (p *RedisPresence) Join(ctx context.Context, sid core.SessionID) error {
	return p.rdb.SAdd(ctx, p.key, string(sid)).Err()
}

func (p *RedisPresence) Leave(ctx context.Context, sid core.SessionID) error {
	return p.rdb.SRem(ctx, p.key, string(sid)).Err()
}

func (p *RedisPresence) Count(ctx context.Context) (int, error) {
	n, err := p.rdb.SCard(ctx, p.key).Result()
	return int(n), err
}
