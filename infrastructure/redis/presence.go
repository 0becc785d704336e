package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence tracks which users have at least one live connection.
//
// Each user owns a sorted set chatsync:presence:{userID} of connection ids
// scored by their expiry time. A connection that stops touching its entry
// expires on its own, so a crashed process never leaves users online.
type Presence struct {
	cli    *redis.Client
	prefix string
	ttl    time.Duration
}

// Connect connects to the Redis server and pings the server to ensure the
// connection is working.
func Connect(ctx context.Context, addr string, ttl time.Duration) (*Presence, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Presence{cli: cli, prefix: "chatsync", ttl: ttl}, nil
}

func (p *Presence) Close() error { return p.cli.Close() }

func (p *Presence) key(userID string) string {
	return fmt.Sprintf("%s:presence:%s", p.prefix, userID)
}

func (p *Presence) Online(ctx context.Context, userID, connID string) error {
	return p.Touch(ctx, userID, connID)
}

// Touch extends the lease of one connection.
func (p *Presence) Touch(ctx context.Context, userID, connID string) error {
	key := p.key(userID)
	expiry := time.Now().Add(p.ttl)
	_, err := p.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(expiry.UnixMilli()), Member: connID})
		pipe.Expire(ctx, key, p.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("touch presence: %w", err)
	}
	return nil
}

func (p *Presence) Offline(ctx context.Context, userID, connID string) error {
	if err := p.cli.ZRem(ctx, p.key(userID), connID).Err(); err != nil {
		return fmt.Errorf("zrem: %w", err)
	}
	return nil
}

// IsOnline drops expired leases before counting the remaining ones.
func (p *Presence) IsOnline(ctx context.Context, userID string) (bool, error) {
	key := p.key(userID)
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	var count *redis.IntCmd
	_, err := p.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", now)
		count = pipe.ZCard(ctx, key)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("presence: %w", err)
	}
	return count.Val() > 0, nil
}
