package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Options struct {
	Addr     string
	Password string
	DB       int
	// PingTimeout bounds the startup connectivity check; zero means 5s.
	PingTimeout time.Duration
}

// OpenRedis connects and pings. The client backs both the idempotency store
// and the distributed stream lock.
func OpenRedis(ctx context.Context, opts Options) (*redis.Client, error) {
	r := redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := r.Ping(ctx).Err(); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return r, nil
}
