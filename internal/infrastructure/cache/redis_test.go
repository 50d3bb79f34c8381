package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestOpenRedis_SelectsDBAndAuthenticates(t *testing.T) {
	s := miniredis.RunT(t)
	s.RequireAuth("s3cret")

	c, err := OpenRedis(context.Background(), Options{Addr: s.Addr(), Password: "s3cret", DB: 2})
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if got := c.Options().DB; got != 2 {
		t.Fatalf("client DB = %d, want 2", got)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Set(ctx, "lock:sync:hq_master_sync", "owner", time.Minute).Err(); err != nil {
		t.Fatalf("SET: %v", err)
	}
	if v, _ := s.DB(2).Get("lock:sync:hq_master_sync"); v != "owner" {
		t.Fatalf("value in db 2 = %q", v)
	}
}

func TestOpenRedis_Failures(t *testing.T) {
	s := miniredis.RunT(t)
	s.RequireAuth("s3cret")

	tests := map[string]Options{
		"wrong password": {Addr: s.Addr(), Password: "nope"},
		"unreachable":    {Addr: "127.0.0.1:1", PingTimeout: 500 * time.Millisecond},
		"unresolvable":   {Addr: "not-a-real-host:6379", PingTimeout: 500 * time.Millisecond},
	}
	for name, opts := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := OpenRedis(context.Background(), opts); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
