package cache

import (
	"context"
	"testing"

	"github.com/aisgo/botrunner/cache/redis"
	"github.com/aisgo/botrunner/logger"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(server.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redis.Wrap(rdb, logger.NewNop())
}

func TestReadinessChecksFollowEnabled(t *testing.T) {
	client := newTestClient(t)

	if checks := readinessChecks(redis.Config{}, client); len(checks) != 0 {
		t.Fatalf("expected no checks when redis disabled, got %d", len(checks))
	}

	checks := readinessChecks(redis.Config{Enabled: true}, client)
	if len(checks) != 1 || checks[0].Name != "redis" {
		t.Fatalf("unexpected checks: %+v", checks)
	}
	if err := checks[0].Ping.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestSharedClient(t *testing.T) {
	client := newTestClient(t)

	if SharedClient(redis.Config{}, client) != nil {
		t.Fatalf("expected nil shared client when redis disabled")
	}
	if got := SharedClient(redis.Config{Enabled: true}, client); got != client.Raw() {
		t.Fatalf("expected raw client when redis enabled")
	}
}
