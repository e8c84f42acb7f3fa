package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestRedisLimiterOncePerInterval(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	l := NewRedisLimiter(client, time.Hour, quietLogger())

	if !l.Allow(ctx, "v1") {
		t.Fatal("first call rejected")
	}
	if !mr.Exists("analytics:recompute:v1") {
		t.Fatal("lock key not written")
	}
	if l.Allow(ctx, "v1") {
		t.Fatal("second call within interval admitted")
	}
	if !l.Allow(ctx, "v2") {
		t.Fatal("other vendor rejected")
	}

	mr.FastForward(time.Hour)
	if !l.Allow(ctx, "v1") {
		t.Fatal("call after lock expiry rejected")
	}
}

func TestRedisLimiterSharedAcrossInstances(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	ctx := context.Background()

	var admitted int
	for i := 0; i < 3; i++ {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		if NewRedisLimiter(client, time.Hour, quietLogger()).Allow(ctx, "v1") {
			admitted++
		}
	}
	if admitted != 1 {
		t.Fatalf("admitted %d instances, want 1", admitted)
	}
}

func TestRedisLimiterFallsBackWhenRedisIsDown(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	logger, hook := logtest.NewNullLogger()
	l := NewRedisLimiter(client, time.Hour, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if !l.Allow(ctx, "v1") {
		t.Fatal("fallback rejected first call")
	}
	if l.Allow(ctx, "v1") {
		t.Fatal("fallback admitted second call within interval")
	}

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["vendorId"] == "v1" {
			warned = true
		}
	}
	if !warned {
		t.Error("expected a warning naming the vendor")
	}
}
