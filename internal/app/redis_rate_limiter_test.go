package app

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisAttemptLimiter_KeyPrefix(t *testing.T) {
	cases := []struct {
		prefix string
		want   string
	}{
		{"", "saniah:rate_limit:confirm:S1"},
		{"custom:", "custom:confirm:S1"},
		{"  other  ", "other:confirm:S1"},
	}
	for _, tc := range cases {
		limiter := NewRedisAttemptLimiter(nil, tc.prefix)
		if got := limiter.key("confirm", "S1"); got != tc.want {
			t.Fatalf("prefix %q: expected key %q, got %q", tc.prefix, tc.want, got)
		}
	}
}

func TestRedisAttemptLimiter_DisabledInputsConsumeNothing(t *testing.T) {
	// Points at a closed port: any Redis round trip would return an error.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	limiter := NewRedisAttemptLimiter(client, "")

	cases := []struct {
		name    string
		scope   string
		subject string
		limit   int
		window  time.Duration
	}{
		{"zero limit", "confirm", "S1", 0, time.Minute},
		{"zero window", "confirm", "S1", 5, 0},
		{"blank scope", " ", "S1", 5, time.Minute},
		{"blank subject", "confirm", "", 5, time.Minute},
	}
	for _, tc := range cases {
		count, retryAfter, err := limiter.ConsumeRateLimit(context.Background(), tc.scope, tc.subject, tc.limit, tc.window)
		if err != nil || count != 0 || retryAfter != 0 {
			t.Fatalf("%s: expected no-op, got count=%d retry=%d err=%v", tc.name, count, retryAfter, err)
		}
	}

	var nilLimiter *RedisAttemptLimiter
	if count, _, err := nilLimiter.ConsumeRateLimit(context.Background(), "confirm", "S1", 5, time.Minute); err != nil || count != 0 {
		t.Fatalf("expected nil limiter to be a no-op, got count=%d err=%v", count, err)
	}
}
