package service

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisCommandAllowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`

type redisCommandLimiter struct {
	client redisEvaler
	window time.Duration
	max    int
	prefix string
}

type redisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// NewRedisCommandLimiter comparte el cooldown entre reinicios del proceso.
func NewRedisCommandLimiter(client *redis.Client, window time.Duration, max int) CommandLimiter {
	if client == nil {
		return nil
	}
	if window <= 0 {
		window = 2 * time.Second
	}
	if max <= 0 {
		max = 1
	}
	return &redisCommandLimiter{
		client: client,
		window: window,
		max:    max,
		prefix: "cmd:rl:",
	}
}

func (l *redisCommandLimiter) Allow(key string) bool {
	if l == nil || l.client == nil {
		return true
	}
	normalizedKey := strings.TrimSpace(key)
	if normalizedKey == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	millis := l.window.Milliseconds()
	if millis <= 0 {
		millis = 2000
	}
	count, err := l.client.Eval(ctx, redisCommandAllowScript, []string{l.prefix + normalizedKey}, millis).Int()
	if err != nil {
		return true
	}
	return count <= l.max
}
