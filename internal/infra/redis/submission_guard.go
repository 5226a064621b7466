package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/label-engine/internal/domain"
	"github.com/kursadbilgin/label-engine/internal/guard"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultCooldown    = 10 * time.Second
	defaultInflightTTL = 10 * time.Minute
	keyPrefix          = "labels"

	acquireGranted    = 0
	acquireInProgress = 1
	acquireCooldown   = 2
)

// KEYS[1] in-flight fingerprint, KEYS[2] cooldown marker.
// ARGV[1] fingerprint, ARGV[2] cooldown ms, ARGV[3] in-flight ttl ms.
var acquireScript = goredis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current and current == ARGV[1] then
  return {1, 0}
end
local ttl = redis.call("PTTL", KEYS[2])
if ttl > 0 then
  return {2, ttl}
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
if tonumber(ARGV[2]) > 0 then
  redis.call("SET", KEYS[2], "1", "PX", ARGV[2])
end
return {0, 0}
`)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ guard.SubmissionGuard = (*RedisSubmissionGuard)(nil)

// RedisSubmissionGuard shares the cooldown and in-flight state of operator
// sessions across API replicas.
type RedisSubmissionGuard struct {
	client      *goredis.Client
	cooldown    time.Duration
	inflightTTL time.Duration
}

func NewRedisSubmissionGuard(client *goredis.Client, cooldown time.Duration) (*RedisSubmissionGuard, error) {
	return newRedisSubmissionGuard(client, cooldown, defaultInflightTTL)
}

func newRedisSubmissionGuard(client *goredis.Client, cooldown, inflightTTL time.Duration) (*RedisSubmissionGuard, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cooldown < 0 {
		cooldown = defaultCooldown
	}
	if inflightTTL <= 0 {
		inflightTTL = defaultInflightTTL
	}

	return &RedisSubmissionGuard{
		client:      client,
		cooldown:    cooldown,
		inflightTTL: inflightTTL,
	}, nil
}

func (g *RedisSubmissionGuard) Acquire(ctx context.Context, sessionID, fingerprint string) error {
	if g == nil || g.client == nil {
		return fmt.Errorf("submission guard is not initialized")
	}
	session, err := normalizeSession(sessionID)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	keys := []string{inflightKey(session), cooldownKey(session)}
	result, err := acquireScript.Run(ctx, g.client, keys,
		fingerprint,
		g.cooldown.Milliseconds(),
		g.inflightTTL.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return fmt.Errorf("failed to evaluate submission guard: %w", err)
	}
	if len(result) != 2 {
		return fmt.Errorf("unexpected submission guard reply %v", result)
	}

	switch result[0] {
	case acquireGranted:
		return nil
	case acquireInProgress:
		return fmt.Errorf("%w: session %s", domain.ErrProcessingInProgress, session)
	case acquireCooldown:
		return &guard.CooldownError{Remaining: time.Duration(result[1]) * time.Millisecond}
	default:
		return fmt.Errorf("unexpected submission guard code %d", result[0])
	}
}

// Release clears the in-flight marker if it still belongs to fingerprint.
// The cooldown window is left to expire on its own.
func (g *RedisSubmissionGuard) Release(ctx context.Context, sessionID, fingerprint string) error {
	if g == nil || g.client == nil {
		return fmt.Errorf("submission guard is not initialized")
	}
	session, err := normalizeSession(sessionID)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := releaseScript.Run(ctx, g.client, []string{inflightKey(session)}, fingerprint).Err(); err != nil {
		return fmt.Errorf("failed to release submission guard: %w", err)
	}
	return nil
}

func normalizeSession(sessionID string) (string, error) {
	session := strings.ToLower(strings.TrimSpace(sessionID))
	if session == "" {
		return "", fmt.Errorf("%w: session id is required", domain.ErrValidation)
	}
	return session, nil
}

func inflightKey(session string) string {
	return fmt.Sprintf("%s:inflight:%s", keyPrefix, session)
}

func cooldownKey(session string) string {
	return fmt.Sprintf("%s:cooldown:%s", keyPrefix, session)
}
