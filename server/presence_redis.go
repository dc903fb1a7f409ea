package server

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const presenceOpTimeout = 5 * time.Second

// registerScript swaps in the new session atomically and reports what it
// displaced: {changed, previousSessionID}.
var registerScript = redis.NewScript(`
local prev = redis.call("GET", KEYS[1])
if prev == ARGV[1] then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
  return {0, prev}
end
redis.call("SET", KEYS[1], ARGV[1], "EX", ARGV[2])
if prev then
  return {1, prev}
end
return {1, ""}
`)

// unregisterScript deletes the entry only when it still belongs to the
// disconnecting session.
var unregisterScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`)

// RedisPresenceRegistry shares presence across server instances. Entries carry
// a TTL so a crashed node's users eventually read as offline instead of being
// stuck online forever.
type RedisPresenceRegistry struct {
	logger *zap.Logger
	client *redis.Client
	prefix string
	ttl    time.Duration

	ctx         context.Context
	ctxCancelFn context.CancelFunc
}

func NewRedisPresenceRegistry(logger *zap.Logger, config *PresenceConfig) (PresenceRegistry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddress,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	ctx, ctxCancelFn := context.WithCancel(context.Background())

	pingCtx, cancel := context.WithTimeout(ctx, presenceOpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		ctxCancelFn()
		_ = client.Close()
		return nil, fmt.Errorf("could not connect to presence redis: %w", err)
	}

	logger.Info("Redis presence registry initialized", zap.String("redis_address", config.RedisAddress))

	return &RedisPresenceRegistry{
		logger: logger,
		client: client,
		prefix: config.KeyPrefix,
		ttl:    time.Duration(config.EntryTTLSec) * time.Second,

		ctx:         ctx,
		ctxCancelFn: ctxCancelFn,
	}, nil
}

func (r *RedisPresenceRegistry) key(userID int64) string {
	return fmt.Sprintf("%s:presence:%d", r.prefix, userID)
}

func (r *RedisPresenceRegistry) Register(userID int64, sessionID uuid.UUID) (uuid.UUID, bool) {
	ctx, cancel := context.WithTimeout(r.ctx, presenceOpTimeout)
	defer cancel()

	result, err := registerScript.Run(ctx, r.client, []string{r.key(userID)},
		sessionID.String(), int(r.ttl.Seconds())).Slice()
	if err != nil || len(result) != 2 {
		r.logger.Warn("Failed to register presence in redis", zap.Int64("uid", userID), zap.Error(err))
		return uuid.Nil, false
	}
	changed, _ := result[0].(int64)
	if changed == 0 {
		return uuid.Nil, false
	}
	if prev, _ := result[1].(string); prev != "" {
		return uuid.FromStringOrNil(prev), true
	}
	return uuid.Nil, true
}

func (r *RedisPresenceRegistry) Unregister(userID int64, sessionID uuid.UUID) bool {
	ctx, cancel := context.WithTimeout(r.ctx, presenceOpTimeout)
	defer cancel()

	removed, err := unregisterScript.Run(ctx, r.client, []string{r.key(userID)}, sessionID.String()).Int()
	if err != nil {
		r.logger.Warn("Failed to unregister presence in redis", zap.Int64("uid", userID), zap.Error(err))
		return false
	}
	return removed == 1
}

func (r *RedisPresenceRegistry) SessionID(userID int64) (uuid.UUID, bool) {
	ctx, cancel := context.WithTimeout(r.ctx, presenceOpTimeout)
	defer cancel()

	value, err := r.client.Get(ctx, r.key(userID)).Result()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("Failed to look up presence in redis", zap.Int64("uid", userID), zap.Error(err))
		}
		return uuid.Nil, false
	}
	return uuid.FromStringOrNil(value), true
}

func (r *RedisPresenceRegistry) IsOnline(userID int64) bool {
	_, found := r.SessionID(userID)
	return found
}

func (r *RedisPresenceRegistry) Snapshot() map[int64]uuid.UUID {
	ctx, cancel := context.WithTimeout(r.ctx, presenceOpTimeout)
	defer cancel()

	snapshot := make(map[int64]uuid.UUID)
	match := fmt.Sprintf("%s:presence:*", r.prefix)
	iter := r.client.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		userID, err := strconv.ParseInt(key[strings.LastIndexByte(key, ':')+1:], 10, 64)
		if err != nil {
			continue
		}
		value, err := r.client.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		snapshot[userID] = uuid.FromStringOrNil(value)
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn("Failed to scan presence keys in redis", zap.Error(err))
	}
	return snapshot
}

func (r *RedisPresenceRegistry) Stop() {
	r.ctxCancelFn()
	if err := r.client.Close(); err != nil {
		r.logger.Warn("Failed to close presence redis client", zap.Error(err))
	}
}
