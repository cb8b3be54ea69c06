package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/npezzotti/go-teamchat/internal/presence"
	"github.com/npezzotti/go-teamchat/internal/types"
	"github.com/redis/go-redis/v9"
)

const (
	presenceKeyPrefix  = "presence:"
	defaultPresenceTTL = 30 * 24 * time.Hour
)

// RedisPresenceStore keeps a hash per user with the last presence the
// tracker reported.
type RedisPresenceStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPresenceStore(client *redis.Client, ttl time.Duration) *RedisPresenceStore {
	if ttl <= 0 {
		ttl = defaultPresenceTTL
	}
	return &RedisPresenceStore{client: client, ttl: ttl}
}

func presenceKey(userId string) string {
	return presenceKeyPrefix + userId
}

func (s *RedisPresenceStore) SavePresence(ctx context.Context, rec presence.Record) error {
	lastSeen := ""
	if rec.LastSeen != nil {
		lastSeen = rec.LastSeen.UTC().Format(time.RFC3339Nano)
	}

	key := presenceKey(rec.UserId)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"status", string(rec.Status),
		"connections", rec.Connections,
		"last_seen", lastSeen,
	)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save presence for %q: %w", rec.UserId, err)
	}

	return nil
}

func (s *RedisPresenceStore) GetPresence(ctx context.Context, userId string) (presence.Record, error) {
	vals, err := s.client.HGetAll(ctx, presenceKey(userId)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return presence.Record{}, fmt.Errorf("get presence for %q: %w", userId, err)
	}
	if len(vals) == 0 {
		return presence.Record{}, ErrNotFound
	}

	rec := presence.Record{
		UserId: userId,
		Status: types.Status(vals["status"]),
	}
	if n, err := strconv.Atoi(vals["connections"]); err == nil {
		rec.Connections = n
	}
	if ls := vals["last_seen"]; ls != "" {
		t, err := time.Parse(time.RFC3339Nano, ls)
		if err != nil {
			return presence.Record{}, fmt.Errorf("parse last seen: %w", err)
		}
		rec.LastSeen = &t
	}

	return rec, nil
}

func (s *RedisPresenceStore) Close() error {
	return s.client.Close()
}
