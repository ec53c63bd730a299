package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix     = "clinic:session:"
	userSessionKeyPrefix = "clinic:user_sessions:"
)

// touchScript updates last_seen_at only while the session hash still exists,
// so a touch racing a delete cannot resurrect a partial session.
var touchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return redis.call('HSET', KEYS[1], 'last_seen_at', ARGV[1])
end
return 0
`)

// RedisSessionStore keeps sessions in Redis so they survive restarts and are
// shared between server instances. Each session is a hash that expires with
// the session; a per-user set indexes the session IDs for bulk revocation.
type RedisSessionStore struct {
	client *redis.Client
}

// NewRedisSessionStore connects to redisURL and verifies the connection.
func NewRedisSessionStore(ctx context.Context, redisURL string) (*RedisSessionStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisSessionStore{client: client}, nil
}

// NewRedisSessionStoreWithClient wraps an existing client.
func NewRedisSessionStoreWithClient(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func (s *RedisSessionStore) Save(ctx context.Context, sess *Session) error {
	key := sessionKey(sess.ID)
	userKey := userSessionKey(sess.UserID)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, encodeSession(sess))
		pipe.ExpireAt(ctx, key, sess.ExpiresAt)
		pipe.SAdd(ctx, userKey, sess.ID)
		pipe.ExpireAt(ctx, userKey, sess.ExpiresAt)
		return nil
	})
	if err != nil {
		return Unavailable("store session", err)
	}
	return nil
}

func (s *RedisSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, Unavailable("get session", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	sess, err := decodeSession(id, fields)
	if err != nil {
		return nil, Unavailable("decode session", err)
	}
	return sess, nil
}

func (s *RedisSessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	err := touchScript.Run(ctx, s.client, []string{sessionKey(id)}, at.UTC().Format(time.RFC3339Nano)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Unavailable("touch session", err)
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	key := sessionKey(id)
	userID, err := s.client.HGet(ctx, key, "user_id").Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return Unavailable("delete session", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, userSessionKeyPrefix+userID, id)
		return nil
	})
	if err != nil {
		return Unavailable("delete session", err)
	}
	return nil
}

func (s *RedisSessionStore) DeleteUser(ctx context.Context, userID uuid.UUID, keep string) (int, error) {
	userKey := userSessionKey(userID)
	ids, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return 0, Unavailable("list user sessions", err)
	}

	var dels []*redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			if id == keep {
				continue
			}
			dels = append(dels, pipe.Del(ctx, sessionKey(id)))
			pipe.SRem(ctx, userKey, id)
		}
		return nil
	})
	if err != nil {
		return 0, Unavailable("revoke user sessions", err)
	}

	n := 0
	for _, cmd := range dels {
		n += int(cmd.Val())
	}
	return n, nil
}

// Ping reports whether Redis is reachable.
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func userSessionKey(userID uuid.UUID) string {
	return userSessionKeyPrefix + userID.String()
}

func encodeSession(sess *Session) map[string]any {
	return map[string]any{
		"user_id":      sess.UserID.String(),
		"created_at":   sess.CreatedAt.UTC().Format(time.RFC3339Nano),
		"last_seen_at": sess.LastSeenAt.UTC().Format(time.RFC3339Nano),
		"expires_at":   sess.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
}

func decodeSession(id string, fields map[string]string) (*Session, error) {
	userID, err := uuid.Parse(fields["user_id"])
	if err != nil {
		return nil, fmt.Errorf("user_id: %w", err)
	}
	sess := &Session{ID: id, UserID: userID}
	for name, dst := range map[string]*time.Time{
		"created_at":   &sess.CreatedAt,
		"last_seen_at": &sess.LastSeenAt,
		"expires_at":   &sess.ExpiresAt,
	} {
		t, err := time.Parse(time.RFC3339Nano, fields[name])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		*dst = t
	}
	return sess, nil
}
