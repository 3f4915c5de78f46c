package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"localmind/config"
)

// RedisRepository keeps sessions in Redis with a retention TTL.
type RedisRepository struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisRepository connects to Redis and verifies the connection.
func NewRedisRepository(ctx context.Context, cfg config.RedisConfig, sess config.SessionConfig) (*RedisRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	sess = sess.Normalize()
	return &RedisRepository{
		client:    client,
		retention: time.Duration(sess.RetentionDays) * 24 * time.Hour,
	}, nil
}

// Client exposes the underlying connection for lock helpers.
func (r *RedisRepository) Client() *redis.Client { return r.client }

func sessionKey(id string) string { return "localmind:session:" + id }
func userSetKey(userID string) string { return "localmind:user_sessions:" + userID }

func (r *RedisRepository) Create(ctx context.Context, userID string) (Session, error) {
	s := NewSession(userID)
	if err := r.Save(ctx, s); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (r *RedisRepository) Get(ctx context.Context, id string) (Session, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("loading session %s: %w", id, err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return s, nil
}

func (r *RedisRepository) Save(ctx context.Context, s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKey(s.ID), data, r.retention)
	pipe.SAdd(ctx, userSetKey(s.UserID), s.ID)
	pipe.Expire(ctx, userSetKey(s.UserID), r.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving session %s: %w", s.ID, err)
	}
	return nil
}

func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	s, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.SRem(ctx, userSetKey(s.UserID), id)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisRepository) List(ctx context.Context, userID string) ([]Session, error) {
	ids, err := r.client.SMembers(ctx, userSetKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		s, err := r.Get(ctx, id)
		if err == ErrNotFound {
			// expired entry still in the set
			r.client.SRem(ctx, userSetKey(userID), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ListAll scans every stored session key. The compaction sweep uses this
// because it must see sessions of all users.
func (r *RedisRepository) ListAll(ctx context.Context) ([]Session, error) {
	var out []Session
	iter := r.client.Scan(ctx, 0, sessionKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), sessionKey(""))
		s, err := r.Get(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning sessions: %w", err)
	}
	return out, nil
}

// AcquireLock takes a best-effort distributed lock, returning a release
// func when acquired.
func AcquireLock(ctx context.Context, client *redis.Client, name string, ttl time.Duration) (func(), bool) {
	key := "localmind:lock:" + name
	ok, err := client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil || !ok {
		return nil, false
	}
	return func() { client.Del(context.Background(), key) }, true
}
