package locks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"svnlite/internal/delta"

	redis "github.com/redis/go-redis/v9"
)

// RedisConfig defines the redis connection settings.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	Database int
	// Namespace separates the lock tables of several repositories.
	Namespace string
}

// RedisStore shares a lock table between servers through redis: one string
// key per lock holding its JSON and one set with every locked path.
type RedisStore struct {
	client *redis.Client
	ns     string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.Database,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	ns := cfg.Namespace
	if ns == "" {
		ns = "svnlite"
	}
	return &RedisStore{client: client, ns: ns}, nil
}

func (s *RedisStore) lockKey(path string) string {
	return s.ns + ":lock:/" + path
}

func (s *RedisStore) pathsKey() string {
	return s.ns + ":locks"
}

func (s *RedisStore) Get(ctx context.Context, path string) (*Lock, error) {
	payload, err := s.client.Get(ctx, s.lockKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotLocked
	}
	if err != nil {
		return nil, err
	}
	var lock Lock
	if err := json.Unmarshal(payload, &lock); err != nil {
		return nil, fmt.Errorf("decoding lock %s: %w", path, err)
	}
	return &lock, nil
}

func (s *RedisStore) Create(ctx context.Context, lock Lock) error {
	payload, err := json.Marshal(lock)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.lockKey(lock.Path), payload, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlreadyLocked, lock.Path)
	}
	return s.client.SAdd(ctx, s.pathsKey(), lock.Path).Err()
}

func (s *RedisStore) Delete(ctx context.Context, path, token string, force bool) error {
	key := s.lockKey(path)
	for {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			payload, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", ErrNotLocked, path)
			}
			if err != nil {
				return err
			}
			var existing Lock
			if err := json.Unmarshal(payload, &existing); err != nil {
				return err
			}
			if !force && existing.Token != token {
				return fmt.Errorf("%w: %s", ErrBadToken, path)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, s.pathsKey(), path)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
}

func (s *RedisStore) List(ctx context.Context, path string) ([]Lock, error) {
	paths, err := s.client.SMembers(ctx, s.pathsKey()).Result()
	if err != nil {
		return nil, err
	}

	var locks []Lock
	for _, p := range paths {
		if !delta.IsAncestor(path, p) {
			continue
		}
		lock, err := s.Get(ctx, p)
		if errors.Is(err, ErrNotLocked) {
			// Removed between SMEMBERS and GET.
			continue
		}
		if err != nil {
			return nil, err
		}
		locks = append(locks, *lock)
	}
	sortLocks(locks)
	return locks, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
