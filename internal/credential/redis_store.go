package credential

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/peace-chat/internal/domain"
)

// RedisStore keeps one hash per user at "<prefix>:<lowercased username>"
// and the set of keys at "<prefix>:index".
type RedisStore struct {
	client *redis.Client
	prefix string
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.Prefix), nil
}

func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "chat:user"
	}
	return &RedisStore{client: client, prefix: prefix}
}

const (
	fieldUsername    = "username"
	fieldPassword    = "password"
	fieldLastCleared = "lastCleared"
)

// raiseLastCleared returns -1 when the user does not exist.
var raiseLastCleared = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local cur = tonumber(redis.call('HGET', KEYS[1], 'lastCleared') or '0')
local at = tonumber(ARGV[1])
if at > cur then
  redis.call('HSET', KEYS[1], 'lastCleared', at)
  return at
end
return cur
`)

func (s *RedisStore) key(username string) string {
	return s.prefix + ":" + normalize(username)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":index"
}

func parseUser(fields map[string]string) (*domain.User, error) {
	if len(fields) == 0 || fields[fieldUsername] == "" {
		return nil, ErrUserNotFound
	}
	u := &domain.User{
		Username: fields[fieldUsername],
		Password: fields[fieldPassword],
	}
	if v := fields[fieldLastCleared]; v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid lastCleared for %s: %w", u.Username, err)
		}
		u.LastCleared = n
	}
	return u, nil
}

func (s *RedisStore) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	fields, err := s.client.HGetAll(ctx, s.key(username)).Result()
	if err != nil {
		return nil, err
	}
	return parseUser(fields)
}

func (s *RedisStore) Create(ctx context.Context, user *domain.User) error {
	key := s.key(user.Username)

	ok, err := s.client.HSetNX(ctx, key, fieldUsername, strings.TrimSpace(user.Username)).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrUsernameExists
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldPassword, user.Password, fieldLastCleared, user.LastCleared)
		pipe.SAdd(ctx, s.indexKey(), key)
		return nil
	})
	return err
}

func (s *RedisStore) UpdatePassword(ctx context.Context, username, password string) error {
	key := s.key(username)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrUserNotFound
	}
	return s.client.HSet(ctx, key, fieldPassword, password).Err()
}

func (s *RedisStore) SetLastCleared(ctx context.Context, username string, at int64) (int64, error) {
	stored, err := raiseLastCleared.Run(ctx, s.client, []string{s.key(username)}, at).Int64()
	if err != nil {
		return 0, err
	}
	if stored < 0 {
		return 0, ErrUserNotFound
	}
	return stored, nil
}

func (s *RedisStore) Delete(ctx context.Context, username string) error {
	key := s.key(username)
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, key)
		pipe.SRem(ctx, s.indexKey(), key)
		return nil
	})
	if err != nil {
		return err
	}
	if del.Val() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]domain.User, error) {
	keys, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HGetAll(ctx, k)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	users := make([]domain.User, 0, len(keys))
	for _, cmd := range cmds {
		u, err := parseUser(cmd.Val())
		if errors.Is(err, ErrUserNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
