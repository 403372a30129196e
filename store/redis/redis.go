package redis

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/yaoapp/kun/log"
)

// New connect to redis
func New(option Option) (*Store, error) {
	if option.Addr == "" {
		option.Addr = "127.0.0.1:6379"
	}
	if option.Timeout == 0 {
		option.Timeout = 5 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     option.Addr,
		Password: option.Password,
		DB:       option.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), option.Timeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}

	return &Store{rdb: rdb, Option: option}, nil
}

// NewWithClient wraps an existing client
func NewWithClient(rdb *redis.Client, prefix string) *Store {
	return &Store{rdb: rdb, Option: Option{Prefix: prefix, Timeout: 5 * time.Second}}
}

// Client the underlying redis client
func (store *Store) Client() *redis.Client { return store.rdb }

func (store *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), store.Option.Timeout)
}

// Get looks up a key's value from the store.
func (store *Store) Get(key string) ([]byte, bool, error) {
	ctx, cancel := store.ctx()
	defer cancel()

	key = store.Option.Prefix + key
	val, err := store.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		log.Error("Store redis Get %s: %s", key, err.Error())
		return nil, false, err
	}
	return val, true, nil
}

// Set adds a value to the store.
func (store *Store) Set(key string, value []byte, ttl time.Duration) error {
	ctx, cancel := store.ctx()
	defer cancel()

	key = store.Option.Prefix + key
	err := store.rdb.Set(ctx, key, value, ttl).Err()
	if err != nil {
		log.Error("Store redis Set %s: %s", key, err.Error())
		return err
	}
	return nil
}

// Del remove is used to purge a key from the store
func (store *Store) Del(key string) (bool, error) {
	ctx, cancel := store.ctx()
	defer cancel()

	n, err := store.rdb.Del(ctx, store.Option.Prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Has check if the key exists
func (store *Store) Has(key string) bool {
	ctx, cancel := store.ctx()
	defer cancel()

	v, _ := store.rdb.Exists(ctx, store.Option.Prefix+key).Result()
	return v == 1
}

// Keys returns the keys with the prefix
func (store *Store) Keys(prefix string) ([]string, error) {
	ctx, cancel := store.ctx()
	defer cancel()

	keys := []string{}
	iter := store.rdb.Scan(ctx, 0, store.Option.Prefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), store.Option.Prefix))
	}
	if err := iter.Err(); err != nil {
		log.Error("Store redis Keys: %s", err.Error())
		return nil, err
	}

	sort.Strings(keys)
	return keys, nil
}

// Close the connection
func (store *Store) Close() error {
	return store.rdb.Close()
}
