package store

import (
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/yaoapp/kun/log"
	"github.com/yaoapp/weave/store/badger"
	"github.com/yaoapp/weave/store/buntdb"
	"github.com/yaoapp/weave/store/lru"
	"github.com/yaoapp/weave/store/memory"
	"github.com/yaoapp/weave/store/redis"
)

// Open create the backend described by the option
func Open(option Option) (Store, error) {
	var backend Store
	var err error

	switch strings.ToLower(option.Driver) {
	case "", "memory":
		backend = memory.New()

	case "badger":
		if option.Path == "" {
			return nil, fmt.Errorf("store badger: path is required")
		}
		backend, err = badger.New(option.Path)

	case "buntdb":
		path := option.Path
		if path == "" {
			path = ":memory:"
		}
		backend, err = buntdb.New(path)

	case "redis":
		backend, err = redis.New(redis.Option{
			Addr:     option.Redis.Addr,
			Password: option.Redis.Password,
			DB:       option.Redis.DB,
			Prefix:   option.Redis.Prefix,
		})

	default:
		return nil, fmt.Errorf("store driver %s does not support", option.Driver)
	}

	if err != nil {
		return nil, err
	}

	if option.CacheSize > 0 {
		cached, err := lru.New(backend, option.CacheSize)
		if err != nil {
			backend.Close()
			return nil, err
		}
		log.Trace("[Store] %s with a read cache of %d entries", option.Driver, option.CacheSize)
		return cached, nil
	}

	return backend, nil
}

// NewRepository wraps a backend into the host namespaces
func NewRepository(backend Store) *Repository {
	return &Repository{
		Store:    backend,
		Scripts:  NewNamespace(backend, Scripts),
		Assets:   NewNamespace(backend, Assets),
		Secrets:  NewNamespace(backend, Secrets),
		Sessions: NewNamespace(backend, Sessions),
	}
}

// Close the underlying backend
func (repo *Repository) Close() error {
	return repo.Store.Close()
}

// NewNamespace create a namespaced view
func NewNamespace(backend Store, name string) *Namespace {
	return &Namespace{name: name, prefix: name + ":", store: backend}
}

// Name the namespace name
func (ns *Namespace) Name() string { return ns.name }

// Get a value, nil when missing
func (ns *Namespace) Get(key string) ([]byte, bool, error) {
	return ns.store.Get(ns.prefix + key)
}

// Set a value
func (ns *Namespace) Set(key string, value []byte, ttl time.Duration) error {
	return ns.store.Set(ns.prefix+key, value, ttl)
}

// Del a value, reporting whether it existed
func (ns *Namespace) Del(key string) (bool, error) {
	return ns.store.Del(ns.prefix + key)
}

// Has reports whether the key exists
func (ns *Namespace) Has(key string) bool {
	return ns.store.Has(ns.prefix + key)
}

// Keys the keys of the namespace, without the namespace prefix
func (ns *Namespace) Keys(prefix string) ([]string, error) {
	keys, err := ns.store.Keys(ns.prefix + prefix)
	if err != nil {
		return nil, err
	}
	for i := range keys {
		keys[i] = strings.TrimPrefix(keys[i], ns.prefix)
	}
	return keys, nil
}

// Close is a no-op; the repository owns the backend
func (ns *Namespace) Close() error { return nil }

// GetJSON decodes the value stored at key into v
func (ns *Namespace) GetJSON(key string, v interface{}) (bool, error) {
	data, ok, err := ns.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := jsoniter.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("store %s %s: %s", ns.name, key, err.Error())
	}
	return true, nil
}

// SetJSON encodes v and stores it at key
func (ns *Namespace) SetJSON(key string, v interface{}, ttl time.Duration) error {
	data, err := jsoniter.Marshal(v)
	if err != nil {
		return err
	}
	return ns.Set(key, data, ttl)
}
