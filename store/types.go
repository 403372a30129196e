package store

import "time"

// Store The interface of a key-value repository backend
type Store interface {
	Get(key string) (value []byte, ok bool, err error)
	Set(key string, value []byte, ttl time.Duration) error
	Del(key string) (bool, error)
	Has(key string) bool
	Keys(prefix string) ([]string, error)
	Close() error
}

// Namespaces used by the host
const (
	Scripts  = "scripts"
	Assets   = "assets"
	Secrets  = "secrets"
	Sessions = "sessions"
)

// Option the repository setting
type Option struct {
	Driver    string      `json:"driver" mapstructure:"driver"` // memory | badger | buntdb | redis
	Path      string      `json:"path,omitempty" mapstructure:"path"`
	Redis     RedisOption `json:"redis,omitempty" mapstructure:"redis"`
	CacheSize int         `json:"cacheSize,omitempty" mapstructure:"cacheSize"` // 0 disables the read cache
}

// RedisOption redis connection
type RedisOption struct {
	Addr     string `json:"addr,omitempty" mapstructure:"addr"`
	Password string `json:"password,omitempty" mapstructure:"password"`
	DB       int    `json:"db,omitempty" mapstructure:"db"`
	Prefix   string `json:"prefix,omitempty" mapstructure:"prefix"`
}

// Namespace a store view whose keys are prefixed with "<name>:"
type Namespace struct {
	name   string
	prefix string
	store  Store
}

// Repository the namespaced views the host works with
type Repository struct {
	Store    Store
	Scripts  *Namespace
	Assets   *Namespace
	Secrets  *Namespace
	Sessions *Namespace
}
