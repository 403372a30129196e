package lru

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// Backend the store being cached
type Backend interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte, ttl time.Duration) error
	Del(key string) (bool, error)
	Has(key string) bool
	Keys(prefix string) ([]string, error)
	Close() error
}

// Cache a read-through lru cache in front of a backend
type Cache struct {
	size    int
	lru     *lru.ARCCache
	backend Backend
}
