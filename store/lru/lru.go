package lru

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// New create a new LRU cache in front of the backend
func New(backend Backend, size int) (*Cache, error) {
	arc, err := lru.NewARC(size)
	if err != nil {
		return nil, err
	}
	return &Cache{size: size, lru: arc, backend: backend}, nil
}

// Get looks up a key's value from the cache, then from the backend.
// Entries written with a ttl are not cached.
func (cache *Cache) Get(key string) ([]byte, bool, error) {
	if value, ok := cache.lru.Get(key); ok {
		return clone(value.([]byte)), true, nil
	}

	value, ok, err := cache.backend.Get(key)
	if err != nil || !ok {
		return value, ok, err
	}
	return value, true, nil
}

// Set writes through to the backend
func (cache *Cache) Set(key string, value []byte, ttl time.Duration) error {
	if err := cache.backend.Set(key, value, ttl); err != nil {
		cache.lru.Remove(key)
		return err
	}
	if ttl > 0 {
		cache.lru.Remove(key)
		return nil
	}
	cache.lru.Add(key, clone(value))
	return nil
}

// Del remove is used to purge a key from the cache and the backend
func (cache *Cache) Del(key string) (bool, error) {
	cache.lru.Remove(key)
	return cache.backend.Del(key)
}

// Has check if the key exists
func (cache *Cache) Has(key string) bool {
	if cache.lru.Contains(key) {
		return true
	}
	return cache.backend.Has(key)
}

// Keys always asks the backend
func (cache *Cache) Keys(prefix string) ([]string, error) {
	return cache.backend.Keys(prefix)
}

// Len returns the number of cached entries
func (cache *Cache) Len() int {
	return cache.lru.Len()
}

// Close purges the cache and closes the backend
func (cache *Cache) Close() error {
	cache.lru.Purge()
	return cache.backend.Close()
}

func clone(value []byte) []byte {
	out := make([]byte, len(value))
	copy(out, value)
	return out
}
