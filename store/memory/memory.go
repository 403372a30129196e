package memory

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory an in-process store
type Memory struct {
	mu   sync.RWMutex
	data map[string]item
}

type item struct {
	value   []byte
	expires time.Time
}

func (it item) expired(now time.Time) bool {
	return !it.expires.IsZero() && now.After(it.expires)
}

// New create a new memory store
func New() *Memory {
	return &Memory{data: map[string]item{}}
}

// Get looks up a key's value
func (mem *Memory) Get(key string) ([]byte, bool, error) {
	mem.mu.RLock()
	it, has := mem.data[key]
	mem.mu.RUnlock()
	if !has || it.expired(time.Now()) {
		return nil, false, nil
	}
	value := make([]byte, len(it.value))
	copy(value, it.value)
	return value, true, nil
}

// Set adds a value; ttl 0 never expires
func (mem *Memory) Set(key string, value []byte, ttl time.Duration) error {
	it := item{value: make([]byte, len(value))}
	copy(it.value, value)
	if ttl > 0 {
		it.expires = time.Now().Add(ttl)
	}
	mem.mu.Lock()
	mem.data[key] = it
	mem.mu.Unlock()
	return nil
}

// Del removes a key
func (mem *Memory) Del(key string) (bool, error) {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	it, has := mem.data[key]
	if !has {
		return false, nil
	}
	delete(mem.data, key)
	return !it.expired(time.Now()), nil
}

// Has check if the key exists
func (mem *Memory) Has(key string) bool {
	_, has, _ := mem.Get(key)
	return has
}

// Keys the sorted keys with the prefix
func (mem *Memory) Keys(prefix string) ([]string, error) {
	now := time.Now()
	keys := []string{}

	mem.mu.Lock()
	for key, it := range mem.data {
		if it.expired(now) {
			delete(mem.data, key)
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	mem.mu.Unlock()

	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op
func (mem *Memory) Close() error { return nil }
