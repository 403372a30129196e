package buntdb

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/buntdb"
	"github.com/yaoapp/kun/log"
)

// BuntDB BuntDB store
type BuntDB struct {
	db *buntdb.DB
}

// New open a BuntDB datafile. When the directory does not exist, or the path
// is ":memory:", the store lives in memory.
func New(datafile string) (*BuntDB, error) {
	if datafile != ":memory:" {
		if _, err := os.Stat(filepath.Dir(datafile)); err != nil {
			log.Warn("[Store] buntdb %s is not reachable, using memory", datafile)
			datafile = ":memory:"
		}
	}

	db, err := buntdb.Open(datafile)
	if err != nil {
		return nil, err
	}
	return &BuntDB{db: db}, nil
}

// Get looks up a key's value
func (bunt *BuntDB) Get(key string) ([]byte, bool, error) {
	var value string
	err := bunt.db.View(func(tx *buntdb.Tx) error {
		var err error
		value, err = tx.Get(key)
		return err
	})

	if errors.Is(err, buntdb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		log.Error("Store buntdb Get: %s key %s", err.Error(), key)
		return nil, false, err
	}
	return []byte(value), true, nil
}

// Set a value with an optional ttl
func (bunt *BuntDB) Set(key string, value []byte, ttl time.Duration) error {
	var option *buntdb.SetOptions
	if ttl > 0 {
		option = &buntdb.SetOptions{Expires: true, TTL: ttl}
	}

	err := bunt.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(value), option)
		return err
	})
	if err != nil {
		log.Error("Store buntdb Set: %s key %s", err.Error(), key)
		return err
	}
	return nil
}

// Del removes a key
func (bunt *BuntDB) Del(key string) (bool, error) {
	err := bunt.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Has check if the key exists
func (bunt *BuntDB) Has(key string) bool {
	_, has, _ := bunt.Get(key)
	return has
}

// Keys the keys with the prefix, in ascending order
func (bunt *BuntDB) Keys(prefix string) ([]string, error) {
	keys := []string{}
	err := bunt.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendGreaterOrEqual("", prefix, func(key, value string) bool {
			if len(key) < len(prefix) || key[:len(prefix)] != prefix {
				return false
			}
			keys = append(keys, key)
			return true
		})
	})
	return keys, err
}

// Close the database
func (bunt *BuntDB) Close() error {
	return bunt.db.Close()
}
