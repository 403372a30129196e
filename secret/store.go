package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"regexp"
	"sort"
	"sync"

	"github.com/yaoapp/kun/log"
	"github.com/yaoapp/weave/store"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

// IDPattern the allowed secret identifiers
var IDPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,128}$`)

const nonceSize = 24

// Store secrets encrypted at rest with NaCl secretbox
type Store struct {
	ns     *store.Namespace
	key    [32]byte
	mu     sync.RWMutex
	plain  map[string]string // decrypted values, used for redaction only
	loaded bool
}

// NewStore derives the encryption key from master. An empty master generates
// an ephemeral key: secrets written in this process cannot be read after a restart.
func NewStore(ns *store.Namespace, master string) (*Store, error) {
	s := &Store{ns: ns, plain: map[string]string{}}

	if master == "" {
		log.Warn("[Secret] no master key configured, using an ephemeral key")
		if _, err := io.ReadFull(rand.Reader, s.key[:]); err != nil {
			return nil, err
		}
		return s, nil
	}

	kdf := hkdf.New(sha256.New, []byte(master), []byte("weave.secrets"), []byte("secretbox"))
	if _, err := io.ReadFull(kdf, s.key[:]); err != nil {
		return nil, err
	}
	return s, nil
}

// Put encrypts and stores a secret value
func (s *Store) Put(id string, value string) error {
	if !IDPattern.MatchString(id) {
		return fmt.Errorf("invalid secret identifier %q", id)
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return err
	}
	sealed := secretbox.Seal(nonce[:], []byte(value), &nonce, &s.key)
	if err := s.ns.Set(id, sealed, 0); err != nil {
		return err
	}

	s.mu.Lock()
	s.plain[id] = value
	s.mu.Unlock()
	return nil
}

// Get decrypts a secret. Host side only; never reachable from guest code.
func (s *Store) Get(id string) (string, bool, error) {
	if !IDPattern.MatchString(id) {
		return "", false, nil
	}

	sealed, ok, err := s.ns.Get(id)
	if err != nil || !ok {
		return "", false, err
	}
	if len(sealed) < nonceSize {
		return "", false, fmt.Errorf("secret %s is corrupted", id)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, opened := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !opened {
		return "", false, fmt.Errorf("secret %s could not be decrypted", id)
	}

	value := string(plain)
	s.mu.Lock()
	s.plain[id] = value
	s.mu.Unlock()
	return value, true, nil
}

// Delete removes a secret
func (s *Store) Delete(id string) (bool, error) {
	existed, err := s.ns.Del(id)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	delete(s.plain, id)
	s.mu.Unlock()
	return existed, nil
}

// Exists reports whether the secret is defined
func (s *Store) Exists(id string) bool {
	if !IDPattern.MatchString(id) {
		return false
	}
	return s.ns.Has(id)
}

// List the sorted identifiers
func (s *Store) List() ([]string, error) {
	ids, err := s.ns.Keys("")
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// Redactor a redactor masking every known secret value
func (s *Store) Redactor() *Redactor {
	s.load()
	s.mu.RLock()
	defer s.mu.RUnlock()
	values := make([]string, 0, len(s.plain))
	for _, value := range s.plain {
		values = append(values, value)
	}
	return NewRedactor(values...)
}

// Redact masks every known secret value in text
func (s *Store) Redact(text string) string {
	if text == "" {
		return text
	}
	return s.Redactor().Redact(text)
}

// load decrypts every stored secret once so values written by other nodes are redacted too
func (s *Store) load() {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return
	}

	ids, err := s.List()
	if err != nil {
		log.Error("[Secret] list: %s", err.Error())
		return
	}
	for _, id := range ids {
		if _, _, err := s.Get(id); err != nil {
			log.Warn("[Secret] %s: %s", id, err.Error())
		}
	}

	s.mu.Lock()
	s.loaded = true
	s.mu.Unlock()
}
