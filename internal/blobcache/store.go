// Package blobcache is the binary tier of the local cache: image payloads
// keyed by (user, item key), stored on disk so results survive reloads.
//
// The structured snapshot tier never carries bytes; it records a
// hasLocalBlob marker and this store resolves it on rehydration.
package blobcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Store persists blobs under base/<user>/<hashed key>.bin. Writes are
// atomic (temp file then rename) and deduplicated within one process
// session by a written-set, so re-renders do not rewrite identical keys.
type Store struct {
	base    string
	written *writtenSet
	log     *slog.Logger
}

// New creates the store rooted at base.
func New(base string, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create blob cache directory: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{base: base, written: newWrittenSet(), log: log}, nil
}

// Put stores data for key, once per (user, key) per session. It reports
// whether bytes hit the disk: false with a nil error means the written-set
// already held the key and the write was deduplicated.
func (s *Store) Put(userID, key string, data []byte) (bool, error) {
	if userID == "" || key == "" {
		return false, fmt.Errorf("blob key requires user and key")
	}
	setKey := userID + "\x00" + key
	if s.written.seen(setKey) {
		return false, nil
	}

	dir := filepath.Join(s.base, sanitize(userID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create user blob directory: %w", err)
	}
	path := filepath.Join(dir, hashKey(key)+".bin")

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return false, fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return false, fmt.Errorf("rename blob: %w", err)
	}

	s.written.add(setKey)
	s.log.Debug("blob written", "user", userID, "key", key, "bytes", len(data))
	return true, nil
}

// Get returns the blob for key, or ok=false if it is not cached.
func (s *Store) Get(userID, key string) ([]byte, bool, error) {
	path := filepath.Join(s.base, sanitize(userID), hashKey(key)+".bin")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read blob: %w", err)
	}
	return data, true, nil
}

// Clear removes all blobs for the user and forgets their written-set
// entries so the keys can be written again.
func (s *Store) Clear(userID string) error {
	if err := os.RemoveAll(filepath.Join(s.base, sanitize(userID))); err != nil {
		return fmt.Errorf("clear user blobs: %w", err)
	}
	s.written.forgetPrefix(userID + "\x00")
	return nil
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		}
		return '_'
	}, s)
}
