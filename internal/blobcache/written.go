package blobcache

import (
	"strings"
	"sync"
)

// writtenSet remembers which (user, key) pairs were already persisted in
// this process, preventing redundant writes of identical content across
// re-renders. It is intentionally not durable: a fresh process re-verifies
// by writing once.
type writtenSet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newWrittenSet() *writtenSet {
	return &writtenSet{keys: make(map[string]struct{})}
}

func (w *writtenSet) seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.keys[key]
	return ok
}

func (w *writtenSet) add(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.keys[key] = struct{}{}
}

func (w *writtenSet) forgetPrefix(prefix string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for k := range w.keys {
		if strings.HasPrefix(k, prefix) {
			delete(w.keys, k)
		}
	}
}
