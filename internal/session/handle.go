package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/prdlabs/modelarena/internal/imagegen"
)

// Handle is a tracked reference to one image payload handed to a display
// surface. The payload stays pinned until Release, so the UI never holds
// bytes the session has already dropped.
type Handle struct {
	ID   string
	Key  string
	Data []byte
	Mime string
}

// Handles tracks outstanding display handles.
type Handles struct {
	mu   sync.Mutex
	open map[string]*Handle
}

// NewHandles returns an empty tracker.
func NewHandles() *Handles {
	return &Handles{open: make(map[string]*Handle)}
}

// Acquire pins the payload of the image slot with the given key. It
// returns false when the slot has no bytes in memory.
func (h *Handles) Acquire(view *imagegen.View, key string) (*Handle, bool) {
	var handle *Handle
	view.Update(key, func(it *imagegen.ViewItem) {
		if len(it.Data) == 0 {
			return
		}
		handle = &Handle{
			ID:   uuid.NewString(),
			Key:  key,
			Data: it.Data,
		}
	})
	if handle == nil {
		return nil, false
	}

	h.mu.Lock()
	h.open[handle.ID] = handle
	h.mu.Unlock()
	return handle, true
}

// Release drops the handle. Releasing an unknown or already released id is
// a no-op.
func (h *Handles) Release(id string) {
	h.mu.Lock()
	delete(h.open, id)
	h.mu.Unlock()
}

// Open returns the number of outstanding handles.
func (h *Handles) Open() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.open)
}
