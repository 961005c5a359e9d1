package snapshot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prdlabs/modelarena/internal/debounce"
	"github.com/prdlabs/modelarena/internal/observability"
)

const saveTimeout = 10 * time.Second

// Writer debounces snapshot saves. Callers hand it a fresh snapshot on
// every state change; only the latest one survives the debounce window, so
// a burst of stream events costs a single database write.
type Writer struct {
	store   *Store
	log     *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	pending *Snapshot

	trigger *debounce.Trigger
}

// NewWriter creates a debounced writer over store. log and metrics may be
// nil.
func NewWriter(store *Store, delay time.Duration, log *slog.Logger, metrics *observability.Metrics) *Writer {
	if log == nil {
		log = slog.Default()
	}
	w := &Writer{store: store, log: log, metrics: metrics}
	w.trigger = debounce.NewTrigger(delay, w.save)
	return w
}

// Store returns the underlying snapshot store.
func (w *Writer) Store() *Store {
	return w.store
}

// Queue records snap as the latest state and (re)arms the debounce timer.
func (w *Writer) Queue(snap *Snapshot) {
	w.mu.Lock()
	w.pending = snap
	w.mu.Unlock()
	w.trigger.Kick()
}

// Flush writes any pending snapshot immediately.
func (w *Writer) Flush() {
	w.trigger.Flush()
}

// Close flushes and stops the writer.
func (w *Writer) Close() {
	w.trigger.Flush()
	w.trigger.Stop()
}

func (w *Writer) save() {
	w.mu.Lock()
	snap := w.pending
	w.pending = nil
	w.mu.Unlock()
	if snap == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := w.store.Save(ctx, snap); err != nil {
		w.log.Warn("snapshot save failed", "user", snap.UserID, "error", err)
		if w.metrics != nil {
			w.metrics.SnapshotWrites.WithLabelValues("error").Inc()
		}
		return
	}
	if w.metrics != nil {
		w.metrics.SnapshotWrites.WithLabelValues("ok").Inc()
	}
}
