package experiment

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prdlabs/modelarena/internal/debounce"
)

// Autosaver persists experiment mutations on a debounce window so bursts
// of edits coalesce into one store write. Save failures are logged and
// dropped: the store is last-write-wins and the next mutation retries.
type Autosaver struct {
	client *StoreClient
	log    *slog.Logger
	trig   *debounce.Trigger

	mu      sync.Mutex
	pending *Experiment
}

// NewAutosaver creates an autosaver flushing delay after the last change.
func NewAutosaver(client *StoreClient, delay time.Duration, log *slog.Logger) *Autosaver {
	if log == nil {
		log = slog.Default()
	}
	a := &Autosaver{client: client, log: log}
	a.trig = debounce.NewTrigger(delay, a.save)
	return a
}

// Changed records the latest experiment state and schedules a save.
func (a *Autosaver) Changed(exp *Experiment) {
	snapshot := *exp
	a.mu.Lock()
	a.pending = &snapshot
	a.mu.Unlock()
	a.trig.Kick()
}

// Flush saves any pending state immediately.
func (a *Autosaver) Flush() {
	a.trig.Flush()
}

// Close flushes and stops the timer.
func (a *Autosaver) Close() {
	a.trig.Flush()
	a.trig.Stop()
}

func (a *Autosaver) save() {
	a.mu.Lock()
	exp := a.pending
	a.pending = nil
	a.mu.Unlock()
	if exp == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.client.Update(ctx, exp); err != nil {
		a.log.Warn("experiment autosave failed", "id", exp.ID, "error", err)
	}
}
