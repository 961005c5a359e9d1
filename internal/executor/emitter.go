package executor

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/prdlabs/modelarena/internal/runview"
)

// emitter serializes events onto one SSE stream. Writes are mutex-guarded
// because concurrent item goroutines share the pipe; the per-item event
// order is preserved, the cross-item interleaving is whatever the
// scheduler produces, which is exactly what the decoder tolerates.
type emitter struct {
	mu sync.Mutex
	w  io.Writer
}

func newEmitter(w io.Writer) *emitter {
	return &emitter{w: w}
}

func (e *emitter) frame(channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", channel, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", channel, data)
	return err
}

func (e *emitter) model(ev *runview.ModelEvent) error {
	return e.frame(runview.ChannelModel, ev)
}

func (e *emitter) run(ev *runview.RunEvent) error {
	return e.frame(runview.ChannelRun, ev)
}

func (e *emitter) image(ev *runview.ImageEvent) error {
	return e.frame(runview.ChannelImage, ev)
}
