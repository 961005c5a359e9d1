// Package runner drives one streaming comparison run.
//
// The orchestrator opens exactly one streaming request per run and folds
// its multiplexed events into runview state on a single goroutine. It does
// no local throttling: concurrency, repeat and timeout parameters are
// forwarded to the execution backend, whose job is scheduling — ours is
// interpreting many items' events arriving on one shared channel in
// arbitrary relative order.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prdlabs/modelarena/internal/experiment"
	"github.com/prdlabs/modelarena/internal/observability"
	"github.com/prdlabs/modelarena/internal/runview"
	"github.com/prdlabs/modelarena/internal/sse"
)

// ExecRequest is the payload sent to the streaming execution backend.
type ExecRequest struct {
	ExperimentID   string                `json:"experimentId"`
	ExpectedFormat string                `json:"expectedFormat,omitempty"`
	Prompt         string                `json:"promptText"`
	Models         []experiment.ModelRef `json:"models"`
	Params         experiment.Params     `json:"params"`
}

// Opener opens one streaming execution request. Implementations: the
// hosted backend over HTTP, or the in-process executor.
type Opener interface {
	OpenRun(ctx context.Context, req ExecRequest) (io.ReadCloser, error)
}

// Orchestrator starts runs against an Opener.
type Orchestrator struct {
	opener  Opener
	log     *slog.Logger
	metrics *observability.Metrics
}

// New creates an orchestrator. log and metrics may be nil.
func New(opener Opener, log *slog.Logger, metrics *observability.Metrics) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{opener: opener, log: log, metrics: metrics}
}

// Run is one in-flight or completed streaming run.
type Run struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	state     *runview.State
	observers []func(*runview.State)
	cancelled bool
}

// Start opens the stream and begins folding events. It returns once the
// stream is open; consumption happens on a background goroutine.
func (o *Orchestrator) Start(ctx context.Context, req ExecRequest) (*Run, error) {
	req.Models = experiment.DedupeModels(req.Models)
	if len(req.Models) == 0 {
		return nil, errors.New("run requires at least one model")
	}

	ctx, cancel := context.WithCancel(ctx)
	body, err := o.opener.OpenRun(ctx, req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open run stream: %w", err)
	}

	run := &Run{
		cancel: cancel,
		done:   make(chan struct{}),
		state:  runview.NewState(),
	}
	if o.metrics != nil {
		o.metrics.RunsStarted.WithLabelValues("chat").Inc()
	}
	go o.consume(run, body)
	return run, nil
}

// consume is the single mutation point for the run's state.
func (o *Orchestrator) consume(run *Run, body io.ReadCloser) {
	started := time.Now()
	defer close(run.done)
	defer body.Close()

	reader := sse.NewReader(body)
	for {
		frame, err := reader.Next()
		if err != nil {
			// EOF and transport aborts both end the run here. Items keep
			// their last state; cancellation is not a per-item verdict.
			if err != io.EOF {
				o.log.Debug("run stream closed", "error", err)
			}
			break
		}

		ev, ok := runview.ParseFrame(frame)
		if !ok {
			// Corrupt or unknown frames must never abort a healthy stream.
			if o.metrics != nil {
				o.metrics.EventsDropped.Inc()
			}
			continue
		}
		if o.metrics != nil {
			o.metrics.EventsDecoded.WithLabelValues(ev.Channel, eventType(ev)).Inc()
		}

		run.mu.Lock()
		run.state.Apply(ev)
		finished := run.state.Finished
		snapshot := run.state.Clone()
		observers := run.observers
		run.mu.Unlock()

		for _, fn := range observers {
			fn(snapshot)
		}
		if finished && run.state.Failed {
			// Run-level error: surface once, stop consuming.
			break
		}
	}

	if o.metrics != nil {
		o.metrics.StreamDuration.WithLabelValues("chat").Observe(time.Since(started).Seconds())
		o.metrics.RunsFinished.WithLabelValues("chat", run.outcome()).Inc()
	}
}

func eventType(ev runview.Event) string {
	switch {
	case ev.Run != nil:
		return ev.Run.Type
	case ev.Model != nil:
		return ev.Model.Type
	case ev.Image != nil:
		return ev.Image.Type
	}
	return "unknown"
}

// Cancel aborts the transport. In-flight items freeze at their last known
// state; nothing is retroactively marked.
func (r *Run) Cancel() {
	r.mu.Lock()
	r.cancelled = true
	r.mu.Unlock()
	r.cancel()
}

// Wait blocks until the stream is fully consumed or aborted.
func (r *Run) Wait() {
	<-r.done
}

// Done exposes completion for select loops.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// State returns a deep copy of the current run state.
func (r *Run) State() *runview.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Subscribe registers an observer called with a state copy after every
// applied event. Observers only read; they never mutate run state.
func (r *Run) Subscribe(fn func(*runview.State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

func (r *Run) outcome() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.cancelled:
		return "cancelled"
	case r.state.Failed:
		return "error"
	default:
		return "done"
	}
}
