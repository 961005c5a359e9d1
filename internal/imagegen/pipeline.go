package imagegen

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prdlabs/modelarena/internal/experiment"
	"github.com/prdlabs/modelarena/internal/jsonshape"
	"github.com/prdlabs/modelarena/internal/observability"
	"github.com/prdlabs/modelarena/internal/runview"
	"github.com/prdlabs/modelarena/internal/sse"
)

// Planner resolves free-form batch instructions into a Plan. Planning is
// read-only: it must never itself trigger generation spend.
type Planner interface {
	BuildPlan(ctx context.Context, instruction, systemPrompt string) (*Plan, error)
}

// BatchRequest is the payload of one per-model streaming batch request.
type BatchRequest struct {
	Items       []PlanItem `json:"items"`
	Concurrency int        `json:"concurrency"`
	Encoding    string     `json:"encoding,omitempty"`
}

// BatchOpener opens one streaming batch generation request for one model.
type BatchOpener interface {
	OpenBatch(ctx context.Context, model experiment.ModelRef, req BatchRequest) (io.ReadCloser, error)
}

// Stop is the cooperative stop flag for a batch generation loop. It is
// checked between per-model iterations and additionally aborts the current
// model's transport. Results of models finished before the stop are
// retained, never rolled back.
type Stop struct {
	flag atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Trigger requests the loop to stop.
func (s *Stop) Trigger() {
	s.flag.Store(true)
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stopped reports whether a stop was requested.
func (s *Stop) Stopped() bool {
	return s.flag.Load()
}

func (s *Stop) track(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

// Pipeline runs the two-phase image batch flow.
type Pipeline struct {
	planner Planner
	opener  BatchOpener
	log     *slog.Logger
	metrics *observability.Metrics
}

// NewPipeline creates a pipeline. log and metrics may be nil.
func NewPipeline(planner Planner, opener BatchOpener, log *slog.Logger, metrics *observability.Metrics) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{planner: planner, opener: opener, log: log, metrics: metrics}
}

// BuildPlan resolves the instruction into a plan and mines a size for
// every item that lacks an explicit one, from that item's own prompt only.
// The result is shown for confirmation; no generation happens here.
func (p *Pipeline) BuildPlan(ctx context.Context, instruction, systemPrompt string) (*Plan, error) {
	plan, err := p.planner.BuildPlan(ctx, instruction, systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("build plan: %w", err)
	}

	total := 0
	for i := range plan.Items {
		item := &plan.Items[i]
		if item.Count < 1 {
			item.Count = 1
		}
		if item.Size == "" {
			if info := jsonshape.Infer(item.Prompt); info.Size != "" {
				item.Size = info.Size
			}
		}
		total += item.Count
	}
	plan.Total = total
	return plan, nil
}

// GenerateOptions tunes the generation phase.
type GenerateOptions struct {
	// Concurrency is the per-model budget forwarded to the backend.
	Concurrency int

	// Encoding is the desired payload encoding (for example "b64").
	Encoding string

	// Stop aborts the loop cooperatively. Optional.
	Stop *Stop
}

// Generate runs the confirmed plan against each model sequentially, so
// results group cleanly by model, folding each stream's image events into
// the view. A per-model failure fails that model's remaining slots and the
// loop continues with the next model.
func (p *Pipeline) Generate(ctx context.Context, models []experiment.ModelRef, plan *Plan, view *View, opts GenerateOptions) error {
	models = experiment.DedupeModels(models)
	view.PlaceholdersBatch(models, plan)

	req := BatchRequest{Items: plan.Items, Concurrency: opts.Concurrency, Encoding: opts.Encoding}
	if req.Concurrency < 1 {
		req.Concurrency = 1
	}

	for _, model := range models {
		if opts.Stop != nil && opts.Stop.Stopped() {
			p.log.Debug("batch generation stopped between models", "next", model.Model)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := p.generateModel(ctx, model, req, view, opts.Stop); err != nil {
			if ctx.Err() != nil || (opts.Stop != nil && opts.Stop.Stopped()) {
				// Aborted mid-model: finished models' results stay.
				return nil
			}
			// One backend failing is steady state, not a loop abort.
			p.log.Warn("batch generation failed for model", "model", model.Model, "error", err)
			p.failRemaining(view, model, plan, err)
		}
	}
	return nil
}

func (p *Pipeline) generateModel(ctx context.Context, model experiment.ModelRef, req BatchRequest, view *View, stop *Stop) error {
	modelCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if stop != nil {
		stop.track(cancel)
		defer stop.track(nil)
	}

	body, err := p.opener.OpenBatch(modelCtx, model, req)
	if err != nil {
		return fmt.Errorf("open batch stream: %w", err)
	}
	defer body.Close()

	if p.metrics != nil {
		p.metrics.RunsStarted.WithLabelValues("imageBatch").Inc()
	}
	started := time.Now()

	reader := sse.NewReader(body)
	for {
		frame, err := reader.Next()
		if err != nil {
			break
		}
		ev, ok := runview.ParseFrame(frame)
		if !ok {
			if p.metrics != nil {
				p.metrics.EventsDropped.Inc()
			}
			continue
		}
		if ev.Image == nil {
			// Run channel carries batch-level errors.
			if ev.Run != nil && ev.Run.Type == runview.RunError {
				return fmt.Errorf("batch stream error: %s", ev.Run.Message)
			}
			continue
		}
		if p.metrics != nil {
			p.metrics.EventsDecoded.WithLabelValues(runview.ChannelImage, ev.Image.Type).Inc()
		}
		view.Apply(ev.Image)
	}

	if p.metrics != nil {
		p.metrics.StreamDuration.WithLabelValues("imageBatch").Observe(time.Since(started).Seconds())
	}
	return nil
}

// SingleGenerator is the request/response single-image collaborator.
type SingleGenerator interface {
	GenerateSingle(ctx context.Context, model experiment.ModelRef, prompt, size string, n int) ([]SingleResult, error)
}

// GenerateSingle runs single mode: perModel variants of one prompt for
// each model, sequentially. The slot count is model count x perModel.
func (p *Pipeline) GenerateSingle(ctx context.Context, gen SingleGenerator, groupID string, models []experiment.ModelRef, prompt, size string, perModel int, view *View, stop *Stop) error {
	models = experiment.DedupeModels(models)
	if perModel < 1 {
		perModel = 1
	}
	view.PlaceholdersSingle(groupID, models, prompt, size, perModel)

	for _, model := range models {
		if stop != nil && stop.Stopped() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		results, err := gen.GenerateSingle(ctx, model, prompt, size, perModel)
		if err != nil {
			p.log.Warn("single generation failed for model", "model", model.Model, "error", err)
			for variant := 0; variant < perModel; variant++ {
				view.Update(SingleKey(groupID, model.Model, variant), func(it *ViewItem) {
					if !it.terminal() {
						it.Status = StatusError
						it.ErrMessage = err.Error()
					}
				})
			}
			continue
		}

		for variant := 0; variant < perModel; variant++ {
			ev := &runview.ImageEvent{
				Type:         runview.ImageDone,
				GroupID:      groupID,
				ModelID:      model.Model,
				VariantIndex: variant,
			}
			if variant < len(results) {
				ev.URL = results[variant].URL
				ev.B64Data = results[variant].B64Data
				ev.EffectiveSize = results[variant].EffectiveSize
			} else {
				ev.Type = runview.ImageError
				ev.Message = "backend returned fewer images than requested"
			}
			view.Apply(ev)
		}
	}
	return nil
}

// failRemaining marks this model's still-pending slots as failed so the
// grid shows what the broken backend owed, without touching other models.
func (p *Pipeline) failRemaining(view *View, model experiment.ModelRef, plan *Plan, cause error) {
	for itemIdx, item := range plan.Items {
		count := item.Count
		if count < 1 {
			count = 1
		}
		for imgIdx := 0; imgIdx < count; imgIdx++ {
			view.Update(BatchKey(model.Model, itemIdx, imgIdx), func(it *ViewItem) {
				if !it.terminal() {
					it.Status = StatusError
					it.ErrMessage = cause.Error()
				}
			})
		}
	}
}
