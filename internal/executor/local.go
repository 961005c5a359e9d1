package executor

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prdlabs/modelarena/internal/experiment"
	"github.com/prdlabs/modelarena/internal/imagegen"
	"github.com/prdlabs/modelarena/internal/runner"
	"github.com/prdlabs/modelarena/internal/runview"
)

// Local executes runs in-process and serves them as SSE streams over an
// io.Pipe. It satisfies the same opener contracts as the hosted backend.
type Local struct {
	registry *Registry
	log      *slog.Logger
}

// NewLocal creates a local executor over the given backend registry.
func NewLocal(registry *Registry, log *slog.Logger) *Local {
	if log == nil {
		log = slog.Default()
	}
	return &Local{registry: registry, log: log}
}

// OpenRun starts all model invocations of the request and returns the
// read side of their multiplexed event stream.
func (l *Local) OpenRun(ctx context.Context, req runner.ExecRequest) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	go l.runAll(ctx, req, newEmitter(pw), pw)
	return pr, nil
}

func (l *Local) runAll(ctx context.Context, req runner.ExecRequest, em *emitter, pw *io.PipeWriter) {
	repeatN := req.Params.RepeatN
	if repeatN < 1 {
		repeatN = 1
	}
	maxConc := req.Params.MaxConcurrency
	if maxConc < 1 {
		maxConc = len(req.Models) * repeatN
	}
	sem := make(chan struct{}, maxConc)
	started := time.Now()

	var wg sync.WaitGroup
	for _, model := range req.Models {
		for repeat := 0; repeat < repeatN; repeat++ {
			wg.Add(1)
			go func(model experiment.ModelRef, repeat int) {
				defer wg.Done()
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					return
				}
				l.invoke(ctx, req, model, repeat, repeatN, started, em)
			}(model, repeat)
		}
	}
	wg.Wait()

	if ctx.Err() == nil {
		em.run(&runview.RunEvent{Type: runview.RunDone})
	}
	pw.Close()
}

// invoke runs one item: modelStart, deltas, and a terminal event. Emitter
// write failures mean the reader went away, so the item just stops.
func (l *Local) invoke(ctx context.Context, req runner.ExecRequest, model experiment.ModelRef, repeat, repeatN int, started time.Time, em *emitter) {
	itemID := uuid.NewString()
	queueMs := time.Since(started).Milliseconds()

	if err := em.model(&runview.ModelEvent{
		Type:        runview.ModelStart,
		ItemID:      itemID,
		ModelID:     model.Model,
		ModelName:   model.Model,
		DisplayName: model.DisplayName,
		RepeatIndex: repeat,
		RepeatN:     repeatN,
		QueueMs:     queueMs,
	}); err != nil {
		return
	}

	fail := func(message string, elapsed time.Duration) {
		em.model(&runview.ModelEvent{
			Type:    runview.ModelError,
			ItemID:  itemID,
			TotalMs: elapsed.Milliseconds(),
			Message: message,
		})
	}

	streamer, err := l.registry.Chat(model.Platform)
	if err != nil {
		fail(err.Error(), 0)
		return
	}

	itemCtx := ctx
	if req.Params.TimeoutMs > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, time.Duration(req.Params.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	begun := time.Now()
	chunks, err := streamer.StreamChat(itemCtx, ChatRequest{
		Model:       model.Model,
		Prompt:      req.Prompt,
		Temperature: req.Params.Temperature,
		MaxTokens:   req.Params.MaxTokens,
	})
	if err != nil {
		fail(err.Error(), time.Since(begun))
		return
	}

	first := true
	for chunk := range chunks {
		if chunk.Err != nil {
			fail(chunk.Err.Error(), time.Since(begun))
			return
		}
		if chunk.Text == "" {
			continue
		}
		if first {
			first = false
			if err := em.model(&runview.ModelEvent{
				Type:   runview.FirstToken,
				ItemID: itemID,
				TTFTMs: time.Since(begun).Milliseconds(),
			}); err != nil {
				return
			}
		}
		if err := em.model(&runview.ModelEvent{
			Type:   runview.ModelDelta,
			ItemID: itemID,
			Text:   chunk.Text,
		}); err != nil {
			return
		}
	}
	if itemCtx.Err() != nil {
		fail("invocation timed out", time.Since(begun))
		return
	}

	em.model(&runview.ModelEvent{
		Type:    runview.ModelDone,
		ItemID:  itemID,
		TotalMs: time.Since(begun).Milliseconds(),
	})
}

// OpenBatch streams one model's batch image generation as image events.
func (l *Local) OpenBatch(ctx context.Context, model experiment.ModelRef, req imagegen.BatchRequest) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	go l.runBatch(ctx, model, req, newEmitter(pw), pw)
	return pr, nil
}

func (l *Local) runBatch(ctx context.Context, model experiment.ModelRef, req imagegen.BatchRequest, em *emitter, pw *io.PipeWriter) {
	defer pw.Close()

	backend, err := l.registry.Image(model.Platform)
	if err != nil {
		em.run(&runview.RunEvent{Type: runview.RunError, Message: err.Error()})
		return
	}

	conc := req.Concurrency
	if conc < 1 {
		conc = 1
	}
	sem := make(chan struct{}, conc)

	var wg sync.WaitGroup
	for itemIdx, item := range req.Items {
		wg.Add(1)
		go func(itemIdx int, item imagegen.PlanItem) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			l.generateItem(ctx, backend, model, itemIdx, item, em)
		}(itemIdx, item)
	}
	wg.Wait()
}

func (l *Local) generateItem(ctx context.Context, backend ImageBackend, model experiment.ModelRef, itemIdx int, item imagegen.PlanItem, em *emitter) {
	count := item.Count
	if count < 1 {
		count = 1
	}
	for imgIdx := 0; imgIdx < count; imgIdx++ {
		em.image(&runview.ImageEvent{
			Type:          runview.ImageStart,
			ModelID:       model.Model,
			ItemIndex:     itemIdx,
			ImageIndex:    imgIdx,
			Prompt:        item.Prompt,
			RequestedSize: item.Size,
		})
	}

	images, err := backend.GenerateImages(ctx, ImageRequest{
		Model:  model.Model,
		Prompt: item.Prompt,
		Size:   item.Size,
		N:      count,
	})
	if err != nil {
		for imgIdx := 0; imgIdx < count; imgIdx++ {
			em.image(&runview.ImageEvent{
				Type:       runview.ImageError,
				ModelID:    model.Model,
				ItemIndex:  itemIdx,
				ImageIndex: imgIdx,
				Message:    err.Error(),
			})
		}
		return
	}

	for imgIdx := 0; imgIdx < count; imgIdx++ {
		ev := &runview.ImageEvent{
			Type:       runview.ImageDone,
			ModelID:    model.Model,
			ItemIndex:  itemIdx,
			ImageIndex: imgIdx,
		}
		if imgIdx >= len(images) {
			ev.Type = runview.ImageError
			ev.Message = "backend returned fewer images than requested"
			em.image(ev)
			continue
		}
		fillImageEvent(ev, images[imgIdx])
		em.image(ev)
	}
}

// GenerateSingle produces perModel variants via the registered backend,
// request/response style.
func (l *Local) GenerateSingle(ctx context.Context, model experiment.ModelRef, prompt, size string, n int) ([]imagegen.SingleResult, error) {
	backend, err := l.registry.Image(model.Platform)
	if err != nil {
		return nil, err
	}
	if n < 1 {
		n = 1
	}

	images, err := backend.GenerateImages(ctx, ImageRequest{
		Model:  model.Model,
		Prompt: prompt,
		Size:   size,
		N:      n,
	})
	if err != nil {
		return nil, fmt.Errorf("generate images: %w", err)
	}

	out := make([]imagegen.SingleResult, 0, len(images))
	for _, img := range images {
		res := imagegen.SingleResult{URL: img.URL}
		if len(img.Data) > 0 {
			res.B64Data = base64.StdEncoding.EncodeToString(img.Data)
			if w, h, ok := imagegen.ProbeSize(img.Data); ok {
				res.EffectiveSize = fmt.Sprintf("%dx%d", w, h)
			}
		}
		out = append(out, res)
	}
	return out, nil
}

func fillImageEvent(ev *runview.ImageEvent, img Image) {
	ev.URL = img.URL
	ev.MimeType = img.MimeType
	if len(img.Data) > 0 {
		ev.B64Data = base64.StdEncoding.EncodeToString(img.Data)
		if w, h, ok := imagegen.ProbeSize(img.Data); ok {
			ev.EffectiveSize = fmt.Sprintf("%dx%d", w, h)
		}
	}
}

var (
	_ runner.Opener            = (*Local)(nil)
	_ imagegen.BatchOpener     = (*Local)(nil)
	_ imagegen.SingleGenerator = (*Local)(nil)
)
