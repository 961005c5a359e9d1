package executor

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/prdlabs/modelarena/internal/experiment"
	"github.com/prdlabs/modelarena/internal/imagegen"
	"github.com/prdlabs/modelarena/internal/runner"
	"github.com/prdlabs/modelarena/internal/runview"
	"github.com/prdlabs/modelarena/internal/sse"
)

// scriptStreamer emits a fixed word sequence per model.
type scriptStreamer struct {
	words map[string][]string
	errs  map[string]error
}

func (s *scriptStreamer) StreamChat(ctx context.Context, req ChatRequest) (<-chan Chunk, error) {
	if err, ok := s.errs[req.Model]; ok {
		return nil, err
	}
	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)
		for _, word := range s.words[req.Model] {
			select {
			case chunks <- Chunk{Text: word}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return chunks, nil
}

// scriptImages returns n copies of a canned image, or an error.
type scriptImages struct {
	img Image
	n   int // if > 0, caps the returned count regardless of the request
	err error
}

func (s *scriptImages) GenerateImages(_ context.Context, req ImageRequest) ([]Image, error) {
	if s.err != nil {
		return nil, s.err
	}
	n := req.N
	if s.n > 0 && s.n < n {
		n = s.n
	}
	out := make([]Image, n)
	for i := range out {
		out[i] = s.img
	}
	return out, nil
}

func foldRun(t *testing.T, body io.ReadCloser) *runview.State {
	t.Helper()
	defer body.Close()
	state := runview.NewState()
	reader := sse.NewReader(body)
	for {
		frame, err := reader.Next()
		if err != nil {
			break
		}
		if ev, ok := runview.ParseFrame(frame); ok {
			state.Apply(ev)
		}
	}
	return state
}

func TestLocalOpenRun(t *testing.T) {
	t.Run("emits a complete wire stream per item", func(t *testing.T) {
		registry := NewRegistry()
		registry.RegisterChat("fake", &scriptStreamer{words: map[string][]string{
			"m1": {"hello ", "world"},
			"m2": {"bye"},
		}})
		local := NewLocal(registry, nil)

		body, err := local.OpenRun(context.Background(), runner.ExecRequest{
			Prompt: "say something",
			Models: []experiment.ModelRef{
				{Platform: "fake", Model: "m1"},
				{Platform: "fake", Model: "m2"},
			},
			Params: experiment.Params{RepeatN: 2},
		})
		if err != nil {
			t.Fatalf("OpenRun: %v", err)
		}

		state := foldRun(t, body)
		if !state.Finished || state.Failed {
			t.Fatalf("run not cleanly finished: %+v", state)
		}
		if len(state.Items) != 4 {
			t.Fatalf("items = %d, want 2 models x 2 repeats", len(state.Items))
		}
		byModel := map[string]int{}
		for _, item := range state.Items {
			if item.Status != runview.StatusDone {
				t.Errorf("item %s status = %s", item.ItemID, item.Status)
			}
			byModel[item.ModelID]++
			want := "bye"
			if item.ModelID == "m1" {
				want = "hello world"
			}
			if item.Raw != want {
				t.Errorf("item %s raw = %q, want %q", item.ItemID, item.Raw, want)
			}
		}
		if byModel["m1"] != 2 || byModel["m2"] != 2 {
			t.Errorf("repeat distribution = %v", byModel)
		}
	})

	t.Run("unknown platform fails only its own items", func(t *testing.T) {
		registry := NewRegistry()
		registry.RegisterChat("fake", &scriptStreamer{words: map[string][]string{"m1": {"ok"}}})
		local := NewLocal(registry, nil)

		body, err := local.OpenRun(context.Background(), runner.ExecRequest{
			Prompt: "hi",
			Models: []experiment.ModelRef{
				{Platform: "fake", Model: "m1"},
				{Platform: "ghost", Model: "m2"},
			},
		})
		if err != nil {
			t.Fatalf("OpenRun: %v", err)
		}

		state := foldRun(t, body)
		if !state.Finished || state.Failed {
			t.Fatalf("partial failure must not fail the run: %+v", state)
		}
		for _, item := range state.Items {
			switch item.ModelID {
			case "m1":
				if item.Status != runview.StatusDone {
					t.Errorf("m1 = %s", item.Status)
				}
			case "m2":
				if item.Status != runview.StatusError || item.ErrMessage == "" {
					t.Errorf("m2 = %s %q", item.Status, item.ErrMessage)
				}
			}
		}
	})

	t.Run("mid-stream error becomes modelError", func(t *testing.T) {
		registry := NewRegistry()
		registry.RegisterChat("fake", &errAfterStreamer{text: "partial", err: errors.New("connection reset")})
		local := NewLocal(registry, nil)

		body, err := local.OpenRun(context.Background(), runner.ExecRequest{
			Prompt: "hi",
			Models: []experiment.ModelRef{{Platform: "fake", Model: "m1"}},
		})
		if err != nil {
			t.Fatalf("OpenRun: %v", err)
		}

		state := foldRun(t, body)
		items := state.Ordered()
		if len(items) != 1 {
			t.Fatalf("items = %d", len(items))
		}
		if items[0].Status != runview.StatusError {
			t.Errorf("status = %s", items[0].Status)
		}
		if items[0].Raw != "partial" {
			t.Errorf("deltas before the error lost: %q", items[0].Raw)
		}
	})
}

type errAfterStreamer struct {
	text string
	err  error
}

func (s *errAfterStreamer) StreamChat(_ context.Context, _ ChatRequest) (<-chan Chunk, error) {
	chunks := make(chan Chunk, 2)
	chunks <- Chunk{Text: s.text}
	chunks <- Chunk{Err: s.err}
	close(chunks)
	return chunks, nil
}

func TestLocalOpenBatch(t *testing.T) {
	model := experiment.ModelRef{Platform: "fake", Model: "img-1"}
	req := imagegen.BatchRequest{Items: []imagegen.PlanItem{
		{Prompt: "a", Count: 2},
		{Prompt: "b", Count: 1},
	}}

	foldBatch := func(t *testing.T, body io.ReadCloser, view *imagegen.View) {
		t.Helper()
		defer body.Close()
		reader := sse.NewReader(body)
		for {
			frame, err := reader.Next()
			if err != nil {
				break
			}
			if ev, ok := runview.ParseFrame(frame); ok && ev.Image != nil {
				view.Apply(ev.Image)
			}
		}
	}

	t.Run("fills every slot", func(t *testing.T) {
		registry := NewRegistry()
		registry.RegisterImage("fake", &scriptImages{img: Image{URL: "u"}})
		local := NewLocal(registry, nil)

		body, err := local.OpenBatch(context.Background(), model, req)
		if err != nil {
			t.Fatalf("OpenBatch: %v", err)
		}
		view := imagegen.NewView()
		view.PlaceholdersBatch([]experiment.ModelRef{model}, &imagegen.Plan{Items: req.Items})
		foldBatch(t, body, view)

		for _, item := range view.Items() {
			if item.Status != imagegen.StatusDone {
				t.Errorf("slot %s = %s", item.Key, item.Status)
			}
		}
	})

	t.Run("short item fails only the missing slot", func(t *testing.T) {
		registry := NewRegistry()
		registry.RegisterImage("fake", &scriptImages{img: Image{URL: "u"}, n: 1})
		local := NewLocal(registry, nil)

		body, err := local.OpenBatch(context.Background(), model, req)
		if err != nil {
			t.Fatalf("OpenBatch: %v", err)
		}
		view := imagegen.NewView()
		view.PlaceholdersBatch([]experiment.ModelRef{model}, &imagegen.Plan{Items: req.Items})
		foldBatch(t, body, view)

		var done, failed int
		for _, item := range view.Items() {
			switch item.Status {
			case imagegen.StatusDone:
				done++
			case imagegen.StatusError:
				failed++
			}
		}
		if done != 2 || failed != 1 {
			t.Errorf("done=%d failed=%d, want 2/1", done, failed)
		}
	})

	t.Run("unknown platform reports a stream-level error", func(t *testing.T) {
		local := NewLocal(NewRegistry(), nil)
		body, err := local.OpenBatch(context.Background(), model, req)
		if err != nil {
			t.Fatalf("OpenBatch: %v", err)
		}
		defer body.Close()

		reader := sse.NewReader(body)
		sawRunError := false
		for {
			frame, err := reader.Next()
			if err != nil {
				break
			}
			if ev, ok := runview.ParseFrame(frame); ok && ev.Run != nil && ev.Run.Type == runview.RunError {
				sawRunError = true
			}
		}
		if !sawRunError {
			t.Error("missing run-level error for unroutable batch")
		}
	})
}

func TestLocalGenerateSingle(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterImage("fake", &scriptImages{img: Image{Data: []byte("not an image"), MimeType: "image/png"}})
	local := NewLocal(registry, nil)

	results, err := local.GenerateSingle(context.Background(), experiment.ModelRef{Platform: "fake", Model: "img-1"}, "cat", "", 2)
	if err != nil {
		t.Fatalf("GenerateSingle: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for _, res := range results {
		if res.B64Data == "" {
			t.Error("binary payload not base64 encoded")
		}
		if strings.Contains(res.B64Data, " ") {
			t.Error("invalid base64 payload")
		}
	}
}
