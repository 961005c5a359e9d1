package runview

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func modelEv(typ, itemID string, mutate ...func(*ModelEvent)) Event {
	ev := &ModelEvent{Type: typ, ItemID: itemID}
	for _, m := range mutate {
		m(ev)
	}
	return Event{Channel: ChannelModel, Model: ev}
}

func itemScript(itemID string) []Event {
	return []Event{
		modelEv(ModelStart, itemID, func(e *ModelEvent) {
			e.ModelID = "m-" + itemID
			e.QueueMs = 5
			e.RepeatN = 1
		}),
		modelEv(FirstToken, itemID, func(e *ModelEvent) { e.TTFTMs = 120 }),
		modelEv(ModelDelta, itemID, func(e *ModelEvent) { e.Text = "hello " }),
		modelEv(ModelDelta, itemID, func(e *ModelEvent) { e.Text = "from " + itemID }),
		modelEv(ModelDone, itemID, func(e *ModelEvent) { e.TotalMs = 900 }),
	}
}

// interleavings enumerates all merges of the per-item scripts that preserve
// each script's internal order.
func interleavings(scripts [][]Event) [][]Event {
	total := 0
	for _, s := range scripts {
		total += len(s)
	}
	var out [][]Event
	var walk func(pos []int, acc []Event)
	walk = func(pos []int, acc []Event) {
		if len(acc) == total {
			out = append(out, append([]Event(nil), acc...))
			return
		}
		for i, s := range scripts {
			if pos[i] < len(s) {
				pos[i]++
				walk(pos, append(acc, s[pos[i]-1]))
				pos[i]--
			}
		}
	}
	walk(make([]int, len(scripts)), nil)
	return out
}

func TestApplyInterleavingInvariance(t *testing.T) {
	scripts := [][]Event{itemScript("a"), itemScript("b"), itemScript("c")}

	var want map[string]Item
	for n, order := range interleavings(scripts) {
		state := NewState()
		for _, ev := range order {
			state.Apply(ev)
		}
		got := make(map[string]Item, len(state.Items))
		for id, item := range state.Items {
			got[id] = *item
		}
		if want == nil {
			want = got
			continue
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("interleaving %d produced divergent state:\n got %+v\nwant %+v", n, got, want)
		}
	}
	if want["a"].Raw != "hello from a" || want["a"].Status != StatusDone {
		t.Errorf("unexpected final item state: %+v", want["a"])
	}
}

func TestApplyTerminalIdempotent(t *testing.T) {
	t.Run("repeated modelDone does not duplicate content", func(t *testing.T) {
		state := NewState()
		state.Apply(modelEv(ModelStart, "a"))
		done := modelEv(ModelDone, "a", func(e *ModelEvent) {
			e.Content = "summary"
			e.TotalMs = 10
		})
		state.Apply(done)
		state.Apply(done)
		if state.Items["a"].Raw != "summary" {
			t.Errorf("content duplicated: %q", state.Items["a"].Raw)
		}
	})

	t.Run("modelError after modelDone is a no-op", func(t *testing.T) {
		state := NewState()
		state.Apply(modelEv(ModelStart, "a"))
		state.Apply(modelEv(ModelDone, "a"))
		state.Apply(modelEv(ModelError, "a", func(e *ModelEvent) { e.Message = "late" }))
		if state.Items["a"].Status != StatusDone || state.Items["a"].ErrMessage != "" {
			t.Errorf("terminal state overwritten: %+v", state.Items["a"])
		}
	})

	t.Run("delta after terminal is dropped", func(t *testing.T) {
		state := NewState()
		state.Apply(modelEv(ModelStart, "a"))
		state.Apply(modelEv(ModelDone, "a"))
		state.Apply(modelEv(ModelDelta, "a", func(e *ModelEvent) { e.Text = "late" }))
		if state.Items["a"].Raw != "" {
			t.Errorf("delta applied after terminal: %q", state.Items["a"].Raw)
		}
	})
}

func TestApplyRawCap(t *testing.T) {
	t.Run("cumulative deltas stop at cap", func(t *testing.T) {
		state := NewState()
		state.Apply(modelEv(ModelStart, "a"))
		chunk := strings.Repeat("x", 7000)
		for i := 0; i < 12; i++ {
			state.Apply(modelEv(ModelDelta, "a", func(e *ModelEvent) { e.Text = chunk }))
		}
		item := state.Items["a"]
		if !item.Truncated {
			t.Error("expected truncated flag")
		}
		if len(item.Raw) != MaxRawBytes {
			t.Errorf("expected raw length %d, got %d", MaxRawBytes, len(item.Raw))
		}
		// Further deltas must not grow the buffer.
		state.Apply(modelEv(ModelDelta, "a", func(e *ModelEvent) { e.Text = "more" }))
		if len(state.Items["a"].Raw) != MaxRawBytes {
			t.Errorf("buffer grew past cap: %d", len(state.Items["a"].Raw))
		}
	})

	t.Run("single oversized delta is clipped", func(t *testing.T) {
		state := NewState()
		state.Apply(modelEv(ModelStart, "a"))
		state.Apply(modelEv(ModelDelta, "a", func(e *ModelEvent) {
			e.Text = strings.Repeat("y", MaxRawBytes+5000)
		}))
		item := state.Items["a"]
		if len(item.Raw) != MaxRawBytes || !item.Truncated {
			t.Errorf("expected clipped buffer at %d, got %d truncated=%v", MaxRawBytes, len(item.Raw), item.Truncated)
		}
	})

	t.Run("clipping never splits a multi-byte rune", func(t *testing.T) {
		state := NewState()
		state.Apply(modelEv(ModelStart, "a"))
		// Two ASCII bytes shift the 3-byte runes off alignment so both
		// the raw and preview caps land mid-rune.
		state.Apply(modelEv(ModelDelta, "a", func(e *ModelEvent) {
			e.Text = "xy" + strings.Repeat("宇", MaxRawBytes/3+100)
		}))
		item := state.Items["a"]
		if !item.Truncated {
			t.Error("expected truncated flag")
		}
		if !utf8.ValidString(item.Raw) {
			t.Errorf("raw ends mid-rune: last bytes %q", item.Raw[len(item.Raw)-4:])
		}
		if len(item.Raw) > MaxRawBytes || MaxRawBytes-len(item.Raw) >= utf8.UTFMax {
			t.Errorf("raw length %d, want within a rune of %d", len(item.Raw), MaxRawBytes)
		}
		if !utf8.ValidString(item.Preview) || len(item.Preview) > MaxPreviewBytes {
			t.Errorf("preview invalid or oversized: %d bytes", len(item.Preview))
		}
	})

	t.Run("preview stays bounded", func(t *testing.T) {
		state := NewState()
		state.Apply(modelEv(ModelStart, "a"))
		state.Apply(modelEv(ModelDelta, "a", func(e *ModelEvent) {
			e.Text = strings.Repeat("z", 2000)
		}))
		if len(state.Items["a"].Preview) != MaxPreviewBytes {
			t.Errorf("expected preview length %d, got %d", MaxPreviewBytes, len(state.Items["a"].Preview))
		}
	})
}

func TestApplyRunChannel(t *testing.T) {
	t.Run("run error freezes but keeps item state", func(t *testing.T) {
		state := NewState()
		state.Apply(modelEv(ModelStart, "a"))
		state.Apply(modelEv(ModelDelta, "a", func(e *ModelEvent) { e.Text = "partial" }))
		state.Apply(Event{Channel: ChannelRun, Run: &RunEvent{Type: RunError, Message: "boom", Code: "E42"}})
		if !state.Failed || state.ErrMsg != "boom" || state.ErrCode != "E42" {
			t.Errorf("run error not recorded: %+v", state)
		}
		if state.Items["a"].Raw != "partial" || state.Items["a"].Status != StatusRunning {
			t.Errorf("item retroactively mutated: %+v", state.Items["a"])
		}
	})

	t.Run("events after runDone are ignored at run level", func(t *testing.T) {
		state := NewState()
		state.Apply(Event{Channel: ChannelRun, Run: &RunEvent{Type: RunDone}})
		state.Apply(Event{Channel: ChannelRun, Run: &RunEvent{Type: RunError, Message: "late"}})
		if state.Failed {
			t.Error("late run error applied after runDone")
		}
	})
}

func TestApplyUnknownItem(t *testing.T) {
	state := NewState()
	state.Apply(modelEv(ModelDelta, "ghost", func(e *ModelEvent) { e.Text = "x" }))
	state.Apply(modelEv(ModelDone, "ghost"))
	if len(state.Items) != 0 {
		t.Errorf("unknown item created state: %+v", state.Items)
	}
}

func TestPartialFailureIsolation(t *testing.T) {
	state := NewState()
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("i%d", i)
		state.Apply(modelEv(ModelStart, id))
	}
	state.Apply(modelEv(ModelError, "i1", func(e *ModelEvent) { e.Message = "backend 500" }))
	state.Apply(modelEv(ModelDone, "i0"))
	state.Apply(modelEv(ModelDone, "i2"))

	if state.Items["i1"].Status != StatusError || state.Items["i1"].ErrMessage != "backend 500" {
		t.Errorf("failed item not isolated: %+v", state.Items["i1"])
	}
	if state.Items["i0"].Status != StatusDone || state.Items["i2"].Status != StatusDone {
		t.Error("healthy items affected by sibling failure")
	}
}
