package imagegen

import (
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/prdlabs/modelarena/internal/experiment"
	"github.com/prdlabs/modelarena/internal/jsonshape"
	"github.com/prdlabs/modelarena/internal/runview"
)

// View aggregates image slots for one generation group. It is safe for
// concurrent reads while the pipeline goroutine applies events.
type View struct {
	mu    sync.Mutex
	items map[string]*ViewItem
	order []string
}

// NewView returns an empty view.
func NewView() *View {
	return &View{items: make(map[string]*ViewItem)}
}

// PlaceholdersBatch creates the pending grid for a confirmed plan: one
// slot per (model, plan item, image index). The resulting slot count is
// plan total x model count, the invariant UIs use to detect missing or
// duplicated items.
func (v *View) PlaceholdersBatch(models []experiment.ModelRef, plan *Plan) {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := time.Now()
	for _, model := range models {
		for itemIdx, item := range plan.Items {
			count := item.Count
			if count < 1 {
				count = 1
			}
			for imgIdx := 0; imgIdx < count; imgIdx++ {
				v.putLocked(&ViewItem{
					Key:           BatchKey(model.Model, itemIdx, imgIdx),
					ModelID:       model.Model,
					ItemIndex:     itemIdx,
					ImageIndex:    imgIdx,
					Status:        StatusPending,
					Prompt:        item.Prompt,
					RequestedSize: item.Size,
					CreatedAt:     now,
				})
			}
		}
	}
}

// PlaceholdersSingle creates the pending grid for single mode: one slot
// per (model, variant).
func (v *View) PlaceholdersSingle(groupID string, models []experiment.ModelRef, prompt, size string, perModel int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := time.Now()
	for _, model := range models {
		for variant := 0; variant < perModel; variant++ {
			v.putLocked(&ViewItem{
				Key:           SingleKey(groupID, model.Model, variant),
				GroupID:       groupID,
				ModelID:       model.Model,
				VariantIndex:  variant,
				Status:        StatusPending,
				Prompt:        prompt,
				RequestedSize: size,
				CreatedAt:     now,
			})
		}
	}
}

func (v *View) putLocked(item *ViewItem) {
	if _, exists := v.items[item.Key]; exists {
		return
	}
	v.items[item.Key] = item
	v.order = append(v.order, item.Key)
}

// Apply folds one image channel event into the view. Events for unknown
// slots are dropped and terminal events are idempotent, mirroring the run
// decoder's contract.
func (v *View) Apply(ev *runview.ImageEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := eventKey(ev)
	item, ok := v.items[key]
	if !ok {
		return
	}

	switch ev.Type {
	case runview.ImageStart:
		if item.terminal() {
			return
		}
		item.Status = StatusRunning
		if ev.RequestedSize != "" && item.RequestedSize == "" {
			item.RequestedSize = ev.RequestedSize
		}
	case runview.ImageDone:
		if item.terminal() {
			return
		}
		item.Status = StatusDone
		item.URL = ev.URL
		if ev.B64Data != "" {
			if data, err := base64.StdEncoding.DecodeString(ev.B64Data); err == nil {
				item.Data = data
			}
		}
		item.EffectiveSize = ev.EffectiveSize
		if item.EffectiveSize == "" && len(item.Data) > 0 {
			if w, h, ok := ProbeSize(item.Data); ok {
				item.EffectiveSize = fmt.Sprintf("%dx%d", w, h)
			}
		}
		markAdjustments(item)
	case runview.ImageError:
		if item.terminal() {
			return
		}
		item.Status = StatusError
		item.ErrMessage = ev.Message
	}
}

// markAdjustments records size negotiation. Both requested and effective
// values are retained whenever they differ; the backend's substitution is
// surfaced, never silently adopted.
func markAdjustments(item *ViewItem) {
	if item.RequestedSize == "" || item.EffectiveSize == "" {
		return
	}
	if item.RequestedSize == item.EffectiveSize {
		return
	}
	item.SizeAdjusted = true
	reqInfo := jsonshape.Infer(item.RequestedSize)
	effInfo := jsonshape.Infer(item.EffectiveSize)
	if reqInfo.Ratio != "" && effInfo.Ratio != "" && reqInfo.Ratio != effInfo.Ratio {
		item.RatioAdjusted = true
	}
}

func eventKey(ev *runview.ImageEvent) string {
	if ev.GroupID != "" {
		return SingleKey(ev.GroupID, ev.ModelID, ev.VariantIndex)
	}
	return BatchKey(ev.ModelID, ev.ItemIndex, ev.ImageIndex)
}

// Items returns copies of all slots in creation order.
func (v *View) Items() []ViewItem {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]ViewItem, 0, len(v.order))
	for _, key := range v.order {
		out = append(out, *v.items[key])
	}
	return out
}

// Count returns the number of slots.
func (v *View) Count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.items)
}

// Restore seeds the view with items loaded from a snapshot.
func (v *View) Restore(items []ViewItem) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range items {
		item := items[i]
		v.putLocked(&item)
	}
}

// Update applies fn to the slot with the given key, if present.
func (v *View) Update(key string, fn func(*ViewItem)) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	item, ok := v.items[key]
	if !ok {
		return false
	}
	fn(item)
	return true
}
