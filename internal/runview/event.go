// Package runview folds the execution backend's event stream into
// per-item view state.
//
// The backend multiplexes every model invocation of one run onto a single
// stream. Events for different items arrive in arbitrary relative order;
// only events for the same itemId are ordered. The reducer in this package
// must therefore be correct under any cross-item interleaving.
package runview

import (
	"encoding/json"

	"github.com/prdlabs/modelarena/internal/sse"
)

// Channel names on the wire.
const (
	ChannelRun   = "run"
	ChannelModel = "model"
	ChannelImage = "image"
)

// Run channel event types.
const (
	RunError = "error"
	RunDone  = "runDone"
)

// Model channel event types.
const (
	ModelStart = "modelStart"
	ModelDelta = "delta"
	FirstToken = "firstToken"
	ModelDone  = "modelDone"
	ModelError = "modelError"
)

// Image channel event types.
const (
	ImageStart = "imageStart"
	ImageDone  = "imageDone"
	ImageError = "imageError"
)

// RunEvent is a run-level control event.
type RunEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ModelEvent is one event for a single model invocation (item).
type ModelEvent struct {
	Type        string `json:"type"`
	ItemID      string `json:"itemId"`
	ModelID     string `json:"modelId,omitempty"`
	ModelName   string `json:"modelName,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	RepeatIndex int    `json:"repeatIndex,omitempty"`
	RepeatN     int    `json:"repeatN,omitempty"`
	QueueMs     int64  `json:"queueMs,omitempty"`
	TTFTMs      int64  `json:"ttftMs,omitempty"`
	TotalMs     int64  `json:"totalMs,omitempty"`

	// Text carries incremental content on delta events.
	Text string `json:"text,omitempty"`

	// Content carries the final summary text on modelDone. Backends that
	// do not stream deltas only set this.
	Content string `json:"content,omitempty"`

	Message string `json:"message,omitempty"`
}

// ImageEvent is one event for a single image slot. Batch mode keys slots by
// (modelId, itemIndex, imageIndex); single mode by (groupId, modelId,
// variantIndex).
type ImageEvent struct {
	Type          string `json:"type"`
	GroupID       string `json:"groupId,omitempty"`
	ModelID       string `json:"modelId"`
	VariantIndex  int    `json:"variantIndex,omitempty"`
	ItemIndex     int    `json:"itemIndex,omitempty"`
	ImageIndex    int    `json:"imageIndex,omitempty"`
	Prompt        string `json:"prompt,omitempty"`
	RequestedSize string `json:"requestedSize,omitempty"`
	EffectiveSize string `json:"effectiveSize,omitempty"`
	URL           string `json:"url,omitempty"`
	B64Data       string `json:"b64Data,omitempty"`
	MimeType      string `json:"mimeType,omitempty"`
	Message       string `json:"message,omitempty"`
}

// Event is a decoded frame from any channel. Exactly one of the pointer
// fields is set.
type Event struct {
	Channel string
	Run     *RunEvent
	Model   *ModelEvent
	Image   *ImageEvent
}

// ParseFrame decodes an SSE frame into an Event. It returns false for
// frames on unknown channels or with unparsable payloads; such frames are
// dropped so a noisy wire format cannot abort a healthy stream.
func ParseFrame(frame sse.Frame) (Event, bool) {
	switch frame.Event {
	case ChannelRun:
		var ev RunEvent
		if json.Unmarshal(frame.Data, &ev) != nil || ev.Type == "" {
			return Event{}, false
		}
		return Event{Channel: ChannelRun, Run: &ev}, true
	case ChannelModel:
		var ev ModelEvent
		if json.Unmarshal(frame.Data, &ev) != nil || ev.Type == "" {
			return Event{}, false
		}
		return Event{Channel: ChannelModel, Model: &ev}, true
	case ChannelImage:
		var ev ImageEvent
		if json.Unmarshal(frame.Data, &ev) != nil || ev.Type == "" {
			return Event{}, false
		}
		return Event{Channel: ChannelImage, Image: &ev}, true
	}
	return Event{}, false
}
