// Package imagegen plans and drives image generation batches across
// multiple backends, reusing the run stream's event demultiplexing for its
// image channel.
package imagegen

import (
	"fmt"
	"time"
)

// Item status values, mirroring run items.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusError   = "error"
)

// PlanItem is one discrete generation instruction.
type PlanItem struct {
	Prompt string `json:"prompt"`
	Count  int    `json:"count"`
	Size   string `json:"size,omitempty"`
}

// Plan is the structured decomposition of free-form batch instructions,
// shown for user confirmation before any generation request is issued.
type Plan struct {
	Total int        `json:"total"`
	Items []PlanItem `json:"items"`

	// Fallback marks plans produced by the fallback resolver rather than
	// the primary one.
	Fallback bool `json:"fallback,omitempty"`
}

// ViewItem is the view state of one image slot. A placeholder exists for
// every expected slot before any response arrives, so the grid shape
// (modelCount x requestedCount) is visible immediately.
type ViewItem struct {
	Key          string `json:"key"`
	GroupID      string `json:"groupId,omitempty"`
	ModelID      string `json:"modelId"`
	VariantIndex int    `json:"variantIndex,omitempty"`
	ItemIndex    int    `json:"itemIndex,omitempty"`
	ImageIndex   int    `json:"imageIndex,omitempty"`

	Status string `json:"status"`
	Prompt string `json:"prompt"`

	RequestedSize string `json:"requestedSize,omitempty"`
	EffectiveSize string `json:"effectiveSize,omitempty"`
	SizeAdjusted  bool   `json:"sizeAdjusted,omitempty"`
	RatioAdjusted bool   `json:"ratioAdjusted,omitempty"`

	// Data holds the binary payload in memory only; it is migrated to the
	// blob cache and replaced by HasLocalBlob before snapshotting.
	Data         []byte `json:"-"`
	URL          string `json:"url,omitempty"`
	HasLocalBlob bool   `json:"hasLocalBlob,omitempty"`

	ErrMessage string    `json:"errMessage,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (it *ViewItem) terminal() bool {
	return it.Status == StatusDone || it.Status == StatusError
}

// BatchKey identifies a slot in batch mode.
func BatchKey(modelID string, itemIndex, imageIndex int) string {
	return fmt.Sprintf("b/%s/%d/%d", modelID, itemIndex, imageIndex)
}

// SingleKey identifies a slot in single mode.
func SingleKey(groupID, modelID string, variant int) string {
	return fmt.Sprintf("s/%s/%s/%d", groupID, modelID, variant)
}
