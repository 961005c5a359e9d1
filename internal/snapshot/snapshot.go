// Package snapshot persists the structured tier of the local cache: the
// working experiment, the folded run state, and image slot metadata. Binary
// image payloads live in the blob store and are referenced by markers here.
package snapshot

import (
	"time"

	"github.com/prdlabs/modelarena/internal/experiment"
	"github.com/prdlabs/modelarena/internal/imagegen"
	"github.com/prdlabs/modelarena/internal/runview"
)

// Version is the snapshot envelope version. A stored snapshot whose version
// differs is discarded wholesale on load; there is no migration path, a
// stale snapshot is worth less than a wrong one.
const Version = 2

// Snapshot is everything needed to restore a user's working surface.
type Snapshot struct {
	Version    int                    `json:"version"`
	UserID     string                 `json:"userId"`
	SavedAt    time.Time              `json:"savedAt"`
	Experiment *experiment.Experiment `json:"experiment,omitempty"`
	Run        *runview.State         `json:"run,omitempty"`
	Images     []imagegen.ViewItem    `json:"images,omitempty"`
}
