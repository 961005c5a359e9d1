// Package experiment defines the comparison experiment model and its
// remote store client.
package experiment

import (
	"strings"
	"time"
)

// Params are forwarded verbatim to the execution backend. The client does
// no local throttling or timeout enforcement of its own.
type Params struct {
	Temperature    float64 `json:"temperature" yaml:"temperature"`
	MaxTokens      int     `json:"maxTokens" yaml:"maxTokens"`
	TimeoutMs      int     `json:"timeoutMs" yaml:"timeoutMs"`
	MaxConcurrency int     `json:"maxConcurrency" yaml:"maxConcurrency"`
	RepeatN        int     `json:"repeatN" yaml:"repeatN"`
}

// ModelRef identifies one selectable backend model.
type ModelRef struct {
	Platform    string `json:"platformId"`
	Model       string `json:"modelId"`
	DisplayName string `json:"displayName,omitempty"`
}

func (m ModelRef) key() string {
	return strings.ToLower(m.Platform) + "/" + strings.ToLower(m.Model)
}

// Experiment is one saved comparison configuration.
type Experiment struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Suite     string     `json:"suite"`
	Prompt    string     `json:"promptText"`
	Params    Params     `json:"params"`
	Models    []ModelRef `json:"selectedModels"`
	CreatedAt time.Time  `json:"createdAt,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt,omitempty"`
}

// DedupeModels collapses refs that are equal under the lower-cased
// (platform, model) pair. First occurrence wins, order is preserved.
func DedupeModels(refs []ModelRef) []ModelRef {
	seen := make(map[string]struct{}, len(refs))
	out := make([]ModelRef, 0, len(refs))
	for _, ref := range refs {
		k := ref.key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, ref)
	}
	return out
}

// Normalize enforces the model-uniqueness invariant and fills parameter
// defaults before an experiment is saved or run.
func (e *Experiment) Normalize() {
	e.Models = DedupeModels(e.Models)
	if e.Params.RepeatN < 1 {
		e.Params.RepeatN = 1
	}
	if e.Params.MaxConcurrency < 1 {
		e.Params.MaxConcurrency = 1
	}
}
