package executor

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/prdlabs/modelarena/internal/imagegen"
	"github.com/prdlabs/modelarena/internal/jsonshape"
)

const plannerSystemPrompt = `You split free-form image generation instructions into discrete tasks.
Respond with JSON only: an array of objects with fields "prompt" (string),
"count" (integer, default 1) and "size" (optional "WIDTHxHEIGHT" string).
Do not include any other text.`

var bulletPrefixRe = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)、])\s*`)

// LocalPlanner resolves batch instructions into a plan by asking a
// planning model, falling back to plain line splitting when the model is
// unavailable or returns something unparsable.
type LocalPlanner struct {
	streamer ChatStreamer
	model    string
	log      *slog.Logger
}

// NewLocalPlanner creates a planner using the given model for the primary
// path. streamer may be nil, in which case only the fallback runs.
func NewLocalPlanner(streamer ChatStreamer, model string, log *slog.Logger) *LocalPlanner {
	if log == nil {
		log = slog.Default()
	}
	return &LocalPlanner{streamer: streamer, model: model, log: log}
}

// BuildPlan resolves the instruction. The fallback never fails: a degraded
// plan beats no plan, and the result is confirmed by the user anyway.
func (p *LocalPlanner) BuildPlan(ctx context.Context, instruction, systemPrompt string) (*imagegen.Plan, error) {
	if systemPrompt == "" {
		systemPrompt = plannerSystemPrompt
	}

	if p.streamer != nil {
		text, err := p.collect(ctx, instruction, systemPrompt)
		if err != nil {
			p.log.Warn("plan model unavailable, using fallback resolver", "error", err)
		} else if plan, ok := parsePlanText(text); ok {
			return plan, nil
		} else {
			p.log.Warn("plan model output unparsable, using fallback resolver")
		}
	}
	return fallbackPlan(instruction), nil
}

func (p *LocalPlanner) collect(ctx context.Context, instruction, systemPrompt string) (string, error) {
	chunks, err := p.streamer.StreamChat(ctx, ChatRequest{
		Model:  p.model,
		Prompt: instruction,
		System: systemPrompt,
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		sb.WriteString(chunk.Text)
	}
	return sb.String(), nil
}

// parsePlanText interprets the planning model's output: a JSON array of
// items, possibly fenced, possibly wrapped in an "items" object.
func parsePlanText(text string) (*imagegen.Plan, bool) {
	res := jsonshape.Classify(text)
	if !res.OK {
		return nil, false
	}
	if _, ok := jsonshape.CheckPlanItems(res.Value); !ok {
		return nil, false
	}

	raw := res.Value
	if m, ok := raw.(map[string]any); ok {
		raw = m["items"]
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	var items []imagegen.PlanItem
	if err := json.Unmarshal(encoded, &items); err != nil {
		return nil, false
	}

	kept := items[:0]
	for _, item := range items {
		if strings.TrimSpace(item.Prompt) == "" {
			continue
		}
		kept = append(kept, item)
	}
	if len(kept) == 0 {
		return nil, false
	}
	return &imagegen.Plan{Items: kept}, true
}

// fallbackPlan splits the instruction into one task per non-empty line,
// stripping list markers.
func fallbackPlan(instruction string) *imagegen.Plan {
	var items []imagegen.PlanItem
	for _, line := range strings.Split(instruction, "\n") {
		line = strings.TrimSpace(bulletPrefixRe.ReplaceAllString(line, ""))
		if line == "" {
			continue
		}
		items = append(items, imagegen.PlanItem{Prompt: line, Count: 1})
	}
	if len(items) == 0 {
		items = []imagegen.PlanItem{{Prompt: strings.TrimSpace(instruction), Count: 1}}
	}
	return &imagegen.Plan{Items: items, Fallback: true}
}

var _ imagegen.Planner = (*LocalPlanner)(nil)
