package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/prdlabs/modelarena/internal/experiment"
)

// HTTPClient talks to the hosted image planning/generation backends.
type HTTPClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

type planRequest struct {
	Instruction  string `json:"instruction"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// BuildPlan calls the request/response plan endpoint.
func (c *HTTPClient) BuildPlan(ctx context.Context, instruction, systemPrompt string) (*Plan, error) {
	var plan Plan
	err := c.post(ctx, "/images/plan", planRequest{Instruction: instruction, SystemPrompt: systemPrompt}, &plan)
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

type batchWireRequest struct {
	Model       string     `json:"modelId"`
	Platform    string     `json:"platformId"`
	Items       []PlanItem `json:"items"`
	Concurrency int        `json:"concurrency"`
	Encoding    string     `json:"encoding,omitempty"`
}

// OpenBatch opens the streaming batch endpoint for one model.
func (c *HTTPClient) OpenBatch(ctx context.Context, model experiment.ModelRef, req BatchRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(batchWireRequest{
		Model:       model.Model,
		Platform:    model.Platform,
		Items:       req.Items,
		Concurrency: req.Concurrency,
		Encoding:    req.Encoding,
	})
	if err != nil {
		return nil, fmt.Errorf("encode batch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/images/batch/stream", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build batch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("open batch stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("image backend returned %s", resp.Status)
	}
	return resp.Body, nil
}

// SingleResult is one generated image from the single-image endpoint.
type SingleResult struct {
	URL           string `json:"url,omitempty"`
	B64Data       string `json:"b64Data,omitempty"`
	EffectiveSize string `json:"effectiveSize,omitempty"`
}

type singleWireRequest struct {
	Model    string `json:"modelId"`
	Platform string `json:"platformId"`
	Prompt   string `json:"prompt"`
	Size     string `json:"size,omitempty"`
	N        int    `json:"n"`
}

// GenerateSingle calls the request/response single-image endpoint,
// producing 1..n images for one model.
func (c *HTTPClient) GenerateSingle(ctx context.Context, model experiment.ModelRef, prompt, size string, n int) ([]SingleResult, error) {
	if n < 1 {
		n = 1
	}
	var out struct {
		Images []SingleResult `json:"images"`
	}
	err := c.post(ctx, "/images/generate", singleWireRequest{
		Model:    model.Model,
		Platform: model.Platform,
		Prompt:   prompt,
		Size:     size,
		N:        n,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Images, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("image backend request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("image backend returned %s", resp.Status)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Code != 0 {
		return fmt.Errorf("image backend error %d: %s", env.Code, env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}
	return nil
}

func (c *HTTPClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return &http.Client{Timeout: 0, Transport: http.DefaultTransport}
}

var _ Planner = (*HTTPClient)(nil)
var _ BatchOpener = (*HTTPClient)(nil)
