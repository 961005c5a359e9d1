package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPOpener opens run streams against the hosted execution backend.
type HTTPOpener struct {
	BaseURL string
	Token   string

	// Client defaults to http.DefaultClient. No client-side timeout is
	// set: the stream lives as long as the run, and the backend enforces
	// the forwarded timeoutMs itself.
	Client *http.Client
}

// OpenRun POSTs the request and returns the response body as the event
// stream. The caller owns closing it; cancelling ctx aborts the transport.
func (o *HTTPOpener) OpenRun(ctx context.Context, req ExecRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode run request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/runs/stream", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build run request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if o.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.Token)
	}

	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("open run stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("execution backend returned %s", resp.Status)
	}
	return resp.Body, nil
}
