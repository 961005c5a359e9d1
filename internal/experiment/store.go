package experiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// StoreClient talks to the remote experiment store. Semantics are CRUD
// keyed by experiment id with last-write-wins; list is paged. Responses
// use the product's {code, message, data} envelope.
type StoreClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewStoreClient creates a client for the store at baseURL. The token is
// an opaque bearer credential obtained elsewhere; auth is not this
// engine's concern.
func NewStoreClient(baseURL, token string) *StoreClient {
	return &StoreClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Page is one page of a paged list.
type Page struct {
	Items    []Experiment `json:"items"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"pageSize"`
}

// Get loads one experiment by id.
func (c *StoreClient) Get(ctx context.Context, id string) (*Experiment, error) {
	var exp Experiment
	if err := c.do(ctx, http.MethodGet, "/experiments/"+url.PathEscape(id), nil, &exp); err != nil {
		return nil, err
	}
	return &exp, nil
}

// Create stores a new experiment and returns it with server-assigned
// fields filled in.
func (c *StoreClient) Create(ctx context.Context, exp *Experiment) (*Experiment, error) {
	exp.Normalize()
	var created Experiment
	if err := c.do(ctx, http.MethodPost, "/experiments", exp, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// Update overwrites the stored experiment. The store is last-write-wins;
// there is no version check.
func (c *StoreClient) Update(ctx context.Context, exp *Experiment) error {
	exp.Normalize()
	return c.do(ctx, http.MethodPut, "/experiments/"+url.PathEscape(exp.ID), exp, nil)
}

// Delete removes an experiment by id.
func (c *StoreClient) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/experiments/"+url.PathEscape(id), nil, nil)
}

// List returns one page of experiments.
func (c *StoreClient) List(ctx context.Context, page, pageSize int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	path := fmt.Sprintf("/experiments?page=%d&pageSize=%d", page, pageSize)
	var out Page
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *StoreClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("experiment store request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("experiment store returned %s", resp.Status)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Code != 0 {
		return fmt.Errorf("experiment store error %d: %s", env.Code, env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}
	return nil
}
