package executor

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiBackend serves chat and image generation through the Gemini API.
type GeminiBackend struct {
	client *genai.Client
}

// NewGeminiBackend creates a backend for the given API key.
func NewGeminiBackend(ctx context.Context, apiKey string) (*GeminiBackend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiBackend{client: client}, nil
}

func (b *GeminiBackend) buildConfig(req ChatRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	return config
}

// StreamChat streams one completion as text deltas.
func (b *GeminiBackend) StreamChat(ctx context.Context, req ChatRequest) (<-chan Chunk, error) {
	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: req.Prompt}}},
	}
	streamIter := b.client.Models.GenerateContentStream(ctx, req.Model, contents, b.buildConfig(req))

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)
		for resp, err := range streamIter {
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				chunks <- Chunk{Err: err}
				return
			}
			if resp == nil {
				continue
			}
			for _, candidate := range resp.Candidates {
				if candidate == nil || candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part == nil || part.Text == "" {
						continue
					}
					select {
					case chunks <- Chunk{Text: part.Text}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return chunks, nil
}

// GenerateImages produces N images by requesting image modality output and
// collecting the inline parts of each candidate.
func (b *GeminiBackend) GenerateImages(ctx context.Context, req ImageRequest) ([]Image, error) {
	n := req.N
	if n < 1 {
		n = 1
	}
	prompt := req.Prompt
	if req.Size != "" {
		prompt = fmt.Sprintf("%s (render at %s)", prompt, req.Size)
	}
	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: prompt}}},
	}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	var out []Image
	// One request per image: image-capable Gemini models return a single
	// rendered candidate per call.
	for len(out) < n {
		resp, err := b.client.Models.GenerateContent(ctx, req.Model, contents, config)
		if err != nil {
			return nil, fmt.Errorf("generate content: %w", err)
		}
		found := false
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
					continue
				}
				out = append(out, Image{
					Data:     part.InlineData.Data,
					MimeType: part.InlineData.MIMEType,
				})
				found = true
			}
		}
		if !found {
			return out, fmt.Errorf("model returned no image data")
		}
	}
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

var (
	_ ChatStreamer = (*GeminiBackend)(nil)
	_ ImageBackend = (*GeminiBackend)(nil)
)
