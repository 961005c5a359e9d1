package executor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIBackend serves chat and image generation through the OpenAI API.
type OpenAIBackend struct {
	client *openai.Client
}

// NewOpenAIBackend creates a backend for the given API key.
func NewOpenAIBackend(apiKey string) *OpenAIBackend {
	return &OpenAIBackend{client: openai.NewClient(apiKey)}
}

// StreamChat streams one completion. The returned channel is closed when
// the stream ends; a trailing Chunk with Err set reports failures.
func (b *OpenAIBackend) StreamChat(ctx context.Context, req ChatRequest) (<-chan Chunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:  req.Model,
		Stream: true,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}
	if req.System != "" {
		chatReq.Messages = append([]openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
		}, chatReq.Messages...)
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	stream, err := b.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("open completion stream: %w", err)
	}

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				chunks <- Chunk{Err: err}
				return
			}
			for _, choice := range resp.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				select {
				case chunks <- Chunk{Text: choice.Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return chunks, nil
}

// GenerateImages produces N images request/response style, asking for
// base64 payloads so results can be cached locally.
func (b *OpenAIBackend) GenerateImages(ctx context.Context, req ImageRequest) ([]Image, error) {
	n := req.N
	if n < 1 {
		n = 1
	}
	imgReq := openai.ImageRequest{
		Model:          req.Model,
		Prompt:         req.Prompt,
		N:              n,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	}
	if req.Size != "" {
		imgReq.Size = req.Size
	}

	resp, err := b.client.CreateImage(ctx, imgReq)
	if err != nil {
		return nil, fmt.Errorf("create image: %w", err)
	}

	out := make([]Image, 0, len(resp.Data))
	for _, item := range resp.Data {
		img := Image{URL: item.URL, MimeType: "image/png"}
		if item.B64JSON != "" {
			data, err := base64.StdEncoding.DecodeString(item.B64JSON)
			if err != nil {
				return nil, fmt.Errorf("decode image payload: %w", err)
			}
			img.Data = data
		}
		out = append(out, img)
	}
	return out, nil
}

var (
	_ ChatStreamer = (*OpenAIBackend)(nil)
	_ ImageBackend = (*OpenAIBackend)(nil)
)
