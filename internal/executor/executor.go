// Package executor runs model invocations in-process and exposes them
// through the same streamed wire contract the hosted backend speaks, so
// the run orchestrator and image pipeline cannot tell the two apart.
package executor

import (
	"context"
	"fmt"
	"strings"
)

// ChatRequest is one text completion invocation.
type ChatRequest struct {
	Model       string
	Prompt      string
	System      string
	Temperature float64
	MaxTokens   int
}

// Chunk is one increment of a streamed completion. Err terminates the
// stream; the channel is closed after the final chunk either way.
type Chunk struct {
	Text string
	Err  error
}

// ChatStreamer streams a completion as incremental chunks.
type ChatStreamer interface {
	StreamChat(ctx context.Context, req ChatRequest) (<-chan Chunk, error)
}

// ImageRequest is one image generation invocation producing N images.
type ImageRequest struct {
	Model  string
	Prompt string
	Size   string
	N      int
}

// Image is one generated image. Backends return either bytes or a URL.
type Image struct {
	Data     []byte
	URL      string
	MimeType string
}

// ImageBackend produces images for one request.
type ImageBackend interface {
	GenerateImages(ctx context.Context, req ImageRequest) ([]Image, error)
}

// Registry routes platform ids to backends.
type Registry struct {
	chat  map[string]ChatStreamer
	image map[string]ImageBackend
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		chat:  make(map[string]ChatStreamer),
		image: make(map[string]ImageBackend),
	}
}

// RegisterChat routes the platform id to a chat backend.
func (r *Registry) RegisterChat(platform string, s ChatStreamer) {
	r.chat[strings.ToLower(platform)] = s
}

// RegisterImage routes the platform id to an image backend.
func (r *Registry) RegisterImage(platform string, b ImageBackend) {
	r.image[strings.ToLower(platform)] = b
}

// Chat resolves the chat backend for a platform id.
func (r *Registry) Chat(platform string) (ChatStreamer, error) {
	s, ok := r.chat[strings.ToLower(platform)]
	if !ok {
		return nil, fmt.Errorf("no chat backend for platform %q", platform)
	}
	return s, nil
}

// Image resolves the image backend for a platform id.
func (r *Registry) Image(platform string) (ImageBackend, error) {
	b, ok := r.image[strings.ToLower(platform)]
	if !ok {
		return nil, fmt.Errorf("no image backend for platform %q", platform)
	}
	return b, nil
}
