// Package engine abstracts the local inference backend that serves sentence
// embeddings.
package engine

import (
	"context"

	"github.com/kalambet/ocky/internal/ollama"
)

// PullProgress reports download progress for a model pull.
type PullProgress = ollama.PullProgress

// Engine is the backend the embedding service encodes through.
type Engine interface {
	// Embed returns the embedding of text. keepAlive tells the backend how
	// long to keep the model resident after the call.
	Embed(ctx context.Context, model, text, keepAlive string) ([]float32, error)
	// EmbedBatch embeds several texts in one round trip, preserving order.
	EmbedBatch(ctx context.Context, model string, texts []string, keepAlive string) ([][]float32, error)
	// Unload evicts the model from backend memory.
	Unload(ctx context.Context, model string) error

	IsRunning(ctx context.Context) bool
	ListModels(ctx context.Context) ([]string, error)
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
