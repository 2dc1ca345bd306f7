// Package embedding wraps the inference backend as a sentence encoder with
// lazy loading, fixed dimensionality and scoped release.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/ocky/internal/engine"
	"github.com/kalambet/ocky/internal/vector"
)

// ErrDimensionMismatch is returned when the backend produces a vector whose
// length differs from the dimension fixed by the first encode.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Encoder turns text into a fixed-length vector.
type Encoder interface {
	Encode(ctx context.Context, text string) (vector.Vector, error)
}

// Service encodes text through an engine.Engine. The model is loaded lazily
// by the first Encode and released when the last Session ends.
type Service struct {
	engine    engine.Engine
	model     string
	keepAlive string
	logger    *slog.Logger

	mu       sync.Mutex
	dim      int
	loaded   bool
	sessions int
}

// Options configures a Service.
type Options struct {
	Model     string
	KeepAlive string
	// Dim pins the expected dimensionality. Zero means the first vector decides.
	Dim    int
	Logger *slog.Logger
}

// NewService creates a Service over e.
func NewService(e engine.Engine, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine:    e,
		model:     opts.Model,
		keepAlive: opts.KeepAlive,
		dim:       opts.Dim,
		logger:    logger,
	}
}

// Encode returns the embedding of text.
func (s *Service) Encode(ctx context.Context, text string) (vector.Vector, error) {
	raw, err := s.engine.Embed(ctx, s.model, text, s.keepAlive)
	if err != nil {
		return nil, fmt.Errorf("encoding text: %w", err)
	}
	return s.accept(vector.FromFloat32(raw))
}

// accept marks the model loaded and enforces the fixed dimension.
func (s *Service) accept(v vector.Vector) (vector.Vector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = true
	if s.dim == 0 {
		s.dim = len(v)
	}
	if len(v) != s.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), s.dim)
	}
	return v, nil
}

// batchSize bounds the number of texts sent in one embed request.
const batchSize = 32

// EncodeBatch encodes texts in as few backend round trips as possible,
// preserving order. Returns nil (not error) for empty input.
func (s *Service) EncodeBatch(ctx context.Context, texts []string) ([]vector.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([]vector.Vector, 0, len(texts))
	for chunk := range slices.Chunk(texts, batchSize) {
		raw, err := s.engine.EmbedBatch(ctx, s.model, chunk, s.keepAlive)
		if err != nil {
			return nil, fmt.Errorf("encoding batch: %w", err)
		}
		if len(raw) != len(chunk) {
			return nil, fmt.Errorf("encoding batch: got %d vectors for %d texts", len(raw), len(chunk))
		}
		for _, r := range raw {
			v, err := s.accept(vector.FromFloat32(r))
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	return out, nil
}

// BatchEncoder is an Encoder that can encode many texts at once.
type BatchEncoder interface {
	Encoder
	EncodeBatch(ctx context.Context, texts []string) ([]vector.Vector, error)
}

// EncodeAll encodes texts with enc, preserving order. A BatchEncoder is used
// directly; any other Encoder gets at most four concurrent calls.
func EncodeAll(ctx context.Context, enc Encoder, texts []string) ([]vector.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if b, ok := enc.(BatchEncoder); ok {
		return b.EncodeBatch(ctx, texts)
	}

	results := make([]vector.Vector, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, text := range texts {
		g.Go(func() error {
			v, err := enc.Encode(gCtx, text)
			if err != nil {
				return fmt.Errorf("encoding text %d: %w", i, err)
			}
			results[i] = v
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Load forces the model into memory by encoding a probe string.
func (s *Service) Load(ctx context.Context) error {
	_, err := s.Encode(ctx, "load")
	return err
}

// Loaded reports whether the model is believed to be resident.
func (s *Service) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Dim returns the fixed dimensionality, or 0 before the first encode.
func (s *Service) Dim() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dim
}

// Unload evicts the model. It is a no-op when nothing is loaded.
func (s *Service) Unload(ctx context.Context) error {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return nil
	}
	s.loaded = false
	s.mu.Unlock()

	if err := s.engine.Unload(ctx, s.model); err != nil {
		return fmt.Errorf("unloading %s: %w", s.model, err)
	}
	return nil
}

// Session runs fn with the encoder available and unloads the model once the
// last concurrent session has returned.
func (s *Service) Session(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	s.sessions++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sessions--
		last := s.sessions == 0
		s.mu.Unlock()
		if !last {
			return
		}
		if err := s.Unload(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("embedding unload failed", "model", s.model, "error", err)
		}
	}()

	return fn(ctx)
}
