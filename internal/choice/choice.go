// Package choice picks which canned response to send by comparing the
// message embedding against every catalog embedding, with Gaussian noise
// added per candidate for exploration.
package choice

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/kalambet/ocky/internal/catalog"
	"github.com/kalambet/ocky/internal/embedding"
	"github.com/kalambet/ocky/internal/vector"
)

// DefaultRandomness is the default noise standard deviation.
const DefaultRandomness = 0.05

// NoiseSource draws standard normal samples. *rand.Rand satisfies it.
type NoiseSource interface {
	NormFloat64() float64
}

type lockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (s *lockedSource) NormFloat64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.NormFloat64()
}

// NewSource returns a goroutine-safe NoiseSource. A zero seed seeds from the clock.
func NewSource(seed uint64) NoiseSource {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &lockedSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// SnapshotSource provides the current catalog view.
type SnapshotSource interface {
	Snapshot() *catalog.Snapshot
}

// Choice is the selected response.
type Choice struct {
	ID   catalog.ResponseID
	Text string
	// Similarity is the raw cosine similarity; Score adds the noise.
	Similarity float64
	Score      float64
	// Input is the message embedding the choice was made against.
	Input vector.Vector
}

// Engine selects responses.
type Engine struct {
	catalog    SnapshotSource
	encoder    embedding.Encoder
	randomness float64
	noise      NoiseSource
}

// New creates an Engine. randomness is the noise standard deviation; a nil
// noise source uses a clock-seeded one.
func New(cat SnapshotSource, enc embedding.Encoder, randomness float64, noise NoiseSource) *Engine {
	if noise == nil {
		noise = NewSource(0)
	}
	if randomness < 0 {
		randomness = 0
	}
	return &Engine{catalog: cat, encoder: enc, randomness: randomness, noise: noise}
}

// Select encodes text and returns the best scoring response, or nil when the
// catalog is empty.
func (e *Engine) Select(ctx context.Context, text string) (*Choice, error) {
	snap := e.catalog.Snapshot()
	if snap.Len() == 0 {
		return nil, nil
	}
	input, err := e.encoder.Encode(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	return e.SelectFrom(snap, input), nil
}

// SelectFrom scores every entry of snap against input. Zero-norm embeddings
// score -Inf; ties keep the first entry in iteration order.
func (e *Engine) SelectFrom(snap *catalog.Snapshot, input vector.Vector) *Choice {
	entries := snap.Entries()
	if len(entries) == 0 {
		return nil
	}

	best := -1
	var bestSim, bestScore float64
	for i, entry := range entries {
		sim, ok := vector.Cosine(input, entry.Embedding)
		if !ok {
			sim = math.Inf(-1)
		}
		score := sim + e.randomness*e.noise.NormFloat64()
		if best < 0 || score > bestScore {
			best, bestSim, bestScore = i, sim, score
		}
	}

	chosen := entries[best]
	return &Choice{
		ID:         chosen.ID,
		Text:       chosen.Text,
		Similarity: bestSim,
		Score:      bestScore,
		Input:      input,
	}
}
