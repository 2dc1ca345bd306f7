// Package embeddingtest provides a deterministic in-process encoder for tests.
package embeddingtest

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/kalambet/ocky/internal/vector"
)

// Encoder hashes lowercase words into a fixed number of buckets. Identical
// text always maps to the same vector and texts sharing words have positive
// cosine similarity.
type Encoder struct {
	Dim int
	// Fixed overrides the hashed vector for exact texts.
	Fixed map[string]vector.Vector
	// Err, when set, is returned from every Encode.
	Err error

	mu    sync.Mutex
	calls []string
}

// New returns an Encoder with dim buckets.
func New(dim int) *Encoder {
	return &Encoder{Dim: dim, Fixed: map[string]vector.Vector{}}
}

func (e *Encoder) Encode(_ context.Context, text string) (vector.Vector, error) {
	e.mu.Lock()
	e.calls = append(e.calls, text)
	e.mu.Unlock()

	if e.Err != nil {
		return nil, e.Err
	}
	if v, ok := e.Fixed[text]; ok {
		return v.Clone(), nil
	}
	v := make(vector.Vector, e.Dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[int(h.Sum32())%e.Dim]++
	}
	return v, nil
}

// Calls returns the texts encoded so far.
func (e *Encoder) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}
