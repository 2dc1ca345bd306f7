package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/ocky/internal/engine"
	"github.com/kalambet/ocky/internal/vector"
)

type fakeEngine struct {
	mu        sync.Mutex
	vectors   map[string][]float32
	embedErr  error
	unloads   int
	keepAlive string
	batches   int
}

func (f *fakeEngine) Embed(_ context.Context, _, text, keepAlive string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keepAlive = keepAlive
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEngine) EmbedBatch(ctx context.Context, model string, texts []string, keepAlive string) ([][]float32, error) {
	f.mu.Lock()
	f.batches++
	f.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, model, t, keepAlive)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEngine) Unload(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unloads++
	return nil
}

func (f *fakeEngine) IsRunning(context.Context) bool               { return true }
func (f *fakeEngine) ListModels(context.Context) ([]string, error) { return nil, nil }
func (f *fakeEngine) HasModel(context.Context, string) bool        { return true }
func (f *fakeEngine) PullModel(context.Context, string, func(engine.PullProgress)) error {
	return nil
}

func (f *fakeEngine) unloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unloads
}

func TestEncode_LazyLoad(t *testing.T) {
	fe := &fakeEngine{}
	s := NewService(fe, Options{Model: "m", KeepAlive: "5m"})
	assert.False(t, s.Loaded())

	v, err := s.Encode(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, v, 3)
	assert.True(t, s.Loaded())
	assert.Equal(t, 3, s.Dim())
	assert.Equal(t, "5m", fe.keepAlive)
}

func TestEncode_DimensionMismatch(t *testing.T) {
	fe := &fakeEngine{vectors: map[string][]float32{"short": {1, 2}}}
	s := NewService(fe, Options{Model: "m"})

	_, err := s.Encode(context.Background(), "hello")
	require.NoError(t, err)

	_, err = s.Encode(context.Background(), "short")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestEncode_PinnedDim(t *testing.T) {
	s := NewService(&fakeEngine{}, Options{Model: "m", Dim: 768})
	_, err := s.Encode(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestEncode_BackendError(t *testing.T) {
	s := NewService(&fakeEngine{embedErr: errors.New("boom")}, Options{Model: "m"})
	_, err := s.Encode(context.Background(), "hello")
	assert.Error(t, err)
	assert.False(t, s.Loaded())
}

func TestEncodeBatch_PreservesOrder(t *testing.T) {
	fe := &fakeEngine{vectors: map[string][]float32{
		"a": {1, 0, 0},
		"b": {0, 1, 0},
		"c": {0, 0, 1},
	}}
	s := NewService(fe, Options{Model: "m"})

	vs, err := s.EncodeBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vs, 3)
	assert.Equal(t, 1.0, vs[0][0])
	assert.Equal(t, 1.0, vs[1][1])
	assert.Equal(t, 1.0, vs[2][2])

	assert.Equal(t, 1, fe.batches)
	assert.True(t, s.Loaded())

	empty, err := s.EncodeBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestEncodeBatch_Chunks(t *testing.T) {
	fe := &fakeEngine{}
	s := NewService(fe, Options{Model: "m"})

	texts := make([]string, batchSize*2+1)
	vs, err := s.EncodeBatch(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vs, len(texts))
	assert.Equal(t, 3, fe.batches)
}

func TestEncodeBatch_DimensionMismatch(t *testing.T) {
	fe := &fakeEngine{vectors: map[string][]float32{"short": {1, 2}}}
	s := NewService(fe, Options{Model: "m", Dim: 3})

	_, err := s.EncodeBatch(context.Background(), []string{"ok", "short"})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

type plainEncoder struct{}

func (plainEncoder) Encode(_ context.Context, text string) (vector.Vector, error) {
	return vector.Vector{float64(len(text))}, nil
}

func TestEncodeAll(t *testing.T) {
	fe := &fakeEngine{}
	vs, err := EncodeAll(context.Background(), NewService(fe, Options{Model: "m"}), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vs, 2)
	assert.Equal(t, 1, fe.batches, "batch encoders get one round trip")

	vs, err = EncodeAll(context.Background(), plainEncoder{}, []string{"a", "bbb", "cc"})
	require.NoError(t, err)
	require.Len(t, vs, 3)
	assert.Equal(t, 3.0, vs[1][0])
	assert.Equal(t, 2.0, vs[2][0])
}

func TestSession_UnloadsAfterLastSession(t *testing.T) {
	fe := &fakeEngine{}
	s := NewService(fe, Options{Model: "m"})
	ctx := context.Background()

	err := s.Session(ctx, func(ctx context.Context) error {
		return s.Session(ctx, func(ctx context.Context) error {
			_, err := s.Encode(ctx, "x")
			return err
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fe.unloadCount(), "inner session must not unload while outer is open")
	assert.False(t, s.Loaded())
}

func TestSession_UnloadsOnError(t *testing.T) {
	fe := &fakeEngine{}
	s := NewService(fe, Options{Model: "m"})

	wantErr := errors.New("handler failed")
	err := s.Session(context.Background(), func(ctx context.Context) error {
		if _, err := s.Encode(ctx, "x"); err != nil {
			return err
		}
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, fe.unloadCount())
}

func TestSession_NoUnloadWhenNeverLoaded(t *testing.T) {
	fe := &fakeEngine{}
	s := NewService(fe, Options{Model: "m"})
	require.NoError(t, s.Session(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, 0, fe.unloadCount())
}
