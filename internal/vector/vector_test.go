package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosine_Identical(t *testing.T) {
	sim, ok := Cosine(Vector{1, 2, 3}, Vector{1, 2, 3})
	require.True(t, ok)
	assert.InDelta(t, 1.0, sim, 1e-12)
}

func TestCosine_SymmetricAndScaleInvariant(t *testing.T) {
	a := Vector{0.3, -1.2, 4}
	b := Vector{2, 0.5, -0.7}

	ab, ok := Cosine(a, b)
	require.True(t, ok)
	ba, _ := Cosine(b, a)
	assert.InDelta(t, ab, ba, 1e-12)

	scaled, _ := Cosine(Scale(a, 7.5), b)
	assert.InDelta(t, ab, scaled, 1e-12)
}

func TestCosine_ZeroNorm(t *testing.T) {
	_, ok := Cosine(Vector{0, 0}, Vector{1, 1})
	assert.False(t, ok)
}

func TestCosine_LengthMismatch(t *testing.T) {
	_, ok := Cosine(Vector{1}, Vector{1, 1})
	assert.False(t, ok)
}

func TestEncodeDecode(t *testing.T) {
	v := Vector{0.1, -2.5, math.Pi}
	got, err := Decode(Encode(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestDecode_Corrupt(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestClone_Independent(t *testing.T) {
	v := Vector{1, 2}
	c := v.Clone()
	c[0] = 9
	assert.Equal(t, 1.0, v[0])
}
