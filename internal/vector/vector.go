// Package vector holds the dense embedding type shared by the catalog, the
// choice engine and training, along with its similarity and blob codecs.
package vector

import (
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Vector is a dense embedding.
type Vector []float64

// FromFloat32 widens a backend embedding to a Vector.
func FromFloat32(v []float32) Vector {
	out := make(Vector, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

// Clone returns an independent copy of v.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Norm returns the L2 norm of v.
func Norm(v Vector) float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Norm(v, 2)
}

// Cosine returns dot(a,b)/(|a|*|b|). ok is false when either vector has zero
// norm or the lengths differ; callers then treat the pair as least similar.
func Cosine(a, b Vector) (sim float64, ok bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0, false
	}
	sim = floats.Dot(a, b) / (na * nb)
	if math.IsNaN(sim) {
		return 0, false
	}
	return sim, true
}

// Scale returns a copy of v multiplied by c.
func Scale(v Vector, c float64) Vector {
	out := v.Clone()
	floats.Scale(c, out)
	return out
}

// Encode serializes v as little-endian float64s.
func Encode(v Vector) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

// Decode deserializes little-endian bytes into a new Vector.
// Returns an error if the length is not a multiple of 8 (indicates data corruption).
func Decode(b []byte) (Vector, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 8", len(b))
	}
	v := make(Vector, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v, nil
}
