package database

import (
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// toFloat64 widens a float32 vector so gonum can operate on it.
func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// Normalize returns an L2-normalized copy of v.
// Empty, zero and non-finite vectors are rejected with ErrInvalidVector.
func Normalize(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, &ValidationError{Field: "vector", Err: fmt.Errorf("%w: empty", ErrInvalidVector)}
	}
	w := toFloat64(v)
	if floats.HasNaN(w) {
		return nil, &ValidationError{Field: "vector", Err: fmt.Errorf("%w: contains NaN", ErrInvalidVector)}
	}
	norm := floats.Norm(w, 2)
	if norm == 0 || math.IsInf(norm, 0) {
		return nil, &ValidationError{Field: "vector", Err: fmt.Errorf("%w: zero or infinite norm", ErrInvalidVector)}
	}
	floats.Scale(1/norm, w)

	out := make([]float32, len(w))
	for i, x := range w {
		out[i] = float32(x)
	}
	return out, nil
}

// Dot computes the dot product of two equal-length vectors in float64.
// For unit vectors this is the cosine similarity.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return floats.Dot(toFloat64(a), toFloat64(b))
}

// CosineSimilarity computes the cosine similarity of two vectors of any norm.
// Returns 0 for mismatched or zero vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	wa, wb := toFloat64(a), toFloat64(b)
	na, nb := floats.Norm(wa, 2), floats.Norm(wb, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	sim := floats.Dot(wa, wb) / (na * nb)
	// Clamp to [-1, 1] to handle floating point errors
	return math.Max(-1, math.Min(1, sim))
}

// CosineDistance returns 1 - cosine similarity, 2 for invalid input.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}
	return 1 - CosineSimilarity(a, b)
}

// EncodeVector serializes v as little-endian float32 bytes.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

// DecodeVector parses little-endian float32 bytes produced by EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of 4", ErrInvalidVector, len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// ClipQuality clamps a quality score into [0, 1]. NaN becomes 0.
func ClipQuality(q float64) float64 {
	if math.IsNaN(q) || q < 0 {
		return 0
	}
	if q > 1 {
		return 1
	}
	return q
}

// PrepareEmbedding checks v against the store dimension and returns its normalized copy
// together with the clipped quality. Every EmbeddingStore runs input through this.
func PrepareEmbedding(dim int, v []float32, quality float64) ([]float32, float64, error) {
	if len(v) != dim {
		return nil, 0, DimensionError(dim, len(v))
	}
	norm, err := Normalize(v)
	if err != nil {
		return nil, 0, err
	}
	return norm, ClipQuality(quality), nil
}
