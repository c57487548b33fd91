package models

import "math"

// Dot returns the float32 dot product of two vectors. On unit-norm vectors
// this is the cosine similarity. Mismatched lengths score zero.
func Dot(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Norm returns the L2 norm of a vector.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize scales v to unit length in place and returns it. Zero vectors are
// returned unchanged.
func Normalize(v []float32) []float32 {
	n := Norm(v)
	if n == 0 {
		return v
	}
	inv := float32(1 / n)
	for i := range v {
		v[i] *= inv
	}
	return v
}

// IsUnitNorm reports whether v has L2 norm 1 within tolerance.
func IsUnitNorm(v []float32, tolerance float64) bool {
	return math.Abs(Norm(v)-1) < tolerance
}
