// Package kernel holds the small numeric primitives shared by the
// embedding and scoring stages: L2 normalization, dot-product cosine
// similarity, and the SigLIP-style learned sigmoid confidence mapping.
package kernel

import "math"

// L2Normalize scales v in-place to unit length. A near-zero vector is left
// untouched rather than divided by ~0.
func L2Normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm < 1e-10 {
		return
	}
	inv := float32(1.0 / norm)
	for i := range v {
		v[i] *= inv
	}
}

// Dot computes the dot product of a and b. When both vectors are unit-norm
// this equals their cosine similarity. a and b must be the same length.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// SigLIP confidence constants. These are specific to the SigLIP text/vision
// encoder pair Photon is built against — do not substitute a plain
// unit-temperature sigmoid, the learned scale/bias are part of the model.
const (
	LogitScale = 117.33
	LogitBias  = -12.93
)

// Confidence maps a raw cosine similarity to a [0,1] confidence using the
// model's learned sigmoid: sigma(scale*dot + bias).
func Confidence(dot float32) float32 {
	x := LogitScale*float64(dot) + LogitBias
	return float32(1.0 / (1.0 + math.Exp(-x)))
}
