// Package preprocess turns a decoded image into the normalized NCHW tensor
// the vision ONNX session expects (spec §4.1): resize to the configured
// edge, scale to [0,1], then apply per-channel mean/std normalization.
package preprocess

import (
	stdimage "image"

	"github.com/nfnt/resize"
)

// SigLIP-style per-channel normalization constants (mean 0.5 / std 0.5,
// i.e. scale pixel values into [-1, 1]). Model-specific, like the SigLIP
// sigmoid constants in internal/kernel.
const (
	mean = 0.5
	std  = 0.5
)

// Tensor is a preprocessed NCHW float32 tensor: Data has length
// 3*Edge*Edge, channel-major (all R, then all G, then all B).
type Tensor struct {
	Data []float32
	Edge int
}

// Run resizes img to edge x edge (ignoring aspect ratio, matching the
// square-crop input every CLIP/SigLIP vision tower expects) and produces a
// normalized NCHW tensor.
func Run(img stdimage.Image, edge int) Tensor {
	square := resize.Resize(uint(edge), uint(edge), img, resize.Bilinear)
	bounds := square.Bounds()

	data := make([]float32, 3*edge*edge)
	plane := edge * edge
	idx := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := square.At(x, y).RGBA()
			// RGBA() returns 16-bit-scaled components; reduce to [0,1].
			rf := float32(r) / 65535.0
			gf := float32(g) / 65535.0
			bf := float32(b) / 65535.0

			data[0*plane+idx] = (rf - mean) / std
			data[1*plane+idx] = (gf - mean) / std
			data[2*plane+idx] = (bf - mean) / std
			idx++
		}
	}

	return Tensor{Data: data, Edge: edge}
}
