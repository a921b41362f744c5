// Package phash computes a perceptual hash over a decoded image, used by
// the pipeline to spot near-duplicates (spec §3/§4.1). Wraps
// corona10/goimagehash, the same library the pack's image-management repos
// reach for.
package phash

import (
	stdimage "image"

	"github.com/corona10/goimagehash"
)

// Compute returns the pHash of img as a bit-string (its hex form prefixed
// with the algorithm name, matching goimagehash's own ToString output).
// Returns "", false if the hash cannot be computed (e.g. degenerate 1x1
// input some algorithms reject).
func Compute(img stdimage.Image) (string, bool) {
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return "", false
	}
	return h.ToString(), true
}
