// Package thumbnail produces a bounded-edge, base64-embeddable thumbnail
// from a decoded image (spec §3/§4.1). Resizing uses nfnt/resize, the same
// library the pack's image-domain repos use for this exact purpose.
// Thumbnails are always re-encoded as JPEG (quality 85) regardless of the
// source format — see SPEC_FULL.md §12.
package thumbnail

import (
	"bytes"
	stdimage "image"
	"image/jpeg"

	"github.com/hejijunhao/photon/internal/perr"
	"github.com/nfnt/resize"
)

const jpegQuality = 85

// Make resizes img so its longest edge is at most maxEdge (preserving
// aspect ratio) and returns the JPEG-encoded bytes. An image already at or
// under maxEdge on both axes is still re-encoded (for a consistent codec),
// not returned verbatim.
func Make(img stdimage.Image, maxEdge int) ([]byte, error) {
	bounds := img.Bounds()
	w, h := uint(bounds.Dx()), uint(bounds.Dy())

	var targetW, targetH uint
	if w >= h {
		targetW = uint(maxEdge)
		targetH = 0 // resize infers to preserve aspect ratio
	} else {
		targetH = uint(maxEdge)
		targetW = 0
	}

	resized := resize.Resize(targetW, targetH, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, perr.New(perr.KindDecode, "failed to encode thumbnail", err)
	}
	return buf.Bytes(), nil
}
