// Package hash computes the content hash identifying an image (spec §3):
// BLAKE3 over the raw file bytes, rendered as a 64-character hex string.
package hash

import (
	"encoding/hex"

	"github.com/hejijunhao/photon/internal/perr"
	"github.com/zeebo/blake3"
)

// Bytes returns the 64-hex BLAKE3 digest of data.
func Bytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Canonicalize returns the 64-hex BLAKE3 digest of the concatenation of
// terms, each separated by a newline. Used by the vocabulary to derive its
// content hash — the separator prevents "ab"+"c" colliding with "a"+"bc".
func Canonicalize(terms []string) string {
	h := blake3.New()
	for _, t := range terms {
		h.Write([]byte(t))
		h.Write([]byte{'\n'})
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)
}

// I/O failures (e.g. a file disappearing mid-read) are surfaced by the
// caller as perr.KindHashIO; this package only hashes bytes already in
// memory. WrapIOError is a convenience for that boundary.
func WrapIOError(err error) error {
	if err == nil {
		return nil
	}
	return perr.New(perr.KindHashIO, "the file may have been removed or is unreadable", err)
}
