// Package seed picks the deterministic set of high-value vocabulary
// indices the progressive encoder embeds synchronously on cold start
// (spec §4.4 step 1): every supplemental term, every term named in an
// authored seed-terms file, and a hash-seeded random sample of the rest.
// Determinism mirrors the teacher's fixed-seed HNSW level sampling
// (rand.NewSource(42) in hnsw.New) — Photon seeds off the vocabulary's own
// content hash instead of a constant, so the sample still varies by
// vocabulary while staying reproducible for a given one.
package seed

import (
	"encoding/binary"
	"math/rand"
	"sort"

	"github.com/hejijunhao/photon/internal/vocabulary"
)

// Select returns a deterministic, ascending-sorted set of indices: the
// union of all supplemental terms, terms whose names appear in
// seedTermNames, and a hash-seeded random sample filling the remainder up
// to seedSize. The result has at most seedSize indices unless the
// supplemental and seed-file terms alone already exceed it.
func Select(vocab *vocabulary.Vocabulary, seedTermNames []string, seedSize int) []int {
	chosen := make(map[int]struct{})

	for _, idx := range vocab.AllSupplementalIndices() {
		chosen[idx] = struct{}{}
	}

	for _, name := range seedTermNames {
		if _, idx, ok := vocab.GetByName(name); ok {
			chosen[idx] = struct{}{}
		}
	}

	if len(chosen) < seedSize {
		remainder := make([]int, 0, vocab.Len())
		for i := 0; i < vocab.Len(); i++ {
			if _, already := chosen[i]; !already {
				remainder = append(remainder, i)
			}
		}

		rng := rand.New(rand.NewSource(seedFromHash(vocab.ContentHash())))
		rng.Shuffle(len(remainder), func(i, j int) { remainder[i], remainder[j] = remainder[j], remainder[i] })

		need := seedSize - len(chosen)
		for i := 0; i < need && i < len(remainder); i++ {
			chosen[remainder[i]] = struct{}{}
		}
	}

	// The mandatory core (supplemental terms + authored seed file) is never
	// truncated even if it exceeds seedSize — only the random fill is capped.
	out := make([]int, 0, len(chosen))
	for idx := range chosen {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// seedFromHash derives a deterministic int64 RNG seed from a vocabulary's
// hex content hash, so the random sample is reproducible per-vocabulary
// without depending on wall-clock time.
func seedFromHash(hexHash string) int64 {
	if len(hexHash) < 16 {
		return 0
	}
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = hexNibble(hexHash[2*i])<<4 | hexNibble(hexHash[2*i+1])
	}
	return int64(binary.BigEndian.Uint64(buf[:]))
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return 0
	}
}
