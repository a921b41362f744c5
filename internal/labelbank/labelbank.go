// Package labelbank stores the N x 768 f32 text-embedding matrix behind
// the scorer, persisted as a flat binary file plus a key=value sidecar
// (spec §3, §4.1, §6). Rows are written and read little-endian with
// encoding/binary, returning on the first error — the same binary I/O
// shape as the teacher's internal/hnsw/persist.go; the HNSW graph format
// itself has no analogue here since a label bank is a flat matrix, not an
// adjacency-list graph.
package labelbank

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hejijunhao/photon/internal/perr"
	"github.com/hejijunhao/photon/internal/textencoder"
	"github.com/hejijunhao/photon/internal/vocabulary"
)

// Dim is the embedding width of every row.
const Dim = textencoder.EmbeddingDim

// Bank is a row-major N x Dim f32 matrix: row i is vocabulary term i's
// unit-norm text embedding.
type Bank struct {
	rows [][]float32
}

// Empty returns a zero-row bank.
func Empty() *Bank { return &Bank{} }

// FromRows builds a bank directly from an already-encoded row matrix, used
// by the progressive encoder when assembling a chunk's sub-bank and by
// tests that need a bank without a live ONNX session.
func FromRows(rows [][]float32) *Bank { return &Bank{rows: rows} }

// Len returns the row count.
func (b *Bank) Len() int { return len(b.rows) }

// Row returns row i.
func (b *Bank) Row(i int) []float32 { return b.rows[i] }

// EncodeAll blocks until every term in vocab has been encoded into a fresh
// bank (spec §4.1 encode_all). Fails entirely if any batch fails.
func EncodeAll(vocab *vocabulary.Vocabulary, enc *textencoder.Encoder, batchSize int) (*Bank, error) {
	texts := make([]string, vocab.Len())
	for i := 0; i < vocab.Len(); i++ {
		t := vocab.TermAt(i)
		if t.IsSupplemental() {
			texts[i] = t.DisplayName
		} else {
			texts[i] = textencoder.WordNetPrompt(t.DisplayName)
		}
	}
	vecs, err := enc.EncodeBatch(texts, batchSize)
	if err != nil {
		return nil, err
	}
	return &Bank{rows: vecs}, nil
}

// Append concatenates other's rows onto b. The caller must ensure row
// order matches the intended combined vocabulary order.
func (b *Bank) Append(other *Bank) {
	b.rows = append(b.rows, other.rows...)
}

// Save writes the matrix to path and a <path>.meta sidecar recording
// vocabHash, the row count, and Dim. It refuses to persist unless the
// in-memory row count equals termCount (the producing vocabulary's length).
// The file is exactly termCount * Dim * 4 bytes — no header (spec §3, §6:
// `bytes(.bin) == N × 768 × 4`).
func (b *Bank) Save(path string, vocabHash string, termCount int) error {
	if len(b.rows) != termCount {
		return fmt.Errorf("label bank has %d rows, vocabulary has %d terms — refusing to persist a mismatched bank",
			len(b.rows), termCount)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, row := range b.rows {
		if err := binary.Write(w, binary.LittleEndian, row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}

	meta := metaPath(path)
	metaContent := fmt.Sprintf("vocab_hash=%s\nterm_count=%d\nembedding_dim=%d\n", vocabHash, termCount, Dim)
	if err := os.WriteFile(meta, []byte(metaContent), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", meta, err)
	}
	return nil
}

func metaPath(path string) string { return path + ".meta" }

// Sidecar holds the parsed contents of a .meta file.
type Sidecar struct {
	VocabHash string
	TermCount int
	Dim       int
}

func readSidecar(path string) (Sidecar, error) {
	data, err := os.ReadFile(metaPath(path))
	if err != nil {
		return Sidecar{}, err
	}
	var s Sidecar
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "vocab_hash":
			s.VocabHash = kv[1]
		case "term_count":
			s.TermCount, _ = strconv.Atoi(kv[1])
		case "embedding_dim":
			s.Dim, _ = strconv.Atoi(kv[1])
		}
	}
	return s, nil
}

// CacheValid reports whether path's sidecar parses, its vocab_hash matches
// vocabHash, and the matrix byte length matches expectedTermCount * Dim * 4.
func CacheValid(path string, vocabHash string, expectedTermCount int) bool {
	s, err := readSidecar(path)
	if err != nil {
		return false
	}
	if s.VocabHash != vocabHash {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	wantBytes := int64(expectedTermCount) * int64(Dim) * 4
	return info.Size() == wantBytes
}

// Load reads the bank at path, requiring exactly expectedTermCount rows
// and exactly expectedTermCount * Dim * 4 bytes — no header to skip (spec
// §3, §6). Fails with KindCacheCorrupt if the byte length disagrees.
func Load(path string, expectedTermCount int) (*Bank, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, perr.New(perr.KindFileNotFound, "", err)
	}
	wantBytes := int64(expectedTermCount) * int64(Dim) * 4
	if info.Size() != wantBytes {
		return nil, perr.New(perr.KindCacheCorrupt, "label bank size disagrees with vocabulary — re-encoding",
			fmt.Errorf("got %d bytes, want %d", info.Size(), wantBytes))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, perr.New(perr.KindFileNotFound, "", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	rows := make([][]float32, expectedTermCount)
	for i := 0; i < expectedTermCount; i++ {
		row := make([]float32, Dim)
		if err := binary.Read(r, binary.LittleEndian, row); err != nil {
			return nil, perr.New(perr.KindCacheCorrupt, "label bank is truncated — re-encoding", err)
		}
		rows[i] = row
	}

	return &Bank{rows: rows}, nil
}
