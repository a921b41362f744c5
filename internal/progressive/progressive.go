// Package progressive hides the multi-minute cold-start text-encoding
// latency behind a seed-then-stream strategy (spec §4.4): synchronously
// encode a small high-value subset, install a scorer, then grow the
// vocabulary in the background while the pipeline keeps scoring against
// whatever scorer is currently installed. The background task is grounded
// on the teacher's IndexDirWithProgress loop in internal/index/index.go
// (a single sequential loop with progress callbacks), run on its own
// goroutine here since chunk encoding must stay off the caller's path.
package progressive

import (
	"fmt"

	"github.com/hejijunhao/photon/internal/labelbank"
	"github.com/hejijunhao/photon/internal/plog"
	"github.com/hejijunhao/photon/internal/scorer"
	"github.com/hejijunhao/photon/internal/seed"
	"github.com/hejijunhao/photon/internal/textencoder"
	"github.com/hejijunhao/photon/internal/vocabulary"
)

// Config controls seed sizing, chunking, and where the persisted bank lives.
type Config struct {
	SeedSize      int
	ChunkSize     int // default 5000
	SeedTermNames []string
	CachePath     string // e.g. "<data_dir>/label_bank.bin"
	BatchSize     int    // text-encoder batch size
}

// DefaultConfig returns spec defaults.
func DefaultConfig(cachePath string) Config {
	return Config{
		SeedSize:  2000,
		ChunkSize: 5000,
		CachePath: cachePath,
		BatchSize: 32,
	}
}

// ChunkProgress is invoked after each background chunk completes (or fails),
// for callers that want to surface progress (spec §4.4 step 3 narrates this
// to a caller; here it's an optional hook instead of a hard requirement).
type ChunkProgress func(encodedSoFar, total int, err error)

// Load runs the cold- or warm-path lifecycle and returns a Slot that is
// already readable: either the warm-loaded full scorer, or a seed scorer
// with a background task in flight. asyncAvailable models spec §4.4's
// "background work requires an asynchronous runtime" requirement; pass
// false to force the synchronous full-encode fallback (e.g. under a
// single-goroutine constrained environment).
func Load(vocab *vocabulary.Vocabulary, enc *textencoder.Encoder, scorerCfg scorer.Config, cfg Config, asyncAvailable bool, onProgress ChunkProgress) (*scorer.Slot, error) {
	log := plog.New("progressive")

	if cfg.CachePath != "" && labelbank.CacheValid(cfg.CachePath, vocab.ContentHash(), vocab.Len()) {
		bank, err := labelbank.Load(cfg.CachePath, vocab.Len())
		if err == nil {
			log.Infof("warm start: loaded %d-term label bank from cache", vocab.Len())
			return scorer.NewSlot(scorer.New(vocab, bank, scorerCfg)), nil
		}
		log.Warnf("cache present but failed to load (%v); falling back to cold start", err)
	}

	if !asyncAvailable {
		log.Infof("no async runtime available; encoding full vocabulary synchronously")
		bank, err := labelbank.EncodeAll(vocab, enc, cfg.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("synchronous full encode: %w", err)
		}
		if cfg.CachePath != "" {
			if err := bank.Save(cfg.CachePath, vocab.ContentHash(), vocab.Len()); err != nil {
				log.Warnf("failed to persist label bank cache: %v", err)
			}
		}
		return scorer.NewSlot(scorer.New(vocab, bank, scorerCfg)), nil
	}

	return coldStart(vocab, enc, scorerCfg, cfg, onProgress)
}

func coldStart(vocab *vocabulary.Vocabulary, enc *textencoder.Encoder, scorerCfg scorer.Config, cfg Config, onProgress ChunkProgress) (*scorer.Slot, error) {
	log := plog.New("progressive")

	seedSize := cfg.SeedSize
	if seedSize <= 0 {
		seedSize = vocab.Len()
	}
	seedIndices := seed.Select(vocab, cfg.SeedTermNames, seedSize)

	seedVocab := vocab.Subset(seedIndices)
	seedBank, err := labelbank.EncodeAll(seedVocab, enc, cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("seed encode: %w", err)
	}

	slot := scorer.NewSlot(scorer.New(seedVocab, seedBank, scorerCfg))
	log.Infof("seed scorer installed: %d/%d terms", len(seedIndices), vocab.Len())

	remaining := remainderIndices(vocab.Len(), seedIndices)
	if len(remaining) == 0 {
		if cfg.CachePath != "" {
			if err := seedBank.Save(cfg.CachePath, vocab.ContentHash(), vocab.Len()); err != nil {
				log.Warnf("failed to persist label bank cache: %v", err)
			}
		}
		return slot, nil
	}

	go runBackground(vocab, enc, scorerCfg, cfg, slot, seedIndices, seedBank, remaining, onProgress)

	return slot, nil
}

// runBackground encodes the remaining indices in chunks, growing a running
// bank and atomically swapping a fresh scorer into slot after each chunk
// (spec §4.4 step 3). It persists the final bank only if every chunk
// succeeded; a single failed chunk aborts persistence entirely since a
// partial bank advertising the full vocabulary hash would corrupt the next
// cold start (spec §4.4 step 4).
func runBackground(vocab *vocabulary.Vocabulary, enc *textencoder.Encoder, scorerCfg scorer.Config, cfg Config, slot *scorer.Slot, encodedSoFar []int, runningBank *labelbank.Bank, remaining []int, onProgress ChunkProgress) {
	log := plog.New("progressive")

	// Grow a private copy so the seed scorer's bank is never appended to.
	detached := labelbank.Empty()
	detached.Append(runningBank)
	runningBank = detached

	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 5000
	}

	allSucceeded := true

	for start := 0; start < len(remaining); start += chunkSize {
		end := start + chunkSize
		if end > len(remaining) {
			end = len(remaining)
		}
		chunkIndices := remaining[start:end]

		chunkVocab := vocab.Subset(chunkIndices)
		chunkBank, err := labelbank.EncodeAll(chunkVocab, enc, cfg.BatchSize)
		if err != nil {
			log.Warnf("chunk [%d:%d] failed to encode, skipping: %v", start, end, err)
			allSucceeded = false
			if onProgress != nil {
				onProgress(len(encodedSoFar), vocab.Len(), err)
			}
			continue
		}

		runningBank.Append(chunkBank)
		encodedSoFar = append(encodedSoFar, chunkIndices...)

		snapshot := make([][]float32, runningBank.Len())
		for i := range snapshot {
			snapshot[i] = runningBank.Row(i)
		}
		unionVocab := vocab.Subset(encodedSoFar)
		slot.Swap(scorer.New(unionVocab, labelbank.FromRows(snapshot), scorerCfg))

		log.Infof("chunk [%d:%d] encoded; scorer now covers %d/%d terms", start, end, len(encodedSoFar), vocab.Len())
		if onProgress != nil {
			onProgress(len(encodedSoFar), vocab.Len(), nil)
		}
	}

	if allSucceeded && cfg.CachePath != "" {
		// runningBank is in encoding order (seed first); persist in vocabulary order.
		ordered := make([][]float32, vocab.Len())
		for pos, idx := range encodedSoFar {
			ordered[idx] = runningBank.Row(pos)
		}
		if err := labelbank.FromRows(ordered).Save(cfg.CachePath, vocab.ContentHash(), vocab.Len()); err != nil {
			log.Warnf("failed to persist completed label bank: %v", err)
		}
		return
	}
	if !allSucceeded {
		log.Warnf("not persisting label bank cache: one or more chunks failed")
	}
}

func remainderIndices(total int, chosen []int) []int {
	in := make(map[int]bool, len(chosen))
	for _, i := range chosen {
		in[i] = true
	}
	out := make([]int, 0, total-len(chosen))
	for i := 0; i < total; i++ {
		if !in[i] {
			out = append(out, i)
		}
	}
	return out
}
