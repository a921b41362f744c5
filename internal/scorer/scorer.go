// Package scorer turns a 768-dim unit-norm image embedding into an ordered
// tag list by dotting it against every row of a label bank (spec §4.2).
// The cosine-via-dot-product-of-unit-vectors pattern and the deterministic,
// NaN-safe sort are grounded on the teacher's internal/hnsw search path
// (cosineDistance + stable ordering in hnsw.go); hierarchy dedup and path
// annotation have no teacher analogue and are built fresh for this domain.
package scorer

import (
	"sort"
	"strings"
	"sync"

	"github.com/hejijunhao/photon/internal/kernel"
	"github.com/hejijunhao/photon/internal/labelbank"
	"github.com/hejijunhao/photon/internal/relevance"
	"github.com/hejijunhao/photon/internal/vocabulary"
)

// Tag is one scored vocabulary term attached to an image.
type Tag struct {
	Name       string  `json:"name"`
	Confidence float32 `json:"confidence"`
	Category   string  `json:"category,omitempty"`
	Path       string  `json:"path,omitempty"`
}

// Config controls thresholding, truncation, dedup, and path rendering.
type Config struct {
	MinConfidence       float32
	MaxTags             int
	DeduplicateAncestors bool
	ShowPaths           bool
	PathMaxDepth        int
	SkipList            map[string]bool
}

// DefaultSkipList is the set of WordNet anchors too generic to show in a
// rendered hierarchy path.
func DefaultSkipList() map[string]bool {
	return map[string]bool{
		"entity": true, "object": true, "organism": true, "thing": true,
		"physical entity": true, "abstraction": true, "whole": true,
	}
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() Config {
	return Config{
		MinConfidence:        0.1,
		MaxTags:              20,
		DeduplicateAncestors: true,
		ShowPaths:            false,
		PathMaxDepth:         3,
		SkipList:             DefaultSkipList(),
	}
}

// Scorer holds an immutable (vocabulary, label bank) pair plus a
// precomputed parent index for neighbor expansion. A Scorer never mutates
// after construction, so the "many readers" side of the scorer slot's
// lock only ever reads pointers and slices, never structure.
type Scorer struct {
	vocab       *vocabulary.Vocabulary
	bank        *labelbank.Bank
	cfg         Config
	parentIndex map[string][]int
}

// New builds a scorer over vocab/bank. vocab and bank must have the same
// length and row order.
func New(vocab *vocabulary.Vocabulary, bank *labelbank.Bank, cfg Config) *Scorer {
	return &Scorer{
		vocab:       vocab,
		bank:        bank,
		cfg:         cfg,
		parentIndex: vocab.ParentIndex(),
	}
}

// Len returns the number of terms this scorer covers.
func (s *Scorer) Len() int { return s.vocab.Len() }

// Result is the outcome of a single scoring call: the finished tag list
// plus the bookkeeping the relevance tracker needs to record hits and
// scoring opportunities (spec §4.2, §4.3).
type Result struct {
	Tags          []Tag
	RawHits       []int // indices whose confidence passed the threshold, pre-dedup/truncate
	ScoredIndices []int // every index actually scored this call
}

type candidate struct {
	index      int
	confidence float32
}

// Score scores every term in the vocabulary (spec §4.2 score). Used when
// no relevance tracker is installed.
func (s *Scorer) Score(embedding []float32) Result {
	indices := make([]int, s.vocab.Len())
	for i := range indices {
		indices[i] = i
	}
	return s.scoreIndices(embedding, indices)
}

// ScoreWithPools scores the tracker's Active indices every call, plus its
// Warm indices when the tracker says this image lands on a warm-interval
// boundary (spec §4.2 score_with_pools). Cold indices are never scored.
func (s *Scorer) ScoreWithPools(embedding []float32, tracker *relevance.Tracker) Result {
	active := tracker.ActiveIndices()
	indices := active
	if tracker.ShouldScoreWarmThisImage() {
		indices = append(indices, tracker.WarmIndices()...)
	}
	return s.scoreIndices(embedding, indices)
}

func (s *Scorer) scoreIndices(embedding []float32, indices []int) Result {
	candidates := make([]candidate, 0, len(indices))
	rawHits := make([]int, 0, len(indices))
	for _, i := range indices {
		conf := kernel.Confidence(kernel.Dot(embedding, s.bank.Row(i)))
		if conf >= s.cfg.MinConfidence {
			candidates = append(candidates, candidate{index: i, confidence: conf})
			rawHits = append(rawHits, i)
		}
	}

	sortCandidates(candidates)

	if s.cfg.MaxTags > 0 && len(candidates) > s.cfg.MaxTags {
		candidates = candidates[:s.cfg.MaxTags]
	}

	if s.cfg.DeduplicateAncestors {
		candidates = s.dedupAncestors(candidates)
	}

	tags := make([]Tag, len(candidates))
	for i, c := range candidates {
		t := s.vocab.TermAt(c.index)
		tag := Tag{Name: t.DisplayName, Confidence: c.confidence, Category: t.Category}
		if s.cfg.ShowPaths {
			tag.Path = s.buildPath(t)
		}
		tags[i] = tag
	}

	return Result{Tags: tags, RawHits: rawHits, ScoredIndices: indices}
}

// sortCandidates orders by descending confidence, NaN last, ties broken by
// ascending vocabulary index for determinism (spec §8).
func sortCandidates(candidates []candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i].confidence, candidates[j].confidence
		iNaN, jNaN := ci != ci, cj != cj
		if iNaN != jNaN {
			return jNaN // NaN sorts after any real number
		}
		if iNaN && jNaN {
			return candidates[i].index < candidates[j].index
		}
		if ci != cj {
			return ci > cj
		}
		return candidates[i].index < candidates[j].index
	})
}

// dedupAncestors suppresses any surviving candidate whose display name is
// an ancestor (appears in the hypernym chain) of another surviving
// candidate. Idempotent: re-running on an already-deduped set removes
// nothing further, since only descendants remain.
func (s *Scorer) dedupAncestors(candidates []candidate) []candidate {
	ancestorNames := make(map[string]bool)
	for _, c := range candidates {
		t := s.vocab.TermAt(c.index)
		for _, h := range t.Hypernyms {
			ancestorNames[h] = true
		}
	}

	out := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		t := s.vocab.TermAt(c.index)
		if ancestorNames[t.DisplayName] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// buildPath renders a term's hypernym chain as a "general > specific"
// display string, dropping skip-listed generic anchors and keeping at
// most PathMaxDepth ancestors closest to the general end (spec §4.2).
// Supplemental terms (no hypernyms) get no path.
func (s *Scorer) buildPath(t vocabulary.Term) string {
	if t.IsSupplemental() {
		return ""
	}

	filtered := make([]string, 0, len(t.Hypernyms))
	for _, h := range t.Hypernyms {
		if !s.cfg.SkipList[h] {
			filtered = append(filtered, h)
		}
	}

	start := 0
	if len(filtered) > s.cfg.PathMaxDepth {
		start = len(filtered) - s.cfg.PathMaxDepth
	}
	segment := filtered[start:] // still most-specific-first within the kept window

	reversed := make([]string, len(segment))
	for i, name := range segment {
		reversed[len(segment)-1-i] = name
	}

	parts := append(reversed, t.DisplayName)
	return strings.Join(parts, " > ")
}

// Siblings returns the indices sharing term a's direct hypernym (spec
// §4.3 neighbor expansion). The parent index is built once at
// construction from the full vocabulary.
func (s *Scorer) Siblings(a int) []int {
	t := s.vocab.TermAt(a)
	if len(t.Hypernyms) == 0 {
		return nil
	}
	return s.parentIndex[t.Hypernyms[0]]
}

// Slot is the single-writer/many-reader holder for the pipeline's shared
// scorer pointer (spec §4.1, §5). Construction of a replacement Scorer
// always happens outside the lock; Swap only assigns the pointer, so swap
// cost is proportional to a pointer copy, never to label-bank size.
type Slot struct {
	mu sync.RWMutex
	s  *Scorer
}

// NewSlot returns a slot, optionally pre-populated with an initial scorer.
func NewSlot(initial *Scorer) *Slot {
	return &Slot{s: initial}
}

// Get returns the current scorer, or nil if none has been installed yet.
// Callers must not retain it across a later Swap expecting it to update.
func (sl *Slot) Get() *Scorer {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return sl.s
}

// Swap installs a newly built scorer as the current one. next is built
// entirely outside the lock by the caller (the progressive encoder).
func (sl *Slot) Swap(next *Scorer) {
	sl.mu.Lock()
	sl.s = next
	sl.mu.Unlock()
}
