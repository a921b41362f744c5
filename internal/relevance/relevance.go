// Package relevance tracks per-term hit/seen counts and the Active/Warm/
// Cold pool each vocabulary term belongs to (spec §4.3). It is implemented
// as dense per-index arrays rather than maps, per spec §9's explicit
// "avoid associative maps in the hot path" guidance, and is guarded by a
// single-writer/many-reader lock grounded on the teacher's sync.RWMutex-
// guarded Index in internal/index/index.go.
package relevance

import "sync"

// Pool classifies a term's current scoring frequency.
type Pool uint8

const (
	Cold Pool = iota
	Warm
	Active
)

// Config controls sweep thresholds and cadence (spec §4.3, §6).
type Config struct {
	ActiveThreshold float64
	WarmThreshold   float64
	WarmInterval    int
	SweepInterval   int
	StickyWindow    int
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() Config {
	return Config{
		ActiveThreshold: 0.15,
		WarmThreshold:   0.02,
		WarmInterval:    5,
		SweepInterval:   50,
		StickyWindow:    200,
	}
}

// Tracker is the per-vocabulary relevance state. Every term starts Active
// so the scorer has full coverage before any statistics accumulate.
type Tracker struct {
	mu sync.RWMutex

	cfg Config

	hits []int
	seen []int
	pool []Pool

	promotedAt []int // last images_processed value a term was promoted at; 0 for the initial Active pool

	activeIndices []int
	warmIndices   []int

	imagesProcessed int
}

// New creates a tracker with n terms, all starting Active.
func New(n int, cfg Config) *Tracker {
	t := &Tracker{
		cfg:        cfg,
		hits:       make([]int, n),
		seen:       make([]int, n),
		pool:       make([]Pool, n),
		promotedAt: make([]int, n),
	}
	t.activeIndices = make([]int, n)
	for i := 0; i < n; i++ {
		t.pool[i] = Active
		t.activeIndices[i] = i
		t.promotedAt[i] = 0 // the initial Active pool counts as promoted at image 0
	}
	return t
}

// PoolOf returns the current pool of term i.
func (t *Tracker) PoolOf(i int) Pool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pool[i]
}

// ActiveIndices returns a copy of the current Active index list.
func (t *Tracker) ActiveIndices() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]int, len(t.activeIndices))
	copy(out, t.activeIndices)
	return out
}

// WarmIndices returns a copy of the current Warm index list.
func (t *Tracker) WarmIndices() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]int, len(t.warmIndices))
	copy(out, t.warmIndices)
	return out
}

// ShouldScoreWarmThisImage reports whether images_processed (before this
// image increments it) lands on a warm-interval boundary.
func (t *Tracker) ShouldScoreWarmThisImage() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.cfg.WarmInterval <= 0 {
		return true
	}
	return t.imagesProcessed%t.cfg.WarmInterval == 0
}

// ImagesProcessed returns the current count.
func (t *Tracker) ImagesProcessed() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.imagesProcessed
}

// RecordHits increments hits for every index in rawHits that passed the
// confidence threshold, increments seen for every index that was actually
// scored this image (scoredIndices — Active always, Warm on a warm-interval
// image), and increments images_processed by 1. seen accounts for scoring
// opportunities, not passes (spec §4.3, Open Question i).
func (t *Tracker) RecordHits(rawHits []int, scoredIndices []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, i := range rawHits {
		t.hits[i]++
	}
	for _, i := range scoredIndices {
		t.seen[i]++
	}
	t.imagesProcessed++
}

// RecordHitsAndMaybeSweep is RecordHits followed, under the same write-lock
// acquisition, by a Sweep when images_processed lands on a sweep-interval
// boundary (spec §4.5 step 8: "record_hits and conditionally sweep" happen
// as one critical section). Returns the sweep's promoted indices, or nil
// if no sweep ran this call.
func (t *Tracker) RecordHitsAndMaybeSweep(rawHits []int, scoredIndices []int) []int {
	t.mu.Lock()
	for _, i := range rawHits {
		t.hits[i]++
	}
	for _, i := range scoredIndices {
		t.seen[i]++
	}
	t.imagesProcessed++

	due := t.cfg.SweepInterval > 0 && t.imagesProcessed%t.cfg.SweepInterval == 0
	if !due {
		t.mu.Unlock()
		return nil
	}
	promoted := t.sweepLocked()
	t.mu.Unlock()
	return promoted
}

// Sweep reclassifies every term by hit-rate band and returns the indices
// that moved into Active or Warm this sweep (spec §4.3).
func (t *Tracker) Sweep() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sweepLocked()
}

func (t *Tracker) sweepLocked() []int {
	var promoted []int
	for i := range t.pool {
		rate := 0.0
		if t.seen[i] > 0 {
			rate = float64(t.hits[i]) / float64(t.seen[i])
		}

		var next Pool
		switch {
		case rate >= t.cfg.ActiveThreshold:
			next = Active
		case rate >= t.cfg.WarmThreshold:
			next = Warm
		default:
			next = Cold
			if t.sticky(i) {
				next = t.pool[i] // sticky window: do not demote yet
			}
		}

		if next != t.pool[i] {
			if next == Active || next == Warm {
				promoted = append(promoted, i)
				t.promotedAt[i] = t.imagesProcessed
			}
			t.pool[i] = next
		}
	}

	t.rebuildCaches()
	return promoted
}

func (t *Tracker) sticky(i int) bool {
	if t.promotedAt[i] < 0 {
		return false
	}
	return t.imagesProcessed-t.promotedAt[i] < t.cfg.StickyWindow
}

// PromoteToWarm promotes each Cold index in indices to Warm (used by
// neighbor expansion). Indices already Warm or Active are left alone.
func (t *Tracker) PromoteToWarm(indices []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	changed := false
	for _, i := range indices {
		if t.pool[i] == Cold {
			t.pool[i] = Warm
			t.promotedAt[i] = t.imagesProcessed
			changed = true
		}
	}
	if changed {
		t.rebuildCaches()
	}
}

// rebuildCaches recomputes activeIndices/warmIndices from pool. Must be
// called with mu held for writing.
func (t *Tracker) rebuildCaches() {
	t.activeIndices = t.activeIndices[:0]
	t.warmIndices = t.warmIndices[:0]
	for i, p := range t.pool {
		switch p {
		case Active:
			t.activeIndices = append(t.activeIndices, i)
		case Warm:
			t.warmIndices = append(t.warmIndices, i)
		}
	}
}

// CountPool returns how many terms currently sit in pool p — used by
// tests to assert the cache invariant in spec §4.3/§8.
func (t *Tracker) CountPool(p Pool) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, q := range t.pool {
		if q == p {
			n++
		}
	}
	return n
}
