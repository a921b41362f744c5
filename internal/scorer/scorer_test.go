package scorer

import (
	"math"
	"testing"

	"github.com/hejijunhao/photon/internal/labelbank"
	"github.com/hejijunhao/photon/internal/relevance"
	"github.com/hejijunhao/photon/internal/vocabulary"
)

func unit(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1.0
	return v
}

func testBankAndVocab(t *testing.T) (*vocabulary.Vocabulary, *labelbank.Bank) {
	t.Helper()
	terms := []vocabulary.Term{
		{Name: "animal", DisplayName: "animal", Hypernyms: []string{"organism", "entity"}},
		{Name: "dog", DisplayName: "dog", Hypernyms: []string{"animal", "organism", "entity"}},
		{Name: "cat", DisplayName: "cat", Hypernyms: []string{"animal", "organism", "entity"}},
		{Name: "sunny", DisplayName: "sunny", Category: "weather"},
	}
	vocab := vocabulary.New(terms)

	rows := make([][]float32, 0, len(terms))
	for i := range terms {
		rows = append(rows, unit(labelbank.Dim, i))
	}
	bank := bankFromRows(rows)
	return vocab, bank
}

func bankFromRows(rows [][]float32) *labelbank.Bank {
	return labelbank.FromRows(rows)
}

func TestScoreThresholdAndOrder(t *testing.T) {
	vocab, bank := testBankAndVocab(t)
	cfg := DefaultConfig()
	cfg.MinConfidence = 0
	cfg.DeduplicateAncestors = false
	s := New(vocab, bank, cfg)

	embedding := unit(labelbank.Dim, 1) // matches "dog" exactly
	res := s.Score(embedding)

	if len(res.Tags) == 0 {
		t.Fatal("expected at least one tag")
	}
	for i := 1; i < len(res.Tags); i++ {
		if res.Tags[i].Confidence > res.Tags[i-1].Confidence {
			t.Fatalf("tags not sorted descending: %v", res.Tags)
		}
	}
	if res.Tags[0].Name != "dog" {
		t.Fatalf("expected dog to rank first, got %s", res.Tags[0].Name)
	}
}

func TestScoreRespectsMinConfidence(t *testing.T) {
	vocab, bank := testBankAndVocab(t)
	cfg := DefaultConfig()
	cfg.MinConfidence = 0.99
	s := New(vocab, bank, cfg)

	embedding := unit(labelbank.Dim, 3) // orthogonal to "dog"/"cat"/"animal" but matches "sunny"
	res := s.Score(embedding)
	for _, tag := range res.Tags {
		if tag.Confidence < cfg.MinConfidence {
			t.Fatalf("tag %v below threshold", tag)
		}
	}
}

func TestDedupAncestorsSuppressesParent(t *testing.T) {
	vocab, bank := testBankAndVocab(t)
	cfg := DefaultConfig()
	cfg.MinConfidence = 0
	cfg.DeduplicateAncestors = true
	cfg.MaxTags = 0
	s := New(vocab, bank, cfg)

	// An embedding with components along the "animal" (0.8) and "dog"
	// (0.6) axes scores both; dedup must drop "animal" since "dog" is a descendant.
	embedding := make([]float32, labelbank.Dim)
	embedding[0] = 0.8
	embedding[1] = 0.6
	kernelNormalize(embedding)

	res := s.Score(embedding)
	for _, tag := range res.Tags {
		if tag.Name == "animal" {
			t.Fatalf("expected ancestor 'animal' to be suppressed, got tags %v", res.Tags)
		}
	}
}

func TestDedupIsIdempotent(t *testing.T) {
	vocab, bank := testBankAndVocab(t)
	cfg := DefaultConfig()
	cfg.MinConfidence = 0
	s := New(vocab, bank, cfg)

	embedding := unit(labelbank.Dim, 1)
	first := s.Score(embedding)

	candidates := make([]candidate, len(first.Tags))
	for i, tag := range first.Tags {
		_, idx, _ := vocab.GetByName(tag.Name)
		candidates[i] = candidate{index: idx, confidence: tag.Confidence}
	}
	second := s.dedupAncestors(candidates)
	if len(second) != len(candidates) {
		t.Fatalf("dedup not idempotent: %d vs %d", len(second), len(candidates))
	}
}

func TestBuildPathSkipsGenericAndTruncates(t *testing.T) {
	vocab, bank := testBankAndVocab(t)
	cfg := DefaultConfig()
	cfg.ShowPaths = true
	cfg.PathMaxDepth = 1
	s := New(vocab, bank, cfg)

	term := vocab.TermAt(1) // "dog"
	path := s.buildPath(term)
	if path == "" {
		t.Fatal("expected non-empty path")
	}
	if containsAny(path, []string{"entity", "organism"}) {
		t.Fatalf("expected generic anchors filtered out, got %q", path)
	}
}

func TestBuildPathEmptyForSupplemental(t *testing.T) {
	vocab, bank := testBankAndVocab(t)
	cfg := DefaultConfig()
	cfg.ShowPaths = true
	s := New(vocab, bank, cfg)

	term := vocab.TermAt(3) // "sunny", supplemental
	if path := s.buildPath(term); path != "" {
		t.Fatalf("expected empty path for supplemental term, got %q", path)
	}
}

func TestScoreWithPoolsSkipsCold(t *testing.T) {
	vocab, bank := testBankAndVocab(t)
	cfg := DefaultConfig()
	cfg.MinConfidence = 0
	cfg.DeduplicateAncestors = false
	s := New(vocab, bank, cfg)

	rc := relevance.DefaultConfig()
	rc.StickyWindow = 0
	tracker := relevance.New(vocab.Len(), rc)
	// Force everything Cold except index 1.
	for i := 0; i < 30; i++ {
		tracker.RecordHits([]int{1}, tracker.ActiveIndices())
	}
	tracker.Sweep()

	embedding := unit(labelbank.Dim, 1)
	res := s.ScoreWithPools(embedding, tracker)

	for _, idx := range res.ScoredIndices {
		if tracker.PoolOf(idx) == relevance.Cold {
			t.Fatalf("ScoreWithPools must never score a Cold index, got %d", idx)
		}
	}
}

func TestSortCandidatesNaNLast(t *testing.T) {
	candidates := []candidate{
		{index: 0, confidence: 0.5},
		{index: 1, confidence: float32(math.NaN())},
		{index: 2, confidence: 0.9},
	}
	sortCandidates(candidates)
	if candidates[len(candidates)-1].index != 1 {
		t.Fatalf("expected NaN entry last, got order %v", candidates)
	}
	if candidates[0].confidence != float32(0.9) {
		t.Fatalf("expected highest confidence first, got %v", candidates)
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

func kernelNormalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sumSq))
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] /= norm
	}
}
