package relevance

import "testing"

func TestNewAllActive(t *testing.T) {
	tr := New(10, DefaultConfig())
	if got := tr.CountPool(Active); got != 10 {
		t.Fatalf("CountPool(Active) = %d, want 10", got)
	}
	if len(tr.ActiveIndices()) != 10 {
		t.Fatalf("expected all 10 indices active")
	}
}

func TestRecordHitsIncrementsCounters(t *testing.T) {
	tr := New(5, DefaultConfig())
	tr.RecordHits([]int{1, 2}, []int{0, 1, 2, 3, 4})
	if tr.ImagesProcessed() != 1 {
		t.Fatalf("ImagesProcessed = %d, want 1", tr.ImagesProcessed())
	}
}

func TestSweepDemotesLowHitRateTerms(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StickyWindow = 0
	tr := New(3, cfg)

	// Term 0: always hits. Term 1: never hits. Term 2: never scored.
	for i := 0; i < 20; i++ {
		tr.RecordHits([]int{0}, []int{0, 1})
	}
	promoted := tr.Sweep()
	_ = promoted

	if tr.PoolOf(0) != Active {
		t.Errorf("term 0 should remain Active, got %v", tr.PoolOf(0))
	}
	if tr.PoolOf(1) == Active {
		t.Errorf("term 1 should have been demoted from Active, got %v", tr.PoolOf(1))
	}
}

func TestStickyWindowDelaysDemotion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StickyWindow = 1000
	tr := New(2, cfg)

	tr.RecordHits([]int{0}, []int{0, 1})
	tr.Sweep()

	// term 1 never hit, but sticky window should keep it from dropping
	// out of its initial Active pool immediately.
	if tr.PoolOf(1) != Active {
		t.Errorf("expected term 1 to stay Active inside sticky window, got %v", tr.PoolOf(1))
	}
}

func TestPromoteToWarmOnlyAffectsCold(t *testing.T) {
	tr := New(3, DefaultConfig())
	cfg := DefaultConfig()
	cfg.StickyWindow = 0
	tr = New(3, cfg)
	for i := 0; i < 5; i++ {
		tr.RecordHits(nil, []int{0, 1, 2})
	}
	tr.Sweep() // all should go Cold now (no hits ever)

	if tr.PoolOf(0) != Cold {
		t.Fatalf("expected term 0 Cold after sweep, got %v", tr.PoolOf(0))
	}

	tr.PromoteToWarm([]int{0, 1})
	if tr.PoolOf(0) != Warm {
		t.Errorf("expected term 0 promoted to Warm, got %v", tr.PoolOf(0))
	}
	warm := tr.WarmIndices()
	if len(warm) != 2 {
		t.Errorf("expected 2 warm indices, got %d", len(warm))
	}
}

func TestShouldScoreWarmThisImage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WarmInterval = 5
	tr := New(1, cfg)
	if !tr.ShouldScoreWarmThisImage() {
		t.Fatal("expected image 0 to hit the warm interval boundary")
	}
	for i := 0; i < 5; i++ {
		tr.RecordHits(nil, []int{0})
	}
	if !tr.ShouldScoreWarmThisImage() {
		t.Fatal("expected image 5 to hit the warm interval boundary")
	}
}
