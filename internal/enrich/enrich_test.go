package enrich

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hejijunhao/photon/internal/perr"
)

type fakeCaller struct {
	inFlight    int32
	maxInFlight int32
	sleep       time.Duration
	fail        error // if non-nil, every call fails with this error
	failOnce    bool  // if true, only the first call per job fails (simulates a transient error)
	calls       int32
}

func (f *fakeCaller) Caption(ctx context.Context, data []byte) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	n := atomic.AddInt32(&f.inFlight, 1)
	for {
		cur := atomic.LoadInt32(&f.maxInFlight)
		if n <= cur || atomic.CompareAndSwapInt32(&f.maxInFlight, cur, n) {
			break
		}
	}
	if f.sleep > 0 {
		time.Sleep(f.sleep)
	}
	atomic.AddInt32(&f.inFlight, -1)

	if f.fail != nil {
		if f.failOnce && atomic.LoadInt32(&f.calls) > 1 {
			return "a description", nil
		}
		return "", f.fail
	}
	return "a description", nil
}

func writeTempFile(t *testing.T, size int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "img.bin")
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestBatchEmptyIsNoOp(t *testing.T) {
	called := false
	caller := &fakeCaller{}
	succeeded, failed := Batch(context.Background(), nil, Config{Parallel: 2}, caller,
		func(r Result) { called = true })
	if succeeded != 0 || failed != 0 {
		t.Fatalf("got (%d, %d), want (0, 0)", succeeded, failed)
	}
	if called {
		t.Error("onResult should never be invoked for an empty batch")
	}
	if caller.calls != 0 {
		t.Error("caller should never be invoked for an empty batch")
	}
}

func TestBatchBoundsConcurrency(t *testing.T) {
	jobs := make([]Job, 20)
	for i := range jobs {
		jobs[i] = Job{FilePath: writeTempFile(t, 10), ContentHash: fmt.Sprintf("hash%d", i)}
	}
	caller := &fakeCaller{sleep: 10 * time.Millisecond}
	cfg := Config{Parallel: 3, RetryAttempts: 1, RetryDelayMs: 1, MaxFileSizeMB: 10}

	succeeded, failed := Batch(context.Background(), jobs, cfg, caller, nil)
	if failed != 0 {
		t.Fatalf("expected all jobs to succeed, got %d failures", failed)
	}
	if succeeded != len(jobs) {
		t.Fatalf("succeeded = %d, want %d", succeeded, len(jobs))
	}
	if caller.maxInFlight > int32(cfg.Parallel) {
		t.Fatalf("max in-flight = %d, exceeds parallel bound %d", caller.maxInFlight, cfg.Parallel)
	}
}

func TestBatchFileSizeGuardSkipsCaller(t *testing.T) {
	path := writeTempFile(t, 2*1024*1024) // 2 MB
	caller := &fakeCaller{}
	jobs := []Job{{FilePath: path, ContentHash: "h"}}

	succeeded, failed := Batch(context.Background(), jobs, Config{Parallel: 1, RetryAttempts: 1, RetryDelayMs: 1, MaxFileSizeMB: 1}, caller, nil)
	if succeeded != 0 || failed != 1 {
		t.Fatalf("got (%d, %d), want (0, 1) for an over-limit file", succeeded, failed)
	}
	if caller.calls != 0 {
		t.Error("caller must not be invoked when the file exceeds the size guard")
	}
}

func TestBatchFileSizeGuardZeroMeansUnbounded(t *testing.T) {
	path := writeTempFile(t, 2*1024*1024)
	caller := &fakeCaller{}
	jobs := []Job{{FilePath: path, ContentHash: "h"}}

	succeeded, failed := Batch(context.Background(), jobs, Config{Parallel: 1, RetryAttempts: 1, RetryDelayMs: 1, MaxFileSizeMB: 0}, caller, nil)
	if succeeded != 1 || failed != 0 {
		t.Fatalf("got (%d, %d), want (1, 0) when MaxFileSizeMB is 0 (unbounded)", succeeded, failed)
	}
	if caller.calls != 1 {
		t.Errorf("expected exactly 1 call, got %d", caller.calls)
	}
}

func TestBatchMissingFileFailsWithoutCalling(t *testing.T) {
	caller := &fakeCaller{}
	jobs := []Job{{FilePath: "/nonexistent/path.jpg", ContentHash: "h"}}
	succeeded, failed := Batch(context.Background(), jobs, Config{Parallel: 1, RetryAttempts: 2, RetryDelayMs: 1}, caller, nil)
	if succeeded != 0 || failed != 1 {
		t.Fatalf("got (%d, %d), want (0, 1)", succeeded, failed)
	}
	if caller.calls != 0 {
		t.Error("caller must not be invoked for a missing file")
	}
}

func TestStreamBoundsConcurrencyAndDrains(t *testing.T) {
	jobs := make(chan Job, 10)
	for i := 0; i < 10; i++ {
		jobs <- Job{FilePath: writeTempFile(t, 10), ContentHash: fmt.Sprintf("hash%d", i)}
	}
	close(jobs)

	caller := &fakeCaller{sleep: 5 * time.Millisecond}
	cfg := Config{Parallel: 2, RetryAttempts: 1, RetryDelayMs: 1}

	results := Stream(context.Background(), jobs, cfg, caller)
	count := 0
	for r := range results {
		if !r.Succeeded() {
			t.Errorf("unexpected failure: %v", r.Err)
		}
		count++
	}
	if count != 10 {
		t.Fatalf("got %d results, want 10", count)
	}
	if caller.maxInFlight > 2 {
		t.Fatalf("max in-flight = %d, exceeds worker pool size 2", caller.maxInFlight)
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"transport", perr.New(perr.KindLlmTransport, "", context.DeadlineExceeded), true},
		{"http429", perr.NewHTTP(429, "", nil), true},
		{"http500", perr.NewHTTP(500, "", nil), true},
		{"http401", perr.NewHTTP(401, "", nil), false},
		{"http400", perr.NewHTTP(400, "", nil), false},
		{"parse", perr.New(perr.KindLlmParse, "", nil), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := retryable(c.err); got != c.want {
				t.Errorf("retryable(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

func TestBatchRetriesOnRetryableThenSucceeds(t *testing.T) {
	path := writeTempFile(t, 10)
	caller := &fakeCaller{fail: perr.New(perr.KindLlmTransport, "flaky", nil), failOnce: true}
	jobs := []Job{{FilePath: path, ContentHash: "h"}}

	succeeded, failed := Batch(context.Background(), jobs, Config{Parallel: 1, RetryAttempts: 3, RetryDelayMs: 1}, caller, nil)
	if failed != 0 || succeeded != 1 {
		t.Fatalf("got (%d, %d), want (1, 0) after a retry", succeeded, failed)
	}
	if caller.calls != 2 {
		t.Errorf("expected exactly 2 calls (fails once, succeeds on retry), got %d", caller.calls)
	}
}

// TestBatchRetryCountMatchesRetryAttemptsPlusOne matches spec §8's worked
// example: retry_attempts = 2 means total provider calls = 3 (the initial
// call plus 2 retries), for a caller that never succeeds.
func TestBatchRetryCountMatchesRetryAttemptsPlusOne(t *testing.T) {
	path := writeTempFile(t, 10)
	caller := &fakeCaller{fail: perr.New(perr.KindLlmTransport, "down", nil)}
	jobs := []Job{{FilePath: path, ContentHash: "h"}}

	succeeded, failed := Batch(context.Background(), jobs, Config{Parallel: 1, RetryAttempts: 2, RetryDelayMs: 1}, caller, nil)
	if succeeded != 0 || failed != 1 {
		t.Fatalf("got (%d, %d), want (0, 1)", succeeded, failed)
	}
	if caller.calls != 3 {
		t.Errorf("calls = %d, want 3 (retry_attempts=2 + 1 initial call)", caller.calls)
	}
}

func TestBatchDoesNotRetryNonRetryable(t *testing.T) {
	path := writeTempFile(t, 10)
	caller := &fakeCaller{fail: perr.NewHTTP(401, "bad key", nil)}
	jobs := []Job{{FilePath: path, ContentHash: "h"}}

	succeeded, failed := Batch(context.Background(), jobs, Config{Parallel: 1, RetryAttempts: 5, RetryDelayMs: 1}, caller, nil)
	if succeeded != 0 || failed != 1 {
		t.Fatalf("got (%d, %d), want (0, 1)", succeeded, failed)
	}
	if caller.calls != 1 {
		t.Errorf("expected exactly 1 call for a non-retryable error, got %d", caller.calls)
	}
}
