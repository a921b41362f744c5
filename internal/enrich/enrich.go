// Package enrich calls an external captioning service for each
// successfully processed image, bounded to a fixed number of concurrent
// in-flight calls (spec §4.7). Retry classification and backoff are
// grounded on github.com/cenkalti/backoff/v5, one of the pack's retrieved
// dependencies (other_examples/manifests); bounded concurrency is
// grounded on golang.org/x/sync/semaphore, the same library the pack's
// worker-pool examples use for this exact pattern.
package enrich

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/semaphore"

	"github.com/hejijunhao/photon/internal/perr"
	"github.com/hejijunhao/photon/internal/plog"
)

// Caller performs the actual remote captioning call. Implementations wrap
// transport/HTTP errors as *perr.Error with KindLlmTransport or
// KindLlmHTTP(status) so retryable can classify them; a response body that
// fails to parse should be KindLlmParse (non-retryable).
type Caller interface {
	Caption(ctx context.Context, imageBytes []byte) (string, error)
}

// Config controls concurrency, retry policy, and the file-size guard.
type Config struct {
	Parallel      int // semaphore permits; typically 1-8
	RetryAttempts int
	RetryDelayMs  int
	MaxFileSizeMB int
}

// Job is one enrichment request.
type Job struct {
	FilePath    string
	ContentHash string
}

// Result is the outcome of one job: Err == nil on success.
type Result struct {
	ContentHash string
	Description string
	FilePath    string
	Err         error
}

// Succeeded reports whether this result represents EnrichResult::Success.
func (r Result) Succeeded() bool { return r.Err == nil }

// Batch runs jobs with at most cfg.Parallel concurrent in-flight calls,
// invoking onResult for each completed job as soon as it finishes (order
// is not guaranteed). Returns (succeeded, failed) counts. An empty jobs
// slice returns (0, 0) and never invokes onResult or caller (spec §4.7
// idempotence: enrich_batch(&[], …) is a no-op).
func Batch(ctx context.Context, jobs []Job, cfg Config, caller Caller, onResult func(Result)) (succeeded, failed int) {
	if len(jobs) == 0 {
		return 0, 0
	}

	permits := int64(cfg.Parallel)
	if permits <= 0 {
		permits = 1
	}
	sem := semaphore.NewWeighted(permits)

	results := make(chan Result, len(jobs))
	for _, job := range jobs {
		job := job
		if err := sem.Acquire(ctx, 1); err != nil {
			results <- Result{FilePath: job.FilePath, ContentHash: job.ContentHash, Err: err}
			continue
		}
		go func() {
			defer sem.Release(1)
			results <- runJob(ctx, job, cfg, caller)
		}()
	}

	for i := 0; i < len(jobs); i++ {
		r := <-results
		if r.Succeeded() {
			succeeded++
		} else {
			failed++
		}
		if onResult != nil {
			onResult(r)
		}
	}
	return succeeded, failed
}

// Stream runs a fixed pool of cfg.Parallel workers consuming jobs until it
// is closed, and returns a channel of results that closes once every
// worker has drained jobs and finished its last call. This is the batch
// driver's entry point for the enrichment lane (spec §4.6): the worker
// count itself bounds concurrency, so no semaphore is needed here.
func Stream(ctx context.Context, jobs <-chan Job, cfg Config, caller Caller) <-chan Result {
	workers := cfg.Parallel
	if workers <= 0 {
		workers = 1
	}

	results := make(chan Result, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for job := range jobs {
				results <- runJob(ctx, job, cfg, caller)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

func runJob(ctx context.Context, job Job, cfg Config, caller Caller) Result {
	log := plog.New("enrich")

	maxBytes := int64(cfg.MaxFileSizeMB) * 1024 * 1024
	info, err := os.Stat(job.FilePath)
	if err != nil {
		return Result{FilePath: job.FilePath, ContentHash: job.ContentHash,
			Err: perr.New(perr.KindFileNotFound, "file is missing — skipping enrichment", err)}
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return Result{FilePath: job.FilePath, ContentHash: job.ContentHash,
			Err: perr.New(perr.KindLlmTransport, "file exceeds the enrichment size limit", errTooLarge)}
	}

	data, err := os.ReadFile(job.FilePath)
	if err != nil {
		return Result{FilePath: job.FilePath, ContentHash: job.ContentHash,
			Err: perr.New(perr.KindFileNotFound, "file became unreadable before enrichment", err)}
	}

	// Total provider calls = retry_attempts + 1 (the initial call plus
	// retry_attempts retries — spec §4.7, worked example in §8).
	maxTries := uint(cfg.RetryAttempts) + 1
	delay := cfg.RetryDelayMs
	if delay <= 0 {
		delay = 500
	}
	bo := backoff.NewConstantBackOff(time.Duration(delay) * time.Millisecond)

	description, err := backoff.Retry(ctx, func() (string, error) {
		desc, callErr := caller.Caption(ctx, data)
		if callErr == nil {
			return desc, nil
		}
		if !retryable(callErr) {
			return "", backoff.Permanent(callErr)
		}
		return "", callErr
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(maxTries))

	if err != nil {
		log.Warnf("enrichment failed for %s: %v", job.FilePath, err)
		return Result{FilePath: job.FilePath, ContentHash: job.ContentHash, Err: err}
	}
	return Result{FilePath: job.FilePath, ContentHash: job.ContentHash, Description: description}
}

// retryable classifies an error per spec §4.7: transport errors and HTTP
// 429/5xx are retryable; other 4xx (auth, bad request) and parse failures
// are not.
func retryable(err error) bool {
	pe, ok := perr.As(err)
	if !ok {
		return true // unclassified errors default to retryable transport failures
	}
	switch pe.Kind {
	case perr.KindLlmTransport:
		return true
	case perr.KindLlmHTTP:
		return pe.Status == 429 || pe.Status >= 500
	default:
		return false
	}
}

var errTooLarge = errTooLargeError{}

type errTooLargeError struct{}

func (errTooLargeError) Error() string { return "file exceeds max_file_size_mb" }
