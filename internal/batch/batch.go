// Package batch discovers image files, drives them through the pipeline
// orchestrator with bounded parallelism, and streams core records out
// while forwarding successful images into the enrichment lane (spec
// §4.6). File discovery and the bounded-parallelism driver are grounded
// on the teacher's Index.IndexDirWithProgress in internal/index/index.go;
// the dual-stream split (core stream + enrichment lane over a bounded
// channel) has no teacher analogue and is built fresh for this domain.
package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/hejijunhao/photon/internal/enrich"
	"github.com/hejijunhao/photon/internal/perr"
	"github.com/hejijunhao/photon/internal/pipeline"
	"github.com/hejijunhao/photon/internal/plog"
	"github.com/hejijunhao/photon/internal/record"
)

// recognizedExtensions gates file discovery to formats the decoder
// supports (spec §4.1/§4.6).
var recognizedExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// Discover walks root and returns every file whose extension is a
// recognized image format, in lexical order.
func Discover(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if recognizedExtensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", root, err)
	}
	return files, nil
}

// Sink receives wire records as they're produced. Implementations must be
// safe for concurrent use from multiple goroutines.
type Sink interface {
	Write(rec record.Record) error
	// Close flushes any buffered state (e.g. a JSON array's closing bracket).
	Close() error
}

// jsonlSink appends one JSON object per line, immediately, to w.
type jsonlSink struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

// NewJSONLSink wraps w (an append-opened file or os.Stdout) as a Sink that
// writes each record immediately as its own JSON line.
func NewJSONLSink(w io.Writer) Sink {
	return &jsonlSink{w: w, enc: json.NewEncoder(w)}
}

func (s *jsonlSink) Write(rec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(rec)
}

func (s *jsonlSink) Close() error { return nil }

// arraySink collects records in memory and writes a single JSON array on
// Close — inherent to the array format, per spec §4.6.
type arraySink struct {
	mu      sync.Mutex
	w       io.Writer
	records []record.Record
}

// NewArraySink wraps w as a Sink that buffers records and writes them as
// one JSON array when Close is called.
func NewArraySink(w io.Writer) Sink {
	return &arraySink{w: w}
}

func (s *arraySink) Write(rec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *arraySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := json.NewEncoder(s.w)
	enc.SetIndent("", "  ")
	return enc.Encode(s.records)
}

// LoadExistingHashes reads path (if it exists) and returns the set of
// content hashes already present, trying a JSON-array parse first and
// falling back to JSONL line-by-line (spec §4.6 skip-existing). A missing
// file is not an error — it returns an empty set. Unparseable lines are
// counted in warnings but do not abort the load.
func LoadExistingHashes(path string) (seen map[string]bool, warnings int, err error) {
	seen = make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return seen, 0, nil
		}
		return nil, 0, fmt.Errorf("read %s: %w", path, err)
	}

	var records []record.Record
	if jsonErr := json.Unmarshal(data, &records); jsonErr == nil {
		for _, r := range records {
			if r.ContentHash != "" {
				seen[r.ContentHash] = true
			}
		}
		return seen, 0, nil
	}

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var r record.Record
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			warnings++
			continue
		}
		if r.ContentHash != "" {
			seen[r.ContentHash] = true
		}
	}
	return seen, warnings, nil
}

// Options configures one batch run.
type Options struct {
	Parallel     int
	ProcessOpts  pipeline.Options
	SkipExisting map[string]bool // content hashes to skip, from LoadExistingHashes
	Enrich       *EnrichOptions  // nil disables the enrichment lane
}

// EnrichOptions bundles the enricher's config and caller.
type EnrichOptions struct {
	Config enrich.Config
	Caller enrich.Caller
	Sink   Sink // receives "enrichment" records
}

// enrichLaneCapacity is the bounded channel capacity between the core
// stream and the enrichment lane (spec §4.6).
const enrichLaneCapacity = 64

// Stats summarizes a completed run.
type Stats struct {
	Succeeded int
	Failed    int
	Skipped   int
}

// Run discovers nothing itself — it drives the given files through orc
// with bounded parallelism P, writing successful results to sink as core
// records and, if opts.Enrich is set, forwarding them into the
// enrichment lane. Each failed image is logged and skipped; it never
// aborts the batch (spec §4.5 failure semantics, §4.6 concurrency).
func Run(ctx context.Context, files []string, orc *pipeline.Orchestrator, opts Options, sink Sink) Stats {
	log := plog.New("batch")

	permits := int64(opts.Parallel)
	if permits <= 0 {
		permits = 1
	}
	sem := semaphore.NewWeighted(permits)

	var enrichJobs chan enrich.Job
	var enrichDone chan struct{}
	if opts.Enrich != nil {
		enrichJobs = make(chan enrich.Job, enrichLaneCapacity)
		enrichDone = make(chan struct{})
		go runEnrichLane(ctx, enrichJobs, *opts.Enrich, enrichDone)
	}

	var stats Stats
	var statsMu sync.Mutex
	var wg sync.WaitGroup

	for _, path := range files {
		path := path
		if err := sem.Acquire(ctx, 1); err != nil {
			break // context cancelled
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			out, err := orc.ProcessImage(ctx, path, opts.ProcessOpts)
			if err != nil {
				log.Warnf("skip %s: %v (%s)", path, err, perr.KindOf(err))
				statsMu.Lock()
				stats.Failed++
				statsMu.Unlock()
				return
			}
			if opts.SkipExisting[out.ContentHash] {
				statsMu.Lock()
				stats.Skipped++
				statsMu.Unlock()
				return
			}

			if err := sink.Write(record.NewCore(out)); err != nil {
				log.Warnf("failed to write record for %s: %v", path, err)
			}
			statsMu.Lock()
			stats.Succeeded++
			statsMu.Unlock()

			if enrichJobs != nil {
				select {
				case enrichJobs <- enrich.Job{FilePath: out.FilePath, ContentHash: out.ContentHash}:
				case <-ctx.Done():
				}
			}
		}()
	}

	wg.Wait()
	if enrichJobs != nil {
		close(enrichJobs)
		<-enrichDone
	}

	return stats
}

// runEnrichLane consumes jobs via enrich.Stream and writes each result as
// an enrichment record, signaling done when jobs is drained.
func runEnrichLane(ctx context.Context, jobs <-chan enrich.Job, opts EnrichOptions, done chan<- struct{}) {
	log := plog.New("enrich-lane")
	defer close(done)

	for res := range enrich.Stream(ctx, jobs, opts.Config, opts.Caller) {
		if !res.Succeeded() {
			log.Warnf("enrichment failed for %s: %v", res.FilePath, res.Err)
			continue
		}
		if err := opts.Sink.Write(record.NewEnrichment(res.ContentHash, res.Description)); err != nil {
			log.Warnf("failed to write enrichment record for %s: %v", res.FilePath, err)
		}
	}
}
