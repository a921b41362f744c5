package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/hejijunhao/photon/internal/enrich"
	"github.com/hejijunhao/photon/internal/pipeline"
	"github.com/hejijunhao/photon/internal/record"
)

func writeTestJPEG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write test jpeg: %v", err)
	}
}

func TestDiscoverFindsRecognizedExtensionsOnly(t *testing.T) {
	dir := t.TempDir()
	writeTestJPEG(t, filepath.Join(dir, "a.jpg"), 8, 8)
	writeTestJPEG(t, filepath.Join(dir, "b.JPEG"), 8, 8)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "nested")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	writeTestJPEG(t, filepath.Join(sub, "c.png"), 8, 8)

	files, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("got %d files, want 3: %v", len(files), files)
	}
}

func TestArraySinkWritesJSONArrayOnClose(t *testing.T) {
	var buf bytes.Buffer
	sink := NewArraySink(&buf)
	if err := sink.Write(record.NewCore(record.Core{ContentHash: "h1"})); err != nil {
		t.Fatal(err)
	}
	if err := sink.Write(record.NewCore(record.Core{ContentHash: "h2"})); err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	var out []record.Record
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal array sink output: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d records, want 2", len(out))
	}
}

func TestJSONLSinkWritesOneLinePerRecord(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONLSink(&buf)
	if err := sink.Write(record.NewCore(record.Core{ContentHash: "h1"})); err != nil {
		t.Fatal(err)
	}
	if err := sink.Write(record.NewCore(record.Core{ContentHash: "h2"})); err != nil {
		t.Fatal(err)
	}
	lines := bytes.Split(bytes.TrimRight(buf.Bytes(), "\n"), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	for _, line := range lines {
		var r record.Record
		if err := json.Unmarshal(line, &r); err != nil {
			t.Fatalf("unmarshal line %q: %v", line, err)
		}
	}
}

func TestLoadExistingHashesMissingFileIsEmpty(t *testing.T) {
	seen, warnings, err := LoadExistingHashes(filepath.Join(t.TempDir(), "nope.jsonl"))
	if err != nil {
		t.Fatalf("LoadExistingHashes: %v", err)
	}
	if len(seen) != 0 || warnings != 0 {
		t.Fatalf("got (%v, %d), want empty set and no warnings", seen, warnings)
	}
}

func TestLoadExistingHashesFromJSONArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	recs := []record.Record{
		record.NewCore(record.Core{ContentHash: "aaa"}),
		record.NewCore(record.Core{ContentHash: "bbb"}),
	}
	data, err := json.Marshal(recs)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	seen, warnings, err := LoadExistingHashes(path)
	if err != nil {
		t.Fatalf("LoadExistingHashes: %v", err)
	}
	if warnings != 0 {
		t.Errorf("warnings = %d, want 0", warnings)
	}
	if !seen["aaa"] || !seen["bbb"] {
		t.Fatalf("seen = %v, want aaa and bbb", seen)
	}
}

func TestLoadExistingHashesFromJSONLWithBadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(record.NewCore(record.Core{ContentHash: "aaa"})); err != nil {
		t.Fatal(err)
	}
	buf.WriteString("{not valid json\n")
	if err := enc.Encode(record.NewCore(record.Core{ContentHash: "bbb"})); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	seen, warnings, err := LoadExistingHashes(path)
	if err != nil {
		t.Fatalf("LoadExistingHashes: %v", err)
	}
	if warnings != 1 {
		t.Errorf("warnings = %d, want 1", warnings)
	}
	if !seen["aaa"] || !seen["bbb"] {
		t.Fatalf("seen = %v, want aaa and bbb despite the bad line", seen)
	}
}

func testOrchestrator(t *testing.T) *pipeline.Orchestrator {
	t.Helper()
	cfg := pipeline.Config{MaxFileSizeBytes: 10 << 20, MaxImageDimension: 4096, ThumbnailMaxEdge: 64, PreprocessEdge: 224}
	return pipeline.New(cfg, nil, nil, nil)
}

func TestRunWritesSuccessfulRecordsAndSkipsFailures(t *testing.T) {
	dir := t.TempDir()
	good1 := filepath.Join(dir, "good1.jpg")
	good2 := filepath.Join(dir, "good2.jpg")
	writeTestJPEG(t, good1, 16, 16)
	writeTestJPEG(t, good2, 16, 16)
	bad := filepath.Join(dir, "missing.jpg")

	var buf bytes.Buffer
	sink := NewJSONLSink(&buf)
	orc := testOrchestrator(t)

	stats := Run(context.Background(), []string{good1, good2, bad}, orc, Options{Parallel: 2}, sink)
	if stats.Succeeded != 2 {
		t.Errorf("Succeeded = %d, want 2", stats.Succeeded)
	}
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
}

func TestRunSkipsExistingContentHashes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dup.jpg")
	writeTestJPEG(t, path, 8, 8)

	orc := testOrchestrator(t)
	first, err := orc.ProcessImage(context.Background(), path, pipeline.Options{})
	if err != nil {
		t.Fatalf("ProcessImage: %v", err)
	}

	var buf bytes.Buffer
	sink := NewJSONLSink(&buf)
	opts := Options{Parallel: 1, SkipExisting: map[string]bool{first.ContentHash: true}}

	stats := Run(context.Background(), []string{path}, orc, opts, sink)
	if stats.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", stats.Skipped)
	}
	if stats.Succeeded != 0 {
		t.Errorf("Succeeded = %d, want 0", stats.Succeeded)
	}
}

type fakeCaller struct{}

func (fakeCaller) Caption(ctx context.Context, data []byte) (string, error) {
	return "a caption", nil
}

func TestRunForwardsSuccessesIntoEnrichmentLane(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "e.jpg")
	writeTestJPEG(t, path, 8, 8)

	orc := testOrchestrator(t)
	var coreBuf, enrichBuf bytes.Buffer
	coreSink := NewJSONLSink(&coreBuf)
	enrichSink := NewJSONLSink(&enrichBuf)

	opts := Options{
		Parallel: 1,
		Enrich: &EnrichOptions{
			Config: enrich.Config{Parallel: 1, RetryAttempts: 1, RetryDelayMs: 1},
			Caller: fakeCaller{},
			Sink:   enrichSink,
		},
	}

	stats := Run(context.Background(), []string{path}, orc, opts, coreSink)
	if stats.Succeeded != 1 {
		t.Fatalf("Succeeded = %d, want 1", stats.Succeeded)
	}
	if enrichBuf.Len() == 0 {
		t.Fatal("expected an enrichment record to be written")
	}
	var enriched record.Record
	if err := json.Unmarshal(bytes.TrimRight(enrichBuf.Bytes(), "\n"), &enriched); err != nil {
		t.Fatalf("unmarshal enrichment record: %v", err)
	}
	if enriched.Type != record.TypeEnrichment || enriched.Description != "a caption" {
		t.Errorf("got %+v, want an enrichment record with description %q", enriched, "a caption")
	}
}
