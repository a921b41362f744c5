// Package visionembed wraps the vision ONNX session that turns a
// preprocessed tensor into a 768-dim unit-norm image embedding (spec §3,
// §4.1). Session construction and lifecycle are grounded directly on the
// teacher's internal/embed/embedder.go; the model swaps from BGE-small
// text to a SigLIP/CLIP vision tower, but the ONNX plumbing is identical.
package visionembed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/hejijunhao/photon/internal/kernel"
	"github.com/hejijunhao/photon/internal/perr"
	"github.com/hejijunhao/photon/internal/preprocess"
	ort "github.com/yalue/onnxruntime_go"
)

// EmbeddingDim is the output dimension of the vision tower.
const EmbeddingDim = 768

// Engine wraps a single vision ONNX session. Session access is exclusive —
// ONNX sessions are not re-entrant in this design (spec §3 Ownership) —
// guarded by mu for the duration of each inference call.
type Engine struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
}

// New loads visual.onnx from <modelDir>/<visionVariant>/visual.onnx.
// ortLibPath is the path to onnxruntime.so; pass "" for the system default.
// numThreads controls intra-op parallelism; 0 = min(4, NumCPU), matching
// the teacher's default.
func New(modelDir, visionVariant, ortLibPath string, numThreads int) (*Engine, error) {
	modelPath := filepath.Join(modelDir, visionVariant, "visual.onnx")
	if _, err := os.Stat(modelPath); err != nil {
		return nil, perr.New(perr.KindFileNotFound, "run the model download command", err)
	}

	if ortLibPath != "" {
		ort.SetSharedLibraryPath(ortLibPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init ort: %w", err)
	}

	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
		if numThreads > 4 {
			numThreads = 4
		}
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetIntraOpNumThreads(numThreads); err != nil {
		return nil, fmt.Errorf("set intra threads: %w", err)
	}
	if err := opts.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("set inter threads: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"pixel_values"}, []string{"image_embeds"}, opts)
	if err != nil {
		return nil, fmt.Errorf("create vision session: %w", err)
	}

	return &Engine{session: session}, nil
}

// Close releases the ONNX session.
func (e *Engine) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
}

// Embed runs the vision tower on a single preprocessed tensor and returns
// a 768-dim unit-norm embedding. It is wrapped in (timeout, blocking call)
// per spec §5: on timeout the underlying ONNX call keeps running to
// completion (Go cannot preempt the CGo call) but Embed returns promptly
// with a KindEmbeddingTimeout error.
func (e *Engine) Embed(ctx context.Context, tensor preprocess.Tensor, timeout time.Duration) ([]float32, error) {
	type result struct {
		vec []float32
		err error
	}
	done := make(chan result, 1)

	go func() {
		vec, err := e.embedBlocking(tensor)
		done <- result{vec: vec, err: err}
	}()

	if timeout <= 0 {
		r := <-done
		return r.vec, r.err
	}

	select {
	case r := <-done:
		return r.vec, r.err
	case <-time.After(timeout):
		return nil, perr.New(perr.KindEmbeddingTimeout, "vision inference exceeded its timeout", context.DeadlineExceeded)
	case <-ctx.Done():
		return nil, perr.New(perr.KindEmbeddingTimeout, "cancelled while waiting for vision inference", ctx.Err())
	}
}

// embedBlocking performs the actual (serialized) ONNX call.
func (e *Engine) embedBlocking(tensor preprocess.Tensor) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	shape := ort.NewShape(1, 3, int64(tensor.Edge), int64(tensor.Edge))
	input, err := ort.NewTensor(shape, tensor.Data)
	if err != nil {
		return nil, perr.New(perr.KindEmbedding, "", fmt.Errorf("pixel_values tensor: %w", err))
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, perr.New(perr.KindEmbedding, "", fmt.Errorf("ort run: %w", err))
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, perr.New(perr.KindEmbedding, "", fmt.Errorf("unexpected output type"))
	}

	data := out.GetData()
	if len(data) < EmbeddingDim {
		return nil, perr.New(perr.KindEmbedding, "", fmt.Errorf("output dim %d < expected %d", len(data), EmbeddingDim))
	}
	vec := make([]float32, EmbeddingDim)
	copy(vec, data[:EmbeddingDim])
	kernel.L2Normalize(vec)
	return vec, nil
}
