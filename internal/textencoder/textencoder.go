// Package textencoder wraps the text ONNX session + tokenizer used to
// build the label bank (spec §4.1). Batched tokenize → tensor → inference
// → pool → normalize is grounded directly on the teacher's
// internal/embed/embedder.go embedBatch, generalized from a fixed CLS pool
// to a configurable pooling strategy and BGE's query prefix to SigLIP's
// WordNet prompt template.
package textencoder

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/daulet/tokenizers"
	"github.com/hejijunhao/photon/internal/kernel"
	"github.com/hejijunhao/photon/internal/perr"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// maxSeqLen is the fixed padding length per spec §4.1.
	maxSeqLen = 64
	// EmbeddingDim is the output dimension of the text tower.
	EmbeddingDim = 768
	// wordnetTemplate is the canonical prompt for a WordNet term (spec §4.1).
	wordnetTemplate = "a photo of a %s"
)

// Pooling selects how per-token hidden states collapse into one vector.
type Pooling int

const (
	PoolCLS Pooling = iota
	PoolMean
)

// Encoder wraps a single text ONNX session and tokenizer.
type Encoder struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *tokenizers.Tokenizer
	pooling   Pooling
}

// New loads the text model + tokenizer.json, shared across vision variants
// (spec §6: "text_model.onnx — variant-independent; shared").
func New(modelDir, ortLibPath string, numThreads int, pooling Pooling) (*Encoder, error) {
	modelPath := filepath.Join(modelDir, "text_model.onnx")
	tokenPath := filepath.Join(modelDir, "tokenizer.json")

	if _, err := os.Stat(modelPath); err != nil {
		return nil, perr.New(perr.KindFileNotFound, "run the model download command", err)
	}
	if _, err := os.Stat(tokenPath); err != nil {
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
		[]string{"input_ids", "attention_mask"}, []string{"last_hidden_state"}, opts)
	if err != nil {
		return nil, fmt.Errorf("create text session: %w", err)
	}

	tk, err := tokenizers.FromFile(tokenPath)
	if err != nil {
		session.Destroy()
		return nil, perr.New(perr.KindEmbedding, "", fmt.Errorf("load tokenizer %s: %w", tokenPath, err))
	}

	return &Encoder{session: session, tokenizer: tk, pooling: pooling}, nil
}

// Close releases the session and tokenizer.
func (e *Encoder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.tokenizer != nil {
		e.tokenizer.Close()
	}
}

// WordNetPrompt renders the canonical template for a WordNet term's display name.
func WordNetPrompt(displayName string) string {
	return fmt.Sprintf(wordnetTemplate, displayName)
}

// EncodeBatch tokenizes and embeds up to batchSize texts at a time,
// returning one unit-norm 768-dim vector per input text in order.
func (e *Encoder) EncodeBatch(texts []string, batchSize int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = 32
	}
	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.encodeOneBatch(texts[i:end])
		if err != nil {
			return nil, perr.New(perr.KindEmbedding, "",
				fmt.Errorf("batch [%d:%d] (first text %q): %w", i, end, texts[i], err))
		}
		out = append(out, vecs...)
	}
	return out, nil
}

type encoded struct {
	ids  []int64
	mask []int64
}

func (e *Encoder) encodeOneBatch(texts []string) ([][]float32, error) {
	batchSize := len(texts)
	all := make([]encoded, batchSize)
	maxLen := 0
	for i, text := range texts {
		enc := e.tokenizer.EncodeWithOptions(text, true, tokenizers.WithReturnAttentionMask())
		ids := enc.IDs
		if len(ids) > maxSeqLen {
			ids = ids[:maxSeqLen]
		}
		ids64 := make([]int64, len(ids))
		mask64 := make([]int64, len(ids))
		for j, v := range ids {
			ids64[j] = int64(v)
			mask64[j] = 1
		}
		if len(enc.AttentionMask) >= len(ids) {
			for j := range ids64 {
				mask64[j] = int64(enc.AttentionMask[j])
			}
		}
		all[i] = encoded{ids: ids64, mask: mask64}
		if len(ids64) > maxLen {
			maxLen = len(ids64)
		}
	}
	if maxLen == 0 {
		return nil, fmt.Errorf("all texts tokenized to zero length")
	}
	maxLen = maxSeqLen // pad every sequence to the fixed length

	flatIDs := make([]int64, batchSize*maxLen)
	flatMask := make([]int64, batchSize*maxLen)
	for i, enc := range all {
		copy(flatIDs[i*maxLen:], enc.ids)
		copy(flatMask[i*maxLen:], enc.mask)
	}
	shape := ort.NewShape(int64(batchSize), int64(maxLen))

	inputIDs, err := ort.NewTensor(shape, flatIDs)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer inputIDs.Destroy()

	attnMask, err := ort.NewTensor(shape, flatMask)
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer attnMask.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{inputIDs, attnMask}, outputs); err != nil {
		return nil, fmt.Errorf("ort run: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	hiddenTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type (want *Tensor[float32])")
	}
	hidden := hiddenTensor.GetData()
	seqLen := int(hiddenTensor.GetShape()[1])

	embeddings := make([][]float32, batchSize)
	for i := 0; i < batchSize; i++ {
		vec := e.pool(hidden, i, seqLen, flatMask[i*maxLen:(i+1)*maxLen])
		kernel.L2Normalize(vec)
		embeddings[i] = vec
	}
	return embeddings, nil
}

// pool collapses the per-token hidden states for sequence i into one vector.
func (e *Encoder) pool(hidden []float32, i, seqLen int, mask []int64) []float32 {
	vec := make([]float32, EmbeddingDim)
	base := i * seqLen * EmbeddingDim

	switch e.pooling {
	case PoolMean:
		var count float32
		for t := 0; t < seqLen; t++ {
			if t < len(mask) && mask[t] == 0 {
				continue
			}
			tokBase := base + t*EmbeddingDim
			for d := 0; d < EmbeddingDim; d++ {
				vec[d] += hidden[tokBase+d]
			}
			count++
		}
		if count > 0 {
			for d := range vec {
				vec[d] /= count
			}
		}
	default: // PoolCLS
		for d := 0; d < EmbeddingDim; d++ {
			vec[d] = hidden[base+d]
		}
	}
	return vec
}
