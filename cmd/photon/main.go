package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/hejijunhao/photon/internal/batch"
	"github.com/hejijunhao/photon/internal/enrich"
	"github.com/hejijunhao/photon/internal/llmcaller"
	"github.com/hejijunhao/photon/internal/pipeline"
	"github.com/hejijunhao/photon/internal/progressive"
	"github.com/hejijunhao/photon/internal/relevance"
	"github.com/hejijunhao/photon/internal/scorer"
	"github.com/hejijunhao/photon/internal/textencoder"
	"github.com/hejijunhao/photon/internal/visionembed"
	"github.com/hejijunhao/photon/internal/vocabulary"
)

var (
	defaultModelDir      = "./models"
	defaultVocabFile     = "./vocab/terms.tsv"
	defaultSeedFile      = "./vocab/seed_terms.txt"
	defaultTaxonomyDir   = "./taxonomy"
	defaultOrtLib        = "./lib/onnxruntime.so"
	defaultVisionVariant = "siglip-base"
	defaultThreads       = 0
)

// fileConfig mirrors the recognized options in spec §6, read from
// .photon.toml the same way sift reads .sift.toml: read-if-exists,
// unmarshal into a struct, then flags override. Nested tables (`[limits]`,
// `[tagging.progressive]`, ...) follow the dotted option names in spec §6
// literally — each dotted segment is one nested TOML table.
type fileConfig struct {
	ModelDir      string `toml:"model-dir"`
	OrtLib        string `toml:"ort-lib"`
	Threads       int    `toml:"threads"`
	VocabFile     string `toml:"vocab-file"`
	SeedFile      string `toml:"seed-file"`
	TaxonomyDir   string `toml:"taxonomy-dir"`
	VisionVariant string `toml:"vision-variant"`

	Limits    limitsConfig    `toml:"limits"`
	Thumbnail thumbnailConfig `toml:"thumbnail"`
	Embedding embeddingConfig `toml:"embedding"`
	Tagging   taggingConfig   `toml:"tagging"`
	LLM       llmConfig       `toml:"llm"`
}

type limitsConfig struct {
	MaxFileSizeMB     int64 `toml:"max_file_size_mb"`
	MaxImageDimension int   `toml:"max_image_dimension"`
}

type thumbnailConfig struct {
	MaxEdge int `toml:"max_edge"`
}

type embeddingConfig struct {
	ImageSize int `toml:"image_size"`
	TimeoutMs int `toml:"timeout_ms"`
}

type taggingConfig struct {
	MinConfidence        float32             `toml:"min_confidence"`
	MaxTags              int                 `toml:"max_tags"`
	DeduplicateAncestors bool                `toml:"deduplicate_ancestors"`
	ShowPaths            bool                `toml:"show_paths"`
	PathMaxDepth         int                 `toml:"path_max_depth"`
	NeighborExpansion    bool                `toml:"neighbor_expansion"`
	Progressive          progressiveConfig   `toml:"progressive"`
	Relevance            relevanceTomlConfig `toml:"relevance"`
}

type progressiveConfig struct {
	Enabled   bool `toml:"enabled"`
	SeedSize  int  `toml:"seed_size"`
	ChunkSize int  `toml:"chunk_size"`
}

type relevanceTomlConfig struct {
	Enabled         bool    `toml:"enabled"`
	ActiveThreshold float64 `toml:"active_threshold"`
	WarmThreshold   float64 `toml:"warm_threshold"`
	WarmInterval    int     `toml:"warm_interval"`
	SweepInterval   int     `toml:"sweep_interval"`
	StickyWindow    int     `toml:"sticky_window"`
}

type llmConfig struct {
	Provider      string `toml:"provider"`
	Model         string `toml:"model"`
	APIKeyEnv     string `toml:"api_key_env"`
	Endpoint      string `toml:"endpoint"`
	Prompt        string `toml:"prompt"`
	TimeoutMs     int    `toml:"timeout_ms"`
	RetryAttempts int    `toml:"retry_attempts"`
	RetryDelayMs  int    `toml:"retry_delay_ms"`
	Parallel      int    `toml:"parallel"`
	MaxFileSizeMB int    `toml:"max_file_size_mb"`
}

func main() {
	root := &cobra.Command{
		Use:   "photon",
		Short: "Local, batch-oriented image understanding",
		Long:  "photon — offline image tagging and captioning: content hash, perceptual hash, embedding, zero-shot tags, optional LLM captions.",
	}

	var cfg fileConfig
	if b, err := os.ReadFile(".photon.toml"); err == nil {
		if err := toml.Unmarshal(b, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to parse .photon.toml: %v\n", err)
		}
	}
	applyDefaults(&cfg)

	var modelDir, ortLib, vocabFile, seedFile, taxonomyDir, visionVariant string
	var numThreads int
	root.PersistentFlags().StringVar(&modelDir, "model-dir", cfg.ModelDir, "directory containing ONNX model files")
	root.PersistentFlags().StringVar(&ortLib, "ort-lib", cfg.OrtLib, "path to onnxruntime.so (auto-detected if empty)")
	root.PersistentFlags().IntVar(&numThreads, "threads", cfg.Threads, "ONNX intra-op thread count (0 = auto, capped at 4)")
	root.PersistentFlags().StringVar(&vocabFile, "vocab-file", cfg.VocabFile, "tab-separated vocabulary term list")
	root.PersistentFlags().StringVar(&seedFile, "seed-file", cfg.SeedFile, "authored seed-terms file for cold start")
	root.PersistentFlags().StringVar(&taxonomyDir, "taxonomy-dir", cfg.TaxonomyDir, "directory holding label_bank.bin/.meta")
	root.PersistentFlags().StringVar(&visionVariant, "vision-variant", cfg.VisionVariant, "vision model variant subdirectory")

	resolveOrtLib := func(flag string) string {
		if flag != "" {
			return flag
		}
		if exe, err := os.Executable(); err == nil {
			candidate := filepath.Join(filepath.Dir(exe), "lib", "onnxruntime.so")
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
		if _, err := os.Stat(defaultOrtLib); err == nil {
			absPath, _ := filepath.Abs(defaultOrtLib)
			return absPath
		}
		return ""
	}

	var (
		outputPath   string
		jsonArray    bool
		skipExisting bool
		parallel     int
		enableLLM    bool
		skipThumb    bool
		skipPhash    bool
		skipEmbed    bool
		skipTag      bool
	)

	processCmd := &cobra.Command{
		Use:   "process <dir> [dir...]",
		Short: "Process every image under the given directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Fprint(os.Stderr, "Loading models… ")
			vision, err := visionembed.New(modelDir, visionVariant, resolveOrtLib(ortLib), numThreads)
			if err != nil {
				fmt.Fprintln(os.Stderr, "")
				return err
			}
			defer vision.Close()

			enc, err := textencoder.New(modelDir, resolveOrtLib(ortLib), numThreads, textencoder.PoolCLS)
			if err != nil {
				fmt.Fprintln(os.Stderr, "")
				return err
			}
			defer enc.Close()
			fmt.Fprintln(os.Stderr, "ready.")

			vocab, err := vocabulary.LoadFile(vocabFile)
			if err != nil {
				return fmt.Errorf("load vocabulary: %w", err)
			}

			var seedNames []string
			if _, err := os.Stat(seedFile); err == nil {
				seedNames, err = vocabulary.LoadTermFile(seedFile)
				if err != nil {
					return fmt.Errorf("load seed terms: %w", err)
				}
			}

			scorerCfg := scorer.Config{
				MinConfidence:        cfg.Tagging.MinConfidence,
				MaxTags:              cfg.Tagging.MaxTags,
				DeduplicateAncestors: cfg.Tagging.DeduplicateAncestors,
				ShowPaths:            cfg.Tagging.ShowPaths,
				PathMaxDepth:         cfg.Tagging.PathMaxDepth,
				SkipList:             scorer.DefaultSkipList(),
			}

			progCfg := progressive.Config{
				SeedSize:      cfg.Tagging.Progressive.SeedSize,
				ChunkSize:     cfg.Tagging.Progressive.ChunkSize,
				SeedTermNames: seedNames,
				CachePath:     filepath.Join(taxonomyDir, "label_bank.bin"),
				BatchSize:     32,
			}

			fmt.Fprintf(os.Stderr, "Loading %d-term label bank…\n", vocab.Len())
			slot, err := progressive.Load(vocab, enc, scorerCfg, progCfg, cfg.Tagging.Progressive.Enabled, func(done, total int, err error) {
				if err != nil {
					fmt.Fprintf(os.Stderr, "[progressive] chunk failed at %d/%d: %v\n", done, total, err)
				} else {
					fmt.Fprintf(os.Stderr, "[progressive] %d/%d terms encoded\n", done, total)
				}
			})
			if err != nil {
				return fmt.Errorf("load label bank: %w", err)
			}

			var tracker *relevance.Tracker
			if cfg.Tagging.Relevance.Enabled {
				tracker = relevance.New(vocab.Len(), relevance.Config{
					ActiveThreshold: cfg.Tagging.Relevance.ActiveThreshold,
					WarmThreshold:   cfg.Tagging.Relevance.WarmThreshold,
					WarmInterval:    cfg.Tagging.Relevance.WarmInterval,
					SweepInterval:   cfg.Tagging.Relevance.SweepInterval,
					StickyWindow:    cfg.Tagging.Relevance.StickyWindow,
				})
			}

			pipeCfg := pipeline.Config{
				MaxFileSizeBytes:  cfg.Limits.MaxFileSizeMB * 1024 * 1024,
				MaxImageDimension: cfg.Limits.MaxImageDimension,
				ThumbnailMaxEdge:  cfg.Thumbnail.MaxEdge,
				PreprocessEdge:    cfg.Embedding.ImageSize,
				EmbedTimeout:      time.Duration(cfg.Embedding.TimeoutMs) * time.Millisecond,
				NeighborExpansion: cfg.Tagging.NeighborExpansion,
			}
			orc := pipeline.New(pipeCfg, vision, slot, tracker)

			var sink batch.Sink
			var out *os.File
			if outputPath == "" || outputPath == "-" {
				out = os.Stdout
			} else {
				out, err = os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return fmt.Errorf("open output %s: %w", outputPath, err)
				}
				defer out.Close()
			}
			if jsonArray {
				sink = batch.NewArraySink(out)
			} else {
				sink = batch.NewJSONLSink(out)
			}

			var seen map[string]bool
			if skipExisting && outputPath != "" && outputPath != "-" {
				var warnings int
				seen, warnings, err = batch.LoadExistingHashes(outputPath)
				if err != nil {
					return fmt.Errorf("load existing output: %w", err)
				}
				if warnings > 0 {
					fmt.Fprintf(os.Stderr, "warning: %d unparseable lines in existing output, skipped\n", warnings)
				}
				fmt.Fprintf(os.Stderr, "skip-existing: %d content hashes already present\n", len(seen))
			}

			opts := batch.Options{
				Parallel: parallel,
				ProcessOpts: pipeline.Options{
					SkipThumbnail:      skipThumb,
					SkipPerceptualHash: skipPhash,
					SkipEmbedding:      skipEmbed,
					SkipTagging:        skipTag,
				},
				SkipExisting: seen,
			}

			if enableLLM {
				apiKey := os.Getenv(cfg.LLM.APIKeyEnv)
				caller := llmcaller.New(llmcaller.Config{
					Provider: cfg.LLM.Provider,
					Model:    cfg.LLM.Model,
					APIKey:   apiKey,
					Endpoint: cfg.LLM.Endpoint,
					Prompt:   cfg.LLM.Prompt,
					Timeout:  time.Duration(cfg.LLM.TimeoutMs) * time.Millisecond,
				})
				opts.Enrich = &batch.EnrichOptions{
					Config: enrich.Config{
						Parallel:      cfg.LLM.Parallel,
						RetryAttempts: cfg.LLM.RetryAttempts,
						RetryDelayMs:  cfg.LLM.RetryDelayMs,
						MaxFileSizeMB: cfg.LLM.MaxFileSizeMB,
					},
					Caller: caller,
					Sink:   sink, // same sink; enrichment patches merge by content_hash downstream
				}
			}

			files, err := batch.Discover(args[0])
			if err != nil {
				return err
			}
			for _, dir := range args[1:] {
				more, err := batch.Discover(dir)
				if err != nil {
					return err
				}
				files = append(files, more...)
			}
			fmt.Fprintf(os.Stderr, "Processing %d images with %d workers…\n", len(files), opts.Parallel)

			stats := batch.Run(ctx, files, orc, opts, sink)
			if err := sink.Close(); err != nil {
				return fmt.Errorf("flush output: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Done. %d succeeded, %d failed, %d skipped.\n", stats.Succeeded, stats.Failed, stats.Skipped)
			return nil
		},
	}
	processCmd.Flags().StringVar(&outputPath, "output", "", "output file path (default: stdout)")
	processCmd.Flags().BoolVar(&jsonArray, "json-array", false, "emit a single JSON array instead of JSONL")
	processCmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "skip images whose content hash is already in the output file")
	processCmd.Flags().IntVar(&parallel, "parallel", 4, "number of images processed concurrently")
	processCmd.Flags().BoolVar(&enableLLM, "enrich", false, "caption each image via the configured LLM provider")
	processCmd.Flags().BoolVar(&skipThumb, "skip-thumbnail", false, "skip thumbnail generation")
	processCmd.Flags().BoolVar(&skipPhash, "skip-phash", false, "skip perceptual hashing")
	processCmd.Flags().BoolVar(&skipEmbed, "skip-embedding", false, "skip embedding and tagging")
	processCmd.Flags().BoolVar(&skipTag, "skip-tagging", false, "skip tagging only (embedding still runs)")
	root.AddCommand(processCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// applyDefaults fills in zero-valued fields of cfg with spec §6 defaults,
// the same read-if-exists-then-fill-gaps shape as sift's .sift.toml.
func applyDefaults(cfg *fileConfig) {
	if cfg.ModelDir == "" {
		cfg.ModelDir = defaultModelDir
	}
	if cfg.OrtLib == "" {
		cfg.OrtLib = defaultOrtLib
	}
	if cfg.Threads == 0 {
		cfg.Threads = defaultThreads
	}
	if cfg.VocabFile == "" {
		cfg.VocabFile = defaultVocabFile
	}
	if cfg.SeedFile == "" {
		cfg.SeedFile = defaultSeedFile
	}
	if cfg.TaxonomyDir == "" {
		cfg.TaxonomyDir = defaultTaxonomyDir
	}
	if cfg.VisionVariant == "" {
		cfg.VisionVariant = defaultVisionVariant
	}
	if cfg.Limits.MaxFileSizeMB == 0 {
		cfg.Limits.MaxFileSizeMB = 50
	}
	if cfg.Limits.MaxImageDimension == 0 {
		cfg.Limits.MaxImageDimension = 8192
	}
	if cfg.Thumbnail.MaxEdge == 0 {
		cfg.Thumbnail.MaxEdge = 256
	}
	if cfg.Embedding.ImageSize == 0 {
		cfg.Embedding.ImageSize = 224
	}
	if cfg.Embedding.TimeoutMs == 0 {
		cfg.Embedding.TimeoutMs = 10000
	}
	if cfg.Tagging.MaxTags == 0 {
		cfg.Tagging.MaxTags = 20
	}
	if cfg.Tagging.MinConfidence == 0 {
		cfg.Tagging.MinConfidence = 0.1
	}
	if cfg.Tagging.PathMaxDepth == 0 {
		cfg.Tagging.PathMaxDepth = 3
	}
	if cfg.Tagging.Progressive.SeedSize == 0 {
		cfg.Tagging.Progressive.SeedSize = 2000
	}
	if cfg.Tagging.Progressive.ChunkSize == 0 {
		cfg.Tagging.Progressive.ChunkSize = 5000
	}
	if cfg.Tagging.Relevance.ActiveThreshold == 0 {
		cfg.Tagging.Relevance.ActiveThreshold = 0.15
	}
	if cfg.Tagging.Relevance.WarmThreshold == 0 {
		cfg.Tagging.Relevance.WarmThreshold = 0.02
	}
	if cfg.Tagging.Relevance.WarmInterval == 0 {
		cfg.Tagging.Relevance.WarmInterval = 5
	}
	if cfg.Tagging.Relevance.SweepInterval == 0 {
		cfg.Tagging.Relevance.SweepInterval = 50
	}
	if cfg.Tagging.Relevance.StickyWindow == 0 {
		cfg.Tagging.Relevance.StickyWindow = 200
	}
	if cfg.LLM.TimeoutMs == 0 {
		cfg.LLM.TimeoutMs = 30000
	}
	if cfg.LLM.RetryAttempts == 0 {
		cfg.LLM.RetryAttempts = 2
	}
	if cfg.LLM.RetryDelayMs == 0 {
		cfg.LLM.RetryDelayMs = 500
	}
	if cfg.LLM.Parallel == 0 {
		cfg.LLM.Parallel = 2
	}
	if cfg.LLM.MaxFileSizeMB == 0 {
		cfg.LLM.MaxFileSizeMB = 20
	}
	if cfg.LLM.Prompt == "" {
		cfg.LLM.Prompt = "Describe this image in one concise sentence."
	}
}
