// Package pipeline composes the per-image stage sequence (spec §4.5):
// validate → hash → decode → re-validate dimensions → perceptual hash →
// thumbnail → preprocess → embed → score. It owns the optional embedding
// engine and the scorer/tracker locks, and enforces the lock-ordering
// invariant in spec §5 by construction: every call into the scorer slot
// or the relevance tracker is a single self-contained method call, so the
// two locks are never held at the same time by this code.
//
// Grounded on the teacher's Index.AddFileCtx in internal/index/index.go —
// same "stat, skip-or-fail, read, process" shape — generalized from a
// single embed step into the full multi-stage sequence this domain needs.
package pipeline

import (
	"context"
	"os"
	"time"

	"github.com/hejijunhao/photon/internal/decode"
	"github.com/hejijunhao/photon/internal/hash"
	"github.com/hejijunhao/photon/internal/perr"
	"github.com/hejijunhao/photon/internal/phash"
	"github.com/hejijunhao/photon/internal/plog"
	"github.com/hejijunhao/photon/internal/preprocess"
	"github.com/hejijunhao/photon/internal/record"
	"github.com/hejijunhao/photon/internal/relevance"
	"github.com/hejijunhao/photon/internal/scorer"
	"github.com/hejijunhao/photon/internal/thumbnail"
	"github.com/hejijunhao/photon/internal/validate"
	"github.com/hejijunhao/photon/internal/visionembed"
)

// Options are the per-image skip flags (spec §4.5). Core stages — decode,
// EXIF, content hash, validation — never skip.
type Options struct {
	SkipThumbnail      bool
	SkipPerceptualHash bool
	SkipEmbedding      bool
	SkipTagging        bool
}

// Config bounds the pipeline's resource usage.
type Config struct {
	MaxFileSizeBytes  int64
	MaxImageDimension int
	ThumbnailMaxEdge  int
	PreprocessEdge    int
	EmbedTimeout      time.Duration
	NeighborExpansion bool
}

// Orchestrator runs the stage sequence for one image at a time, sharing
// its embedding engine, scorer slot, and relevance tracker across
// concurrent callers (the batch driver invokes ProcessImage from multiple
// goroutines at once).
type Orchestrator struct {
	cfg     Config
	vision  *visionembed.Engine // nil: embedding + scoring both skipped
	slot    *scorer.Slot        // nil: no scorer loaded, tags always empty
	tracker *relevance.Tracker  // nil: scorer.Score(all rows) used instead of pools
	log     plog.Logger
}

// New builds an orchestrator. vision, slot, and tracker may each be nil
// independently — an orchestrator with none of them still performs
// decode/hash/validate/phash/thumbnail and emits a record with empty
// embedding and tags.
func New(cfg Config, vision *visionembed.Engine, slot *scorer.Slot, tracker *relevance.Tracker) *Orchestrator {
	return &Orchestrator{cfg: cfg, vision: vision, slot: slot, tracker: tracker, log: plog.New("pipeline")}
}

// ProcessImage runs the full stage sequence for the file at path and
// returns a core record. Decode, validation, hashing, and preprocess
// failures fail the image (a non-nil error, typed via perr.Kind).
// Embedding timeout is fatal for the image but not the batch — it
// surfaces the same way, as a returned error, and the caller (batch
// driver) simply skips this one image. Tagging failure is degraded: it
// never fails the image, only logs and leaves Tags empty.
func (o *Orchestrator) ProcessImage(ctx context.Context, path string, opts Options) (record.Core, error) {
	info, err := validate.File(path, o.cfg.MaxFileSizeBytes)
	if err != nil {
		return record.Core{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return record.Core{}, perr.New(perr.KindFileNotFound, "file became unreadable after stat", err)
	}

	contentHash := hash.Bytes(data)

	decoded, err := decode.Decode(data)
	if err != nil {
		return record.Core{}, err
	}
	if err := validate.Dimensions(decoded.Width, decoded.Height, o.cfg.MaxImageDimension); err != nil {
		return record.Core{}, err
	}

	out := record.Core{
		FilePath:    path,
		FileName:    fileName(path),
		FileSize:    info.Size(),
		Format:      decoded.Format,
		ContentHash: contentHash,
		Width:       decoded.Width,
		Height:      decoded.Height,
		EXIF:        decoded.EXIF,
	}

	if !opts.SkipPerceptualHash {
		if ph, ok := phash.Compute(decoded.Image); ok {
			out.PerceptualHash = ph
		}
	}

	if !opts.SkipThumbnail {
		thumb, err := thumbnail.Make(decoded.Image, o.cfg.ThumbnailMaxEdge)
		if err != nil {
			return record.Core{}, err
		}
		out.Thumbnail = thumb
	}

	if !opts.SkipEmbedding && o.vision != nil {
		tensor := preprocess.Run(decoded.Image, o.cfg.PreprocessEdge)
		embedding, err := o.vision.Embed(ctx, tensor, o.cfg.EmbedTimeout)
		if err != nil {
			return record.Core{}, err
		}
		out.Embedding = embedding

		if !opts.SkipTagging {
			out.Tags = o.scoreAndTrack(embedding)
		}
	}

	return out, nil
}

// scoreAndTrack scores embedding against the current scorer, updates the
// relevance tracker, and runs neighbor expansion — all while upholding the
// invariant that the scorer lock and tracker lock are never held at once
// (spec §5). Each call below is a complete, self-released critical
// section; none of them nest inside another.
func (o *Orchestrator) scoreAndTrack(embedding []float32) []scorer.Tag {
	if o.slot == nil {
		return nil
	}
	s := o.slot.Get() // scorer read-lock: acquire, read pointer, release
	if s == nil {
		return nil
	}

	var res scorer.Result
	func() {
		defer func() {
			if r := recover(); r != nil {
				o.log.Warnf("tagging panicked, emitting image with empty tags: %v", r)
				res = scorer.Result{}
			}
		}()
		if o.tracker != nil {
			res = s.ScoreWithPools(embedding, o.tracker) // tracker read-locks internally; no scorer lock held
		} else {
			res = s.Score(embedding)
		}
	}()

	if o.tracker == nil {
		return res.Tags
	}

	// tracker write-lock: record hits, conditionally sweep, release.
	promoted := o.tracker.RecordHitsAndMaybeSweep(res.RawHits, res.ScoredIndices)

	if o.cfg.NeighborExpansion && len(promoted) > 0 {
		// Neighbor expansion is scoped to terms promoted into Active only
		// (spec §4.3: "each promoted Active term") — a Warm promotion must
		// not also pull its Cold siblings into Warm.
		var siblings []int
		cur := o.slot.Get() // scorer read-lock: enumerate siblings, release
		if cur != nil {
			for _, a := range promoted {
				if o.tracker.PoolOf(a) != relevance.Active { // tracker read-lock per index
					continue
				}
				siblings = append(siblings, cur.Siblings(a)...)
			}
		}
		if len(siblings) > 0 {
			o.tracker.PromoteToWarm(siblings) // tracker write-lock: promote, release
		}
	}

	return res.Tags
}

func fileName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
