// Package record defines Photon's wire format: a discriminated union of
// core image records and late-arriving enrichment patches, both keyed by
// content_hash so a downstream reader can merge them (spec §3, §6). The
// JSON shape follows the teacher's ChunkMeta in internal/index/index.go
// (plain exported fields, `json:"snake_case,omitempty"` tags).
package record

import (
	"encoding/json"

	"github.com/hejijunhao/photon/internal/scorer"
)

// Type values distinguish the two record shapes sharing this struct.
const (
	TypeCore       = "core"
	TypeEnrichment = "enrichment"
)

// Record is either a core image record (Type == TypeCore) or an
// enrichment patch (Type == TypeEnrichment); the two shapes share a Go
// struct for convenience (one type for a sink/Unmarshal to hold either
// kind), but MarshalJSON emits the spec's two distinct wire shapes — see
// coreWire/enrichmentWire below. These field tags govern Unmarshal only.
type Record struct {
	Type string `json:"type"`

	// Core record fields (spec §3 image record). Zero-valued and ignored
	// on enrichment patches.
	FilePath       string            `json:"file_path,omitempty"`
	FileName       string            `json:"file_name,omitempty"`
	FileSize       int64             `json:"file_size,omitempty"`
	Format         string            `json:"format,omitempty"`
	PerceptualHash string            `json:"perceptual_hash,omitempty"`
	Width          int               `json:"width,omitempty"`
	Height         int               `json:"height,omitempty"`
	EXIF           map[string]string `json:"exif,omitempty"`
	Thumbnail      []byte            `json:"thumbnail,omitempty"` // encoding/json base64-encodes []byte
	Embedding      []float32         `json:"embedding"`           // always present on core: [768]f32, or [] when skipped
	Tags           []scorer.Tag      `json:"tags"`                // always present on core: [...], or [] when absent

	// ContentHash identifies the image on both record shapes — it is how
	// an enrichment patch associates back to its core record.
	ContentHash string `json:"content_hash"`

	// Description is populated only on enrichment patches.
	Description string `json:"description,omitempty"`
}

// coreWire is the exact core wire shape (spec §6): embedding and tags are
// always present, `[]` when empty rather than omitted; perceptual_hash
// and thumbnail are omitted entirely when absent.
type coreWire struct {
	Type           string            `json:"type"`
	FilePath       string            `json:"file_path"`
	FileName       string            `json:"file_name"`
	FileSize       int64             `json:"file_size"`
	Format         string            `json:"format"`
	ContentHash    string            `json:"content_hash"`
	PerceptualHash string            `json:"perceptual_hash,omitempty"`
	Width          int               `json:"width"`
	Height         int               `json:"height"`
	EXIF           map[string]string `json:"exif"`
	Thumbnail      []byte            `json:"thumbnail,omitempty"`
	Embedding      []float32         `json:"embedding"`
	Tags           []scorer.Tag      `json:"tags"`
}

// enrichmentWire is the exact enrichment wire shape (spec §6): only type,
// content_hash, and description — none of the core-only fields appear.
type enrichmentWire struct {
	Type        string `json:"type"`
	ContentHash string `json:"content_hash"`
	Description string `json:"description"`
}

// MarshalJSON emits the core or enrichment wire shape per r.Type, so the
// two record kinds never leak each other's fields onto the wire (spec §6).
func (r Record) MarshalJSON() ([]byte, error) {
	if r.Type == TypeEnrichment {
		return json.Marshal(enrichmentWire{
			Type:        r.Type,
			ContentHash: r.ContentHash,
			Description: r.Description,
		})
	}
	embedding := r.Embedding
	if embedding == nil {
		embedding = []float32{}
	}
	tags := r.Tags
	if tags == nil {
		tags = []scorer.Tag{}
	}
	return json.Marshal(coreWire{
		Type:           r.Type,
		FilePath:       r.FilePath,
		FileName:       r.FileName,
		FileSize:       r.FileSize,
		Format:         r.Format,
		ContentHash:    r.ContentHash,
		PerceptualHash: r.PerceptualHash,
		Width:          r.Width,
		Height:         r.Height,
		EXIF:           r.EXIF,
		Thumbnail:      r.Thumbnail,
		Embedding:      embedding,
		Tags:           tags,
	})
}

// Core is the per-image data a pipeline run produces, ahead of wire
// serialization. It carries the same fields as a core Record but without
// the JSON discriminant, so pipeline code doesn't thread string literals.
type Core struct {
	FilePath       string
	FileName       string
	FileSize       int64
	Format         string
	ContentHash    string
	PerceptualHash string // empty if skipped or not computable
	Width          int
	Height         int
	EXIF           map[string]string
	Thumbnail      []byte // nil if skipped
	Embedding      []float32
	Tags           []scorer.Tag
}

// NewCore wraps a Core result as a wire Record of type "core". Embedding
// and Tags may be nil here; MarshalJSON normalizes them to `[]` on the
// wire (spec §6: always present, never omitted).
func NewCore(c Core) Record {
	return Record{
		Type:           TypeCore,
		FilePath:       c.FilePath,
		FileName:       c.FileName,
		FileSize:       c.FileSize,
		Format:         c.Format,
		PerceptualHash: c.PerceptualHash,
		Width:          c.Width,
		Height:         c.Height,
		EXIF:           c.EXIF,
		Thumbnail:      c.Thumbnail,
		Embedding:      c.Embedding,
		Tags:           c.Tags,
		ContentHash:    c.ContentHash,
	}
}

// NewEnrichment wraps a successful enrichment result as a wire Record of
// type "enrichment", keyed by contentHash.
func NewEnrichment(contentHash, description string) Record {
	return Record{
		Type:        TypeEnrichment,
		ContentHash: contentHash,
		Description: description,
	}
}
