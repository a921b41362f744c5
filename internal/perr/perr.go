// Package perr defines the typed error kinds Photon's core can return
// (spec §7) plus a user-facing hint for each, in the same "wrap with %w,
// classify at the boundary" style sift uses for isInterrupted.
package perr

import (
	"errors"
	"fmt"
)

// Kind classifies a Photon error for retry/reporting decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindFileNotFound
	KindFileTooLarge
	KindImageTooLarge
	KindDecode
	KindHashIO
	KindEmbedding
	KindEmbeddingTimeout
	KindScoring
	KindCacheCorrupt
	KindLlmTransport
	KindLlmHTTP
	KindLlmParse
)

func (k Kind) String() string {
	switch k {
	case KindFileNotFound:
		return "FileNotFound"
	case KindFileTooLarge:
		return "FileTooLarge"
	case KindImageTooLarge:
		return "ImageTooLarge"
	case KindDecode:
		return "Decode"
	case KindHashIO:
		return "HashIo"
	case KindEmbedding:
		return "Embedding"
	case KindEmbeddingTimeout:
		return "EmbeddingTimeout"
	case KindScoring:
		return "Scoring"
	case KindCacheCorrupt:
		return "CacheCorrupt"
	case KindLlmTransport:
		return "LlmTransport"
	case KindLlmHTTP:
		return "LlmHttp"
	case KindLlmParse:
		return "LlmParse"
	default:
		return "Unknown"
	}
}

// Error is a Photon core error: a kind, a human hint, and a wrapped cause.
type Error struct {
	Kind   Kind
	Hint   string
	Status int // HTTP status, only meaningful for KindLlmHTTP
	Cause  error
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Kind, e.Cause, e.Hint)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error wrapping cause with the given kind and hint.
func New(kind Kind, hint string, cause error) *Error {
	return &Error{Kind: kind, Hint: hint, Cause: cause}
}

// NewHTTP builds an *Error for an enrichment HTTP failure, recording the
// status code so the enricher can classify it for retry.
func NewHTTP(status int, hint string, cause error) *Error {
	return &Error{Kind: KindLlmHTTP, Status: status, Hint: hint, Cause: cause}
}

// As extracts a *Error from err, if present.
func As(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or KindUnknown if err does not carry one.
func KindOf(err error) Kind {
	if pe, ok := As(err); ok {
		return pe.Kind
	}
	return KindUnknown
}
