// Package vocabulary holds the ordered list of tag terms Photon scores
// images against (spec §3, §4.1): name, display name, hypernym chain, and
// optional category for supplemental (non-WordNet) terms. Identity is a
// content hash over the canonicalized term-name sequence.
package vocabulary

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/hejijunhao/photon/internal/hash"
)

// Term is a single vocabulary entry.
type Term struct {
	Name        string   // raw, lowercase, underscored
	DisplayName string   // human form with spaces
	Hypernyms   []string // ancestors, most specific first; empty for supplemental terms
	Category    string   // non-empty iff supplemental (scene/mood/style/weather); empty for WordNet terms
}

// IsSupplemental reports whether t carries a category instead of hypernyms.
func (t Term) IsSupplemental() bool {
	return t.Category != ""
}

// Vocabulary is an ordered sequence of terms plus a by-name index.
// Indices are stable for the lifetime of a Vocabulary value.
type Vocabulary struct {
	terms   []Term
	byName  map[string]int
	hashHex string
}

// Empty returns a Vocabulary with zero terms.
func Empty() *Vocabulary {
	return &Vocabulary{terms: nil, byName: map[string]int{}, hashHex: hash.Canonicalize(nil)}
}

// New builds a Vocabulary from an ordered slice of terms.
func New(terms []Term) *Vocabulary {
	v := &Vocabulary{
		terms:  terms,
		byName: make(map[string]int, len(terms)),
	}
	names := make([]string, len(terms))
	for i, t := range terms {
		v.byName[t.Name] = i
		names[i] = t.Name
	}
	v.hashHex = hash.Canonicalize(names)
	return v
}

// Len returns the number of terms.
func (v *Vocabulary) Len() int { return len(v.terms) }

// TermAt returns the term at index i.
func (v *Vocabulary) TermAt(i int) Term { return v.terms[i] }

// GetByName looks up a term by its raw name. ok is false if absent.
func (v *Vocabulary) GetByName(name string) (Term, int, bool) {
	i, ok := v.byName[name]
	if !ok {
		return Term{}, 0, false
	}
	return v.terms[i], i, true
}

// ContentHash returns the 64-hex BLAKE3 hash identifying this vocabulary.
// Two vocabularies with identical hash are interchangeable.
func (v *Vocabulary) ContentHash() string { return v.hashHex }

// Subset builds a new Vocabulary containing exactly the terms at the given
// indices, in the order supplied, with its own freshly built by-name index.
func (v *Vocabulary) Subset(indices []int) *Vocabulary {
	terms := make([]Term, len(indices))
	for i, idx := range indices {
		terms[i] = v.terms[idx]
	}
	return New(terms)
}

// AllSupplementalIndices returns the indices of every supplemental term,
// in vocabulary order — used by the seed selector (spec §4.4 step 1).
func (v *Vocabulary) AllSupplementalIndices() []int {
	var out []int
	for i, t := range v.terms {
		if t.IsSupplemental() {
			out = append(out, i)
		}
	}
	return out
}

// ParentIndex maps each direct (most specific) hypernym name to the
// indices of the terms whose hypernym chain starts with it, so a term's
// siblings are the entry under its own first hypernym — used by
// Scorer.Siblings for neighbor expansion (spec §4.3). Built once at
// scorer construction.
func (v *Vocabulary) ParentIndex() map[string][]int {
	byParent := make(map[string][]int)
	for i, t := range v.terms {
		if len(t.Hypernyms) == 0 {
			continue
		}
		parent := t.Hypernyms[0]
		byParent[parent] = append(byParent[parent], i)
	}
	return byParent
}

// LoadTermFile reads a UTF-8 term-name file, one term per line, with '#'
// comment lines and blank lines ignored — the same shape as the seed-terms
// file in spec §4.4/§6.
func LoadTermFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return names, nil
}

// LoadFile reads a full vocabulary from a tab-separated term list (spec
// §6's "<vocab_dir>/ — term list files"): one term per line, columns
// `name`, `display_name`, `hypernyms` (comma-separated, most specific
// first, empty for supplemental terms), `category` (empty for WordNet
// terms). '#' comment lines and blank lines are ignored, same as
// LoadTermFile.
func LoadFile(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var terms []Term
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 2 {
			return nil, fmt.Errorf("%s:%d: expected at least name\\tdisplay_name, got %q", path, lineNum, line)
		}
		t := Term{Name: cols[0], DisplayName: cols[1]}
		if len(cols) > 2 && cols[2] != "" {
			t.Hypernyms = strings.Split(cols[2], ",")
		}
		if len(cols) > 3 {
			t.Category = cols[3]
		}
		terms = append(terms, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return New(terms), nil
}
