// Package dedup implements task-suggestion deduplication:
// normalization, a bounded ring of recently-suggested texts, and
// exact/containment/token-set matching against it.
//
// The ring is grounded on the prior voice-agent's bounded-slice trimming idiom
// (ConversationSession.AddMessage's Context[len-Max:] trick in
// pkg/orchestrator/types.go), generalized to a true index+count ring plus
// a hash set for O(1) membership, per SPEC_FULL.md's design-notes choice
// to avoid an O(n) slice copy on every insert.
package dedup

import "strings"

// MaxRingSize is the bound on the recently-suggested ring (// "≤500").
const MaxRingSize = 500

// minContainmentLen is the minimum length of the longer normalized string
// for containment matching to apply.
const minContainmentLen = 16

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "to": true, "of": true, "and": true,
	"or": true, "in": true, "on": true, "at": true, "for": true, "with": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"it": true, "this": true, "that": true, "as": true, "by": true, "from": true,
}

// Ring is a bounded FIFO of normalized, previously-suggested task texts
// plus a hash set for O(1) membership, used to detect duplicate
// suggestions across analysis runs.
type Ring struct {
	entries []string
	set     map[string]int // normalized text -> count of occurrences in the ring
	head    int            // index of the oldest entry when entries is full
}

// NewRing constructs an empty Ring.
func NewRing() *Ring {
	return &Ring{set: make(map[string]int)}
}

// Normalize lowercases, collapses whitespace, strips trailing punctuation,
// removes apostrophes, and strips all non-alphanumeric characters except
// spaces.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "'", "")

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	fields := strings.Fields(b.String())
	return strings.Join(fields, " ")
}

// tokenize splits a normalized string into tokens, dropping stop-words and
// single-character tokens, and crudely singularizing plural-looking tokens
//.
func tokenize(normalized string) []string {
	var out []string
	for _, tok := range strings.Fields(normalized) {
		if len(tok) <= 1 || stopWords[tok] {
			continue
		}
		out = append(out, singularize(tok))
	}
	return out
}

func singularize(tok string) string {
	switch {
	case strings.HasSuffix(tok, "es") && len(tok) > 3:
		return tok[:len(tok)-2]
	case strings.HasSuffix(tok, "s") && len(tok) > 2:
		return tok[:len(tok)-1]
	default:
		return tok
	}
}

func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// isDuplicate applies three matching rules between two
// already-normalized candidate texts.
func isDuplicate(a, b string) bool {
	if a == b {
		return true
	}

	longer, shorter := a, b
	if len(shorter) > len(longer) {
		longer, shorter = shorter, longer
	}
	if len(longer) >= minContainmentLen && strings.Contains(longer, shorter) {
		return true
	}

	setA := tokenSet(tokenize(a))
	setB := tokenSet(tokenize(b))
	if len(setA) == 0 || len(setB) == 0 {
		return false
	}

	overlap := 0
	for t := range setA {
		if setB[t] {
			overlap++
		}
	}
	if overlap == 0 {
		return false
	}

	smaller := len(setA)
	if len(setB) < smaller {
		smaller = len(setB)
	}
	containment := float64(overlap) / float64(smaller)
	if containment >= 1.0 && overlap >= 2 {
		return true
	}
	if containment >= 0.8 && overlap >= 3 {
		return true
	}

	union := len(setA) + len(setB) - overlap
	jaccard := float64(overlap) / float64(union)
	if jaccard >= 0.6 && overlap >= 3 {
		return true
	}
	return false
}

// IsDuplicateAgainst reports whether candidate (raw, not normalized) text
// duplicates any of existingTasks (already-persisted texts, raw), batch
// (already-emitted suggestions in the current analysis run, raw), or the
// ring's recently-suggested history.
func (r *Ring) IsDuplicateAgainst(candidate string, existingTasks, batch []string) bool {
	normCandidate := Normalize(candidate)
	if normCandidate == "" {
		return true
	}

	for _, t := range existingTasks {
		if isDuplicate(normCandidate, Normalize(t)) {
			return true
		}
	}
	for _, t := range batch {
		if isDuplicate(normCandidate, Normalize(t)) {
			return true
		}
	}
	for _, t := range r.entries {
		if isDuplicate(normCandidate, t) {
			return true
		}
	}
	return false
}

// Add inserts candidate's normalized form into the ring, evicting the
// oldest entry (FIFO) once the ring exceeds MaxRingSize.
func (r *Ring) Add(candidate string) {
	norm := Normalize(candidate)
	if norm == "" {
		return
	}
	if len(r.entries) < MaxRingSize {
		r.entries = append(r.entries, norm)
		r.set[norm]++
		return
	}
	evicted := r.entries[r.head]
	r.entries[r.head] = norm
	r.head = (r.head + 1) % MaxRingSize
	r.set[evicted]--
	if r.set[evicted] <= 0 {
		delete(r.set, evicted)
	}
	r.set[norm]++
}

// Contains reports whether normalized candidate text is already present in
// the ring, independent of the structural duplicate rules — an O(1) exact
// membership check.
func (r *Ring) Contains(candidate string) bool {
	return r.set[Normalize(candidate)] > 0
}

// Len returns the current number of entries held in the ring.
func (r *Ring) Len() int {
	return len(r.entries)
}
