// Package paragraph buffers sub-paragraph transcript fragments from
// streaming providers (realtime-stream in translation-off mode, and
// local) into committed paragraphs, merging by string overlap the way
// other_examples/d756d051_..._chunk_buffer.go merges audio chunks across
// a silence gap — applied here to string overlap instead of sample
// offsets — and mutex-guarded the way the prior voice-agent's ConversationSession
// guards its mutable state.
package paragraph

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/scribeloop/scribecore/pkg/domain"
)

// DefaultDecisionIntervalMs is the default cadence at which the commit
// decision LLM call may run per source.
const DefaultDecisionIntervalMs = 10000

// PendingParagraph is the accumulating, not-yet-committed transcript for
// one audio source.
type PendingParagraph struct {
	AudioSource      domain.AudioSource
	Transcript       string
	DetectedLangHint domain.Language
	CapturedAt       time.Time
	LastUpdatedAt    time.Time
}

// DecisionResult is the outcome of the commit-decision LLM call.
type DecisionResult struct {
	ShouldCommit bool
	IsPartial    bool
}

// DecisionFunc calls a small LLM against the accumulated transcript and
// reports whether it should be committed now.
type DecisionFunc func(ctx context.Context, transcript string) (DecisionResult, error)

// PolishFunc cleans dictation artifacts from a transcript about to be
// committed. Skipped entirely for the local provider.
type PolishFunc func(ctx context.Context, transcript string) (string, error)

// Buffer holds one PendingParagraph per audio source and drives the
// periodic commit-decision / polish / merge lifecycle.
type Buffer struct {
	mu             sync.Mutex
	pending        map[domain.AudioSource]*PendingParagraph
	lastDecisionAt map[domain.AudioSource]time.Time

	decisionIntervalMs int
	decide             DecisionFunc
	polish             PolishFunc
	skipPolish         bool

	now func() time.Time
}

// New creates a Buffer. decide may be nil, in which case every decision
// falls back to the heuristic. polish may be nil or skipPolish may be true
// (local provider) to skip the polish pass entirely.
func New(decisionIntervalMs int, decide DecisionFunc, polish PolishFunc, skipPolish bool) *Buffer {
	if decisionIntervalMs <= 0 {
		decisionIntervalMs = DefaultDecisionIntervalMs
	}
	return &Buffer{
		pending:            make(map[domain.AudioSource]*PendingParagraph),
		lastDecisionAt:     make(map[domain.AudioSource]time.Time),
		decisionIntervalMs: decisionIntervalMs,
		decide:             decide,
		polish:             polish,
		skipPolish:         skipPolish,
		now:                time.Now,
	}
}

// mergeFragment implements merge rule: if existing ends
// with incoming or incoming starts with existing, keep the longer; else
// concatenate with a single space. Never drops content.
func mergeFragment(existing, incoming string) string {
	if incoming == "" {
		return existing
	}
	if existing == "" {
		return incoming
	}
	if strings.HasSuffix(existing, incoming) || strings.HasPrefix(incoming, existing) {
		if len(incoming) > len(existing) {
			return incoming
		}
		return existing
	}
	return existing + " " + incoming
}

// MergeFragment merges an incoming fragment into the source's pending
// transcript and returns the merged transcript — callers emit a
// partial(source, transcript) event with this value after every merge.
func (b *Buffer) MergeFragment(source domain.AudioSource, langHint domain.Language, text string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	p, ok := b.pending[source]
	if !ok {
		p = &PendingParagraph{AudioSource: source, Transcript: text, DetectedLangHint: langHint, CapturedAt: now, LastUpdatedAt: now}
		b.pending[source] = p
		return p.Transcript
	}

	p.Transcript = mergeFragment(p.Transcript, text)
	p.LastUpdatedAt = now
	if langHint != "" {
		p.DetectedLangHint = langHint
	}
	return p.Transcript
}

// Peek returns a snapshot of the pending paragraph for a source, if any.
func (b *Buffer) Peek(source domain.AudioSource) (PendingParagraph, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[source]
	if !ok {
		return PendingParagraph{}, false
	}
	return *p, true
}

// TryCommit runs the commit-decision pass for source if
// decisionIntervalMs has elapsed since the last attempt. Returns ok=false
// when there is nothing pending, the interval hasn't elapsed, or the
// decision was not to commit.
func (b *Buffer) TryCommit(ctx context.Context, source domain.AudioSource) (text string, langHint domain.Language, ok bool, err error) {
	b.mu.Lock()
	p, has := b.pending[source]
	if !has || p.Transcript == "" {
		b.mu.Unlock()
		return "", "", false, nil
	}
	now := b.now()
	if last, seen := b.lastDecisionAt[source]; seen && now.Sub(last) < time.Duration(b.decisionIntervalMs)*time.Millisecond {
		b.mu.Unlock()
		return "", "", false, nil
	}
	transcript := p.Transcript
	lang := p.DetectedLangHint
	b.lastDecisionAt[source] = now
	b.mu.Unlock()

	decision := DecisionResult{ShouldCommit: heuristicShouldCommit(transcript)}
	if b.decide != nil {
		if d, derr := b.decide(ctx, transcript); derr == nil {
			decision = d
		}
	}
	if decision.IsPartial || !decision.ShouldCommit {
		return "", "", false, nil
	}

	polished, commitErr := b.commit(ctx, source, transcript, lang)
	if commitErr != nil {
		return "", "", false, commitErr
	}
	return polished, lang, true, nil
}

// ForceFlush commits whatever is pending for source unconditionally,
// treating shouldCommit=true regardless of the decision model. Used at
// stop/shutdown.
func (b *Buffer) ForceFlush(ctx context.Context, source domain.AudioSource) (text string, langHint domain.Language, ok bool, err error) {
	b.mu.Lock()
	p, has := b.pending[source]
	if !has || p.Transcript == "" {
		b.mu.Unlock()
		return "", "", false, nil
	}
	transcript := p.Transcript
	lang := p.DetectedLangHint
	b.mu.Unlock()

	polished, commitErr := b.commit(ctx, source, transcript, lang)
	if commitErr != nil {
		return "", "", false, commitErr
	}
	return polished, lang, true, nil
}

// commit runs the optional polish pass, then atomically resolves the
// pending transcript: fragments that arrived while polish was in flight
// are retained as the new pending transcript rather than dropped.
func (b *Buffer) commit(ctx context.Context, source domain.AudioSource, transcript string, langHint domain.Language) (string, error) {
	polished := transcript
	if !b.skipPolish && b.polish != nil {
		if p, err := b.polish(ctx, transcript); err == nil && strings.TrimSpace(p) != "" {
			polished = p
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current, ok := b.pending[source]
	if ok {
		remainder := strings.TrimSpace(strings.TrimPrefix(current.Transcript, transcript))
		if remainder != "" {
			now := b.now()
			b.pending[source] = &PendingParagraph{
				AudioSource:      source,
				Transcript:       remainder,
				DetectedLangHint: langHint,
				CapturedAt:       now,
				LastUpdatedAt:    now,
			}
		} else {
			delete(b.pending, source)
		}
	}
	return polished, nil
}

// heuristicShouldCommit is the fallback used when the decision LLM call
// fails: commit iff the transcript ends with sentence-terminal
// punctuation.
func heuristicShouldCommit(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	switch text[len(text)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
