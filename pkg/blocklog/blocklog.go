// Package blocklog maintains the ordered transcript block log, the rolling
// prompt-context window, and the cumulative key-point/insight history for a
// single session, generalizing the prior voice-agent's ConversationSession
// (pkg/orchestrator/types.go) — a mutex-guarded, bounded-trim message
// history — to an id-keyed ordered block map plus two append-only history
// slices.
package blocklog

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scribeloop/scribecore/pkg/domain"
)

// ContextWindowSize is W, the bounded length of the rolling prompt-context
// buffer.
const ContextWindowSize = 10

// TranscriptBlock is a committed unit of transcribed (and optionally
// translated) speech. Created once by CreateBlock, mutated at most once by
// UpdateBlock, read-only thereafter.
type TranscriptBlock struct {
	ID          int64
	SessionID   string
	AudioSource domain.AudioSource
	SourceLabel string
	SourceText  string
	TargetLabel string
	Translation string
	Partial     bool
	NewTopic    bool
	CreatedAt   time.Time
}

// InsightKind is one of the five recognized insight categories.
type InsightKind string

const (
	InsightDefinition InsightKind = "definition"
	InsightContext    InsightKind = "context"
	InsightFact       InsightKind = "fact"
	InsightTip        InsightKind = "tip"
	InsightKeyPoint   InsightKind = "key-point"
)

// Insight is a single piece of educational or contextual analysis output.
type Insight struct {
	ID        string
	Kind      InsightKind
	Text      string
	SessionID string
	CreatedAt time.Time
}

// TaskSuggestion is a concrete action item extracted from the transcript by
// the task-analysis pass.
type TaskSuggestion struct {
	ID                string
	Text              string
	Details           string
	TranscriptExcerpt string
	SessionID         string
	CreatedAt         time.Time
}

// Summary is the latest rollup of cumulative key points.
type Summary struct {
	KeyPoints []string
	UpdatedAt time.Time
}

// ContextState is the per-session context window: an insertion-ordered map
// of transcript blocks, a bounded rolling sentence buffer for prompt
// context, and append-only key-point/insight history. Safe for concurrent
// use.
type ContextState struct {
	mu sync.RWMutex

	sessionID string

	blocks map[int64]*TranscriptBlock
	order  []int64

	contextBuffer []string

	allKeyPoints           []string
	allEducationalInsights []Insight

	nextBlockID int64
}

// SessionID returns the session this state was created for, used by
// collaborators that need to stamp it onto entities the state doesn't itself
// own (e.g. task suggestions).
func (c *ContextState) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// New creates an empty ContextState for the given session.
func New(sessionID string) *ContextState {
	return &ContextState{
		sessionID: sessionID,
		blocks:    make(map[int64]*TranscriptBlock),
	}
}

// CreateBlock assigns the next monotonic id, inserts a new block, and
// returns it. The returned pointer is owned by the caller until its single
// permitted UpdateBlock call.
func (c *ContextState) CreateBlock(source domain.AudioSource, sourceLabel, sourceText, targetLabel string) *TranscriptBlock {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextBlockID
	c.nextBlockID++

	b := &TranscriptBlock{
		ID:          id,
		SessionID:   c.sessionID,
		AudioSource: source,
		SourceLabel: sourceLabel,
		SourceText:  sourceText,
		TargetLabel: targetLabel,
		CreatedAt:   time.Now(),
	}
	c.blocks[id] = b
	c.order = append(c.order, id)
	return b
}

// UpdateBlock sets the translation, partial, and newTopic fields of an
// existing block. Intended to be called at most once per block, after a
// post-process translation pass completes. Reports whether the block was
// found.
func (c *ContextState) UpdateBlock(id int64, translation string, partial, newTopic bool) (*TranscriptBlock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.blocks[id]
	if !ok {
		return nil, false
	}
	b.Translation = translation
	b.Partial = partial
	b.NewTopic = newTopic
	return b, true
}

// Block returns a snapshot copy of the block with the given id.
func (c *ContextState) Block(id int64) (TranscriptBlock, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.blocks[id]
	if !ok {
		return TranscriptBlock{}, false
	}
	return *b, true
}

// Blocks returns a snapshot of all blocks in insertion order.
func (c *ContextState) Blocks() []TranscriptBlock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TranscriptBlock, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.blocks[id])
	}
	return out
}

// RecentBlocks returns the last n blocks plus an additional overlap of
// overlapBlocks preceding them, for continuity.
func (c *ContextState) RecentBlocks(n, overlapBlocks int) []TranscriptBlock {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := n + overlapBlocks
	if total > len(c.order) {
		total = len(c.order)
	}
	start := len(c.order) - total
	if start < 0 {
		start = 0
	}
	out := make([]TranscriptBlock, 0, total)
	for _, id := range c.order[start:] {
		out = append(out, *c.blocks[id])
	}
	return out
}

// RecordContext appends a sentence-ish string to the rolling context
// buffer, trimming to ContextWindowSize.
func (c *ContextState) RecordContext(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contextBuffer = append(c.contextBuffer, text)
	if len(c.contextBuffer) > ContextWindowSize {
		c.contextBuffer = c.contextBuffer[len(c.contextBuffer)-ContextWindowSize:]
	}
}

// ContextWindow returns a snapshot of the rolling context buffer.
func (c *ContextState) ContextWindow() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.contextBuffer))
	copy(out, c.contextBuffer)
	return out
}

// AddKeyPoints appends key points not already present (by normalized text
// comparison) to the cumulative history and returns only the ones actually
// added.
func (c *ContextState) AddKeyPoints(points []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool, len(c.allKeyPoints))
	for _, kp := range c.allKeyPoints {
		seen[normalize(kp)] = true
	}

	var added []string
	for _, p := range points {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n := normalize(p)
		if seen[n] {
			continue
		}
		seen[n] = true
		c.allKeyPoints = append(c.allKeyPoints, p)
		added = append(added, p)
	}
	return added
}

// AddInsight appends an educational insight to cumulative history, deduping
// by normalized text within the same kind. ID and SessionID are assigned
// here, mirroring how CreateBlock assigns id/session on construction.
func (c *ContextState) AddInsight(ins Insight) (Insight, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := normalize(ins.Text)
	for _, existing := range c.allEducationalInsights {
		if existing.Kind == ins.Kind && normalize(existing.Text) == n {
			return Insight{}, false
		}
	}
	ins.ID = uuid.New().String()
	ins.SessionID = c.sessionID
	if ins.CreatedAt.IsZero() {
		ins.CreatedAt = time.Now()
	}
	c.allEducationalInsights = append(c.allEducationalInsights, ins)
	return ins, true
}

// Summary returns the current cumulative key points as a Summary snapshot.
func (c *ContextState) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kp := make([]string, len(c.allKeyPoints))
	copy(kp, c.allKeyPoints)
	return Summary{KeyPoints: kp, UpdatedAt: time.Now()}
}

// Insights returns a snapshot of all cumulative educational insights.
func (c *ContextState) Insights() []Insight {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Insight, len(c.allEducationalInsights))
	copy(out, c.allEducationalInsights)
	return out
}

// BlockCount returns the number of blocks currently held (post the last
// reset).
func (c *ContextState) BlockCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// NextBlockID reports the id that would be assigned to the next created
// block, exposed for the monotonicity invariant's tests.
func (c *ContextState) NextBlockID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nextBlockID
}

// ResetSession clears the transcript block log and rolling context buffer
// but preserves cumulative key-point and insight history. Block ids keep
// increasing from their current value — monotonicity holds across the
// whole session, not just within one reset interval. Used when a session
// resumes (this design resume=true).
func (c *ContextState) ResetSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = make(map[int64]*TranscriptBlock)
	c.order = nil
	c.contextBuffer = nil
}

// ResetHistory performs a ResetSession and additionally clears cumulative
// key-point and insight history. Used on a fresh, non-resuming start
// (this design resume=false).
func (c *ContextState) ResetHistory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = make(map[int64]*TranscriptBlock)
	c.order = nil
	c.contextBuffer = nil
	c.allKeyPoints = nil
	c.allEducationalInsights = nil
}

// normalize lower-cases and collapses whitespace for dedup comparisons.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
