// Package cost accumulates per-provider token usage into a running dollar
// total against a fixed pricing table, mutex-guarded the way the prior voice-agent's
// ConversationSession guards its mutable fields (pkg/orchestrator/types.go).
package cost

import "sync"

// InputKind distinguishes which per-token input rate applies: providers
// that consume raw audio (the realtime-stream and local providers) are
// priced differently from providers that only ever see already-transcribed
// text (post-process LLM calls).
type InputKind string

const (
	KindAudio InputKind = "audio"
	KindText  InputKind = "text"
)

// Rate is the fixed per-provider pricing table entry.
type Rate struct {
	AudioInputPerToken float64
	TextInputPerToken  float64
	OutputPerToken     float64
}

// PricingTable maps a provider identifier (model id or provider name,
// whichever the caller keys its Rates by) to its Rate. Callers populate
// this once at startup; Accumulator never mutates it.
type PricingTable map[string]Rate

// Accumulator tracks cumulative token counts and dollar cost for a single
// session. Monotonically non-decreasing until Reset. Safe for concurrent
// use from many provider goroutines.
type Accumulator struct {
	mu sync.Mutex

	pricing PricingTable

	totalInputTokens  int64
	totalOutputTokens int64
	totalCost         float64
}

// New creates an Accumulator against the given pricing table.
func New(pricing PricingTable) *Accumulator {
	return &Accumulator{pricing: pricing}
}

// Snapshot is a read-only copy of the accumulator's running totals.
type Snapshot struct {
	TotalInputTokens  int64
	TotalOutputTokens int64
	TotalCost         float64
}

// AddCost records inTokens/outTokens consumed by a call to provider, priced
// per kind for the input leg, and returns the running total. Pure
// arithmetic: an unknown provider is priced at zero rather than failing.
func (a *Accumulator) AddCost(inTokens, outTokens int64, kind InputKind, provider string) Snapshot {
	rate := a.pricing[provider]

	inputRate := rate.TextInputPerToken
	if kind == KindAudio {
		inputRate = rate.AudioInputPerToken
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalInputTokens += inTokens
	a.totalOutputTokens += outTokens
	a.totalCost += float64(inTokens)*inputRate + float64(outTokens)*rate.OutputPerToken

	return Snapshot{
		TotalInputTokens:  a.totalInputTokens,
		TotalOutputTokens: a.totalOutputTokens,
		TotalCost:         a.totalCost,
	}
}

// Snapshot returns the current running totals without mutating them.
func (a *Accumulator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		TotalInputTokens:  a.totalInputTokens,
		TotalOutputTokens: a.totalOutputTokens,
		TotalCost:         a.totalCost,
	}
}

// Reset zeroes all running totals, used on a fresh (non-resuming) session
// start.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalInputTokens = 0
	a.totalOutputTokens = 0
	a.totalCost = 0
}
