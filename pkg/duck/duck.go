// Package duck implements mic-priority ducking: while the
// microphone has spoken recently, system-source audio is suppressed for a
// short grace window rather than competing with it.
//
// Grounded on the prior voice-agent's ManagedStream.Write echo-guard timestamp
// pattern (pkg/orchestrator/managed_stream.go: lastAudioSentAt /
// time.Since comparisons gating behavior with a single unlocked
// timestamp) — generalized here from "recently played TTS" to "recently
// detected mic speech" but kept to the same single-timestamp, lock-free,
// cooperative idiom.
package duck

import (
	"sync/atomic"
	"time"
)

// DefaultGrace is the default suppression window after the last detected
// microphone speech.
const DefaultGrace = 300 * time.Millisecond

// Gate tracks the most recent microphone-speech timestamp and decides
// whether system-source audio should be ducked right now. It deliberately
// holds no lock: a stale read can at worst let one extra system window
// through, which this design states is acceptable.
type Gate struct {
	grace        time.Duration
	lastMicNanos atomic.Int64
	now          func() time.Time
}

// New constructs a Gate with the given grace window. A zero or negative
// grace falls back to DefaultGrace.
func New(grace time.Duration) *Gate {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Gate{grace: grace, now: time.Now}
}

// NoteMicSpeech records that the microphone produced non-silent audio
// right now. Call this on any VAD window with rms > micSilenceThreshold,
// or any non-silent raw write on the realtime path.
func (g *Gate) NoteMicSpeech() {
	g.lastMicNanos.Store(g.now().UnixNano())
}

// ShouldDuckSystem reports whether a system-source write happening right
// now should be suppressed because the microphone spoke within the grace
// window.
func (g *Gate) ShouldDuckSystem() bool {
	last := g.lastMicNanos.Load()
	if last == 0 {
		return false
	}
	elapsed := g.now().Sub(time.Unix(0, last))
	return elapsed < g.grace
}

// LastMicSpeechAt returns the timestamp of the last recorded microphone
// speech, or the zero time if none has been recorded yet.
func (g *Gate) LastMicSpeechAt() time.Time {
	last := g.lastMicNanos.Load()
	if last == 0 {
		return time.Time{}
	}
	return time.Unix(0, last)
}
