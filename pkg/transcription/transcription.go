// Package transcription defines the one contract the four provider
// variants implement, generalizing the prior voice-agent's STTProvider/
// StreamingSTTProvider split (pkg/orchestrator/types.go) to the
// chunk-mode/stream-mode pair this design requires.
package transcription

import (
	"context"

	"github.com/scribeloop/scribecore/pkg/domain"
)

// Result is the outcome of a single chunk-mode transcription call.
type Result struct {
	Transcript   string
	Translation  string
	DetectedLang domain.Language
	IsPartial    bool
	IsNewTopic   bool
	TokensIn     int64
	TokensOut    int64
	// Resolved reports whether this call already decided IsPartial/IsNewTopic
	// (and Translation, when requested) itself, as batch-structured always
	// does and batch-stt-post does once its post-process translation call
	// succeeds. Callers commit a Resolved result directly instead of running
	// it through paragraph buffering.
	Resolved bool
}

// ChunkRequest is the input to a chunk-mode transcription call.
type ChunkRequest struct {
	PCM                []byte
	SourceLang         domain.Language
	TargetLang         domain.Language
	TranslationEnabled bool
	// Direction selects the prompt/schema shape a translating provider
	// uses: DirectionAuto lets the model pick among source/target/en per
	// chunk, DirectionSourceTarget fixes the source language and skips
	// detection.
	Direction domain.Direction
	// PromptContext is a snapshot of the rolling context window
	// (blocklog.ContextState.ContextWindow) given to the model for local
	// continuity.
	PromptContext []string
	// KeyPoints is the cumulative key-point history, used by providers
	// that fold it into a post-process translation prompt.
	KeyPoints []string
}

// ChunkProvider transcribes (and optionally translates) one bounded audio
// chunk per call. Implemented by batch-structured, local, and
// batch-stt-post.
type ChunkProvider interface {
	TranscribeChunk(ctx context.Context, req ChunkRequest) (Result, error)
	Name() string
}

// StreamEventType distinguishes a still-accumulating fragment from a
// provider-committed paragraph.
type StreamEventType string

const (
	StreamPartial   StreamEventType = "partial"
	StreamCommitted StreamEventType = "committed"
)

// StreamEvent is one message emitted by an open Stream.
type StreamEvent struct {
	Type         StreamEventType
	Text         string
	LanguageHint domain.Language
}

// Stream is a long-lived, writable transcription connection. Callers write
// raw PCM16LE and read StreamEvents until Close. Implementations reconnect
// internally with backoff; callers never see a broken connection as an
// error unless reconnection itself is exhausted.
type Stream interface {
	Write(pcm []byte) error
	Events() <-chan StreamEvent
	Close() error
}

// StreamProvider opens one long-lived stream per active audio source.
// Implemented by realtime-stream only.
type StreamProvider interface {
	OpenStream(ctx context.Context, source domain.AudioSource, lang domain.Language) (Stream, error)
	Name() string
}

// IsDegenerateTranscript reports whether a transcript is dominated by
// repetition or symbol noise rather than real speech — a common failure
// mode of the local whisper.cpp worker on near-silent audio. The local
// provider drops a degenerate transcript the same way it drops an empty one.
func IsDegenerateTranscript(text string) bool {
	if text == "" {
		return false
	}
	runes := []rune(text)

	angleBrackets := 0
	for _, r := range runes {
		if r == '<' || r == '>' {
			angleBrackets++
		}
	}
	if len(runes) > 0 && float64(angleBrackets)/float64(len(runes)) > 0.3 {
		return true
	}

	longestRun, run := 1, 1
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			run++
			if run > longestRun {
				longestRun = run
			}
		} else {
			run = 1
		}
	}
	return longestRun >= 20
}
