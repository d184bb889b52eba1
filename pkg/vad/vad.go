// Package vad turns a raw PCM16LE byte stream into speech chunks using a
// windowed RMS energy classifier with hysteresis, generalizing the
// confirmed-frame RMSVAD state machine used for barge-in detection in the
// original voice pipeline to the segmenter shape this package requires:
// silence-triggered flush, a hard max-chunk-duration flush, and a minimum
// emitted-chunk duration.
package vad

import (
	"github.com/scribeloop/scribecore/pkg/domain"
	"github.com/scribeloop/scribecore/pkg/pcmutil"
)

const (
	// WindowMs is the analysis window duration.
	WindowMs = 100
	// WindowBytes is WindowMs of PCM16LE mono audio at pcmutil.SampleRate.
	WindowBytes = pcmutil.SampleRate * pcmutil.BytesPerSample * WindowMs / 1000

	// DefaultSilenceThresholdSystem is the default RMS silence threshold for
	// the system-audio source.
	DefaultSilenceThresholdSystem = 200.0
	// DefaultSilenceThresholdMic is the default RMS silence threshold for the
	// microphone source — higher, since mics pick up more room noise.
	DefaultSilenceThresholdMic = 320.0

	// DefaultFlushMs is how long continuous silence must persist before the
	// buffered speech is flushed as a chunk.
	DefaultFlushMs = 450
	// DefaultMinChunkMs is the minimum duration of speech required to emit a
	// chunk at all; shorter buffers are discarded on flush.
	DefaultMinChunkMs = 500
	// DefaultMaxChunkMs is the hard ceiling on buffered speech duration
	// before a chunk is forced out regardless of trailing silence.
	DefaultMaxChunkMs = 4000
)

// Params configures a Segmenter. Zero values are replaced with the package
// defaults in New.
type Params struct {
	SilenceThreshold float64
	FlushMs          int
	MinChunkMs       int
	MaxChunkMs       int
	// DisableMaxChunk lets buffered speech grow past MaxChunkMs — used by
	// the local provider, which prefers natural speech breaks to a hard
	// ceiling.
	DisableMaxChunk bool
}

// DefaultParamsFor returns the default Params for a given audio source.
func DefaultParamsFor(source domain.AudioSource) Params {
	threshold := DefaultSilenceThresholdSystem
	if source == domain.SourceMicrophone {
		threshold = DefaultSilenceThresholdMic
	}
	return Params{
		SilenceThreshold: threshold,
		FlushMs:          DefaultFlushMs,
		MinChunkMs:       DefaultMinChunkMs,
		MaxChunkMs:       DefaultMaxChunkMs,
	}
}

// Chunk is a segmented speech buffer ready for transcription.
type Chunk struct {
	PCM        []byte
	CapturedAt int64
	DurationMs int64
}

// state is the Idle/Speaking hysteresis state machine.
type state int

const (
	stateIdle state = iota
	stateSpeaking
)

// Segmenter is the per-source VAD state machine. It is a pure
// function of the byte stream it is fed: no goroutines, no I/O, safe to
// drive from a single writer.
type Segmenter struct {
	params Params

	st             state
	analysisBuffer []byte
	speechBuffer   []byte
	silenceMs      int
	speechStarted  bool

	peakRMS          float64
	windowCount      int64
	voicedSinceQuery int

	nowMs func() int64
}

// New creates a Segmenter with the given parameters. nowMs supplies the
// current epoch-ms clock; callers in production pass time.Now().UnixMilli,
// tests pass a deterministic counter.
func New(params Params, nowMs func() int64) *Segmenter {
	if params.FlushMs <= 0 {
		params.FlushMs = DefaultFlushMs
	}
	if params.MinChunkMs <= 0 {
		params.MinChunkMs = DefaultMinChunkMs
	}
	if params.MaxChunkMs <= 0 {
		params.MaxChunkMs = DefaultMaxChunkMs
	}
	if params.SilenceThreshold <= 0 {
		params.SilenceThreshold = DefaultSilenceThresholdSystem
	}
	return &Segmenter{params: params, nowMs: nowMs}
}

// Write appends an arbitrary-size PCM write to the analysis buffer and
// drains full 100ms windows from it, returning any chunks emitted as a
// result of processing those windows.
func (s *Segmenter) Write(pcm []byte) []Chunk {
	s.analysisBuffer = append(s.analysisBuffer, pcm...)

	var out []Chunk
	for len(s.analysisBuffer) >= WindowBytes {
		window := s.analysisBuffer[:WindowBytes]
		s.analysisBuffer = s.analysisBuffer[WindowBytes:]
		if c := s.processWindow(window); c != nil {
			out = append(out, *c)
		}
	}
	return out
}

func (s *Segmenter) processWindow(window []byte) *Chunk {
	rms := pcmutil.ComputeRMS(window)
	s.windowCount++
	if rms > s.peakRMS {
		s.peakRMS = rms
	}
	silent := rms < s.params.SilenceThreshold
	if !silent {
		s.voicedSinceQuery++
	}

	switch s.st {
	case stateIdle:
		if !silent {
			s.st = stateSpeaking
			s.speechStarted = true
			s.speechBuffer = append(s.speechBuffer[:0], window...)
			s.silenceMs = 0
		}
		return nil

	case stateSpeaking:
		s.speechBuffer = append(s.speechBuffer, window...)
		if silent {
			s.silenceMs += WindowMs
		} else {
			s.silenceMs = 0
		}

		durMs := pcmutil.DurationMs(s.speechBuffer)
		reachedMax := !s.params.DisableMaxChunk && durMs >= int64(s.params.MaxChunkMs)
		if s.silenceMs >= s.params.FlushMs || reachedMax {
			chunk := s.emit()
			s.resetToIdle()
			return chunk
		}
		return nil
	}
	return nil
}

// emit produces a Chunk from the current speech buffer iff it meets the
// minimum duration, otherwise returns nil (the buffer is still discarded by
// the caller's resetToIdle).
func (s *Segmenter) emit() *Chunk {
	durMs := pcmutil.DurationMs(s.speechBuffer)
	if durMs < int64(s.params.MinChunkMs) {
		return nil
	}
	pcm := make([]byte, len(s.speechBuffer))
	copy(pcm, s.speechBuffer)
	return &Chunk{PCM: pcm, CapturedAt: s.nowMs(), DurationMs: durMs}
}

func (s *Segmenter) resetToIdle() {
	s.st = stateIdle
	s.speechBuffer = s.speechBuffer[:0]
	s.silenceMs = 0
	s.speechStarted = false
}

// Flush forces emission of whatever speech is currently buffered, provided
// it meets the minimum chunk duration. Returns nil if there is nothing to
// flush or the buffer is too short. Used on stop/shutdown.
func (s *Segmenter) Flush() *Chunk {
	if s.st != stateSpeaking || len(s.speechBuffer) == 0 {
		return nil
	}
	chunk := s.emit()
	s.resetToIdle()
	return chunk
}

// Reset clears all VAD state, discarding any buffered speech.
func (s *Segmenter) Reset() {
	s.st = stateIdle
	s.analysisBuffer = s.analysisBuffer[:0]
	s.speechBuffer = s.speechBuffer[:0]
	s.silenceMs = 0
	s.speechStarted = false
	s.peakRMS = 0
	s.windowCount = 0
	s.voicedSinceQuery = 0
}

// PeakRMS returns the largest window RMS observed since the last Reset.
// Exposed for observability only; does not affect segmentation.
func (s *Segmenter) PeakRMS() float64 { return s.peakRMS }

// WindowCount returns the number of 100ms windows processed since the last
// Reset. Exposed for observability only.
func (s *Segmenter) WindowCount() int64 { return s.windowCount }

// IsSpeaking reports whether the segmenter currently believes it is inside
// a speech span.
func (s *Segmenter) IsSpeaking() bool { return s.st == stateSpeaking }

// VoicedWindows returns the number of 100ms analysis windows processed
// since the last call whose RMS exceeded the silence threshold, and resets
// the counter. Callers drive a per-window mic-speech signal from this
// (e.g. duck.Gate.NoteMicSpeech) rather than waiting for a chunk to emit.
func (s *Segmenter) VoicedWindows() int {
	n := s.voicedSinceQuery
	s.voicedSinceQuery = 0
	return n
}
