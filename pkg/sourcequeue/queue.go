// Package sourcequeue implements the per-source bounded chunk queue and
// worker: one independent FIFO per audio source, overlap
// splicing across segmentation boundaries, and a single worker draining
// each queue with strict per-source commit ordering.
//
// Grounded on other_examples/eab28f49_fankserver-discord-voice-mcp's
// AsyncProcessor (bounded channel worker pool, drop-oldest backpressure)
// and other_examples/d756d051_..._chunk_buffer.go's bounded outputChan
// drop-on-full pattern (select { case ch <- x: default: log... }).
package sourcequeue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/scribeloop/scribecore/pkg/domain"
	"github.com/scribeloop/scribecore/pkg/pcmutil"
)

// MaxQueueSize is the bound on each source's pending-chunk FIFO.
const MaxQueueSize = 20

// DefaultOverlap is the amount of the previous chunk's trailing audio
// spliced onto the front of the next chunk, so speech truncated at a
// segmentation boundary remains recoverable. Fixed at 0.75s, inside the
// required [0.25s, 1.5s] band.
const DefaultOverlap = 750 * time.Millisecond

// overlapBytes converts DefaultOverlap to a PCM16LE mono byte count at the
// fixed capture sample rate.
var overlapBytes = int(DefaultOverlap.Seconds()*float64(pcmutil.SampleRate)) * pcmutil.BytesPerSample

// ErrDisposed is returned by Push/Wait once the process has been disposed;
// callers must not surface it during shutdown.
var ErrDisposed = errors.New("sourcequeue: disposed")

// PendingItem is one queued chunk awaiting transcription.
type PendingItem struct {
	Source domain.AudioSource
	PCM    []byte
}

// Result is what TranscribeFunc returns for a dequeued, overlap-spliced
// chunk.
type Result struct {
	Transcript string
	LangHint   domain.Language
	Empty      bool
}

// TranscribeFunc processes one overlap-spliced chunk for a source.
type TranscribeFunc func(ctx context.Context, source domain.AudioSource, pcm []byte) (Result, error)

// OnCommit is invoked with every non-empty transcription result, in strict
// per-source order.
type OnCommit func(source domain.AudioSource, result Result)

// OnStatus is invoked on a transient/timeout error: the chunk is dropped
// and processing continues.
type OnStatus func(source domain.AudioSource, err error)

// OnFatal is invoked on a fatal provider error (e.g. a crashed local
// worker): the queue for that source is cleared and recording should stop.
type OnFatal func(source domain.AudioSource, err error)

type sourceState struct {
	mu          sync.Mutex
	items       []PendingItem
	prevOverlap []byte
	signal      chan struct{}
	closed      bool
}

// Manager owns one bounded queue + worker per audio source.
type Manager struct {
	transcribe TranscribeFunc
	onCommit   OnCommit
	onStatus   OnStatus
	onFatal    OnFatal
	logger     domain.Logger

	mu      sync.Mutex
	sources map[domain.AudioSource]*sourceState
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Manager. No goroutine starts here: each source's worker
// starts on that source's first Push, and Shutdown stops them all.
func New(transcribe TranscribeFunc, onCommit OnCommit, onStatus OnStatus, onFatal OnFatal, logger domain.Logger) *Manager {
	if logger == nil {
		logger = domain.NoOpLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		transcribe: transcribe,
		onCommit:   onCommit,
		onStatus:   onStatus,
		onFatal:    onFatal,
		logger:     logger,
		sources:    make(map[domain.AudioSource]*sourceState),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (m *Manager) stateFor(source domain.AudioSource) *sourceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sources[source]
	if !ok {
		st = &sourceState{signal: make(chan struct{}, 1)}
		m.sources[source] = st
		m.wg.Add(1)
		go m.worker(source, st)
	}
	return st
}

// wake signals the worker that new work may be available. Buffered by 1,
// so a pending signal is never lost even if the worker hasn't drained the
// previous one yet.
func wake(st *sourceState) {
	select {
	case st.signal <- struct{}{}:
	default:
	}
}

// Push enqueues a chunk for source, splicing the stored overlap from the
// previous chunk onto its front and dropping the oldest queued item with a
// warning log if the queue is already at MaxQueueSize.
func (m *Manager) Push(source domain.AudioSource, pcm []byte) {
	st := m.stateFor(source)

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}

	combined := pcm
	if len(st.prevOverlap) > 0 {
		combined = append(append([]byte{}, st.prevOverlap...), pcm...)
	}
	st.prevOverlap = trailingBytes(pcm, overlapBytes)

	if len(st.items) >= MaxQueueSize {
		st.items = st.items[1:]
		m.logger.Warn("sourcequeue: queue full, dropping oldest chunk", "source", source)
	}
	st.items = append(st.items, PendingItem{Source: source, PCM: combined})
	wake(st)
}

func trailingBytes(pcm []byte, n int) []byte {
	if n <= 0 || len(pcm) == 0 {
		return nil
	}
	if len(pcm) <= n {
		return append([]byte{}, pcm...)
	}
	return append([]byte{}, pcm[len(pcm)-n:]...)
}

// worker drains one source's queue with concurrency=1, preserving strict
// per-source commit order.
func (m *Manager) worker(source domain.AudioSource, st *sourceState) {
	defer m.wg.Done()
	for {
		item, ok := popOne(st)
		if ok {
			m.process(source, st, item)
			continue
		}

		st.mu.Lock()
		closed := st.closed
		st.mu.Unlock()
		if closed {
			return
		}

		select {
		case <-m.ctx.Done():
			return
		case <-st.signal:
		}
	}
}

func popOne(st *sourceState) (PendingItem, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.items) == 0 {
		return PendingItem{}, false
	}
	item := st.items[0]
	st.items = st.items[1:]
	return item, true
}

func (m *Manager) process(source domain.AudioSource, st *sourceState, item PendingItem) {
	result, err := m.transcribe(m.ctx, source, item.PCM)
	if err != nil {
		if m.ctx.Err() != nil || errors.Is(err, ErrDisposed) {
			// Shutdown cancellation: "process disposed" errors are expected
			// and must not be surfaced.
			return
		}
		if isFatal(err) {
			st.mu.Lock()
			st.items = nil
			st.mu.Unlock()
			if m.onFatal != nil {
				m.onFatal(source, err)
			}
			return
		}
		if m.onStatus != nil {
			m.onStatus(source, err)
		}
		return
	}
	if result.Empty || result.Transcript == "" {
		m.logger.Debug("sourcequeue: empty transcription result, skipping", "source", source)
		return
	}
	if m.onCommit != nil {
		m.onCommit(source, result)
	}
}

// fatalError marks a transcription error as unrecoverable for its source
// (e.g. a crashed local-provider worker), distinguishing it from a
// transient/timeout error per three-way failure semantics.
type fatalError struct{ err error }

func (f *fatalError) Error() string { return f.err.Error() }
func (f *fatalError) Unwrap() error { return f.err }

// Fatal wraps err so the worker treats it as a fatal provider error:
// clear the queue, emit OnFatal, stop recording for that source.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

func isFatal(err error) bool {
	var f *fatalError
	return errors.As(err, &f)
}

// QueueLen reports the current queue depth for source, for tests and
// diagnostics.
func (m *Manager) QueueLen(source domain.AudioSource) int {
	m.mu.Lock()
	st, ok := m.sources[source]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.items)
}

// Shutdown cancels all workers and waits for them to drain their current
// item before returning.
func (m *Manager) Shutdown() {
	m.cancel()
	m.mu.Lock()
	for _, st := range m.sources {
		st.mu.Lock()
		st.closed = true
		st.mu.Unlock()
		wake(st)
	}
	m.mu.Unlock()
	m.wg.Wait()
}
