// Package session implements the session orchestrator,
// the component every other package in this core is wired through. It
// plays the role the prior voice-agent's Orchestrator + ManagedStream pair plays —
// Orchestrator owns the provider set and config
// (pkg/orchestrator/orchestrator.go), ManagedStream owns per-conversation
// mutable state, a buffered event channel, and cancellable sub-contexts
// per in-flight stage (pkg/orchestrator/managed_stream.go) — scaled from
// one audio source to two (system + microphone).
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scribeloop/scribecore/pkg/analysis"
	"github.com/scribeloop/scribecore/pkg/blocklog"
	"github.com/scribeloop/scribecore/pkg/cost"
	"github.com/scribeloop/scribecore/pkg/dedup"
	"github.com/scribeloop/scribecore/pkg/domain"
	"github.com/scribeloop/scribecore/pkg/duck"
	"github.com/scribeloop/scribecore/pkg/paragraph"
	"github.com/scribeloop/scribecore/pkg/pcmutil"
	"github.com/scribeloop/scribecore/pkg/sourcequeue"
	"github.com/scribeloop/scribecore/pkg/transcription"
	"github.com/scribeloop/scribecore/pkg/vad"
)

// State is the coarse lifecycle state reported in state-change events.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateStopping  State = "stopping"
)

// EventKind identifies the shape of an Event (observable
// event fan-out).
type EventKind string

const (
	EventStateChange    EventKind = "state-change"
	EventBlockAdded     EventKind = "block-added"
	EventBlockUpdated   EventKind = "block-updated"
	EventBlocksCleared  EventKind = "blocks-cleared"
	EventPartial        EventKind = "partial"
	EventSummaryUpdated EventKind = "summary-updated"
	EventInsightAdded   EventKind = "insight-added"
	EventTaskSuggested  EventKind = "task-suggested"
	EventCostUpdated    EventKind = "cost-updated"
	EventStatus         EventKind = "status"
	EventError          EventKind = "error"
)

// Event is the single sum-typed message a Session emits.
type Event struct {
	Kind    EventKind
	State   State
	Block   blocklog.TranscriptBlock
	Source  domain.AudioSource
	Text    string
	Summary blocklog.Summary
	Insight blocklog.Insight
	Task    blocklog.TaskSuggestion
	Cost    cost.Snapshot
	Message string
	Err     error
}

// Sink receives every Event a Session emits.
type Sink func(Event)

// Store is the persistence collaborator contract: the core
// never imports a concrete database driver, only this interface.
type Store interface {
	analysis.Store
	LoadKeyPoints(ctx context.Context) ([]string, error)
	LoadInsights(ctx context.Context) ([]blocklog.Insight, error)
	PersistSessionSummary(ctx context.Context, summary blocklog.Summary, totals cost.Snapshot) error
}

var (
	// ErrNoProvider is returned when neither a ChunkProvider nor a
	// StreamProvider was wired at construction.
	ErrNoProvider = errors.New("session: no transcription provider configured")
	// ErrNotRecording is returned by operations that require an active
	// recording session.
	ErrNotRecording = errors.New("session: not recording")
)

// Disposer is implemented by providers that hold a subprocess or other
// resource needing explicit teardown (the local provider).
type Disposer interface {
	Dispose() error
}

// Session wires every component (blocklog, cost, dedup, vad, sourcequeue,
// paragraph, analysis, duck, transcription providers) into the public
// contract this design describes.
type Session struct {
	cfg    domain.Config
	logger domain.Logger
	sink   Sink
	store  Store

	chunkProvider  transcription.ChunkProvider
	streamProvider transcription.StreamProvider

	ctxState   *blocklog.ContextState
	costAcc    *cost.Accumulator
	dedupRing  *dedup.Ring
	queue      *sourcequeue.Manager
	paragraphs *paragraph.Buffer
	scheduler  *analysis.Scheduler
	duckGate   *duck.Gate

	mu            sync.Mutex
	state         State
	recording     bool
	micActive     bool
	translationOn bool
	vadSegmenters map[domain.AudioSource]*vad.Segmenter
	streams       map[domain.AudioSource]transcription.Stream
	streamCancels map[domain.AudioSource]context.CancelFunc

	taskSuggestionCount atomic.Int64
}

// Deps bundles the collaborators a Session needs beyond domain.Config,
// mirroring the way the prior voice-agent's NewWithLogger takes every collaborator
// as an explicit constructor argument rather than a hidden global.
type Deps struct {
	ChunkProvider  transcription.ChunkProvider
	StreamProvider transcription.StreamProvider
	Store          Store
	Sink           Sink
	Logger         domain.Logger
	Pricing        cost.PricingTable
	Decide         paragraph.DecisionFunc
	Polish         paragraph.PolishFunc
	Summary        analysis.SummaryFunc
	Task           analysis.TaskFunc
}

// New constructs a Session. Exactly one of deps.ChunkProvider or
// deps.StreamProvider should be non-nil.
func New(sessionID string, cfg domain.Config, deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = domain.NoOpLogger{}
	}
	sink := deps.Sink
	if sink == nil {
		sink = func(Event) {}
	}

	ctxState := blocklog.New(sessionID)
	costAcc := cost.New(deps.Pricing)
	dedupRing := dedup.NewRing()

	skipPolish := cfg.TranscriptionProvider == domain.ProviderLocal
	paragraphs := paragraph.New(cfg.IntervalMs, deps.Decide, deps.Polish, skipPolish)

	s := &Session{
		cfg:            cfg,
		logger:         logger,
		sink:           sink,
		store:          deps.Store,
		chunkProvider:  deps.ChunkProvider,
		streamProvider: deps.StreamProvider,
		ctxState:       ctxState,
		costAcc:        costAcc,
		dedupRing:      dedupRing,
		paragraphs:     paragraphs,
		duckGate:       duck.New(duck.DefaultGrace),
		state:          StateIdle,
		translationOn:  cfg.TranslationEnabled,
		vadSegmenters:  make(map[domain.AudioSource]*vad.Segmenter),
		streams:        make(map[domain.AudioSource]transcription.Stream),
		streamCancels:  make(map[domain.AudioSource]context.CancelFunc),
	}

	s.queue = sourcequeue.New(s.transcribeChunk, s.onQueueCommit, s.onQueueStatus, s.onQueueFatal, logger)
	s.scheduler = analysis.New(ctxState, dedupRing, deps.Store, costAcc, deps.Summary, deps.Task, s.forwardAnalysisEvent, logger)

	return s
}

// Initialize validates prerequisites, seeds context history from the
// store, and emits an idle state event.
func (s *Session) Initialize(ctx context.Context) error {
	if s.chunkProvider == nil && s.streamProvider == nil {
		return ErrNoProvider
	}

	if s.store != nil {
		if kp, err := s.store.LoadKeyPoints(ctx); err == nil {
			s.ctxState.AddKeyPoints(kp)
		} else {
			s.logger.Warn("session: failed to load prior key points", "error", err)
		}
		if insights, err := s.store.LoadInsights(ctx); err == nil {
			for _, ins := range insights {
				s.ctxState.AddInsight(ins)
			}
		} else {
			s.logger.Warn("session: failed to load prior insights", "error", err)
		}
	}

	s.scheduler.Start()
	s.setState(StateIdle)
	return nil
}

// SeedContext feeds pre-existing reference lines (e.g. from cfg.ContextFile)
// into the rolling context window before recording starts, giving the
// transcription and analysis prompts continuity with material the session
// itself never transcribed. A no-op unless s.cfg.UseContext is set.
func (s *Session) SeedContext(lines []string) {
	if !s.cfg.UseContext {
		return
	}
	for _, line := range lines {
		s.ctxState.RecordContext(line)
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.sink(Event{Kind: EventStateChange, State: st})
}

// StartRecording opens audio capture and, when resume is false, resets
// context, cost, last summary, and the dedup ring.
// Idempotent when already recording.
func (s *Session) StartRecording(ctx context.Context, resume bool) error {
	s.mu.Lock()
	if s.recording {
		s.mu.Unlock()
		return nil
	}
	s.recording = true
	s.vadSegmenters = make(map[domain.AudioSource]*vad.Segmenter)
	s.mu.Unlock()

	if !resume {
		s.ctxState.ResetHistory()
		s.costAcc.Reset()
		// Reset in place: the scheduler holds this same *Ring.
		*s.dedupRing = *dedup.NewRing()
	} else {
		s.ctxState.ResetSession()
	}

	if s.streamProvider != nil {
		for _, source := range []domain.AudioSource{domain.SourceSystem, domain.SourceMicrophone} {
			if err := s.openStream(ctx, source); err != nil {
				s.logger.Warn("session: failed to open stream", "source", source, "error", err)
			}
		}
	} else if loader, ok := s.chunkProvider.(interface {
		Load(ctx context.Context, modelDir string) error
	}); ok {
		go func() {
			if err := loader.Load(ctx, ""); err != nil {
				s.sink(Event{Kind: EventError, Message: "local provider preload failed", Err: err})
			}
		}()
	}

	s.scheduler.SetRecording(true)
	s.setState(StateRecording)
	return nil
}

func (s *Session) openStream(ctx context.Context, source domain.AudioSource) error {
	lang := s.cfg.SourceLang
	stream, err := s.streamProvider.OpenStream(ctx, source, lang)
	if err != nil {
		return err
	}
	streamCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.streams[source] = stream
	s.streamCancels[source] = cancel
	s.mu.Unlock()

	go s.pumpStreamEvents(streamCtx, source, stream)
	return nil
}

func (s *Session) pumpStreamEvents(ctx context.Context, source domain.AudioSource, stream transcription.Stream) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case transcription.StreamPartial:
				merged := s.paragraphs.MergeFragment(source, ev.LanguageHint, ev.Text)
				s.sink(Event{Kind: EventPartial, Source: source, Text: merged})
			case transcription.StreamCommitted:
				s.commitBlock(source, ev.Text, ev.LanguageHint, "")
			}
		}
	}
}

// StopRecording flushes VAD remainder, optionally force-commits pending
// paragraphs, closes streams, and cancels timers.
func (s *Session) StopRecording(ctx context.Context, flushRemaining, commitPendingParagraphs, clearQueue bool) error {
	s.mu.Lock()
	if !s.recording {
		s.mu.Unlock()
		return nil
	}
	s.recording = false
	segmenters := s.vadSegmenters
	s.mu.Unlock()

	s.setState(StateStopping)

	if flushRemaining {
		for source, seg := range segmenters {
			if chunk := seg.Flush(); chunk != nil {
				s.queue.Push(source, chunk.PCM)
			}
		}
	}

	if commitPendingParagraphs {
		for _, source := range []domain.AudioSource{domain.SourceSystem, domain.SourceMicrophone} {
			if text, lang, ok, err := s.paragraphs.ForceFlush(ctx, source); err == nil && ok {
				s.commitBlock(source, text, lang, "")
			}
		}
	}

	s.mu.Lock()
	for source, cancel := range s.streamCancels {
		cancel()
		if stream, ok := s.streams[source]; ok {
			stream.Close()
		}
	}
	s.streams = make(map[domain.AudioSource]transcription.Stream)
	s.streamCancels = make(map[domain.AudioSource]context.CancelFunc)
	s.mu.Unlock()

	_ = clearQueue // queue naturally drains; an explicit clear is a Shutdown-path concern.

	s.scheduler.SetRecording(false)
	s.setState(StateIdle)
	return nil
}

// StartMic marks the microphone source active.
func (s *Session) StartMic(ctx context.Context) error {
	s.mu.Lock()
	s.micActive = true
	if _, ok := s.vadSegmenters[domain.SourceMicrophone]; !ok {
		s.vadSegmenters[domain.SourceMicrophone] = vad.New(vad.DefaultParamsFor(domain.SourceMicrophone), nowMs)
	}
	s.mu.Unlock()
	if s.streamProvider != nil {
		return s.openStream(ctx, domain.SourceMicrophone)
	}
	return nil
}

// StopMic marks the microphone source inactive.
func (s *Session) StopMic(ctx context.Context) error {
	s.mu.Lock()
	s.micActive = false
	cancel, ok := s.streamCancels[domain.SourceMicrophone]
	if ok {
		delete(s.streamCancels, domain.SourceMicrophone)
	}
	stream := s.streams[domain.SourceMicrophone]
	delete(s.streams, domain.SourceMicrophone)
	s.mu.Unlock()
	if ok {
		cancel()
	}
	if stream != nil {
		return stream.Close()
	}
	return nil
}

// FeedMicAudio routes a raw PCM16LE chunk from an external capture loop
// through VAD (or directly to an open stream) for the microphone source.
func (s *Session) FeedMicAudio(pcm []byte) error {
	return s.feedAudio(domain.SourceMicrophone, pcm)
}

// FeedSystemAudio routes a raw PCM16LE chunk for the system source, first
// checking the mic-priority duck gate.
func (s *Session) FeedSystemAudio(pcm []byte) error {
	if s.duckGate.ShouldDuckSystem() {
		return nil
	}
	return s.feedAudio(domain.SourceSystem, pcm)
}

func (s *Session) feedAudio(source domain.AudioSource, pcm []byte) error {
	s.mu.Lock()
	recording := s.recording
	stream := s.streams[source]
	s.mu.Unlock()
	if !recording {
		return ErrNotRecording
	}

	if stream != nil {
		if source == domain.SourceMicrophone && !pcmutil.IsSilent(pcm, vad.DefaultSilenceThresholdMic) {
			s.duckGate.NoteMicSpeech()
		}
		return stream.Write(pcm)
	}

	s.mu.Lock()
	seg, ok := s.vadSegmenters[source]
	if !ok {
		seg = vad.New(vad.DefaultParamsFor(source), nowMs)
		s.vadSegmenters[source] = seg
	}
	s.mu.Unlock()

	chunks := seg.Write(pcm)
	if source == domain.SourceMicrophone && seg.VoicedWindows() > 0 {
		s.duckGate.NoteMicSpeech()
	}
	for _, c := range chunks {
		s.queue.Push(source, c.PCM)
	}
	return nil
}

// ToggleTranslation flips translation on/off and, when switching on,
// force-commits pending paragraphs as blocks. Those blocks carry no
// translation: the flushed text is not sent through a translation pass.
func (s *Session) ToggleTranslation(ctx context.Context) error {
	s.mu.Lock()
	s.translationOn = !s.translationOn
	nowOn := s.translationOn
	s.mu.Unlock()

	if nowOn {
		for _, source := range []domain.AudioSource{domain.SourceSystem, domain.SourceMicrophone} {
			if text, lang, ok, err := s.paragraphs.ForceFlush(ctx, source); err == nil && ok {
				s.commitBlock(source, text, lang, "")
			}
		}
	}
	return nil
}

// RequestTaskScan forces an immediate task-only analysis pass, hydrating
// context from the store first if empty, then awaiting analysis-idle.
func (s *Session) RequestTaskScan(ctx context.Context) error {
	if s.ctxState.BlockCount() == 0 && s.store != nil {
		if kp, err := s.store.LoadKeyPoints(ctx); err == nil {
			s.ctxState.AddKeyPoints(kp)
		}
	}

	s.sink(Event{Kind: EventStatus, Message: "Task scan running…"})
	before := s.taskSuggestionCount.Load()

	s.scheduler.RequestTaskScan()

	idleCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := s.scheduler.Idle(idleCtx); err != nil {
		s.sink(Event{Kind: EventStatus, Message: "task scan timed out waiting for analysis idle"})
		return err
	}

	suggested := s.taskSuggestionCount.Load() - before
	s.sink(Event{Kind: EventStatus, Message: fmt.Sprintf("Task scan complete: %d suggestion(s).", suggested)})
	return nil
}

// Shutdown stops mic then recording, awaits transcription drain and
// paragraph-decision idle, force-flushes paragraphs, disposes the local
// provider, and writes a final session summary.
func (s *Session) Shutdown(ctx context.Context) error {
	_ = s.StopMic(ctx)
	_ = s.StopRecording(ctx, true, true, true)

	// Transcription drain has an 8s budget; Shutdown
	// blocks until the queue's workers finish their current item
	// regardless, so the budget only bounds how long we wait below.
	drained := make(chan struct{})
	go func() {
		s.queue.Shutdown()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(8 * time.Second):
		s.logger.Warn("session: transcription drain exceeded budget")
	}

	idleCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	_ = s.scheduler.Idle(idleCtx)
	cancel()

	for _, source := range []domain.AudioSource{domain.SourceSystem, domain.SourceMicrophone} {
		if text, lang, ok, err := s.paragraphs.ForceFlush(ctx, source); err == nil && ok {
			s.commitBlock(source, text, lang, "")
		}
	}

	if disposer, ok := s.chunkProvider.(Disposer); ok {
		if err := disposer.Dispose(); err != nil {
			s.logger.Warn("session: provider dispose failed", "error", err)
		}
	}

	s.scheduler.Shutdown()

	if s.store != nil {
		summary := s.ctxState.Summary()
		if err := s.store.PersistSessionSummary(ctx, summary, s.costAcc.Snapshot()); err != nil {
			s.logger.Warn("session: failed to persist final summary", "error", err)
		}
	}

	return nil
}

// transcribeChunk adapts the chunk-mode provider to sourcequeue.TranscribeFunc.
func (s *Session) transcribeChunk(ctx context.Context, source domain.AudioSource, pcm []byte) (sourcequeue.Result, error) {
	if s.chunkProvider == nil {
		return sourcequeue.Result{}, fmt.Errorf("session: no chunk provider configured")
	}

	s.mu.Lock()
	translationOn := s.translationOn
	s.mu.Unlock()

	req := transcription.ChunkRequest{
		PCM:                pcm,
		SourceLang:         s.cfg.SourceLang,
		TargetLang:         s.cfg.TargetLang,
		TranslationEnabled: translationOn,
		Direction:          s.cfg.Direction,
		PromptContext:      s.ctxState.ContextWindow(),
		KeyPoints:          s.ctxState.Summary().KeyPoints,
	}

	result, err := s.chunkProvider.TranscribeChunk(ctx, req)
	if err != nil {
		return sourcequeue.Result{}, err
	}
	if result.Transcript == "" {
		return sourcequeue.Result{Empty: true}, nil
	}

	s.costAcc.AddCost(result.TokensIn, result.TokensOut, cost.KindAudio, s.chunkProvider.Name())

	if result.Resolved {
		// The provider already decided isPartial/isNewTopic (and
		// translation, if requested) for this chunk: commit directly,
		// bypassing paragraph buffering's own merge/commit heuristic.
		s.sink(Event{Kind: EventPartial, Source: source, Text: result.Transcript})
		if !result.IsPartial {
			s.commitBlockWithTranslation(source, result.Transcript, result.DetectedLang, result.Translation, result.IsPartial, result.IsNewTopic)
		}
		return sourcequeue.Result{Transcript: result.Transcript, LangHint: result.DetectedLang}, nil
	}

	merged := s.paragraphs.MergeFragment(source, result.DetectedLang, result.Transcript)
	s.sink(Event{Kind: EventPartial, Source: source, Text: merged})

	if text, lang, ok, cerr := s.paragraphs.TryCommit(ctx, source); cerr == nil && ok {
		s.commitBlockWithTranslation(source, text, lang, result.Translation, result.IsPartial, result.IsNewTopic)
	}

	return sourcequeue.Result{Transcript: result.Transcript, LangHint: result.DetectedLang}, nil
}

func (s *Session) onQueueCommit(source domain.AudioSource, result sourcequeue.Result) {
	// Block creation already happens inside transcribeChunk (it has the
	// richer Result with translation/partial/newTopic); this hook exists
	// for providers that complete queue processing without a paragraph
	// commit decision (e.g. a future chunk-mode provider that never
	// buffers).
}

func (s *Session) onQueueStatus(source domain.AudioSource, err error) {
	s.sink(Event{Kind: EventStatus, Source: source, Message: "transcription error, chunk dropped", Err: err})
}

func (s *Session) onQueueFatal(source domain.AudioSource, err error) {
	s.sink(Event{Kind: EventError, Source: source, Message: "fatal provider error, stopping recording", Err: err})
	go func() {
		_ = s.StopRecording(context.Background(), true, true, true)
	}()
}

func (s *Session) commitBlock(source domain.AudioSource, text string, lang domain.Language, translation string) {
	s.commitBlockWithTranslation(source, text, lang, translation, false, false)
}

func (s *Session) commitBlockWithTranslation(source domain.AudioSource, text string, lang domain.Language, translation string, partial, newTopic bool) {
	if text == "" {
		return
	}
	block := s.ctxState.CreateBlock(source, string(lang), text, string(s.cfg.TargetLang))
	s.sink(Event{Kind: EventBlockAdded, Source: source, Block: *block})

	updated, ok := s.ctxState.UpdateBlock(block.ID, translation, partial, newTopic)
	if ok {
		s.sink(Event{Kind: EventBlockUpdated, Source: source, Block: *updated})
	}
	s.ctxState.RecordContext(text)

	s.scheduler.ScheduleAnalysis(analysis.DebounceDelay)
	s.sink(Event{Kind: EventCostUpdated, Cost: s.costAcc.Snapshot()})
}

func (s *Session) forwardAnalysisEvent(ev analysis.Event) {
	switch ev.Kind {
	case analysis.EventSummaryUpdated:
		s.sink(Event{Kind: EventSummaryUpdated, Summary: ev.Summary})
	case analysis.EventInsightAdded:
		s.sink(Event{Kind: EventInsightAdded, Insight: ev.Insight})
	case analysis.EventTaskSuggested:
		s.taskSuggestionCount.Add(1)
		s.sink(Event{Kind: EventTaskSuggested, Task: ev.Task})
	case analysis.EventStatus:
		s.sink(Event{Kind: EventStatus, Message: ev.Message})
	case analysis.EventError:
		s.sink(Event{Kind: EventError, Message: ev.Message, Err: ev.Err})
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }
