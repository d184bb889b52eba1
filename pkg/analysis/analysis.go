// Package analysis implements the incremental analysis scheduler
//: debounced summary/insight and task-extraction passes
// over the block log, with a heartbeat for forward progress, retry on
// failure, and single-flight-with-coalesced-follow-up semantics.
//
// Grounded on the prior voice-agent's ManagedStream single-flight instrumentation
// shape (pkg/orchestrator/managed_stream.go) and on
// other_examples/f6292bf4_GriffinCanCode-good-listener's screenLoop
// (ticker-driven, debounced analysis pass with a single owning goroutine
// selecting over a stop channel, a ticker, and work signals) — this
// package's design-notes rearchitecture falls out for free from running generateAnalysis
// on a single loop goroutine: serialization on that goroutine already
// gives "at most one run at a time", so no separate inFlight flag is
// needed, only a size-1 coalescing request channel.
package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scribeloop/scribecore/pkg/blocklog"
	"github.com/scribeloop/scribecore/pkg/cost"
	"github.com/scribeloop/scribecore/pkg/dedup"
	"github.com/scribeloop/scribecore/pkg/domain"
)

// Timing constants.
const (
	DebounceDelay         = 300 * time.Millisecond
	HeartbeatInterval     = 5 * time.Second
	RetryDelayOnFailure   = 2 * time.Second
	SummaryTimeout        = 30 * time.Second
	TaskTimeout           = 15 * time.Second
	TaskAnalysisIntervalMs = 10000
	TaskAnalysisMaxBlocks = 60
	SummaryWindowBlocks   = 20
	OverlapBlocks         = 10
)

// EventKind identifies the shape of an Event — a typed event sink
//
// rather than a string-channel emitter.
type EventKind string

const (
	EventSummaryUpdated EventKind = "summary-updated"
	EventInsightAdded   EventKind = "insight-added"
	EventTaskSuggested  EventKind = "task-suggested"
	EventStatus         EventKind = "status"
	EventError          EventKind = "error"
)

// Event is the single sum-typed message this scheduler emits. Only the
// fields relevant to Kind are populated.
type Event struct {
	Kind    EventKind
	Summary blocklog.Summary
	Insight blocklog.Insight
	Task    blocklog.TaskSuggestion
	Message string
	Err     error
}

// Sink receives every Event this scheduler emits.
type Sink func(Event)

// SummaryResult is what SummaryFunc returns on success.
type SummaryResult struct {
	KeyPoints           []string
	Insights            []blocklog.Insight
	TokensIn, TokensOut int64
	Provider            string
}

// SummaryFunc runs the summary/insight analysis model over a recent block
// window plus rolling context. The scheduler passes no sampling settings;
// the temperature used is whatever the implementation sends.
type SummaryFunc func(ctx context.Context, blocks []blocklog.TranscriptBlock, contextWindow []string) (SummaryResult, error)

// TaskCandidate is one task-extraction hit before dedup and identity
// assignment.
type TaskCandidate struct {
	Text    string
	Details string
}

// TaskResult is what TaskFunc returns on success.
type TaskResult struct {
	Tasks               []TaskCandidate
	TokensIn, TokensOut int64
	Provider            string
}

// TaskFunc runs the task-extraction model over a bounded (or, when
// forced, unbounded) block window.
type TaskFunc func(ctx context.Context, blocks []blocklog.TranscriptBlock, forced bool) (TaskResult, error)

// Store is the persistence collaborator contract this scheduler needs:
// existing task texts for dedup, and a place to persist newly accepted
// tasks and the latest summary. The core never imports a concrete driver;
// callers wire a real store.
type Store interface {
	ExistingTaskTexts() []string
	PersistTask(blocklog.TaskSuggestion) error
	PersistSummary(blocklog.Summary) error
}

// noopCostRecorder discards cost updates; used when the caller passes nil.
type noopCostRecorder struct{}

func (noopCostRecorder) AddCost(inTokens, outTokens int64, kind cost.InputKind, provider string) cost.Snapshot {
	return cost.Snapshot{}
}

// costRecorder is the subset of *cost.Accumulator this scheduler needs.
type costRecorder interface {
	AddCost(inTokens, outTokens int64, kind cost.InputKind, provider string) cost.Snapshot
}

// Scheduler owns the analysis loop for one session. Construct with New,
// start with Start, and call ScheduleAnalysis/NoteRecording/RequestTaskScan
// from other goroutines — they are all safe for concurrent use.
type Scheduler struct {
	ctxState  *blocklog.ContextState
	dedupRing *dedup.Ring
	store     Store
	cost      costRecorder
	summary   SummaryFunc
	task      TaskFunc
	sink      Sink
	logger    domain.Logger

	mu            sync.Mutex
	recording     bool
	bufferingMode bool
	streamingMode bool
	taskForced    bool

	lastAnalysisBlockCount     int
	lastTaskAnalysisBlockCount int
	lastTaskAnalysisAt         time.Time

	idleWaiters []chan struct{}

	requestCh chan struct{}
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New constructs a Scheduler. summary or task may be nil to disable that
// half of the pass (e.g. in tests); sink, cost, and logger default to
// no-ops when nil.
func New(ctxState *blocklog.ContextState, dedupRing *dedup.Ring, store Store, costAcc costRecorder, summary SummaryFunc, task TaskFunc, sink Sink, logger domain.Logger) *Scheduler {
	if costAcc == nil {
		costAcc = noopCostRecorder{}
	}
	if sink == nil {
		sink = func(Event) {}
	}
	if logger == nil {
		logger = domain.NoOpLogger{}
	}
	return &Scheduler{
		ctxState:  ctxState,
		dedupRing: dedupRing,
		store:     store,
		cost:      costAcc,
		summary:   summary,
		task:      task,
		sink:      sink,
		logger:    logger,
		requestCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the owning loop goroutine.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

// SetRecording toggles whether the heartbeat should fire analysis passes,
// and whether a final pass should run once recording stops.
func (s *Scheduler) SetRecording(recording bool) {
	s.mu.Lock()
	s.recording = recording
	s.mu.Unlock()
	if !recording {
		s.nudge()
	}
}

// SetBufferingMode and SetStreamingMode record which transcription mode is
// active, feeding shouldRunTask's "bufferingMode OR streamingMode" clause.
func (s *Scheduler) SetBufferingMode(v bool) {
	s.mu.Lock()
	s.bufferingMode = v
	s.mu.Unlock()
}

func (s *Scheduler) SetStreamingMode(v bool) {
	s.mu.Lock()
	s.streamingMode = v
	s.mu.Unlock()
}

// ScheduleAnalysis arms a one-shot timer that nudges the loop after delay.
// A delay of zero nudges immediately.
func (s *Scheduler) ScheduleAnalysis(delay time.Duration) {
	if delay <= 0 {
		s.nudge()
		return
	}
	time.AfterFunc(delay, s.nudge)
}

// RequestTaskScan forces the next generateAnalysis pass to run task
// extraction over the full block history regardless of the normal
// interval/mode gates.
func (s *Scheduler) RequestTaskScan() {
	s.mu.Lock()
	s.taskForced = true
	s.mu.Unlock()
	s.nudge()
}

// nudge sends a coalescing signal to the loop: if one is already pending,
// this is a no-op.
func (s *Scheduler) nudge() {
	select {
	case s.requestCh <- struct{}{}:
	default:
	}
}

// Idle blocks until the loop is not in the middle of a generateAnalysis
// pass and has no pending request. It waits for the analysis loop only,
// not for transcription or paragraph decisions; RequestTaskScan and
// Shutdown call it.
func (s *Scheduler) Idle(ctx context.Context) error {
	waiter := make(chan struct{})
	s.mu.Lock()
	s.idleWaiters = append(s.idleWaiters, waiter)
	s.mu.Unlock()
	s.nudge()

	select {
	case <-waiter:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the loop goroutine. In-flight calls are not canceled;
// they run with their own timeouts and resolve naturally.
func (s *Scheduler) Shutdown() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-heartbeat.C:
			if s.isRecording() {
				s.generateAnalysis()
			}
		case <-s.requestCh:
			s.generateAnalysis()
		}
		s.resolveIdleWaiters()
	}
}

func (s *Scheduler) isRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

func (s *Scheduler) resolveIdleWaiters() {
	s.mu.Lock()
	waiters := s.idleWaiters
	s.idleWaiters = nil
	s.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

// generateAnalysis runs at most one summary pass and one task pass, then
// reschedules a follow-up if warranted.
func (s *Scheduler) generateAnalysis() {
	s.mu.Lock()
	recording := s.recording
	bufferingMode := s.bufferingMode
	streamingMode := s.streamingMode
	taskForced := s.taskForced
	lastAnalysisBlockCount := s.lastAnalysisBlockCount
	lastTaskAnalysisBlockCount := s.lastTaskAnalysisBlockCount
	lastTaskAnalysisAt := s.lastTaskAnalysisAt
	s.mu.Unlock()

	totalBlocks := s.ctxState.BlockCount()
	newSinceAnalysis := totalBlocks - lastAnalysisBlockCount
	newSinceTask := totalBlocks - lastTaskAnalysisBlockCount

	shouldRunSummary := newSinceAnalysis > 0 && !(taskForced && !recording)
	shouldRunTask := taskForced ||
		(newSinceTask > 0 && (bufferingMode || streamingMode || time.Since(lastTaskAnalysisAt) >= TaskAnalysisIntervalMs*time.Millisecond))

	if !shouldRunSummary && !shouldRunTask {
		return
	}

	failed := false

	if shouldRunSummary && s.summary != nil {
		if err := s.runSummaryPass(totalBlocks); err != nil {
			failed = true
			s.sink(Event{Kind: EventError, Message: "summary analysis failed", Err: err})
		}
	}

	if shouldRunTask && s.task != nil {
		if err := s.runTaskPass(totalBlocks, taskForced); err != nil {
			failed = true
			s.sink(Event{Kind: EventError, Message: "task analysis failed", Err: err})
		}
		s.mu.Lock()
		s.taskForced = false
		s.mu.Unlock()
	}

	s.mu.Lock()
	stillRecording := s.recording
	unanalyzed := s.ctxState.BlockCount() > s.lastAnalysisBlockCount
	s.mu.Unlock()

	if stillRecording {
		if failed {
			s.ScheduleAnalysis(RetryDelayOnFailure)
		} else if unanalyzed {
			s.ScheduleAnalysis(0)
		}
	}
}

func (s *Scheduler) runSummaryPass(totalBlocks int) error {
	blocks := s.ctxState.RecentBlocks(SummaryWindowBlocks, OverlapBlocks)
	contextWindow := s.ctxState.ContextWindow()

	ctx, cancel := context.WithTimeout(context.Background(), SummaryTimeout)
	defer cancel()

	result, err := s.summary(ctx, blocks, contextWindow)
	if err != nil {
		return err
	}

	s.cost.AddCost(result.TokensIn, result.TokensOut, cost.KindText, result.Provider)

	added := s.ctxState.AddKeyPoints(result.KeyPoints)
	for _, ins := range result.Insights {
		if accepted, ok := s.ctxState.AddInsight(ins); ok {
			s.sink(Event{Kind: EventInsightAdded, Insight: accepted})
		}
	}

	summary := s.ctxState.Summary()
	if s.store != nil {
		if err := s.store.PersistSummary(summary); err != nil {
			s.logger.Warn("analysis: failed to persist summary", "error", err)
		}
	}
	if len(added) > 0 {
		s.sink(Event{Kind: EventSummaryUpdated, Summary: summary})
	}

	s.mu.Lock()
	s.lastAnalysisBlockCount = totalBlocks
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) runTaskPass(totalBlocks int, forced bool) error {
	var blocks []blocklog.TranscriptBlock
	if forced {
		blocks = s.ctxState.Blocks()
	} else {
		blocks = s.ctxState.RecentBlocks(TaskAnalysisMaxBlocks, 0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), TaskTimeout)
	defer cancel()

	result, err := s.task(ctx, blocks, forced)
	if err != nil {
		return err
	}

	s.cost.AddCost(result.TokensIn, result.TokensOut, cost.KindText, result.Provider)

	var existing []string
	if s.store != nil {
		existing = s.store.ExistingTaskTexts()
	}

	excerpt := ""
	if len(blocks) > 0 {
		excerpt = blocks[len(blocks)-1].SourceText
	}

	var batch []string
	for _, candidate := range result.Tasks {
		if candidate.Text == "" || s.dedupRing.IsDuplicateAgainst(candidate.Text, existing, batch) {
			continue
		}
		batch = append(batch, candidate.Text)
		s.dedupRing.Add(candidate.Text)

		suggestion := blocklog.TaskSuggestion{
			ID:                uuid.New().String(),
			Text:              candidate.Text,
			Details:           candidate.Details,
			TranscriptExcerpt: excerpt,
			SessionID:         s.ctxState.SessionID(),
			CreatedAt:         time.Now(),
		}
		if s.store != nil {
			if err := s.store.PersistTask(suggestion); err != nil {
				s.logger.Warn("analysis: failed to persist task", "error", err)
				continue
			}
		}
		s.sink(Event{Kind: EventTaskSuggested, Task: suggestion})
	}

	s.mu.Lock()
	s.lastTaskAnalysisBlockCount = totalBlocks
	s.lastTaskAnalysisAt = time.Now()
	s.mu.Unlock()
	return nil
}
