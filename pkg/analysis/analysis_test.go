package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/scribeloop/scribecore/pkg/blocklog"
	"github.com/scribeloop/scribecore/pkg/dedup"
	"github.com/scribeloop/scribecore/pkg/domain"
)

type fakeStore struct {
	mu        sync.Mutex
	tasks     []string
	summaries []blocklog.Summary
}

func (f *fakeStore) ExistingTaskTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.tasks))
	copy(out, f.tasks)
	return out
}

func (f *fakeStore) PersistTask(task blocklog.TaskSuggestion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task.Text)
	return nil
}

func (f *fakeStore) PersistSummary(s blocklog.Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, s)
	return nil
}

func newTestScheduler(t *testing.T, summary SummaryFunc, task TaskFunc, sink Sink) (*Scheduler, *blocklog.ContextState, *fakeStore) {
	t.Helper()
	ctxState := blocklog.New("session-1")
	ring := dedup.NewRing()
	store := &fakeStore{}
	s := New(ctxState, ring, store, nil, summary, task, sink, nil)
	s.Start()
	t.Cleanup(s.Shutdown)
	return s, ctxState, store
}

func waitForEvent(t *testing.T, events chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %s", kind)
		}
	}
}

func TestGenerateAnalysisSkipsWhenNoNewBlocks(t *testing.T) {
	called := make(chan struct{}, 1)
	summary := func(ctx context.Context, blocks []blocklog.TranscriptBlock, contextWindow []string) (SummaryResult, error) {
		called <- struct{}{}
		return SummaryResult{}, nil
	}
	s, _, _ := newTestScheduler(t, summary, nil, nil)

	s.ScheduleAnalysis(0)
	select {
	case <-called:
		t.Fatalf("expected summary pass to be skipped with zero blocks")
	case <-time.After(100 * time.Millisecond):
	}
	_ = s
}

func TestSummaryPassEmitsKeyPointsAndInsights(t *testing.T) {
	events := make(chan Event, 10)
	summary := func(ctx context.Context, blocks []blocklog.TranscriptBlock, contextWindow []string) (SummaryResult, error) {
		return SummaryResult{
			KeyPoints: []string{"discussed the roadmap"},
			Insights: []blocklog.Insight{
				{Kind: blocklog.InsightFact, Text: "Go 1.23 shipped in 2024"},
			},
		}, nil
	}
	s, ctxState, store := newTestScheduler(t, summary, nil, func(ev Event) { events <- ev })

	ctxState.CreateBlock(domain.SourceSystem, "en", "hello world", "es")

	s.ScheduleAnalysis(0)
	waitForEvent(t, events, EventInsightAdded)
	waitForEvent(t, events, EventSummaryUpdated)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.summaries) == 0 {
		t.Errorf("expected summary persisted to store")
	}
}

func TestTaskPassDedupsAgainstExistingTasks(t *testing.T) {
	events := make(chan Event, 10)
	task := func(ctx context.Context, blocks []blocklog.TranscriptBlock, forced bool) (TaskResult, error) {
		return TaskResult{Tasks: []TaskCandidate{{Text: "Email Bob the quarterly report"}}}, nil
	}
	ctxState := blocklog.New("session-1")
	ring := dedup.NewRing()
	store := &fakeStore{tasks: []string{"email bob the quarterly report"}}
	s := New(ctxState, ring, store, nil, nil, task, func(ev Event) { events <- ev }, nil)
	s.Start()
	t.Cleanup(s.Shutdown)

	ctxState.CreateBlock(domain.SourceSystem, "en", "let's get that report out", "es")
	s.RequestTaskScan()

	select {
	case ev := <-events:
		t.Fatalf("expected no task-suggested event for a duplicate, got %v", ev)
	case <-time.After(150 * time.Millisecond):
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.tasks) != 1 {
		t.Errorf("expected no additional task persisted, got %d", len(store.tasks))
	}
}

func TestTaskPassEmitsNovelSuggestion(t *testing.T) {
	events := make(chan Event, 10)
	task := func(ctx context.Context, blocks []blocklog.TranscriptBlock, forced bool) (TaskResult, error) {
		return TaskResult{Tasks: []TaskCandidate{{Text: "schedule the dentist appointment"}}}, nil
	}
	ctxState := blocklog.New("session-1")
	ring := dedup.NewRing()
	store := &fakeStore{}
	s := New(ctxState, ring, store, nil, nil, task, func(ev Event) { events <- ev }, nil)
	s.Start()
	t.Cleanup(s.Shutdown)

	ctxState.CreateBlock(domain.SourceSystem, "en", "I need to call the dentist", "es")
	s.RequestTaskScan()

	ev := waitForEvent(t, events, EventTaskSuggested)
	if ev.Task.Text != "schedule the dentist appointment" {
		t.Errorf("unexpected task text %q", ev.Task.Text)
	}
	if ev.Task.ID == "" {
		t.Errorf("expected task suggestion to have an assigned id")
	}
	if ev.Task.SessionID != "session-1" {
		t.Errorf("unexpected task session id %q", ev.Task.SessionID)
	}
}

func TestFailedSummaryPassReschedulesWithRetryDelay(t *testing.T) {
	var calls int32
	done := make(chan struct{}, 5)
	summary := func(ctx context.Context, blocks []blocklog.TranscriptBlock, contextWindow []string) (SummaryResult, error) {
		calls++
		done <- struct{}{}
		return SummaryResult{}, errors.New("model unavailable")
	}
	s, ctxState, _ := newTestScheduler(t, summary, nil, nil)
	s.SetRecording(true)

	ctxState.CreateBlock(domain.SourceSystem, "en", "hello", "es")
	s.ScheduleAnalysis(0)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first summary attempt")
	}
	// No further nudge is sent, so a second attempt can only come from the
	// retry the failed pass schedules after RetryDelayOnFailure.
	first := time.Now()
	select {
	case <-done:
		if elapsed := time.Since(first); elapsed < RetryDelayOnFailure/2 {
			t.Errorf("expected retry after about %v, got second attempt after %v", RetryDelayOnFailure, elapsed)
		}
	case <-time.After(RetryDelayOnFailure + time.Second):
		t.Fatal("timed out waiting for the retried summary attempt")
	}
}

func TestIdleReturnsOnceLoopCatchesUp(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Idle(ctx); err != nil {
		t.Fatalf("expected Idle to return promptly, got %v", err)
	}
}
