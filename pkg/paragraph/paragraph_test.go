package paragraph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scribeloop/scribecore/pkg/domain"
)

func TestMergeFragmentPrefixExtension(t *testing.T) {
	if got := mergeFragment("hello wor", "hello world"); got != "hello world" {
		t.Errorf("expected longer prefix-extension kept, got %q", got)
	}
}

func TestMergeFragmentContainedIncoming(t *testing.T) {
	if got := mergeFragment("hello world", "world"); got != "hello world" {
		t.Errorf("expected existing kept when it ends with incoming, got %q", got)
	}
}

func TestMergeFragmentNoOverlapConcatenates(t *testing.T) {
	if got := mergeFragment("hello", "world"); got != "hello world" {
		t.Errorf("expected space-joined concatenation, got %q", got)
	}
}

func TestMergeFragmentEmptyExisting(t *testing.T) {
	if got := mergeFragment("", "hello"); got != "hello" {
		t.Errorf("expected incoming returned verbatim, got %q", got)
	}
}

func TestBufferMergeFragmentAccumulates(t *testing.T) {
	b := New(DefaultDecisionIntervalMs, nil, nil, false)
	got := b.MergeFragment(domain.SourceSystem, domain.LangEn, "hello")
	if got != "hello" {
		t.Fatalf("expected first fragment verbatim, got %q", got)
	}
	got = b.MergeFragment(domain.SourceSystem, domain.LangEn, "hello world")
	if got != "hello world" {
		t.Errorf("expected merged transcript, got %q", got)
	}
}

func TestTryCommitRespectsInterval(t *testing.T) {
	clock := time.Unix(0, 0)
	b := New(10000, nil, nil, false)
	b.now = func() time.Time { return clock }

	b.MergeFragment(domain.SourceSystem, domain.LangEn, "done.")
	_, _, ok, err := b.TryCommit(context.Background(), domain.SourceSystem)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected first commit attempt to run the decision pass")
	}

	b.MergeFragment(domain.SourceSystem, domain.LangEn, "next.")
	clock = clock.Add(1 * time.Second)
	_, _, ok, err = b.TryCommit(context.Background(), domain.SourceSystem)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Errorf("expected second attempt inside the interval to be skipped")
	}
}

func TestTryCommitHeuristicFallbackOnDecisionError(t *testing.T) {
	b := New(0, func(ctx context.Context, transcript string) (DecisionResult, error) {
		return DecisionResult{}, errors.New("decision provider down")
	}, nil, false)

	b.MergeFragment(domain.SourceSystem, domain.LangEn, "a finished sentence.")
	text, _, ok, err := b.TryCommit(context.Background(), domain.SourceSystem)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || text != "a finished sentence." {
		t.Errorf("expected heuristic fallback to commit terminal-punctuation transcript, got ok=%v text=%q", ok, text)
	}
}

func TestTryCommitHeuristicDeclinesIncompleteSentence(t *testing.T) {
	b := New(0, nil, nil, false)
	b.MergeFragment(domain.SourceSystem, domain.LangEn, "an unfinished thought")
	_, _, ok, err := b.TryCommit(context.Background(), domain.SourceSystem)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Errorf("expected heuristic to decline a transcript without terminal punctuation")
	}
}

func TestTryCommitNeverCommitsWhenIsPartial(t *testing.T) {
	b := New(0, func(ctx context.Context, transcript string) (DecisionResult, error) {
		return DecisionResult{ShouldCommit: true, IsPartial: true}, nil
	}, nil, false)
	b.MergeFragment(domain.SourceSystem, domain.LangEn, "still going.")
	_, _, ok, err := b.TryCommit(context.Background(), domain.SourceSystem)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Errorf("expected isPartial=true to veto commit regardless of shouldCommit")
	}
}

func TestCommitRetainsFragmentsArrivedDuringPolish(t *testing.T) {
	var b *Buffer
	b = New(0, nil, func(ctx context.Context, transcript string) (string, error) {
		// A new fragment arrives while the polish call is in flight.
		b.MergeFragment(domain.SourceSystem, domain.LangEn, "next part")
		return transcript + " (polished)", nil
	}, false)

	b.MergeFragment(domain.SourceSystem, domain.LangEn, "hello world.")
	// Call commit directly with the transcript pending at decision time; the
	// polish func above merges a fragment before commit re-reads pending.
	b.mu.Lock()
	transcript := b.pending[domain.SourceSystem].Transcript
	b.mu.Unlock()

	polished, err := b.commit(context.Background(), domain.SourceSystem, transcript, domain.LangEn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if polished != "hello world. (polished)" {
		t.Errorf("expected polished text returned, got %q", polished)
	}
	if p, ok := b.Peek(domain.SourceSystem); !ok || p.Transcript != "next part" {
		t.Errorf("expected fragment that arrived during polish retained as pending, got ok=%v transcript=%q", ok, p.Transcript)
	}
}

func TestForceFlushCommitsRegardlessOfPunctuation(t *testing.T) {
	b := New(0, nil, nil, false)
	b.MergeFragment(domain.SourceSystem, domain.LangEn, "no terminal punctuation")
	text, _, ok, err := b.ForceFlush(context.Background(), domain.SourceSystem)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || text != "no terminal punctuation" {
		t.Errorf("expected force flush to commit unconditionally, got ok=%v text=%q", ok, text)
	}
	if _, stillPending := b.Peek(domain.SourceSystem); stillPending {
		t.Errorf("expected pending cleared after force flush")
	}
}

func TestForceFlushNoOpWhenNothingPending(t *testing.T) {
	b := New(0, nil, nil, false)
	_, _, ok, err := b.ForceFlush(context.Background(), domain.SourceMicrophone)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Errorf("expected no-op force flush to report ok=false")
	}
}
