package blocklog

import (
	"testing"

	"github.com/scribeloop/scribecore/pkg/domain"
)

func TestCreateBlockMonotonicIDs(t *testing.T) {
	c := New("sess-1")
	var ids []int64
	for i := 0; i < 5; i++ {
		b := c.CreateBlock(domain.SourceSystem, "en", "hello", "es")
		ids = append(ids, b.ID)
	}
	for i, id := range ids {
		if id != int64(i) {
			t.Errorf("expected id %d, got %d", i, id)
		}
	}
	if got := c.NextBlockID(); got != 5 {
		t.Errorf("expected next id 5, got %d", got)
	}
}

func TestUpdateBlockSetsFieldsOnce(t *testing.T) {
	c := New("sess-1")
	b := c.CreateBlock(domain.SourceMicrophone, "en", "hola", "es")

	updated, ok := c.UpdateBlock(b.ID, "hello", true, true)
	if !ok {
		t.Fatalf("expected update to find block %d", b.ID)
	}
	if updated.Translation != "hello" || !updated.Partial || !updated.NewTopic {
		t.Errorf("update did not apply: %+v", updated)
	}

	if _, ok := c.UpdateBlock(999, "x", false, false); ok {
		t.Errorf("expected update of unknown id to fail")
	}
}

func TestRecordContextTrimsToWindow(t *testing.T) {
	c := New("sess-1")
	for i := 0; i < ContextWindowSize+5; i++ {
		c.RecordContext("sentence")
	}
	if got := len(c.ContextWindow()); got != ContextWindowSize {
		t.Errorf("expected context window trimmed to %d, got %d", ContextWindowSize, got)
	}
}

func TestRecordContextIgnoresBlank(t *testing.T) {
	c := New("sess-1")
	c.RecordContext("   ")
	if got := len(c.ContextWindow()); got != 0 {
		t.Errorf("expected blank text to be ignored, got %d entries", got)
	}
}

func TestRecentBlocksIncludesOverlap(t *testing.T) {
	c := New("sess-1")
	for i := 0; i < 20; i++ {
		c.CreateBlock(domain.SourceSystem, "en", "x", "es")
	}
	recent := c.RecentBlocks(5, 10)
	if len(recent) != 15 {
		t.Fatalf("expected 15 blocks (5 + 10 overlap), got %d", len(recent))
	}
	if recent[0].ID != 5 {
		t.Errorf("expected overlap window to start at id 5, got %d", recent[0].ID)
	}
	if recent[len(recent)-1].ID != 19 {
		t.Errorf("expected last block id 19, got %d", recent[len(recent)-1].ID)
	}
}

func TestRecentBlocksClampsToAvailable(t *testing.T) {
	c := New("sess-1")
	c.CreateBlock(domain.SourceSystem, "en", "x", "es")
	c.CreateBlock(domain.SourceSystem, "en", "y", "es")
	recent := c.RecentBlocks(5, 10)
	if len(recent) != 2 {
		t.Errorf("expected clamp to 2 available blocks, got %d", len(recent))
	}
}

func TestAddKeyPointsDedupesByNormalizedText(t *testing.T) {
	c := New("sess-1")
	added := c.AddKeyPoints([]string{"The sky is blue", "  THE   SKY IS BLUE  ", "Water boils at 100C"})
	if len(added) != 2 {
		t.Fatalf("expected 2 new key points added, got %d: %v", len(added), added)
	}

	added2 := c.AddKeyPoints([]string{"the sky is blue", "A new fact"})
	if len(added2) != 1 || added2[0] != "A new fact" {
		t.Errorf("expected only the genuinely new key point to survive dedup, got %v", added2)
	}

	if got := len(c.Summary().KeyPoints); got != 3 {
		t.Errorf("expected 3 cumulative key points, got %d", got)
	}
}

func TestAddInsightDedupesByKindAndText(t *testing.T) {
	c := New("sess-1")
	ins := Insight{ID: "1", Kind: InsightFact, Text: "Go has goroutines", SessionID: "sess-1"}
	if _, ok := c.AddInsight(ins); !ok {
		t.Fatalf("expected first insight to be added")
	}
	dup := Insight{ID: "2", Kind: InsightFact, Text: "go has   goroutines", SessionID: "sess-1"}
	if _, ok := c.AddInsight(dup); ok {
		t.Errorf("expected duplicate insight to be rejected")
	}
	other := Insight{ID: "3", Kind: InsightTip, Text: "go has goroutines", SessionID: "sess-1"}
	if _, ok := c.AddInsight(other); !ok {
		t.Errorf("expected same text under a different kind to be accepted")
	}
	if got := len(c.Insights()); got != 2 {
		t.Errorf("expected 2 cumulative insights, got %d", got)
	}
}

func TestResetSessionPreservesHistory(t *testing.T) {
	c := New("sess-1")
	c.CreateBlock(domain.SourceSystem, "en", "x", "es")
	c.CreateBlock(domain.SourceSystem, "en", "y", "es")
	c.AddKeyPoints([]string{"fact one"})
	c.AddInsight(Insight{Kind: InsightTip, Text: "tip one"})

	c.ResetSession()

	if got := c.BlockCount(); got != 0 {
		t.Errorf("expected blocks cleared, got %d", got)
	}
	if got := c.NextBlockID(); got != 2 {
		t.Errorf("expected next block id to keep increasing from 2, got %d", got)
	}
	if got := len(c.Summary().KeyPoints); got != 1 {
		t.Errorf("expected key point history preserved, got %d", got)
	}
	if got := len(c.Insights()); got != 1 {
		t.Errorf("expected insight history preserved, got %d", got)
	}

	next := c.CreateBlock(domain.SourceSystem, "en", "z", "es")
	if next.ID != 2 {
		t.Errorf("expected monotonic id 2 after reset, got %d", next.ID)
	}
}

func TestResetHistoryClearsEverything(t *testing.T) {
	c := New("sess-1")
	c.CreateBlock(domain.SourceSystem, "en", "x", "es")
	c.AddKeyPoints([]string{"fact one"})
	c.AddInsight(Insight{Kind: InsightTip, Text: "tip one"})

	c.ResetHistory()

	if got := len(c.Summary().KeyPoints); got != 0 {
		t.Errorf("expected key point history cleared, got %d", got)
	}
	if got := len(c.Insights()); got != 0 {
		t.Errorf("expected insight history cleared, got %d", got)
	}
}
