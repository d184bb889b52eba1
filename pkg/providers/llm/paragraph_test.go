package llm

import (
	"context"
	"testing"
)

func TestDecisionFuncParsesCommitDecision(t *testing.T) {
	c := &fakeCompleter{text: `{"shouldCommit": true, "isPartial": false}`, name: "fake-llm"}
	decide := NewDecisionFunc(c)

	result, err := decide(context.Background(), "we shipped the release today")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.ShouldCommit || result.IsPartial {
		t.Errorf("unexpected decision %+v", result)
	}
}

func TestPolishFuncReturnsCleanedText(t *testing.T) {
	c := &fakeCompleter{text: "we shipped the release today", name: "fake-llm"}
	polish := NewPolishFunc(c)

	out, err := polish(context.Background(), "we, uh, shipped the, the release today")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "we shipped the release today" {
		t.Errorf("unexpected polished text %q", out)
	}
}
