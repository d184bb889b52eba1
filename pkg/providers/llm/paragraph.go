package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/scribeloop/scribecore/pkg/paragraph"
)

const decisionSystemPrompt = `You decide whether an in-progress speech transcript fragment is a complete ` +
	`thought ready to commit, or still accumulating. Respond with a single JSON object of the shape ` +
	`{"shouldCommit": true/false, "isPartial": true/false} and nothing else.`

const polishSystemPrompt = `You clean dictation artifacts (false starts, filler words, stutter repeats) ` +
	`from a transcript fragment without changing its meaning or adding anything it didn't say. ` +
	`Respond with the cleaned transcript only, no commentary.`

// NewDecisionFunc adapts a Completer into a paragraph.DecisionFunc, used to
// drive the utility-tier commit decision a cheaper or faster model handles
// separately from the primary transcription/analysis models.
func NewDecisionFunc(c Completer) paragraph.DecisionFunc {
	return func(ctx context.Context, transcript string) (paragraph.DecisionResult, error) {
		result, err := c.Complete(ctx, []Message{
			{Role: "system", Content: decisionSystemPrompt},
			{Role: "user", Content: transcript},
		})
		if err != nil {
			return paragraph.DecisionResult{}, fmt.Errorf("llm: commit decision: %w", err)
		}

		var parsed struct {
			ShouldCommit bool `json:"shouldCommit"`
			IsPartial    bool `json:"isPartial"`
		}
		if err := json.Unmarshal([]byte(extractJSON(result.Text)), &parsed); err != nil {
			return paragraph.DecisionResult{}, fmt.Errorf("llm: parse commit decision: %w", err)
		}
		return paragraph.DecisionResult{ShouldCommit: parsed.ShouldCommit, IsPartial: parsed.IsPartial}, nil
	}
}

// NewPolishFunc adapts a Completer into a paragraph.PolishFunc.
func NewPolishFunc(c Completer) paragraph.PolishFunc {
	return func(ctx context.Context, transcript string) (string, error) {
		result, err := c.Complete(ctx, []Message{
			{Role: "system", Content: polishSystemPrompt},
			{Role: "user", Content: transcript},
		})
		if err != nil {
			return "", fmt.Errorf("llm: polish: %w", err)
		}
		return result.Text, nil
	}
}
