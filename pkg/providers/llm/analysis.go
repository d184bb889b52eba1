package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scribeloop/scribecore/pkg/analysis"
	"github.com/scribeloop/scribecore/pkg/blocklog"
)

const summarySystemPrompt = `You analyze a running transcript and extract durable key points and ` +
	`educational insights. Respond with a single JSON object of the shape ` +
	`{"key_points": ["..."], "insights": [{"kind": "definition|context|fact|tip|key-point", "text": "..."}]} ` +
	`and nothing else. Omit points already obvious from the context given to you.`

const taskSystemPrompt = `You scan a transcript for concrete action items someone said they would do. ` +
	`Respond with a single JSON object of the shape ` +
	`{"tasks": [{"text": "...", "details": "..."}]} and nothing else, where "details" is an ` +
	`optional clarifying note and may be omitted or empty. ` +
	`Only include tasks with a clear owner and action; omit vague intentions.`

// NewSummaryFunc adapts a Completer into an analysis.SummaryFunc over the
// scheduler's recent-block-plus-overlap window. No temperature or other
// sampling parameter is sent, so the provider's default sampling applies.
func NewSummaryFunc(c Completer) analysis.SummaryFunc {
	return func(ctx context.Context, blocks []blocklog.TranscriptBlock, contextWindow []string) (analysis.SummaryResult, error) {
		prompt := buildSummaryPrompt(blocks, contextWindow)
		result, err := c.Complete(ctx, []Message{
			{Role: "system", Content: summarySystemPrompt},
			{Role: "user", Content: prompt},
		})
		if err != nil {
			return analysis.SummaryResult{}, err
		}

		var parsed struct {
			KeyPoints []string `json:"key_points"`
			Insights  []struct {
				Kind string `json:"kind"`
				Text string `json:"text"`
			} `json:"insights"`
		}
		if err := json.Unmarshal([]byte(extractJSON(result.Text)), &parsed); err != nil {
			return analysis.SummaryResult{}, fmt.Errorf("llm: parse summary response: %w", err)
		}

		out := analysis.SummaryResult{
			KeyPoints: parsed.KeyPoints,
			TokensIn:  result.TokensIn,
			TokensOut: result.TokensOut,
			Provider:  c.Name(),
		}
		for _, ins := range parsed.Insights {
			if ins.Text == "" {
				continue
			}
			out.Insights = append(out.Insights, blocklog.Insight{
				Kind: blocklog.InsightKind(ins.Kind),
				Text: ins.Text,
			})
		}
		return out, nil
	}
}

// NewTaskFunc adapts a Completer into an analysis.TaskFunc, run over the
// bounded (or, when forced, full) block window.
func NewTaskFunc(c Completer) analysis.TaskFunc {
	return func(ctx context.Context, blocks []blocklog.TranscriptBlock, forced bool) (analysis.TaskResult, error) {
		prompt := buildTaskPrompt(blocks, forced)
		result, err := c.Complete(ctx, []Message{
			{Role: "system", Content: taskSystemPrompt},
			{Role: "user", Content: prompt},
		})
		if err != nil {
			return analysis.TaskResult{}, err
		}

		var parsed struct {
			Tasks []struct {
				Text    string `json:"text"`
				Details string `json:"details"`
			} `json:"tasks"`
		}
		if err := json.Unmarshal([]byte(extractJSON(result.Text)), &parsed); err != nil {
			return analysis.TaskResult{}, fmt.Errorf("llm: parse task response: %w", err)
		}

		tasks := make([]analysis.TaskCandidate, 0, len(parsed.Tasks))
		for _, t := range parsed.Tasks {
			if t.Text == "" {
				continue
			}
			tasks = append(tasks, analysis.TaskCandidate{Text: t.Text, Details: t.Details})
		}

		return analysis.TaskResult{
			Tasks:     tasks,
			TokensIn:  result.TokensIn,
			TokensOut: result.TokensOut,
			Provider:  c.Name(),
		}, nil
	}
}

func buildSummaryPrompt(blocks []blocklog.TranscriptBlock, contextWindow []string) string {
	var b strings.Builder
	if len(contextWindow) > 0 {
		b.WriteString("Recent context:\n")
		for _, c := range contextWindow {
			b.WriteString("- ")
			b.WriteString(c)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Transcript blocks:\n")
	writeBlocks(&b, blocks)
	return b.String()
}

func buildTaskPrompt(blocks []blocklog.TranscriptBlock, forced bool) string {
	var b strings.Builder
	if forced {
		b.WriteString("Full session transcript so far:\n")
	} else {
		b.WriteString("Recent transcript blocks:\n")
	}
	writeBlocks(&b, blocks)
	return b.String()
}

func writeBlocks(b *strings.Builder, blocks []blocklog.TranscriptBlock) {
	for _, blk := range blocks {
		b.WriteString("[")
		b.WriteString(string(blk.AudioSource))
		b.WriteString("] ")
		b.WriteString(blk.SourceText)
		b.WriteString("\n")
	}
}

// extractJSON strips a markdown code fence around a JSON object, should
// the model wrap its response in one despite instructions not to.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	}
	return text
}
