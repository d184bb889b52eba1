// Package batchstructured implements the batch-structured transcription
// provider variant: each chunk is wrapped in WAV
// and sent as a single structured-output request to a cloud multimodal
// model, grounded on the anthropic-sdk-go usage in
// NeboLoop-nebo/internal/agent/ai/api_anthropic.go (client construction,
// tool-forced structured replies) generalized from that repo's streaming
// chat completion to one forced-tool-call-per-chunk request.
package batchstructured

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/scribeloop/scribecore/pkg/domain"
	"github.com/scribeloop/scribecore/pkg/pcmutil"
	"github.com/scribeloop/scribecore/pkg/transcription"
)

const (
	toolName    = "report_transcription"
	maxRetries  = 2
	callTimeout = 30 * time.Second
)

// Provider implements transcription.ChunkProvider against a cloud
// multimodal model using forced structured tool output.
type Provider struct {
	client anthropic.Client
	model  string
}

// New constructs a Provider bound to apiKey and model.
func New(apiKey, model string) *Provider {
	return &Provider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (p *Provider) Name() string { return "batch-structured" }

// resultSchema is the structured-output JSON schema. With DirectionAuto the
// language enum is {sourceLang, targetLang, en} minus duplicates, since the
// model may detect any of the three; DirectionSourceTarget fixes the source
// language instead, so detection is skipped and the enum is a singleton. The
// translation property is omitted entirely when translation is disabled.
func resultSchema(sourceLang, targetLang domain.Language, translationEnabled bool, direction domain.Direction) map[string]interface{} {
	langs := []string{string(sourceLang)}
	if direction != domain.DirectionSourceTarget {
		if string(targetLang) != string(sourceLang) {
			langs = append(langs, string(targetLang))
		}
		if string(domain.LangEn) != string(sourceLang) && string(domain.LangEn) != string(targetLang) {
			langs = append(langs, string(domain.LangEn))
		}
	}

	properties := map[string]interface{}{
		"transcript": map[string]interface{}{"type": "string"},
		"detectedLang": map[string]interface{}{
			"type": "string",
			"enum": langs,
		},
		"isPartial":  map[string]interface{}{"type": "boolean"},
		"isNewTopic": map[string]interface{}{"type": "boolean"},
	}
	required := []string{"transcript", "detectedLang", "isPartial", "isNewTopic"}
	if translationEnabled {
		properties["translation"] = map[string]interface{}{"type": "string"}
		required = append(required, "translation")
	}

	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

type structuredResult struct {
	Transcript   string `json:"transcript"`
	Translation  string `json:"translation"`
	DetectedLang string `json:"detectedLang"`
	IsPartial    bool   `json:"isPartial"`
	IsNewTopic   bool   `json:"isNewTopic"`
}

// TranscribeChunk sends one structured-output request per chunk, retrying
// up to maxRetries times on transport error.
func (p *Provider) TranscribeChunk(ctx context.Context, req transcription.ChunkRequest) (transcription.Result, error) {
	wav := pcmutil.ToWav(req.PCM, pcmutil.SampleRate)

	schema := resultSchema(req.SourceLang, req.TargetLang, req.TranslationEnabled, req.Direction)
	tool := anthropic.ToolParam{
		Name:        toolName,
		Description: anthropic.String("Report the transcription result for the given audio chunk."),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: schema["properties"],
			Required:   schema["required"],
		},
	}

	// The SDK has no dedicated audio content block; the hypothetical
	// multimodal endpoint this provider targets accepts inline base64
	// audio as a data URI within a text block.
	prompt := "Transcribe the attached speech audio (data:audio/wav;base64," + base64.StdEncoding.EncodeToString(wav) + ")."
	if len(req.PromptContext) > 0 {
		prompt += " Recent conversation context for continuity: " + joinContext(req.PromptContext)
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   1024,
		Temperature: anthropic.Float(0),
		Tools:       []anthropic.ToolUnionParam{{OfTool: &tool}},
		ToolChoice:  anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: toolName}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		msg, err := p.client.Messages.New(callCtx, params)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}

		result, parseErr := extractResult(msg)
		if parseErr != nil {
			lastErr = parseErr
			continue
		}
		if req.Direction == domain.DirectionSourceTarget {
			result.DetectedLang = req.SourceLang
		}

		result.TokensIn = msg.Usage.InputTokens
		result.TokensOut = msg.Usage.OutputTokens
		if !req.TranslationEnabled {
			result.Translation = ""
		}
		result.Resolved = true
		return result, nil
	}
	return transcription.Result{}, fmt.Errorf("batch-structured: transcription failed after %d attempts: %w", maxRetries+1, lastErr)
}

func extractResult(msg *anthropic.Message) (transcription.Result, error) {
	for _, block := range msg.Content {
		toolUse, ok := block.AsAny().(anthropic.ToolUseBlock)
		if !ok || toolUse.Name != toolName {
			continue
		}
		var sr structuredResult
		if err := json.Unmarshal(toolUse.Input, &sr); err != nil {
			return transcription.Result{}, fmt.Errorf("batch-structured: decode tool input: %w", err)
		}
		return transcription.Result{
			Transcript:   sr.Transcript,
			Translation:  sr.Translation,
			DetectedLang: domain.Language(sr.DetectedLang),
			IsPartial:    sr.IsPartial,
			IsNewTopic:   sr.IsNewTopic,
		}, nil
	}
	return transcription.Result{}, fmt.Errorf("batch-structured: no %s tool call in response", toolName)
}

func joinContext(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += " "
		}
		out += l
	}
	return out
}
