// Package batchsttpost implements the batch-stt-post transcription
// provider variant: a one-shot REST STT call
// grounded on the prior voice-agent's GroqSTT (pkg/providers/stt/groq.go -
// multipart WAV upload, bearer auth, JSON {text} decode), followed when
// translation is enabled by a small LLM post-process call made with
// github.com/openai/openai-go, whose Chat.Completions.New usage follows
// MrWong99-glyphoxa/pkg/provider/llm/openai/openai.go's buildParams shape.
package batchsttpost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/scribeloop/scribecore/pkg/domain"
	"github.com/scribeloop/scribecore/pkg/pcmutil"
	"github.com/scribeloop/scribecore/pkg/transcription"
)

const postProcessBudget = 8 * time.Second

// Provider implements transcription.ChunkProvider with a REST STT call
// plus an optional LLM post-process translation pass.
type Provider struct {
	sttURL    string
	sttAPIKey string
	sttModel  string

	llmClient oai.Client
	llmModel  string
}

// New constructs a Provider. sttURL is the one-shot transcription REST
// endpoint (OpenAI-compatible multipart/form-data audio upload); llmModel
// is the chat model used for the post-process translation pass.
func New(sttURL, sttAPIKey, sttModel, llmAPIKey, llmModel string) *Provider {
	return &Provider{
		sttURL:    sttURL,
		sttAPIKey: sttAPIKey,
		sttModel:  sttModel,
		llmClient: oai.NewClient(option.WithAPIKey(llmAPIKey)),
		llmModel:  llmModel,
	}
}

func (p *Provider) Name() string { return "batch-stt-post" }

type sttResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// TranscribeChunk performs the REST STT call, then — when translation is
// requested — a follow-up LLM post-process call against
// {transcript, detectedLangHint, contextWindow, keyPoints, translationRule}
// with an 8s budget.
func (p *Provider) TranscribeChunk(ctx context.Context, req transcription.ChunkRequest) (transcription.Result, error) {
	text, lang, err := p.transcribe(ctx, req.PCM)
	if err != nil {
		return transcription.Result{}, err
	}

	result := transcription.Result{
		Transcript:   text,
		DetectedLang: domain.Language(lang),
	}
	if text == "" {
		return result, nil
	}
	if !req.TranslationEnabled {
		return result, nil
	}

	postCtx, cancel := context.WithTimeout(ctx, postProcessBudget)
	defer cancel()

	post, usage, err := p.postProcess(postCtx, text, lang, req)
	if err != nil {
		// Transcript stands on its own; translation is best-effort, and
		// without it isPartial/isNewTopic were never resolved, so this
		// result still needs paragraph buffering.
		return result, nil
	}
	result.Translation = post.Translation
	result.IsPartial = post.IsPartial
	result.IsNewTopic = post.IsNewTopic
	if req.Direction != domain.DirectionSourceTarget && post.SourceLanguage != "" {
		result.DetectedLang = domain.Language(post.SourceLanguage)
	}
	result.TokensIn = usage.in
	result.TokensOut = usage.out
	result.Resolved = true
	return result, nil
}

func (p *Provider) transcribe(ctx context.Context, pcm []byte) (string, string, error) {
	wav := pcmutil.ToWav(pcm, pcmutil.SampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("model", p.sttModel); err != nil {
		return "", "", err
	}
	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", "", err
	}
	if _, err := io.Copy(part, bytes.NewReader(wav)); err != nil {
		return "", "", err
	}
	if err := writer.Close(); err != nil {
		return "", "", err
	}

	reqHTTP, err := http.NewRequestWithContext(ctx, http.MethodPost, p.sttURL, body)
	if err != nil {
		return "", "", err
	}
	reqHTTP.Header.Set("Content-Type", writer.FormDataContentType())
	reqHTTP.Header.Set("Authorization", "Bearer "+p.sttAPIKey)

	resp, err := http.DefaultClient.Do(reqHTTP)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", "", fmt.Errorf("batch-stt-post: stt error (status %d): %v", resp.StatusCode, errResp)
	}

	var result sttResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", "", err
	}
	return result.Text, result.Language, nil
}

type postProcessResult struct {
	SourceLanguage string `json:"sourceLanguage"`
	Translation    string `json:"translation"`
	IsPartial      bool   `json:"isPartial"`
	IsNewTopic     bool   `json:"isNewTopic"`
}

type tokenUsage struct{ in, out int64 }

func (p *Provider) postProcess(ctx context.Context, transcript, langHint string, req transcription.ChunkRequest) (postProcessResult, tokenUsage, error) {
	translationRule := fmt.Sprintf("translate from %s to %s", req.SourceLang, req.TargetLang)
	if req.Direction == domain.DirectionSourceTarget {
		translationRule += " (fixed direction; do not attempt language detection)"
	}
	prompt := fmt.Sprintf(
		"transcript: %q\ndetectedLangHint: %q\ncontextWindow: %v\nkeyPoints: %v\ntranslationRule: %s\nReturn JSON: {sourceLanguage, translation, isPartial, isNewTopic}",
		transcript, langHint, req.PromptContext, req.KeyPoints, translationRule,
	)

	params := oai.ChatCompletionNewParams{
		Model: oai.ChatModel(p.llmModel),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage("You post-process speech transcripts into translations. Respond with JSON only."),
			oai.UserMessage(prompt),
		},
	}

	resp, err := p.llmClient.Chat.Completions.New(ctx, params)
	if err != nil {
		return postProcessResult{}, tokenUsage{}, err
	}
	if len(resp.Choices) == 0 {
		return postProcessResult{}, tokenUsage{}, fmt.Errorf("batch-stt-post: empty post-process response")
	}

	var out postProcessResult
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return postProcessResult{}, tokenUsage{}, fmt.Errorf("batch-stt-post: decode post-process JSON: %w", err)
	}
	return out, tokenUsage{in: resp.Usage.PromptTokens, out: resp.Usage.CompletionTokens}, nil
}
