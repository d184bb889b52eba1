package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var req struct {
			Model    string              `json:"model"`
			Messages []map[string]string `json:"messages"`
			System   string              `json:"system,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if req.System != "system instructions" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		resp := struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			Usage struct {
				InputTokens  int64 `json:"input_tokens"`
				OutputTokens int64 `json:"output_tokens"`
			} `json:"usage"`
		}{
			Content: []struct {
				Text string `json:"text"`
			}{
				{Text: "hello from anthropic"},
			},
		}
		resp.Usage.InputTokens = 12
		resp.Usage.OutputTokens = 4
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	l := &Anthropic{
		apiKey: "test-key",
		url:    server.URL,
		model:  "claude-3",
	}

	messages := []Message{
		{Role: "system", Content: "system instructions"},
		{Role: "user", Content: "hi"},
	}

	result, err := l.Complete(context.Background(), messages)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Text != "hello from anthropic" {
		t.Errorf("expected 'hello from anthropic', got '%s'", result.Text)
	}
	if result.TokensIn != 12 || result.TokensOut != 4 {
		t.Errorf("expected usage 12/4, got %d/%d", result.TokensIn, result.TokensOut)
	}
	if l.Name() != "anthropic-llm" {
		t.Errorf("expected anthropic-llm, got %s", l.Name())
	}
}
