package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGoogleComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "key=test-key") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		resp := struct {
			Candidates []struct {
				Content struct {
					Parts []struct {
						Text string `json:"text"`
					} `json:"parts"`
				} `json:"content"`
			} `json:"candidates"`
			UsageMetadata struct {
				PromptTokenCount     int64 `json:"promptTokenCount"`
				CandidatesTokenCount int64 `json:"candidatesTokenCount"`
			} `json:"usageMetadata"`
		}{
			Candidates: []struct {
				Content struct {
					Parts []struct {
						Text string `json:"text"`
					} `json:"parts"`
				} `json:"content"`
			}{
				{
					Content: struct {
						Parts []struct {
							Text string `json:"text"`
						} `json:"parts"`
					}{
						Parts: []struct {
							Text string `json:"text"`
						}{
							{Text: "hello from google"},
						},
					},
				},
			},
		}
		resp.UsageMetadata.PromptTokenCount = 6
		resp.UsageMetadata.CandidatesTokenCount = 2
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	l := &Google{
		apiKey: "test-key",
		url:    server.URL,
		model:  "gemini",
	}

	messages := []Message{
		{Role: "user", Content: "hi"},
	}

	result, err := l.Complete(context.Background(), messages)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Text != "hello from google" {
		t.Errorf("expected 'hello from google', got '%s'", result.Text)
	}
	if result.TokensIn != 6 || result.TokensOut != 2 {
		t.Errorf("expected usage 6/2, got %d/%d", result.TokensIn, result.TokensOut)
	}
}
