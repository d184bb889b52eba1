package batchsttpost

import "testing"

func TestNewSetsProviderName(t *testing.T) {
	p := New("https://stt.example.com/v1/audio/transcriptions", "stt-key", "whisper-1", "llm-key", "gpt-4o-mini")
	if p.Name() != "batch-stt-post" {
		t.Errorf("expected name batch-stt-post, got %s", p.Name())
	}
}
