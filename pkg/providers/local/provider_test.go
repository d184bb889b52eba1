package local

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/scribeloop/scribecore/pkg/domain"
)

func TestRequestMarshalsExpectedShape(t *testing.T) {
	req := request{ID: 7, Type: msgTranscribe, Audio: []float32{0.1, 0.2}, Langs: []string{"en", "es"}}
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != "transcribe" {
		t.Errorf("expected type transcribe, got %v", decoded["type"])
	}
	if decoded["modelDir"] != nil {
		t.Errorf("expected empty modelDir to be omitted, got %v", decoded["modelDir"])
	}
}

func TestDisposeOnFreshProviderIsNoOp(t *testing.T) {
	p := New("whisper-worker")
	if err := p.Dispose(); err != nil {
		t.Errorf("expected dispose of never-started provider to be a no-op, got %v", err)
	}
	if err := p.Dispose(); err != nil {
		t.Errorf("expected second dispose to remain a no-op, got %v", err)
	}
}

func TestBuildResultDropsDegenerateTranscript(t *testing.T) {
	resp := response{OK: true, Transcript: strings.Repeat("a", 30)}
	result := buildResult(resp, domain.LangEn)
	if result.Transcript != "" {
		t.Errorf("expected degenerate transcript to be dropped, got %q", result.Transcript)
	}
}

func TestBuildResultKeepsOrdinaryTranscript(t *testing.T) {
	resp := response{OK: true, Transcript: "the meeting starts at noon"}
	result := buildResult(resp, domain.LangEn)
	if result.Transcript != "the meeting starts at noon" {
		t.Errorf("unexpected transcript %q", result.Transcript)
	}
	if result.DetectedLang != domain.LangEn {
		t.Errorf("unexpected detected lang %q", result.DetectedLang)
	}
}

func TestCallAfterDisposeReturnsErrDisposed(t *testing.T) {
	p := New("whisper-worker")
	p.disposed = true
	_, err := p.call(nil, request{Type: msgTranscribe})
	if err != ErrDisposed {
		t.Errorf("expected ErrDisposed, got %v", err)
	}
}
