package realtimestream

import (
	"testing"
	"time"
)

func TestNextBackoffDoubles(t *testing.T) {
	if got := nextBackoff(500 * time.Millisecond); got != time.Second {
		t.Errorf("expected 1s, got %v", got)
	}
}

func TestNextBackoffCapsAtMax(t *testing.T) {
	if got := nextBackoff(maxBackoff); got != maxBackoff {
		t.Errorf("expected backoff to stay capped at %v, got %v", maxBackoff, got)
	}
	if got := nextBackoff(maxBackoff * 2); got != maxBackoff {
		t.Errorf("expected backoff above cap to clamp to %v, got %v", maxBackoff, got)
	}
}

func TestNewSetsNameAndHost(t *testing.T) {
	p := New("key", "stt.example.com")
	if p.Name() != "realtime-stream" {
		t.Errorf("expected provider name realtime-stream, got %s", p.Name())
	}
}
