package transcription

import "testing"

func TestIsDegenerateTranscriptRepetition(t *testing.T) {
	if !IsDegenerateTranscript("aaaaaaaaaaaaaaaaaaaaaaaaaaaa") {
		t.Errorf("expected long identical run to be flagged degenerate")
	}
}

func TestIsDegenerateTranscriptAngleBrackets(t *testing.T) {
	if !IsDegenerateTranscript("<<<><><><><><><>") {
		t.Errorf("expected angle-bracket-dominated text to be flagged degenerate")
	}
}

func TestIsDegenerateTranscriptNormalSpeech(t *testing.T) {
	if IsDegenerateTranscript("the quick brown fox jumps over the lazy dog") {
		t.Errorf("expected normal speech to not be flagged degenerate")
	}
}

func TestIsDegenerateTranscriptEmpty(t *testing.T) {
	if IsDegenerateTranscript("") {
		t.Errorf("expected empty string to not be flagged degenerate")
	}
}
