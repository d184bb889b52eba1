// Package realtimestream implements the realtime-stream transcription
// provider variant: one long-lived websocket
// connection per active audio source, grounded on the prior voice-agent's
// LokutorTTS websocket client (pkg/providers/tts/lokutor.go) — same
// github.com/coder/websocket + wsjson dial/write/read shape, adapted from
// TTS synthesis to STT streaming, plus a reconnect-with-backoff loop that
// the prior voice-agent's TTS client didn't need.
package realtimestream

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/scribeloop/scribecore/pkg/domain"
	"github.com/scribeloop/scribecore/pkg/transcription"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 8 * time.Second
)

// Provider implements transcription.StreamProvider against a websocket STT
// endpoint.
type Provider struct {
	apiKey string
	host   string
}

// New constructs a Provider bound to apiKey and host (e.g. "stt.example.com").
func New(apiKey, host string) *Provider {
	return &Provider{apiKey: apiKey, host: host}
}

func (p *Provider) Name() string { return "realtime-stream" }

// OpenStream dials the websocket endpoint and starts the read/reconnect
// loop. The returned Stream reconnects internally on session-limit,
// unexpected close, and error events with exponential backoff; callers are
// responsible for calling Close before capture shutdown.
func (p *Provider) OpenStream(ctx context.Context, source domain.AudioSource, lang domain.Language) (transcription.Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &stream{
		provider: p,
		source:   source,
		lang:     lang,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan transcription.StreamEvent, 64),
		writes:   make(chan []byte, 64),
	}
	if err := s.connect(ctx); err != nil {
		cancel()
		return nil, err
	}
	go s.loop()
	return s, nil
}

type stream struct {
	provider *Provider
	source   domain.AudioSource
	lang     domain.Language

	ctx    context.Context
	cancel context.CancelFunc

	events chan transcription.StreamEvent
	writes chan []byte

	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *stream) connect(ctx context.Context) error {
	u := url.URL{
		Scheme:   "wss",
		Host:     s.provider.host,
		Path:     "/v1/stt/stream",
		RawQuery: "api_key=" + s.provider.apiKey + "&source=" + string(s.source) + "&lang=" + string(s.lang),
	}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("realtime-stream: dial: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

type wireMessage struct {
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	LanguageHint string `json:"languageHint,omitempty"`
}

// loop owns the single websocket connection: it drains queued writes and
// reads incoming partial/committed messages, reconnecting with backoff on
// any read or write failure until ctx is cancelled.
func (s *stream) loop() {
	backoff := initialBackoff
	for {
		if s.ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			if err := s.connect(s.ctx); err != nil {
				if !s.sleepBackoff(&backoff) {
					return
				}
				continue
			}
			s.mu.Lock()
			conn = s.conn
			s.mu.Unlock()
		}

		err := s.drainOnce(conn)
		if err == nil {
			backoff = initialBackoff
			continue
		}
		if s.ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close(websocket.StatusAbnormalClosure, "reconnecting")

		if !s.sleepBackoff(&backoff) {
			return
		}
	}
}

func (s *stream) sleepBackoff(backoff *time.Duration) bool {
	select {
	case <-time.After(*backoff):
		*backoff = nextBackoff(*backoff)
		return true
	case <-s.ctx.Done():
		return false
	}
}

// nextBackoff doubles d, capped at maxBackoff.
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// drainOnce alternates sending queued writes with 100ms-bounded reads of
// server messages until a transport error, a server error/session-limit
// message, or cancellation, and returns that error so the caller can
// reconnect.
func (s *stream) drainOnce(conn *websocket.Conn) error {
	for {
		select {
		case pcm := <-s.writes:
			req := map[string]interface{}{
				"type":  "audio",
				"audio": base64.StdEncoding.EncodeToString(pcm),
			}
			if err := wsjson.Write(s.ctx, conn, req); err != nil {
				return err
			}
		case <-s.ctx.Done():
			return s.ctx.Err()
		default:
		}

		readCtx, cancel := context.WithTimeout(s.ctx, 100*time.Millisecond)
		var msg wireMessage
		err := wsjson.Read(readCtx, conn, &msg)
		cancel()
		if err != nil {
			if s.ctx.Err() != nil {
				return s.ctx.Err()
			}
			// A plain read timeout isn't a transport failure; loop back to
			// give queued writes another turn.
			if readCtx.Err() != nil {
				continue
			}
			return err
		}

		switch msg.Type {
		case "partial":
			s.emit(transcription.StreamEvent{Type: transcription.StreamPartial, Text: msg.Text, LanguageHint: domain.Language(msg.LanguageHint)})
		case "committed":
			s.emit(transcription.StreamEvent{Type: transcription.StreamCommitted, Text: msg.Text, LanguageHint: domain.Language(msg.LanguageHint)})
		case "session-limit", "error":
			return fmt.Errorf("realtime-stream: server signalled %s", msg.Type)
		}
	}
}

func (s *stream) emit(ev transcription.StreamEvent) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *stream) Write(pcm []byte) error {
	select {
	case s.writes <- pcm:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *stream) Events() <-chan transcription.StreamEvent { return s.events }

func (s *stream) Close() error {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		err := s.conn.Close(websocket.StatusNormalClosure, "")
		s.conn = nil
		return err
	}
	return nil
}
