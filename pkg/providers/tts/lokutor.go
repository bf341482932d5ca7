package tts

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/agent"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
)

const defaultLokutorSampleRate = 24000

// LokutorTTS is a streaming agent.TTSNode backed by Lokutor's websocket
// synthesis API. The wire protocol synthesizes one request's worth of text
// per call, so Node drains the full text stream before dispatching.
type LokutorTTS struct {
	apiKey     string
	host       string
	scheme     string
	sampleRate int

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewLokutorTTS builds a provider bound to apiKey against api.lokutor.com.
func NewLokutorTTS(apiKey string) *LokutorTTS {
	return &LokutorTTS{
		apiKey:     apiKey,
		host:       "api.lokutor.com",
		scheme:     "wss",
		sampleRate: defaultLokutorSampleRate,
	}
}

func (t *LokutorTTS) Name() string { return "lokutor" }

// SetSampleRate overrides the PCM sample rate assumed for frames decoded
// from Lokutor's binary audio messages.
func (t *LokutorTTS) SetSampleRate(rate int) { t.sampleRate = rate }

// Node returns the agent.TTSNode closure bound to this provider.
func (t *LokutorTTS) Node() agent.TTSNode {
	return t.stream
}

func (t *LokutorTTS) stream(ctx context.Context, text <-chan string, settings agent.Settings) (<-chan audio.Frame, error) {
	var sb strings.Builder
	for chunk := range text {
		sb.WriteString(chunk)
	}
	full := sb.String()
	if full == "" {
		out := make(chan audio.Frame)
		close(out)
		return out, nil
	}

	out := make(chan audio.Frame, 16)
	go func() {
		defer close(out)
		err := t.StreamSynthesize(ctx, full, settings.Voice, settings.Language, func(chunk []byte) error {
			frame := audio.NewFrameFromPCMBytes(chunk, t.sampleRate, 1)
			select {
			case out <- frame:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			return
		}
	}()
	return out, nil
}

func (t *LokutorTTS) getConn(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return t.conn, nil
	}

	scheme := t.scheme
	if scheme == "" {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: t.host, Path: "/ws", RawQuery: "api_key=" + t.apiKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to lokutor: %w", err)
	}

	t.conn = conn
	return conn, nil
}

// Synthesize synthesizes text to completion and returns the full PCM buffer.
func (t *LokutorTTS) Synthesize(ctx context.Context, text string, voice string, lang string) ([]byte, error) {
	var audioBytes []byte
	err := t.StreamSynthesize(ctx, text, voice, lang, func(chunk []byte) error {
		audioBytes = append(audioBytes, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return audioBytes, nil
}

// StreamSynthesize sends one synthesis request and invokes onChunk for each
// binary audio message until the server signals end-of-stream.
func (t *LokutorTTS) StreamSynthesize(ctx context.Context, text string, voice string, lang string, onChunk func([]byte) error) error {
	conn, err := t.getConn(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	req := map[string]interface{}{
		"text":    text,
		"voice":   voice,
		"lang":    lang,
		"speed":   1.05,
		"steps":   5,
		"version": "versa-1.0",
	}

	if err := wsjson.Write(ctx, conn, req); err != nil {
		t.conn = nil
		conn.Close(websocket.StatusAbnormalClosure, "failed to write json")
		return fmt.Errorf("failed to send synthesis request: %w", err)
	}

	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			t.conn = nil
			conn.Close(websocket.StatusAbnormalClosure, "failed to read")
			return fmt.Errorf("failed to read from lokutor: %w", err)
		}

		switch messageType {
		case websocket.MessageBinary:
			if err := onChunk(payload); err != nil {
				return err
			}
		case websocket.MessageText:
			msg := string(payload)
			if msg == "EOS" {
				return nil
			}
			if len(msg) >= 4 && msg[:4] == "ERR:" {
				return fmt.Errorf("lokutor error: %s", msg)
			}
		}
	}
}

func (t *LokutorTTS) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		err := t.conn.Close(websocket.StatusNormalClosure, "")
		t.conn = nil
		return err
	}
	return nil
}
