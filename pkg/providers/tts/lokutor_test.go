package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/agent"
)

func TestLokutorTTS(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		var req map[string]interface{}
		err = wsjson.Read(r.Context(), conn, &req)
		if err != nil {
			return
		}

		conn.Write(r.Context(), websocket.MessageBinary, []byte{1, 2, 3})
		conn.Write(r.Context(), websocket.MessageBinary, []byte{4, 5, 6})
		conn.Write(r.Context(), websocket.MessageText, []byte("EOS"))
	}))
	defer server.Close()

	tts := &LokutorTTS{
		apiKey: "test-key",
		host:   strings.TrimPrefix(server.URL, "http://"),
		scheme: "ws",
	}

	var audio []byte
	err := tts.StreamSynthesize(context.Background(), "hello", "F1", "en", func(chunk []byte) error {
		audio = append(audio, chunk...)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(audio) != 6 {
		t.Errorf("expected 6 bytes, got %d", len(audio))
	}

	if tts.Name() != "lokutor" {
		t.Errorf("expected lokutor, got %s", tts.Name())
	}

	tts.Close()
}

func TestLokutorTTSNodeDrainsTextStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		var req map[string]interface{}
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}
		if req["text"] != "hello world" {
			t.Errorf("expected joined text 'hello world', got %v", req["text"])
		}

		conn.Write(r.Context(), websocket.MessageBinary, []byte{1, 2, 3, 4})
		conn.Write(r.Context(), websocket.MessageText, []byte("EOS"))
	}))
	defer server.Close()

	tts := &LokutorTTS{
		apiKey:     "test-key",
		host:       strings.TrimPrefix(server.URL, "http://"),
		scheme:     "ws",
		sampleRate: defaultLokutorSampleRate,
	}

	textCh := make(chan string, 2)
	textCh <- "hello "
	textCh <- "world"
	close(textCh)

	frames, err := tts.stream(context.Background(), textCh, agent.Settings{Voice: "F1", Language: "en"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frame, ok := <-frames
	if !ok {
		t.Fatal("expected at least one audio frame")
	}
	if len(frame.PCM) != 2 {
		t.Errorf("expected 2 PCM16 samples, got %d", len(frame.PCM))
	}
}
