package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAISTTStreamTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		resp := struct {
			Text string `json:"text"`
		}{
			Text: "transcribed text",
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	s := &OpenAISTT{apiKey: "test-key", url: server.URL, model: "whisper-1", sampleRate: 44100}

	stream, err := s.StreamTranscribe(context.Background(), "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := stream.Push(context.Background(), []byte{0, 0, 0, 0}); err != nil {
		t.Fatalf("unexpected push error: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}

	ev, ok := <-stream.Events()
	if !ok {
		t.Fatal("expected a final transcript event")
	}
	if ev.Alternatives[0].Text != "transcribed text" {
		t.Errorf("expected 'transcribed text', got %q", ev.Alternatives[0].Text)
	}

	if s.Name() != "openai-stt" {
		t.Errorf("expected openai-stt, got %s", s.Name())
	}
}

func TestOpenAISTTDefaultsModel(t *testing.T) {
	s := NewOpenAISTT("test-key", "")
	if s.model != defaultOpenAISTTModel {
		t.Errorf("expected default model %s, got %s", defaultOpenAISTTModel, s.model)
	}
}
