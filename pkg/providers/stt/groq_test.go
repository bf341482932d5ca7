package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGroqSTTStreamTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		resp := struct {
			Text string `json:"text"`
		}{
			Text: "groq transcription",
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	s := &GroqSTT{apiKey: "test-key", url: server.URL, model: "whisper-large-v3", sampleRate: 44100}

	stream, err := s.StreamTranscribe(context.Background(), "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := stream.Push(context.Background(), []byte{0}); err != nil {
		t.Fatalf("unexpected push error: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}

	ev, ok := <-stream.Events()
	if !ok {
		t.Fatal("expected a final transcript event")
	}
	if ev.Alternatives[0].Text != "groq transcription" {
		t.Errorf("expected 'groq transcription', got %q", ev.Alternatives[0].Text)
	}

	s.SetSampleRate(16000)
	if s.sampleRate != 16000 {
		t.Errorf("expected 16000, got %d", s.sampleRate)
	}

	if s.Name() != "groq-stt" {
		t.Errorf("expected groq-stt, got %s", s.Name())
	}
}

func TestGroqSTTDefaultsModel(t *testing.T) {
	s := NewGroqSTT("test-key", "")
	if s.model != defaultGroqSTTModel {
		t.Errorf("expected default model %s, got %s", defaultGroqSTTModel, s.model)
	}
}
