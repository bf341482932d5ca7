package stt

import (
	"context"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/recognition"
)

const (
	groqWhisperURL      = "https://api.groq.com/openai/v1/audio/transcriptions"
	defaultGroqSTTModel = "whisper-large-v3-turbo"
)

// GroqSTT transcribes whole utterances through Groq's Whisper-compatible
// batch endpoint; it has no real-time socket, so StreamTranscribe buffers
// audio and transcribes once on Close.
type GroqSTT struct {
	apiKey     string
	url        string
	model      string
	sampleRate int
}

// NewGroqSTT builds a provider bound to apiKey, defaulting model to
// whisper-large-v3-turbo when empty.
func NewGroqSTT(apiKey string, model string) *GroqSTT {
	if model == "" {
		model = defaultGroqSTTModel
	}
	return &GroqSTT{apiKey: apiKey, url: groqWhisperURL, model: model, sampleRate: 44100}
}

func (s *GroqSTT) Name() string { return "groq-stt" }

// SetSampleRate overrides the PCM sample rate used for the WAV container
// built before upload.
func (s *GroqSTT) SetSampleRate(rate int) { s.sampleRate = rate }

// StreamTranscribe buffers pushed audio and runs the one HTTP round trip on
// Close, emitting a single final transcript event.
func (s *GroqSTT) StreamTranscribe(ctx context.Context, lang string) (recognition.STTStream, error) {
	return newBatchStream(s.sampleRate, lang, s.transcribe), nil
}

func (s *GroqSTT) transcribe(ctx context.Context, wavData []byte, lang string) (string, error) {
	resp, err := multipartWhisperRequest(ctx, s.url, s.apiKey, "Authorization", s.model, lang, wavData)
	if err != nil {
		return "", err
	}
	return decodeWhisperText(resp)
}
