package stt

import (
	"context"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/recognition"
)

const (
	openAIWhisperURL      = "https://api.openai.com/v1/audio/transcriptions"
	defaultOpenAISTTModel = "whisper-1"
)

// OpenAISTT transcribes whole utterances through OpenAI's Whisper batch
// endpoint; it has no real-time socket, so StreamTranscribe buffers audio
// and transcribes once on Close.
type OpenAISTT struct {
	apiKey     string
	url        string
	model      string
	sampleRate int
}

// NewOpenAISTT builds a provider bound to apiKey, defaulting model to
// whisper-1 when empty.
func NewOpenAISTT(apiKey string, model string) *OpenAISTT {
	if model == "" {
		model = defaultOpenAISTTModel
	}
	return &OpenAISTT{apiKey: apiKey, url: openAIWhisperURL, model: model, sampleRate: 44100}
}

func (s *OpenAISTT) Name() string { return "openai-stt" }

// SetSampleRate overrides the PCM sample rate used for the WAV container
// built before upload.
func (s *OpenAISTT) SetSampleRate(rate int) { s.sampleRate = rate }

// StreamTranscribe buffers pushed audio and runs the one HTTP round trip on
// Close, emitting a single final transcript event.
func (s *OpenAISTT) StreamTranscribe(ctx context.Context, lang string) (recognition.STTStream, error) {
	return newBatchStream(s.sampleRate, lang, s.transcribe), nil
}

func (s *OpenAISTT) transcribe(ctx context.Context, wavData []byte, lang string) (string, error) {
	resp, err := multipartWhisperRequest(ctx, s.url, s.apiKey, "Authorization", s.model, lang, wavData)
	if err != nil {
		return "", err
	}
	return decodeWhisperText(resp)
}
