package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/recognition"
)

// batchTranscriber calls a Whisper-style multipart upload endpoint once per
// utterance. Several providers (OpenAI, Groq) expose only this batch shape,
// not a real-time socket, so Push buffers audio and Close runs the one
// HTTP round trip, emitting a single FINAL_TRANSCRIPT event.
type batchTranscriber func(ctx context.Context, wavData []byte, lang string) (string, error)

type batchStream struct {
	transcribe batchTranscriber
	lang       string
	sampleRate int

	mu     sync.Mutex
	buf    bytes.Buffer
	events chan recognition.SpeechEvent
	once   sync.Once
}

func newBatchStream(sampleRate int, lang string, transcribe batchTranscriber) *batchStream {
	return &batchStream{
		transcribe: transcribe,
		lang:       lang,
		sampleRate: sampleRate,
		events:     make(chan recognition.SpeechEvent, 1),
	}
}

func (b *batchStream) Push(ctx context.Context, chunk []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.buf.Write(chunk)
	return err
}

func (b *batchStream) Events() <-chan recognition.SpeechEvent { return b.events }

func (b *batchStream) Close() error {
	var err error
	b.once.Do(func() {
		b.mu.Lock()
		pcm := b.buf.Bytes()
		b.mu.Unlock()
		if len(pcm) == 0 {
			close(b.events)
			return
		}
		wavData := audio.NewWavBuffer(pcm, b.sampleRate)
		var text string
		text, err = b.transcribe(context.Background(), wavData, b.lang)
		if err == nil && text != "" {
			b.events <- recognition.SpeechEvent{
				Type:         recognition.STTFinalTranscript,
				Alternatives: []recognition.Alternative{{Text: text, Confidence: 1}},
			}
		}
		close(b.events)
	})
	return err
}

func multipartWhisperRequest(ctx context.Context, url, apiKey, authHeader, model, lang string, wavData []byte) (*http.Response, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("model", model); err != nil {
		return nil, err
	}
	if lang != "" {
		if err := writer.WriteField("language", lang); err != nil {
			return nil, err
		}
	}
	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, bytes.NewReader(wavData)); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set(authHeader, "Bearer "+apiKey)

	return http.DefaultClient.Do(req)
}

func decodeWhisperText(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("whisper endpoint error (status %d): %s", resp.StatusCode, string(respBody))
	}
	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Text, nil
}
