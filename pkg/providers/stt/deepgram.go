package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/coder/websocket"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/recognition"
)

const (
	deepgramEndpoint     = "wss://api.deepgram.com/v1/listen"
	defaultDeepgramModel = "nova-2"
)

// DeepgramSTT opens streaming transcription sessions against Deepgram's
// real-time WebSocket API.
type DeepgramSTT struct {
	apiKey     string
	model      string
	sampleRate int
}

// NewDeepgramSTT builds a provider bound to apiKey, defaulting model to
// nova-2 and sampleRate to 16000Hz.
func NewDeepgramSTT(apiKey string) *DeepgramSTT {
	return &DeepgramSTT{apiKey: apiKey, model: defaultDeepgramModel, sampleRate: 16000}
}

func (s *DeepgramSTT) Name() string { return "deepgram-stt" }

// SetSampleRate overrides the PCM sample rate advertised to Deepgram.
func (s *DeepgramSTT) SetSampleRate(rate int) { s.sampleRate = rate }

// StreamTranscribe opens a streaming session for the given BCP-47 language.
func (s *DeepgramSTT) StreamTranscribe(ctx context.Context, lang string) (recognition.STTStream, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model", s.model)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("smart_format", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(s.sampleRate))
	if lang != "" {
		q.Set("language", lang)
	}
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+s.apiKey)

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	stream := &deepgramStream{conn: conn, events: make(chan recognition.SpeechEvent, 64)}
	go stream.readLoop(ctx)
	return stream, nil
}

type deepgramResult struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type deepgramStream struct {
	conn   *websocket.Conn
	events chan recognition.SpeechEvent
	once   sync.Once
}

func (d *deepgramStream) Push(ctx context.Context, chunk []byte) error {
	return d.conn.Write(ctx, websocket.MessageBinary, chunk)
}

func (d *deepgramStream) Events() <-chan recognition.SpeechEvent { return d.events }

func (d *deepgramStream) Close() error {
	var err error
	d.once.Do(func() {
		_ = d.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		err = d.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return err
}

func (d *deepgramStream) readLoop(ctx context.Context) {
	defer close(d.events)
	for {
		_, data, err := d.conn.Read(ctx)
		if err != nil {
			return
		}
		var res deepgramResult
		if err := json.Unmarshal(data, &res); err != nil {
			continue
		}
		if res.Type != "Results" || len(res.Channel.Alternatives) == 0 {
			continue
		}
		alt := res.Channel.Alternatives[0]
		evType := recognition.STTInterimTranscript
		if res.IsFinal {
			evType = recognition.STTFinalTranscript
		}
		ev := recognition.SpeechEvent{
			Type:         evType,
			Alternatives: []recognition.Alternative{{Text: alt.Transcript, Confidence: alt.Confidence}},
		}
		select {
		case d.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
