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

const assemblyAIEndpoint = "wss://api.assemblyai.com/v2/realtime/ws"

// AssemblyAISTT opens streaming transcription sessions against AssemblyAI's
// real-time WebSocket API.
type AssemblyAISTT struct {
	apiKey     string
	sampleRate int
}

// NewAssemblyAISTT builds a provider bound to apiKey, defaulting sampleRate
// to 16000Hz.
func NewAssemblyAISTT(apiKey string) *AssemblyAISTT {
	return &AssemblyAISTT{apiKey: apiKey, sampleRate: 16000}
}

func (s *AssemblyAISTT) Name() string { return "assemblyai-stt" }

// SetSampleRate overrides the PCM sample rate advertised to AssemblyAI.
func (s *AssemblyAISTT) SetSampleRate(rate int) { s.sampleRate = rate }

// StreamTranscribe opens a streaming session. AssemblyAI's real-time API is
// English-only, so lang is ignored.
func (s *AssemblyAISTT) StreamTranscribe(ctx context.Context, lang string) (recognition.STTStream, error) {
	u, err := url.Parse(assemblyAIEndpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(s.sampleRate))
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", s.apiKey)

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("assemblyai: dial: %w", err)
	}

	stream := &assemblyAIStream{conn: conn, events: make(chan recognition.SpeechEvent, 64)}
	go stream.readLoop(ctx)
	return stream, nil
}

type assemblyAIMessage struct {
	MessageType string  `json:"message_type"`
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
}

type assemblyAIStream struct {
	conn   *websocket.Conn
	events chan recognition.SpeechEvent
	once   sync.Once
}

func (a *assemblyAIStream) Push(ctx context.Context, chunk []byte) error {
	payload, _ := json.Marshal(struct {
		AudioData []byte `json:"audio_data"`
	}{AudioData: chunk})
	return a.conn.Write(ctx, websocket.MessageText, payload)
}

func (a *assemblyAIStream) Events() <-chan recognition.SpeechEvent { return a.events }

func (a *assemblyAIStream) Close() error {
	var err error
	a.once.Do(func() {
		_ = a.conn.Write(context.Background(), websocket.MessageText, []byte(`{"terminate_session":true}`))
		err = a.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return err
}

func (a *assemblyAIStream) readLoop(ctx context.Context) {
	defer close(a.events)
	for {
		_, data, err := a.conn.Read(ctx)
		if err != nil {
			return
		}
		var msg assemblyAIMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		var evType recognition.SpeechEventType
		switch msg.MessageType {
		case "PartialTranscript":
			evType = recognition.STTInterimTranscript
		case "FinalTranscript":
			evType = recognition.STTFinalTranscript
		default:
			continue
		}
		if msg.Text == "" {
			continue
		}
		ev := recognition.SpeechEvent{
			Type:         evType,
			Alternatives: []recognition.Alternative{{Text: msg.Text, Confidence: msg.Confidence}},
		}
		select {
		case a.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
