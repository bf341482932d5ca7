package recognition

import "context"

// SpeechEventType enumerates the STT stream event kinds.
type SpeechEventType string

const (
	STTStartOfSpeech        SpeechEventType = "START_OF_SPEECH"
	STTInterimTranscript    SpeechEventType = "INTERIM_TRANSCRIPT"
	STTFinalTranscript      SpeechEventType = "FINAL_TRANSCRIPT"
	STTEndOfSpeech          SpeechEventType = "END_OF_SPEECH"
	STTRecognitionUsage     SpeechEventType = "RECOGNITION_USAGE"
	STTPreflightTranscript  SpeechEventType = "PREFLIGHT_TRANSCRIPT"
)

// Alternative is one candidate transcription with its confidence.
type Alternative struct {
	Text       string
	Confidence float64
}

// SpeechEvent is one event from a streaming STT provider.
type SpeechEvent struct {
	Type         SpeechEventType
	Alternatives []Alternative
}

// STTStream is the pluggable streaming speech-to-text contract.
// Implementations push PCM16 audio and receive SpeechEvents.
type STTStream interface {
	// Push submits one chunk of PCM16 audio.
	Push(ctx context.Context, chunk []byte) error
	// Events returns the stream's event channel; closed on stream end.
	Events() <-chan SpeechEvent
	// Close releases the underlying connection.
	Close() error
}

// STTProvider opens streaming STT sessions.
type STTProvider interface {
	StreamTranscribe(ctx context.Context, lang string) (STTStream, error)
	Name() string
}

// STTError is a surfaced STT failure. Opening a stream is retried after a
// Recoverable one and abandoned at once after any other.
type STTError struct {
	Recoverable bool
	Err         error
}

func (e *STTError) Error() string { return e.Err.Error() }
func (e *STTError) Unwrap() error { return e.Err }

// EndOfTurnPredictor is the optional realtime end-of-turn model. Given the
// latest VAD state and partial transcript it returns whether the user has
// likely finished their turn.
type EndOfTurnPredictor interface {
	PredictEndOfTurn(ctx context.Context, partialTranscript string, userSpeaking bool) (bool, error)
}
