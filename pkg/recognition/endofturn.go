package recognition

import (
	"strings"
	"time"
)

// TurnDetectionMode selects how end-of-turn is decided.
type TurnDetectionMode string

const (
	TurnDetectionManual      TurnDetectionMode = "manual"
	TurnDetectionVAD         TurnDetectionMode = "vad"
	TurnDetectionRealtimeLLM TurnDetectionMode = "realtime_llm"
)

// Endpointing tuning constants.
const (
	PunctuationReduceFactor = 0.75
	LateTranscriptTolerance = 1500 * time.Millisecond
)

// EndOfTurnInfo is published to the activity once a turn is judged complete.
type EndOfTurnInfo struct {
	NewTranscript       string
	TranscriptionDelay  time.Duration
	EndOfUtteranceDelay time.Duration
}

// EndOfTurnPolicy implements the endpointing decision: it tracks the timing
// of the last END_OF_SPEECH and the last final transcript and decides, per
// mode, when a turn is complete and how long to wait.
type EndOfTurnPolicy struct {
	Mode                TurnDetectionMode
	MinEndpointingDelay time.Duration
	MaxEndpointingDelay time.Duration
	// PreemptiveSynthesis, when true, commits the turn (and so starts the
	// reply's LLM/TTS) the instant a final transcript is ready instead of
	// waiting out the computed endpointing delay. Applies only to top-level
	// turns: OnEndOfTurn never fires for tool-recursion reply steps, so
	// there is nothing further to gate.
	PreemptiveSynthesis bool

	speechEndAt   time.Time
	lastFinalAt   time.Time
	lastFinalText string
}

// NewEndOfTurnPolicy returns a policy for the given mode and delay bounds.
func NewEndOfTurnPolicy(mode TurnDetectionMode, minDelay, maxDelay time.Duration) *EndOfTurnPolicy {
	return &EndOfTurnPolicy{Mode: mode, MinEndpointingDelay: minDelay, MaxEndpointingDelay: maxDelay}
}

// OnEndOfSpeech records the VAD END_OF_SPEECH timestamp.
func (p *EndOfTurnPolicy) OnEndOfSpeech(at time.Time) {
	p.speechEndAt = at
}

// OnFinalTranscript records a newly-finalized transcript and its arrival
// time.
func (p *EndOfTurnPolicy) OnFinalTranscript(text string, at time.Time) {
	p.lastFinalAt = at
	p.lastFinalText = text
}

// EndpointingDelay computes the delay to wait before committing the turn:
// MinEndpointingDelay, shortened by PunctuationReduceFactor when the last
// final transcript ends in terminal punctuation, capped at
// MaxEndpointingDelay. A final transcript arriving later than
// LateTranscriptTolerance after end-of-speech does not change the result;
// there is no separate final-transcript delay.
func (p *EndOfTurnPolicy) EndpointingDelay(now time.Time) time.Duration {
	delay := p.MinEndpointingDelay

	useEndOfSpeechDelay := p.speechEndAt.IsZero() || p.lastFinalAt.IsZero() ||
		p.lastFinalAt.Sub(p.speechEndAt) <= LateTranscriptTolerance

	if !useEndOfSpeechDelay {
		// final transcript arrived well after end-of-speech: the same
		// MinEndpointingDelay applies.
		delay = p.MinEndpointingDelay
	}

	if endsWithTerminalPunctuation(p.lastFinalText) {
		delay = time.Duration(float64(delay) * PunctuationReduceFactor)
	}

	if delay > p.MaxEndpointingDelay {
		delay = p.MaxEndpointingDelay
	}
	return delay
}

func endsWithTerminalPunctuation(s string) bool {
	s = strings.TrimRight(s, " \t\n")
	if s == "" {
		return false
	}
	last := s[len(s)-1]
	return last == '.' || last == '!' || last == '?'
}

// ShouldCommit decides, by mode, whether a candidate turn should be
// committed right now: never in manual mode, on VAD end-of-speech in vad
// mode, and on the predictor's verdict in realtime_llm mode. It applies no
// minInterruptionWords or draining guard; Pipeline.maybeCommit does that.
// eouPredicted is only consulted in realtime_llm mode.
func (p *EndOfTurnPolicy) ShouldCommit(mode TurnDetectionMode, vadEndOfSpeech, eouPredicted bool) bool {
	switch mode {
	case TurnDetectionManual:
		return false
	case TurnDetectionVAD:
		return vadEndOfSpeech
	case TurnDetectionRealtimeLLM:
		return eouPredicted
	default:
		return vadEndOfSpeech
	}
}

// countWords returns the whitespace-separated word count of s.
func countWords(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	return len(strings.Fields(s))
}
