package recognition

import (
	"math"
	"time"
)

// VADEventType enumerates the sub-events a VAD stream emits.
type VADEventType string

const (
	VADSpeechStart    VADEventType = "SPEECH_START"
	VADInferenceDone  VADEventType = "INFERENCE_DONE"
	VADSpeechEnd      VADEventType = "SPEECH_END"
)

// VADEvent is one event from a VAD stream.
type VADEvent struct {
	Type          VADEventType
	Timestamp     int64
	Probability   float64       // valid for VADInferenceDone
	SpeechDuration time.Duration // valid for VADInferenceDone/SPEECH_START
}

// VAD is the pluggable voice-activity detector contract. Implementations
// must be safe to Clone for per-stream use.
type VAD interface {
	Process(chunk []byte) (*VADEvent, error)
	Reset()
	Clone() VAD
	Name() string
}

// RMSVAD is a lightweight, dependency-free Root-Mean-Square voice activity
// detector — the default VAD when no provider-backed one is configured.
// Consecutive-frame confirmation filters onset pops/echo spikes before
// declaring speech start.
type RMSVAD struct {
	threshold    float64
	silenceLimit time.Duration
	isSpeaking   bool
	silenceStart time.Time

	consecutiveFrames int
	minConfirmed      int
	lastRMS           float64
}

// NewRMSVAD returns an RMS-based VAD requiring minConfirmed consecutive
// above-threshold frames (~70-100ms at typical 10ms frame cadence) before
// declaring speech start, to reject transient noise and echo onset.
func NewRMSVAD(threshold float64, silenceLimit time.Duration) *RMSVAD {
	return &RMSVAD{
		threshold:    threshold,
		silenceLimit: silenceLimit,
		minConfirmed: 7,
	}
}

func (v *RMSVAD) SetMinConfirmed(count int) { v.minConfirmed = count }
func (v *RMSVAD) MinConfirmed() int         { return v.minConfirmed }
func (v *RMSVAD) SetThreshold(t float64)    { v.threshold = t }
func (v *RMSVAD) Threshold() float64        { return v.threshold }
func (v *RMSVAD) LastRMS() float64          { return v.lastRMS }
func (v *RMSVAD) IsSpeaking() bool          { return v.isSpeaking }

// Process feeds one PCM16 chunk and returns the next VAD event, if any.
func (v *RMSVAD) Process(chunk []byte) (*VADEvent, error) {
	rms := v.calculateRMS(chunk)
	v.lastRMS = rms
	now := time.Now()

	if rms > v.threshold {
		v.consecutiveFrames++
		if !v.isSpeaking {
			if v.consecutiveFrames >= v.minConfirmed {
				v.isSpeaking = true
				return &VADEvent{Type: VADSpeechStart, Timestamp: now.UnixMilli()}, nil
			}
			return nil, nil
		}
		v.silenceStart = time.Time{}
		return &VADEvent{Type: VADInferenceDone, Timestamp: now.UnixMilli(), Probability: v.probability(rms)}, nil
	}

	v.consecutiveFrames = 0

	if v.isSpeaking {
		if v.silenceStart.IsZero() {
			v.silenceStart = now
		}
		if now.Sub(v.silenceStart) >= v.silenceLimit {
			v.isSpeaking = false
			v.silenceStart = time.Time{}
			return &VADEvent{Type: VADSpeechEnd, Timestamp: now.UnixMilli()}, nil
		}
	}

	return &VADEvent{Type: VADInferenceDone, Timestamp: now.UnixMilli(), Probability: v.probability(rms)}, nil
}

func (v *RMSVAD) probability(rms float64) float64 {
	if v.threshold <= 0 {
		return 0
	}
	p := rms / v.threshold
	if p > 1 {
		p = 1
	}
	return p
}

func (v *RMSVAD) Name() string { return "rms_vad" }

func (v *RMSVAD) Reset() {
	v.isSpeaking = false
	v.silenceStart = time.Time{}
	v.consecutiveFrames = 0
}

func (v *RMSVAD) Clone() VAD {
	return &RMSVAD{
		threshold:    v.threshold,
		silenceLimit: v.silenceLimit,
		minConfirmed: v.minConfirmed,
	}
}

func (v *RMSVAD) calculateRMS(chunk []byte) float64 {
	if len(chunk) == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < len(chunk)-1; i += 2 {
		sample := int16(chunk[i]) | (int16(chunk[i+1]) << 8)
		f := float64(sample) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(chunk)/2))
}
