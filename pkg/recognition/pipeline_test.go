package recognition

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
)

// fakeSTTStream lets a test script a fixed sequence of SpeechEvents.
type fakeSTTStream struct {
	events chan SpeechEvent
	closed bool
	mu     sync.Mutex
}

func newFakeSTTStream() *fakeSTTStream {
	return &fakeSTTStream{events: make(chan SpeechEvent, 16)}
}

func (s *fakeSTTStream) Push(ctx context.Context, chunk []byte) error { return nil }
func (s *fakeSTTStream) Events() <-chan SpeechEvent                  { return s.events }
func (s *fakeSTTStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

type fakeSTTProvider struct {
	stream *fakeSTTStream
	err    error
}

func (p *fakeSTTProvider) StreamTranscribe(ctx context.Context, lang string) (STTStream, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.stream, nil
}
func (p *fakeSTTProvider) Name() string { return "fake" }

// recordingHooks captures every hook invocation for assertions.
type recordingHooks struct {
	mu          sync.Mutex
	starts      int
	ends        int
	interims    []string
	finals      []string
	turns       []EndOfTurnInfo
	draining    bool
	interruptOK bool
	minWords    int
}

func (h *recordingHooks) OnStartOfSpeech() { h.mu.Lock(); h.starts++; h.mu.Unlock() }
func (h *recordingHooks) OnVADInferenceDone(probability float64, speechDuration time.Duration) {}
func (h *recordingHooks) OnEndOfSpeech()    { h.mu.Lock(); h.ends++; h.mu.Unlock() }
func (h *recordingHooks) OnInterimTranscript(text string) {
	h.mu.Lock()
	h.interims = append(h.interims, text)
	h.mu.Unlock()
}
func (h *recordingHooks) OnFinalTranscript(text string) {
	h.mu.Lock()
	h.finals = append(h.finals, text)
	h.mu.Unlock()
}
func (h *recordingHooks) OnEndOfTurn(info EndOfTurnInfo) bool {
	h.mu.Lock()
	h.turns = append(h.turns, info)
	h.mu.Unlock()
	return true
}
func (h *recordingHooks) IsDraining() bool                  { return h.draining }
func (h *recordingHooks) CurrentSpeechInterruptible() bool  { return h.interruptOK }
func (h *recordingHooks) MinInterruptionWords() int         { return h.minWords }

func (h *recordingHooks) snapshot() (starts, ends int, interims, finals []string, turns []EndOfTurnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.starts, h.ends, append([]string(nil), h.interims...), append([]string(nil), h.finals...), append([]EndOfTurnInfo(nil), h.turns...)
}

func newTestReader(t *testing.T, frames ...audio.Frame) *audio.Reader {
	t.Helper()
	bus := audio.New(16000, 1)
	r := bus.NewReader()
	src := &scriptedSource{frames: make(chan audio.Frame, len(frames)+1)}
	for _, f := range frames {
		src.frames <- f
	}
	close(src.frames)
	bus.SetSource(src)
	t.Cleanup(bus.Close)
	return r
}

type scriptedSource struct {
	frames chan audio.Frame
}

func (s *scriptedSource) Frames() <-chan audio.Frame { return s.frames }
func (s *scriptedSource) Err() error                 { return nil }

func silentFrame(n int) audio.Frame {
	return audio.Frame{PCM: make([]int16, n), SampleRate: 16000, Channels: 1, SamplesPerChannel: n}
}

func loudFrame(n int) audio.Frame {
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = 30000
	}
	return audio.Frame{PCM: pcm, SampleRate: 16000, Channels: 1, SamplesPerChannel: n}
}

func TestPipelineEmitsStartOfSpeechOnSustainedLoudFrames(t *testing.T) {
	vad := NewRMSVAD(0.1, 200*time.Millisecond)
	vad.SetMinConfirmed(2)
	policy := NewEndOfTurnPolicy(TurnDetectionVAD, 10*time.Millisecond, 100*time.Millisecond)
	hooks := &recordingHooks{}

	frames := []audio.Frame{loudFrame(160), loudFrame(160), loudFrame(160)}
	reader := newTestReader(t, frames...)

	p := New(vad, nil, nil, nil, policy, hooks, "en")
	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx, reader))

	starts, _, _, _, _ := hooks.snapshot()
	require.Equal(t, 1, starts)
}

func TestPipelineForwardsSTTTranscripts(t *testing.T) {
	stream := newFakeSTTStream()
	stream.events <- SpeechEvent{Type: STTInterimTranscript, Alternatives: []Alternative{{Text: "hel"}}}
	stream.events <- SpeechEvent{Type: STTFinalTranscript, Alternatives: []Alternative{{Text: "hello there."}}}

	provider := &fakeSTTProvider{stream: stream}
	policy := NewEndOfTurnPolicy(TurnDetectionRealtimeLLM, 5*time.Millisecond, 50*time.Millisecond)
	hooks := &recordingHooks{}

	reader := newTestReader(t, silentFrame(160))

	p := New(nil, provider, nil, nil, policy, hooks, "en")
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx, reader))

	require.Eventually(t, func() bool {
		_, _, interims, finals, _ := hooks.snapshot()
		return len(interims) == 1 && len(finals) == 1
	}, 500*time.Millisecond, 5*time.Millisecond)
}

func TestPipelineOpensRetryingSTTAndGivesUpAfterMaxRetries(t *testing.T) {
	provider := &fakeSTTProvider{err: errPlaceholder}
	policy := NewEndOfTurnPolicy(TurnDetectionVAD, 5*time.Millisecond, 50*time.Millisecond)
	hooks := &recordingHooks{}

	p := New(nil, provider, nil, nil, policy, hooks, "en")
	p.maxRetry = 1
	p.retry = func(attempt int) time.Duration { return time.Millisecond }

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	reader := newTestReader(t)
	err := p.Run(ctx, reader)
	require.Error(t, err)
}

func TestPipelineDrainingShortCircuitsCommit(t *testing.T) {
	stream := newFakeSTTStream()
	stream.events <- SpeechEvent{Type: STTFinalTranscript, Alternatives: []Alternative{{Text: "ignored"}}}
	provider := &fakeSTTProvider{stream: stream}
	policy := NewEndOfTurnPolicy(TurnDetectionRealtimeLLM, 5*time.Millisecond, 50*time.Millisecond)
	hooks := &recordingHooks{draining: true}

	reader := newTestReader(t, silentFrame(160))
	p := New(nil, provider, nil, nil, policy, hooks, "en")
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx, reader))

	require.Eventually(t, func() bool {
		_, _, _, _, turns := hooks.snapshot()
		return len(turns) == 1 && turns[0].NewTranscript == ""
	}, 500*time.Millisecond, 5*time.Millisecond)
}

func TestPipelineDefersEndOfTurnByEndpointingDelay(t *testing.T) {
	policy := NewEndOfTurnPolicy(TurnDetectionVAD, 60*time.Millisecond, 120*time.Millisecond)
	hooks := &recordingHooks{}
	p := New(nil, nil, nil, nil, policy, hooks, "en")

	start := time.Now()
	p.handleVADEvent(VADEvent{Type: VADSpeechEnd})

	_, _, _, _, turns := hooks.snapshot()
	require.Empty(t, turns, "OnEndOfTurn must not fire synchronously on end-of-speech")

	require.Eventually(t, func() bool {
		_, _, _, _, turns := hooks.snapshot()
		return len(turns) == 1
	}, 400*time.Millisecond, 5*time.Millisecond)

	require.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}

func TestPipelinePreemptiveSynthesisSkipsEndpointingDelay(t *testing.T) {
	policy := NewEndOfTurnPolicy(TurnDetectionVAD, 200*time.Millisecond, 400*time.Millisecond)
	policy.PreemptiveSynthesis = true
	hooks := &recordingHooks{}
	p := New(nil, nil, nil, nil, policy, hooks, "en")

	p.handleVADEvent(VADEvent{Type: VADSpeechEnd})

	require.Eventually(t, func() bool {
		_, _, _, _, turns := hooks.snapshot()
		return len(turns) == 1
	}, 50*time.Millisecond, time.Millisecond)

	_, _, _, _, turns := hooks.snapshot()
	require.Equal(t, 200*time.Millisecond, turns[0].EndOfUtteranceDelay, "reported delay still reflects the computed endpointing delay")
}

func TestPipelineVADSpeechStartCancelsPendingEndOfTurn(t *testing.T) {
	policy := NewEndOfTurnPolicy(TurnDetectionVAD, 40*time.Millisecond, 80*time.Millisecond)
	hooks := &recordingHooks{}
	p := New(nil, nil, nil, nil, policy, hooks, "en")

	p.handleVADEvent(VADEvent{Type: VADSpeechEnd})
	p.handleVADEvent(VADEvent{Type: VADSpeechStart})

	time.Sleep(120 * time.Millisecond)
	_, _, _, _, turns := hooks.snapshot()
	require.Empty(t, turns, "a resumed utterance must cancel the pending commit")
}

var errPlaceholder = &STTError{Recoverable: true, Err: errPipelineTest("stt unavailable")}

type errPipelineTest string

func (e errPipelineTest) Error() string { return string(e) }
