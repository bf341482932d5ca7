package recognition

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
)

// Hooks is the callback surface the scheduler implements so the
// recognition pipeline can drive turn-taking decisions.
type Hooks interface {
	OnStartOfSpeech()
	OnVADInferenceDone(probability float64, speechDuration time.Duration)
	OnEndOfSpeech()
	OnInterimTranscript(text string)
	OnFinalTranscript(text string)
	// OnEndOfTurn returns true if the turn was committed, false if the
	// caller should discard it: a suppressed short interruption, or manual
	// mode still awaiting CommitUserTurn.
	OnEndOfTurn(info EndOfTurnInfo) bool

	// IsDraining reports whether the activity is winding down for handoff.
	IsDraining() bool
	// CurrentSpeechInterruptible reports whether the in-flight agent speech
	// (if any) currently allows interruption.
	CurrentSpeechInterruptible() bool
	MinInterruptionWords() int
}

// RetryFunc computes the backoff interval before retry attempt N (1-based).
type RetryFunc func(attempt int) time.Duration

// DefaultRetry is an exponential backoff with a fixed cap, used to gate
// STT stream restarts after a transient failure.
func DefaultRetry(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := 3 * time.Second
	if attempt <= 4 {
		d = time.Duration(1<<(attempt-1)) * 250 * time.Millisecond
	}
	return d
}

// Pipeline fuses a VAD stream, a streaming STT provider, and an optional
// end-of-turn predictor over one microphone source. One Pipeline serves
// one agent session.
type Pipeline struct {
	vad      VAD
	stt      STTProvider
	eouModel EndOfTurnPredictor
	echo     *EchoCanceller
	policy   *EndOfTurnPolicy
	hooks    Hooks
	maxRetry int
	retry    RetryFunc
	lang     string

	mu            sync.Mutex
	partial       string
	userSpeaking  bool
	sttStream     STTStream
	sttGeneration int
	pendingTimer  *time.Timer
	pendingGen    int
}

// New returns a recognition pipeline. echo may be nil to disable echo
// cancellation.
func New(vad VAD, stt STTProvider, eou EndOfTurnPredictor, echo *EchoCanceller, policy *EndOfTurnPolicy, hooks Hooks, lang string) *Pipeline {
	return &Pipeline{
		vad:      vad,
		stt:      stt,
		eouModel: eou,
		echo:     echo,
		policy:   policy,
		hooks:    hooks,
		maxRetry: 3,
		retry:    DefaultRetry,
		lang:     lang,
	}
}

// Run drains reader until ctx is cancelled or the source is exhausted,
// feeding every frame through echo cancellation, VAD, and STT, and invoking
// Hooks as events are produced. Zero frames received results in a clean exit
// with no hook calls.
func (p *Pipeline) Run(ctx context.Context, reader *audio.Reader) error {
	if err := p.startSTT(ctx); err != nil {
		return err
	}
	defer p.closeSTT()
	defer p.cancelPendingEndOfTurn()

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-reader.Frames():
			if !ok {
				return nil
			}
			p.processFrame(ctx, frame)
		}
	}
}

func (p *Pipeline) processFrame(ctx context.Context, frame audio.Frame) {
	chunk := frame.Bytes()

	if p.echo != nil {
		cleaned := p.echo.RemoveEchoRealtime(chunk)
		chunk = cleaned
	}

	if p.vad != nil {
		event, err := p.vad.Process(chunk)
		if err == nil && event != nil {
			p.handleVADEvent(*event)
		}
	}

	p.mu.Lock()
	stream := p.sttStream
	p.mu.Unlock()
	if stream != nil {
		_ = stream.Push(ctx, chunk)
	}
}

func (p *Pipeline) handleVADEvent(ev VADEvent) {
	switch ev.Type {
	case VADSpeechStart:
		p.cancelPendingEndOfTurn()
		p.mu.Lock()
		p.userSpeaking = true
		p.mu.Unlock()
		p.hooks.OnStartOfSpeech()
	case VADInferenceDone:
		p.hooks.OnVADInferenceDone(ev.Probability, ev.SpeechDuration)
	case VADSpeechEnd:
		p.mu.Lock()
		p.userSpeaking = false
		p.mu.Unlock()
		p.policy.OnEndOfSpeech(time.Now())
		p.hooks.OnEndOfSpeech()
		p.maybeCommit(p.policy.Mode == TurnDetectionVAD)
	}
}

func (p *Pipeline) startSTT(ctx context.Context) error {
	if p.stt == nil {
		return nil
	}
	stream, err := p.retryingOpen(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.sttStream = stream
	p.mu.Unlock()
	go p.consumeSTTEvents(ctx, stream)
	return nil
}

func (p *Pipeline) retryingOpen(ctx context.Context) (STTStream, error) {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetry; attempt++ {
		stream, err := p.stt.StreamTranscribe(ctx, p.lang)
		if err == nil {
			return stream, nil
		}
		lastErr = err
		var sttErr *STTError
		if errAs(err, &sttErr) && !sttErr.Recoverable {
			return nil, err
		}
		if attempt == p.maxRetry {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.retry(attempt + 1)):
		}
	}
	return nil, lastErr
}

func (p *Pipeline) consumeSTTEvents(ctx context.Context, stream STTStream) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream.Events():
			if !ok {
				return
			}
			p.handleSTTEvent(ev)
		}
	}
}

func (p *Pipeline) handleSTTEvent(ev SpeechEvent) {
	text := ""
	if len(ev.Alternatives) > 0 {
		text = ev.Alternatives[0].Text
	}

	switch ev.Type {
	case STTInterimTranscript, STTPreflightTranscript:
		p.mu.Lock()
		p.partial = text
		p.mu.Unlock()
		p.hooks.OnInterimTranscript(text)
	case STTFinalTranscript:
		p.policy.OnFinalTranscript(text, time.Now())
		p.hooks.OnFinalTranscript(text)
		p.maybeCommit(p.finalTranscriptReady(text))
	}
}

// finalTranscriptReady decides, per mode, whether a just-arrived final
// transcript alone is sufficient to evaluate a commit. In realtime_llm mode
// this consults the end-of-turn predictor rather than committing on every
// final transcript.
func (p *Pipeline) finalTranscriptReady(text string) bool {
	if p.policy.Mode == TurnDetectionVAD {
		return false
	}
	if p.policy.Mode != TurnDetectionRealtimeLLM || p.eouModel == nil {
		return true
	}
	p.mu.Lock()
	speaking := p.userSpeaking
	p.mu.Unlock()
	predicted, err := p.eouModel.PredictEndOfTurn(context.Background(), text, speaking)
	if err != nil {
		return true
	}
	return predicted
}

// maybeCommit evaluates the current transcript against the end-of-turn
// policy and, when eligible, invokes Hooks.OnEndOfTurn. eouReady indicates
// whether the triggering sub-stream (VAD END_OF_SPEECH or STT
// FINAL_TRANSCRIPT) is the one relevant for the configured mode.
func (p *Pipeline) maybeCommit(eouReady bool) {
	if !eouReady {
		return
	}
	if p.hooks.IsDraining() {
		p.hooks.OnEndOfTurn(EndOfTurnInfo{})
		return
	}

	p.mu.Lock()
	transcript := p.policy.lastFinalText
	p.mu.Unlock()

	if minWords := p.hooks.MinInterruptionWords(); minWords > 0 && p.hooks.CurrentSpeechInterruptible() {
		if countWords(transcript) < minWords {
			return
		}
	}

	delay := p.policy.EndpointingDelay(time.Now())
	dispatchDelay := delay
	if p.policy.PreemptiveSynthesis {
		dispatchDelay = 0
	}
	p.scheduleEndOfTurn(EndOfTurnInfo{
		NewTranscript:       transcript,
		EndOfUtteranceDelay: delay,
	}, dispatchDelay)
}

// scheduleEndOfTurn defers Hooks.OnEndOfTurn by delay, canceling any commit
// still pending from an earlier event so only the latest one fires. A fresh
// VADSpeechStart (the user resumed talking) also cancels a pending commit
// via cancelPendingEndOfTurn.
func (p *Pipeline) scheduleEndOfTurn(info EndOfTurnInfo, delay time.Duration) {
	p.mu.Lock()
	if p.pendingTimer != nil {
		p.pendingTimer.Stop()
	}
	p.pendingGen++
	gen := p.pendingGen
	p.pendingTimer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		if p.pendingGen != gen {
			p.mu.Unlock()
			return
		}
		p.pendingTimer = nil
		p.mu.Unlock()
		p.hooks.OnEndOfTurn(info)
	})
	p.mu.Unlock()
}

// cancelPendingEndOfTurn aborts a scheduled commit without firing it.
func (p *Pipeline) cancelPendingEndOfTurn() {
	p.mu.Lock()
	if p.pendingTimer != nil {
		p.pendingTimer.Stop()
		p.pendingTimer = nil
	}
	p.pendingGen++
	p.mu.Unlock()
}

// CommitUserTurn forces a commit in manual mode, where no automatic
// end-of-turn signal ever fires on its own.
func (p *Pipeline) CommitUserTurn() {
	p.mu.Lock()
	transcript := p.partial
	p.mu.Unlock()
	p.hooks.OnEndOfTurn(EndOfTurnInfo{NewTranscript: transcript})
}

func (p *Pipeline) closeSTT() {
	p.mu.Lock()
	stream := p.sttStream
	p.sttStream = nil
	p.mu.Unlock()
	if stream != nil {
		_ = stream.Close()
	}
}

// errAs walks err's Unwrap chain and reports whether it holds an *STTError,
// storing it in target; a hand-written errors.As for that one type.
func errAs(err error, target **STTError) bool {
	for err != nil {
		if e, ok := err.(*STTError); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// normalizeLang trims and lowercases a language tag for provider calls.
func normalizeLang(lang string) string {
	return strings.ToLower(strings.TrimSpace(lang))
}
