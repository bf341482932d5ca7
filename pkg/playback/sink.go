// Package playback implements the Playback Sink:
// a single-writer, single-reader buffer that paces synthesized audio out to
// the transport at wall-clock rate and reports segment completion events.
package playback

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/task"
)

// DefaultQueueSizeMs bounds the sink's internal buffer.
const DefaultQueueSizeMs = 100_000

// TimedString is one word (or chunk) of TTS output with its playback offset
// within the segment, used to reconstruct a SynchronizedTranscript on
// interruption.
type TimedString struct {
	Text    string
	StartMs int
	EndMs   int
}

// FinishedEvent is delivered by WaitForPlayout once a segment completes or
// is interrupted.
type FinishedEvent struct {
	PlaybackPosition       time.Duration
	Interrupted            bool
	SynchronizedTranscript string
}

// Sink buffers captured audio frames and drains them to Frames() at
// wall-clock pace, tracking pushed/queued/played duration per segment.
type Sink struct {
	queueSizeMs float64

	mu            sync.Mutex
	cond          *sync.Cond
	queue         []audio.Frame
	queuedMs      float64
	pushedMs      float64
	playedMs      float64
	hasFlush      bool
	flushBoundary int
	wordTimestamps []TimedString
	current       *task.Future[FinishedEvent]
	closed        bool

	out    chan audio.Frame
	stopCh chan struct{}
}

// New returns a sink bounded by queueSizeMs of internally-buffered audio.
func New(queueSizeMs int) *Sink {
	s := &Sink{
		queueSizeMs:   float64(queueSizeMs),
		out:           make(chan audio.Frame, 256),
		stopCh:        make(chan struct{}),
		current:       task.NewFuture[FinishedEvent](),
		flushBoundary: -1,
	}
	s.cond = sync.NewCond(&s.mu)
	go s.drain()
	return s
}

// Frames exposes the paced output stream for the transport to consume.
func (s *Sink) Frames() <-chan audio.Frame { return s.out }

// CaptureFrame enqueues one frame of synthesized audio, blocking while the
// queue is at capacity so queued duration never grows past the configured
// queue size.
func (s *Sink) CaptureFrame(ctx context.Context, frame audio.Frame) error {
	dur := frame.Duration() * 1000

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.queuedMs+dur > s.queueSizeMs && !s.closed {
		if !s.waitLocked(ctx) {
			return ctx.Err()
		}
	}
	if s.closed {
		return ErrSinkClosed
	}
	s.queue = append(s.queue, frame)
	s.queuedMs += dur
	s.pushedMs += dur
	s.cond.Broadcast()
	return nil
}

// waitLocked blocks on s.cond until woken or ctx is done. Must be called
// with s.mu held; re-acquires it before returning.
func (s *Sink) waitLocked(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-done:
		}
	}()
	s.cond.Wait()
	close(done)
	return ctx.Err() == nil
}

// SetSynchronizedTranscript records word-level timestamps for the
// currently-open segment so an interruption can compute the heard prefix.
func (s *Sink) SetSynchronizedTranscript(words []TimedString) {
	s.mu.Lock()
	s.wordTimestamps = words
	s.mu.Unlock()
}

// Flush marks the end of the current segment. If a prior
// segment's flush is still in-flight, it is resolved early (as non-
// interrupted, at its current playback position) and an error is implied
// by the caller having violated the single-segment-in-flight contract.
func (s *Sink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasFlush {
		s.resolveCurrentLocked(false)
	}
	s.hasFlush = true
	s.flushBoundary = len(s.queue)
	if len(s.queue) == 0 && s.playedMs >= s.pushedMs {
		// Nothing queued and nothing still playing: the segment is complete.
		s.resolveCurrentLocked(false)
	}
}

// ClearBuffer immediately drops all queued (unplayed) audio and resolves
// the in-flight segment as interrupted at the actually-played position.
func (s *Sink) ClearBuffer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
	s.queuedMs = 0
	s.cond.Broadcast()
	s.resolveCurrentLocked(true)
}

// resolveCurrentLocked must be called with s.mu held.
func (s *Sink) resolveCurrentLocked(interrupted bool) {
	transcript := ""
	if interrupted {
		transcript = s.synchronizedTranscriptLocked()
	}
	s.current.Resolve(FinishedEvent{
		PlaybackPosition:       time.Duration(s.playedMs * float64(time.Millisecond)),
		Interrupted:            interrupted,
		SynchronizedTranscript: transcript,
	})
	s.current = task.NewFuture[FinishedEvent]()
	s.hasFlush = false
	s.flushBoundary = -1
	s.pushedMs = 0
	s.playedMs = 0
	s.wordTimestamps = nil
}

func (s *Sink) synchronizedTranscriptLocked() string {
	if len(s.wordTimestamps) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, w := range s.wordTimestamps {
		if float64(w.EndMs) > s.playedMs {
			break
		}
		sb.WriteString(w.Text)
	}
	return sb.String()
}

// WaitForPlayout returns the FinishedEvent for the currently-open segment,
// once it completes (via Flush draining fully) or is interrupted (via
// ClearBuffer).
func (s *Sink) WaitForPlayout(ctx context.Context) (FinishedEvent, error) {
	s.mu.Lock()
	fut := s.current
	s.mu.Unlock()
	return fut.Await(ctx)
}

// PushedDurationMs reports total audio submitted for the current segment.
func (s *Sink) PushedDurationMs() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushedMs
}

// QueuedDurationMs reports audio still waiting to be drained.
func (s *Sink) QueuedDurationMs() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queuedMs
}

// Close permanently stops the sink; any blocked CaptureFrame calls return
// ErrSinkClosed.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	close(s.stopCh)
}

func (s *Sink) drain() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed && len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		frame := s.queue[0]
		s.queue = s.queue[1:]
		dur := frame.Duration() * 1000
		s.queuedMs -= dur
		s.cond.Broadcast()
		s.mu.Unlock()

		select {
		case s.out <- frame:
		case <-s.stopCh:
			return
		}

		select {
		case <-time.After(time.Duration(dur * float64(time.Millisecond))):
		case <-s.stopCh:
			return
		}

		s.mu.Lock()
		s.playedMs += dur
		if s.hasFlush {
			s.flushBoundary--
			if s.flushBoundary <= 0 && len(s.queue) == 0 {
				s.resolveCurrentLocked(false)
			}
		}
		s.mu.Unlock()
	}
}
