package audio

import (
	"sync"
)

// Source is the pull side of the bus: anything that yields a sequence of
// Frames and a terminal error. Implementations are expected to close the
// Frames channel on exhaustion or failure.
type Source interface {
	// Frames returns the channel of frames; it is closed (with an optional
	// terminal error recorded via Err()) when the source is exhausted or
	// fails.
	Frames() <-chan Frame
	Err() error
}

// Bus is a lazy, fan-out-capable sequence of audio frames. Consumers call
// NewReader before or after a source is attached; a reader blocks until a
// source exists and frames are available. When a source's frame channel
// closes, the bus stops pulling from it; readers are not closed and are not
// handed the source's Err(), they just see no further frames until another
// source is attached. The bus itself never panics on a source error.
type Bus struct {
	sampleRate int
	channels   int

	mu      sync.Mutex
	source  Source
	readers map[*Reader]struct{}
	closed  bool

	pumpDone chan struct{}
	pumpStop chan struct{}
}

// New returns a Bus configured for the given sample rate and channel count.
// A source is attached later via SetSource.
func New(sampleRate, channels int) *Bus {
	return &Bus{
		sampleRate: sampleRate,
		channels:   channels,
		readers:    make(map[*Reader]struct{}),
	}
}

// SampleRate reports the bus's configured sample rate.
func (b *Bus) SampleRate() int { return b.sampleRate }

// Channels reports the bus's configured channel count.
func (b *Bus) Channels() int { return b.channels }

// SetSource attaches (or replaces) the pull side of the bus. Any
// previously-attached source is detached first. Safe to call with a nil
// source, equivalent to DetachSource.
func (b *Bus) SetSource(src Source) {
	b.DetachSource()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.source = src
	stop := make(chan struct{})
	done := make(chan struct{})
	b.pumpStop = stop
	b.pumpDone = done
	b.mu.Unlock()

	if src == nil {
		close(done)
		return
	}

	go b.pump(src, stop, done)
}

// DetachSource stops pulling from the current source (if any) without
// closing downstream readers. Re-attach is supported via a later SetSource.
func (b *Bus) DetachSource() {
	b.mu.Lock()
	stop := b.pumpStop
	done := b.pumpDone
	b.source = nil
	b.pumpStop = nil
	b.pumpDone = nil
	b.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if done != nil {
		<-done
	}
}

func (b *Bus) pump(src Source, stop, done chan struct{}) {
	defer close(done)
	frames := src.Frames()
	for {
		select {
		case <-stop:
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			b.broadcast(f)
		}
	}
}

func (b *Bus) broadcast(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for r := range b.readers {
		select {
		case r.ch <- f:
		default:
			// Slow reader: drop rather than block the pump — downstream
			// consumers that need lossless delivery should read promptly;
			// this matches the bus's "never blocks the source" contract.
		}
	}
}

// Close tears the bus down permanently: detaches any source and closes all
// reader channels.
func (b *Bus) Close() {
	b.DetachSource()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for r := range b.readers {
		close(r.ch)
	}
	b.readers = nil
}

// Reader is a cursor into the bus. Frames are fanned out to every live
// reader independently; a reader that has released its lock (called
// Release) may be re-created on the same bus via NewReader.
type Reader struct {
	bus *Bus
	ch  chan Frame
}

// NewReader registers a new cursor. Consumers may begin reading before a
// source exists and will simply see no frames until SetSource is called.
func (b *Bus) NewReader() *Reader {
	r := &Reader{bus: b, ch: make(chan Frame, 64)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(r.ch)
		return r
	}
	b.readers[r] = struct{}{}
	return r
}

// Frames exposes the reader's incoming channel.
func (r *Reader) Frames() <-chan Frame { return r.ch }

// Release detaches this reader from the bus without affecting others.
func (r *Reader) Release() {
	r.bus.mu.Lock()
	defer r.bus.mu.Unlock()
	if _, ok := r.bus.readers[r]; ok {
		delete(r.bus.readers, r)
		close(r.ch)
	}
}
