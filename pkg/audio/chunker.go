package audio

// Chunker rewraps an arbitrary-length PCM byte stream into fixed-size
// frames, for TTS providers that emit audio in irregularly sized blobs. It
// preserves the exact byte sequence; Flush emits any residual shorter than
// a full chunk.
type Chunker struct {
	sampleRate, channels int
	chunkSamples         int // samples-per-channel per emitted frame
	buf                  []int16
	pending              []byte // odd trailing byte held for the next Write
}

// NewChunker returns a Chunker emitting frames of chunkSamples samples per
// channel at the given sample rate/channel count.
func NewChunker(sampleRate, channels, chunkSamples int) *Chunker {
	if channels < 1 {
		channels = 1
	}
	if chunkSamples < 1 {
		chunkSamples = 1
	}
	return &Chunker{sampleRate: sampleRate, channels: channels, chunkSamples: chunkSamples}
}

// Write appends raw PCM16 bytes and returns any complete fixed-size frames
// it can now emit. Leftover bytes shorter than one sample are held until the
// next Write call.
func (c *Chunker) Write(b []byte) []Frame {
	if len(c.pending) > 0 {
		b = append(c.pending, b...)
		c.pending = nil
	}
	if len(b)%2 == 1 {
		c.pending = []byte{b[len(b)-1]}
		b = b[:len(b)-1]
	}
	samples := bytesToSamples(b)
	c.buf = append(c.buf, samples...)

	chunkLen := c.chunkSamples * c.channels
	var frames []Frame
	for len(c.buf) >= chunkLen {
		frames = append(frames, Frame{
			PCM:               append([]int16(nil), c.buf[:chunkLen]...),
			SampleRate:        c.sampleRate,
			Channels:          c.channels,
			SamplesPerChannel: c.chunkSamples,
		})
		c.buf = c.buf[chunkLen:]
	}
	return frames
}

// Flush emits any residual samples shorter than a full chunk as one final,
// short frame. Returns nil if nothing is buffered.
func (c *Chunker) Flush() *Frame {
	if len(c.buf) == 0 {
		return nil
	}
	perChannel := len(c.buf) / c.channels
	f := Frame{
		PCM:               c.buf,
		SampleRate:        c.sampleRate,
		Channels:          c.channels,
		SamplesPerChannel: perChannel,
	}
	c.buf = nil
	return &f
}
