package audio

// Resampler converts a stream of Frames from one sample rate to another
// using linear interpolation. It is stateful: it retains the tail samples
// of the previous call so interpolation is continuous across frame
// boundaries. Flush discards that retained state without emitting output.
type Resampler struct {
	fromRate, toRate int
	channels         int

	// tail holds the last sample (per channel) carried over from the
	// previous Push call, used as the interpolation anchor for the next one.
	tail     []int16
	hasTail  bool
	position float64 // fractional input-sample position of the next output sample
}

// NewResampler returns a Resampler converting fromRate to toRate for the
// given channel count. If fromRate == toRate, Push is a pass-through.
func NewResampler(fromRate, toRate, channels int) *Resampler {
	if channels < 1 {
		channels = 1
	}
	return &Resampler{fromRate: fromRate, toRate: toRate, channels: channels}
}

// Push consumes one input frame and returns zero or more resampled output
// frames at the target rate.
func (r *Resampler) Push(in Frame) []Frame {
	if r.fromRate == r.toRate || r.fromRate == 0 || r.toRate == 0 {
		return []Frame{in}
	}

	samples := in.PCM
	ch := r.channels
	framesIn := len(samples) / ch
	if framesIn == 0 {
		return nil
	}

	ratio := float64(r.fromRate) / float64(r.toRate)

	// Build a working buffer: one carried-over frame (for interpolation
	// anchor) + the new input frames.
	var work []int16
	offset := 0.0
	if r.hasTail {
		work = append(work, r.tail...)
		offset = 1.0 // the tail occupies index 0, input starts at index 1
	}
	work = append(work, samples...)
	totalFrames := len(work) / ch

	var out []int16
	pos := r.position
	if !r.hasTail {
		pos = 0
	}
	for {
		idx := pos + offset
		i0 := int(idx)
		if i0+1 >= totalFrames {
			break
		}
		frac := idx - float64(i0)
		for c := 0; c < ch; c++ {
			s0 := float64(work[i0*ch+c])
			s1 := float64(work[(i0+1)*ch+c])
			out = append(out, int16(s0+(s1-s0)*frac))
		}
		pos += ratio
	}

	// Carry over the last input frame as the next tail and keep the
	// fractional remainder so continuity holds across Push calls.
	if framesIn > 0 {
		r.tail = append([]int16(nil), samples[(framesIn-1)*ch:]...)
		r.hasTail = true
	}
	consumedPos := pos + offset - float64(totalFrames-1)
	r.position = consumedPos
	if r.position < 0 {
		r.position = 0
	}

	if len(out) == 0 {
		return nil
	}
	return []Frame{{
		PCM:               out,
		SampleRate:        r.toRate,
		Channels:          ch,
		SamplesPerChannel: len(out) / ch,
	}}
}

// Flush discards the retained tail sample and fractional position so the
// next Push starts a fresh stream. It emits no frames and always returns nil.
func (r *Resampler) Flush() []Frame {
	r.tail = nil
	r.hasTail = false
	r.position = 0
	return nil
}
