// Package audio implements the Audio Frame Bus: a
// deferred, fan-out-capable lazy stream of PCM frames with resampling,
// fixed-size chunking, and source detach/reattach without losing frames.
package audio

// Frame is one slab of PCM16 audio.
type Frame struct {
	PCM              []int16
	SampleRate       int
	Channels         int
	SamplesPerChannel int
}

// Duration returns the frame's duration in seconds.
func (f Frame) Duration() float64 {
	if f.SampleRate == 0 {
		return 0
	}
	return float64(f.SamplesPerChannel) / float64(f.SampleRate)
}

// bytesToSamples reinterprets little-endian PCM16 bytes as int16 samples.
func bytesToSamples(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(b[2*i]) | int16(b[2*i+1])<<8
	}
	return out
}

// samplesToBytes is the inverse of bytesToSamples.
func samplesToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}

// NewFrameFromPCMBytes builds a Frame from a raw little-endian PCM16 byte
// payload.
func NewFrameFromPCMBytes(b []byte, sampleRate, channels int) Frame {
	samples := bytesToSamples(b)
	perChannel := len(samples)
	if channels > 0 {
		perChannel = len(samples) / channels
	}
	return Frame{
		PCM:               samples,
		SampleRate:        sampleRate,
		Channels:          channels,
		SamplesPerChannel: perChannel,
	}
}

// Bytes serializes the frame back to little-endian PCM16 bytes.
func (f Frame) Bytes() []byte {
	return samplesToBytes(f.PCM)
}
