package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Format constants tied to the canonical transcription input and to the
// synthesis output contract. They are configuration, not magic numbers: a
// different synthesis backend may require a different element width or rate.
const (
	// Int16Scale converts a float sample in [-1.0, 1.0] to 16-bit PCM.
	Int16Scale = 32767

	// CanonicalSampleWidth is the byte width of one CanonicalPCM sample.
	CanonicalSampleWidth = 2

	// ElementWidth is the byte width of one decoded synthesis sample (float32).
	ElementWidth = 4

	// DefaultOutputSampleRate is the rate of synthesized frames in Hz.
	DefaultOutputSampleRate = 24000
)

// Buffer is one captured utterance as delivered by the capture trigger.
// Exactly one of Float or Int is expected to carry samples; when both are
// set, Float wins. Multi-channel samples are interleaved.
type Buffer struct {
	// SampleRate in Hz (e.g., 16000, 48000).
	SampleRate int

	// Channels is the number of interleaved channels. Zero is treated as 1.
	Channels int

	// Float holds floating-point samples nominally in [-1.0, 1.0].
	Float []float32

	// Int holds already-quantized 16-bit samples.
	Int []int16
}

// Len returns the total number of samples across all channels.
func (b Buffer) Len() int {
	if b.Float != nil {
		return len(b.Float)
	}
	return len(b.Int)
}

// Validate reports whether the sample count is a whole number of
// channel-interleaved frames. Normalize does not require a valid buffer.
func (b Buffer) Validate() error {
	ch := b.Channels
	if ch <= 0 {
		ch = 1
	}
	if b.SampleRate <= 0 {
		return fmt.Errorf("audio: invalid sample rate %d", b.SampleRate)
	}
	if n := b.Len(); n%ch != 0 {
		return fmt.Errorf("audio: %d samples is not a multiple of %d channels", n, ch)
	}
	return nil
}

// CanonicalPCM is 16-bit little-endian mono PCM at the captured sample rate.
type CanonicalPCM []byte

// Samples decodes the PCM back into int16 values. A trailing odd byte is
// ignored.
func (p CanonicalPCM) Samples() []int16 {
	out := make([]int16, len(p)/CanonicalSampleWidth)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(p[i*2:]))
	}
	return out
}

// Frame is the unit of synthesized audio handed to the output transport.
// Samples always decode from a whole number of ElementWidth-byte elements.
type Frame struct {
	SampleRate int
	Samples    []float32
}

// Bytes encodes the frame as little-endian float32, the wire format used by
// the voice transport. The result length is always a multiple of 4.
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f.Samples)*4)
	for i, s := range f.Samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// DecodeFloat32 decodes little-endian float32 samples. Trailing bytes that do
// not form a whole sample are ignored.
func DecodeFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// DecodeInt16 decodes little-endian int16 samples. A trailing odd byte is
// ignored.
func DecodeInt16(b []byte) []int16 {
	return CanonicalPCM(b).Samples()
}
