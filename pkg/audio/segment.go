package audio

import (
	"encoding/binary"
	"math"
)

// Synthesis output encodings understood by the Segmenter.
const (
	EncodingF32LE = "pcm_f32le"
	EncodingS16LE = "pcm_s16le"
)

// Segmenter re-cuts an irregularly fragmented byte stream into frames that
// always hold whole samples. It retains at most one partial element between
// calls, so memory use does not grow with the stream.
//
// A Segmenter is not safe for concurrent use; create one per stream.
type Segmenter struct {
	sampleRate int
	width      int
	decode     func([]byte) float32

	pending  [ElementWidth]byte
	npending int
}

// NewSegmenter returns a Segmenter for the given encoding. pcm_f32le uses an
// element width of ElementWidth; pcm_s16le uses 2 bytes and is scaled into
// [-1.0, 1.0). Frames always carry float32 samples.
func NewSegmenter(encoding string, sampleRate int) (*Segmenter, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultOutputSampleRate
	}
	s := &Segmenter{sampleRate: sampleRate}
	switch encoding {
	case EncodingF32LE, "":
		s.width = ElementWidth
		s.decode = func(b []byte) float32 {
			return math.Float32frombits(binary.LittleEndian.Uint32(b))
		}
	case EncodingS16LE:
		s.width = CanonicalSampleWidth
		s.decode = func(b []byte) float32 {
			return float32(int16(binary.LittleEndian.Uint16(b))) / 32768
		}
	default:
		return nil, &UnsupportedEncodingError{Encoding: encoding}
	}
	return s, nil
}

// Width returns the element width in bytes.
func (s *Segmenter) Width() int { return s.width }

// Pending returns the number of buffered bytes that do not yet form a whole
// element. It is always less than Width.
func (s *Segmenter) Pending() int { return s.npending }

// Push appends a fragment and returns a frame holding every whole element now
// available. ok is false when the accumulated bytes still do not form one
// element.
func (s *Segmenter) Push(p []byte) (frame Frame, ok bool) {
	n := (s.npending + len(p)) / s.width
	if n == 0 {
		s.npending += copy(s.pending[s.npending:], p)
		return Frame{}, false
	}

	samples := make([]float32, 0, n)
	if s.npending > 0 {
		need := s.width - s.npending
		copy(s.pending[s.npending:], p[:need])
		samples = append(samples, s.decode(s.pending[:s.width]))
		p = p[need:]
		s.npending = 0
	}

	whole := len(p) / s.width * s.width
	for i := 0; i < whole; i += s.width {
		samples = append(samples, s.decode(p[i:i+s.width]))
	}
	s.npending = copy(s.pending[:], p[whole:])

	return Frame{SampleRate: s.sampleRate, Samples: samples}, true
}

// Flush zero-pads any leftover partial element and returns it as a final
// single-sample frame. ok is false when nothing is pending.
func (s *Segmenter) Flush() (frame Frame, ok bool) {
	if s.npending == 0 {
		return Frame{}, false
	}
	clear(s.pending[s.npending:s.width])
	sample := s.decode(s.pending[:s.width])
	s.npending = 0
	return Frame{SampleRate: s.sampleRate, Samples: []float32{sample}}, true
}
