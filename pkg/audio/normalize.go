package audio

import (
	"encoding/binary"
	"fmt"
)

// Normalize converts a captured buffer into CanonicalPCM for transcription.
//
// Float samples are scaled by Int16Scale and truncated to int16. Values
// outside [-1.0, 1.0] are not clipped; the conversion wraps or truncates.
// Integer samples are serialized without rescaling. Multi-channel input is
// serialized as-is, so callers are expected to supply mono capture.
//
// Normalize never fails: an empty buffer yields empty PCM.
func Normalize(b Buffer) CanonicalPCM {
	if b.Float != nil {
		out := make([]byte, len(b.Float)*CanonicalSampleWidth)
		for i, s := range b.Float {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
		}
		return out
	}
	out := make([]byte, len(b.Int)*CanonicalSampleWidth)
	for i, s := range b.Int {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// floatToInt16 truncates toward zero through an int32 so that out-of-range
// input wraps instead of hitting Go's implementation-defined float->int16
// conversion.
func floatToInt16(s float32) int16 {
	return int16(int32(s * Int16Scale))
}

// BufferFromBytes builds a Buffer from little-endian wire bytes in the given
// encoding ("f32le" or "s16le"). Trailing bytes that do not form a whole
// sample are dropped.
func BufferFromBytes(data []byte, encoding string, sampleRate, channels int) (Buffer, error) {
	b := Buffer{SampleRate: sampleRate, Channels: channels}
	switch encoding {
	case "f32le", "pcm_f32le":
		b.Float = DecodeFloat32(data)
	case "s16le", "pcm_s16le":
		b.Int = DecodeInt16(data)
	default:
		return Buffer{}, &UnsupportedEncodingError{Encoding: encoding}
	}
	return b, nil
}

// UnsupportedEncodingError is returned for unknown PCM encodings.
type UnsupportedEncodingError struct {
	Encoding string
}

func (e *UnsupportedEncodingError) Error() string {
	return fmt.Sprintf("audio: unsupported encoding %q", e.Encoding)
}
