// Package tts defines the Synthesizer interface for Text-to-Speech backends.
//
// A Synthesizer turns one complete text into a stream of raw audio bytes. The
// stream is delivered as fragments of arbitrary, non-uniform length exactly as
// they arrive from the network; callers must not assume that a fragment ends
// on a sample boundary.
//
// Implementations must be safe for concurrent use. Each Synthesize call opens
// an independent remote stream.
package tts

import (
	"context"
	"errors"
	"io"
)

// Voice selects the speaker.
type Voice struct {
	// Mode is the selector kind, e.g. "id".
	Mode string

	// ID is the provider-specific voice identifier.
	ID string
}

// OutputFormat describes the raw audio the backend must produce.
type OutputFormat struct {
	// Container is the framing, e.g. "raw" for headerless PCM.
	Container string

	// Encoding is the sample encoding, e.g. "pcm_f32le" or "pcm_s16le".
	Encoding string

	// SampleRate in Hz.
	SampleRate int
}

// Request is one synthesis call.
type Request struct {
	ModelID    string
	Transcript string
	Voice      Voice
	Format     OutputFormat
}

// Stream is a pull iterator over synthesized byte fragments.
//
//	for s.Next() {
//	    use(s.Fragment())
//	}
//	if err := s.Err(); err != nil { ... }
//
// Fragment is only valid until the next call to Next. Close must always be
// called and is safe to call more than once.
type Stream interface {
	Next() bool
	Fragment() []byte
	Err() error
	Close() error
}

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize starts a remote synthesis and returns its byte stream. It
	// returns an error only if the stream could not be opened; failures after
	// that are reported by Stream.Err.
	Synthesize(ctx context.Context, req Request) (Stream, error)
}

// ErrClosed is reported by Stream.Err when the stream was closed before it
// was exhausted.
var ErrClosed = errors.New("tts: stream closed")

// readerStream adapts an io.ReadCloser (typically an HTTP response body) to
// Stream, yielding whatever each Read returns.
type readerStream struct {
	rc     io.ReadCloser
	buf    []byte
	frag   []byte
	err    error
	done   bool
	closed bool
}

// NewReaderStream wraps rc. bufSize bounds the size of a single fragment;
// values <= 0 select 4096 bytes.
func NewReaderStream(rc io.ReadCloser, bufSize int) Stream {
	if bufSize <= 0 {
		bufSize = 4096
	}
	return &readerStream{rc: rc, buf: make([]byte, bufSize)}
}

func (s *readerStream) Next() bool {
	for !s.done {
		if s.closed {
			s.err, s.done = ErrClosed, true
			break
		}
		n, err := s.rc.Read(s.buf)
		if err != nil {
			s.done = true
			if !errors.Is(err, io.EOF) {
				s.err = err
			}
		}
		if n > 0 {
			s.frag = s.buf[:n]
			return true
		}
	}
	s.frag = nil
	return false
}

func (s *readerStream) Fragment() []byte { return s.frag }

func (s *readerStream) Err() error { return s.err }

func (s *readerStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.rc.Close()
}

// sliceStream replays a fixed list of fragments, then reports err.
type sliceStream struct {
	frags  [][]byte
	i      int
	err    error
	closed bool
}

// NewSliceStream returns a Stream that yields frags in order and then
// reports err (which may be nil) from Err.
func NewSliceStream(frags [][]byte, err error) Stream {
	return &sliceStream{frags: frags, i: -1, err: err}
}

func (s *sliceStream) Next() bool {
	if s.closed {
		return false
	}
	s.i++
	return s.i < len(s.frags)
}

func (s *sliceStream) Fragment() []byte {
	if s.i < 0 || s.i >= len(s.frags) {
		return nil
	}
	return s.frags[s.i]
}

func (s *sliceStream) Err() error {
	if s.i < len(s.frags) {
		return nil
	}
	return s.err
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}
