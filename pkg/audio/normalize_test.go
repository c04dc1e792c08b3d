package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/voiceloop/pkg/audio"
)

func TestNormalize_FloatLengthAndQuantization(t *testing.T) {
	t.Parallel()

	in := make([]float32, 0, 2001)
	for i := -1000; i <= 1000; i++ {
		in = append(in, float32(i)/1000)
	}
	pcm := audio.Normalize(audio.Buffer{SampleRate: 16000, Channels: 1, Float: in})

	if got, want := len(pcm), 2*len(in); got != want {
		t.Fatalf("want %d bytes, got %d", want, got)
	}
	// One quantization step, with headroom for float32 rounding of s*scale.
	const step = 1.01 / audio.Int16Scale
	decoded := pcm.Samples()
	for i, s := range in {
		back := float64(decoded[i]) / audio.Int16Scale
		if diff := math.Abs(back - float64(s)); diff > step {
			t.Errorf("sample %d: %v decoded as %v (diff %v)", i, s, back, diff)
		}
	}
}

func TestNormalize_Truncates(t *testing.T) {
	t.Parallel()

	pcm := audio.Normalize(audio.Buffer{SampleRate: 16000, Float: []float32{1, -1, 0.5, -0.5, 0}})
	got := pcm.Samples()
	want := []int16{32767, -32767, 16383, -16383, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: want %d, got %d", i, want[i], got[i])
		}
	}
}

func TestNormalize_IntegerPassthrough(t *testing.T) {
	t.Parallel()

	in := []int16{0, 1, -1, 32767, -32768, 1234}
	pcm := audio.Normalize(audio.Buffer{SampleRate: 8000, Int: in})
	if len(pcm) != 2*len(in) {
		t.Fatalf("want %d bytes, got %d", 2*len(in), len(pcm))
	}
	got := pcm.Samples()
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("sample %d: want %d, got %d", i, in[i], got[i])
		}
	}
}

func TestNormalize_MultiChannelFlattened(t *testing.T) {
	t.Parallel()

	in := []int16{10, 20, 30, 40}
	pcm := audio.Normalize(audio.Buffer{SampleRate: 48000, Channels: 2, Int: in})
	got := pcm.Samples()
	if len(got) != 4 {
		t.Fatalf("want 4 samples, got %d", len(got))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("sample %d: want %d, got %d", i, in[i], got[i])
		}
	}
}

func TestNormalize_Empty(t *testing.T) {
	t.Parallel()

	if pcm := audio.Normalize(audio.Buffer{SampleRate: 16000}); len(pcm) != 0 {
		t.Errorf("want empty PCM, got %d bytes", len(pcm))
	}
}

func TestBuffer_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		buf     audio.Buffer
		wantErr bool
	}{
		{"mono", audio.Buffer{SampleRate: 16000, Int: []int16{1, 2, 3}}, false},
		{"stereo aligned", audio.Buffer{SampleRate: 16000, Channels: 2, Float: []float32{0, 0}}, false},
		{"stereo misaligned", audio.Buffer{SampleRate: 16000, Channels: 2, Float: []float32{0, 0, 0}}, true},
		{"zero rate", audio.Buffer{Int: []int16{1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.buf.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBufferFromBytes(t *testing.T) {
	t.Parallel()

	f := audio.Frame{Samples: []float32{0.25, -0.5}}
	buf, err := audio.BufferFromBytes(f.Bytes(), "f32le", 16000, 1)
	if err != nil {
		t.Fatalf("BufferFromBytes: unexpected error: %v", err)
	}
	if len(buf.Float) != 2 || buf.Float[0] != 0.25 || buf.Float[1] != -0.5 {
		t.Errorf("want [0.25 -0.5], got %v", buf.Float)
	}

	buf, err = audio.BufferFromBytes([]byte{0x01, 0x00, 0xff, 0xff, 0x07}, "s16le", 16000, 1)
	if err != nil {
		t.Fatalf("BufferFromBytes: unexpected error: %v", err)
	}
	if len(buf.Int) != 2 || buf.Int[0] != 1 || buf.Int[1] != -1 {
		t.Errorf("want [1 -1], got %v", buf.Int)
	}

	if _, err := audio.BufferFromBytes(nil, "mulaw", 8000, 1); err == nil {
		t.Error("want error for unsupported encoding, got nil")
	}
}
