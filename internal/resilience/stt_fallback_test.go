package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voiceloop/pkg/provider/stt"
	sttmock "github.com/MrWong99/voiceloop/pkg/provider/stt/mock"
)

func TestSTTFallback_PrimarySuccess(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Recognizer{Text: "hello"}
	secondary := &sttmock.Recognizer{Text: "from secondary"}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	text, err := fb.Recognize(context.Background(), []byte{1, 0}, 16000, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello" {
		t.Errorf("want %q, got %q", "hello", text)
	}
	if n := primary.CallCount(); n != 1 {
		t.Errorf("primary called %d times, want 1", n)
	}
	if n := secondary.CallCount(); n != 0 {
		t.Errorf("secondary called %d times, want 0", n)
	}
}

func TestSTTFallback_Failover(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Recognizer{Err: errors.New("primary down")}
	secondary := &sttmock.Recognizer{Text: "from secondary"}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	text, err := fb.Recognize(context.Background(), []byte{1, 0}, 16000, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "from secondary" {
		t.Errorf("want %q, got %q", "from secondary", text)
	}
	if got := secondary.Calls[0].SampleRate; got != 16000 {
		t.Errorf("want sample rate 16000 forwarded, got %d", got)
	}
}

func TestSTTFallback_NoSpeechIsFinal(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Recognizer{Err: stt.ErrNoSpeech}
	secondary := &sttmock.Recognizer{Text: "hallucinated"}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fb.AddFallback("secondary", secondary)

	for range 3 {
		_, err := fb.Recognize(context.Background(), nil, 16000, 2)
		if !errors.Is(err, stt.ErrNoSpeech) {
			t.Fatalf("want ErrNoSpeech, got %v", err)
		}
	}
	if n := secondary.CallCount(); n != 0 {
		t.Errorf("secondary called %d times, want 0", n)
	}
	if n := primary.CallCount(); n != 3 {
		t.Errorf("primary called %d times, want 3 (breaker must stay closed)", n)
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	t.Parallel()

	fb := NewSTTFallback(&sttmock.Recognizer{Err: errors.New("a")}, "a", FallbackConfig{})
	fb.AddFallback("b", &sttmock.Recognizer{Err: errors.New("b")})

	_, err := fb.Recognize(context.Background(), nil, 16000, 2)
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("want ErrAllFailed, got %v", err)
	}
}
