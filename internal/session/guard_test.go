package session_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/voiceloop/internal/session"
)

func TestGuard_TryAcquire(t *testing.T) {
	t.Parallel()
	g := session.NewGuard(nil)

	release, ok := g.TryAcquire("a")
	if !ok {
		t.Fatal("want first acquire to succeed")
	}
	if _, ok := g.TryAcquire("a"); ok {
		t.Error("want second acquire of a busy session to fail")
	}
	if _, ok := g.TryAcquire("b"); !ok {
		t.Error("want other sessions unaffected")
	}
	if !g.Busy("a") {
		t.Error("want a busy")
	}

	release()
	release() // idempotent
	if g.Busy("a") {
		t.Error("want a released")
	}
	if n := g.Active(); n != 1 {
		t.Errorf("want 1 active session, got %d", n)
	}
	if _, ok := g.TryAcquire("a"); !ok {
		t.Error("want reacquire after release")
	}
}

func TestGuard_ConcurrentAcquire(t *testing.T) {
	t.Parallel()
	g := session.NewGuard(nil)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := g.TryAcquire("same"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if n := wins.Load(); n != 1 {
		t.Errorf("want exactly one winner, got %d", n)
	}
}
