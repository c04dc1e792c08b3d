package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voiceloop/pkg/provider/llm"
	"github.com/MrWong99/voiceloop/pkg/provider/stt"
	"github.com/MrWong99/voiceloop/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm map[string]func(ProviderEntry) (llm.Provider, error)
	stt map[string]func(ProviderEntry) (stt.Recognizer, error)
	tts map[string]func(ProviderEntry) (tts.Synthesizer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm: make(map[string]func(ProviderEntry) (llm.Provider, error)),
		stt: make(map[string]func(ProviderEntry) (stt.Recognizer, error)),
		tts: make(map[string]func(ProviderEntry) (tts.Synthesizer, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterSTT registers a speech recognizer factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Recognizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTTS registers a speech synthesizer factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Synthesizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateLLM instantiates the LLM provider named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, r.llm, "llm", entry)
}

// CreateSTT instantiates the recognizer named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Recognizer, error) {
	return create(r, r.stt, "stt", entry)
}

// CreateTTS instantiates the synthesizer named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Synthesizer, error) {
	return create(r, r.tts, "tts", entry)
}

// Names returns the registered provider names of kind ("llm", "stt" or
// "tts"), sorted.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "llm":
		names = keys(r.llm)
	case "stt":
		names = keys(r.stt)
	case "tts":
		names = keys(r.tts)
	}
	slices.Sort(names)
	return names
}

func create[T any](r *Registry, factories map[string]func(ProviderEntry) (T, error), kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s provider %q", ErrProviderNotRegistered, kind, entry.Name)
	}
	p, err := factory(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s provider %q: %w", kind, entry.Name, err)
	}
	return p, nil
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
