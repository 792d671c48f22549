package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/figuro/voice/pkg/provider/nlu"
	"github.com/figuro/voice/pkg/provider/stt"
	"github.com/figuro/voice/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds one provider from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	nlu        map[string]Factory[nlu.Provider]
	tts        map[string]Factory[tts.Provider]
	localVoice map[string]Factory[tts.LocalVoice]
	stt        map[string]Factory[stt.Transcriber]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		nlu:        make(map[string]Factory[nlu.Provider]),
		tts:        make(map[string]Factory[tts.Provider]),
		localVoice: make(map[string]Factory[tts.LocalVoice]),
		stt:        make(map[string]Factory[stt.Transcriber]),
	}
}

// RegisterNLU registers a remote NLU provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterNLU(name string, factory Factory[nlu.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nlu[name] = factory
}

// RegisterTTS registers a remote synthesizer factory under name.
func (r *Registry) RegisterTTS(name string, factory Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterLocalVoice registers an on-device voice factory under name.
func (r *Registry) RegisterLocalVoice(name string, factory Factory[tts.LocalVoice]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localVoice[name] = factory
}

// RegisterSTT registers a transcriber factory under name.
func (r *Registry) RegisterSTT(name string, factory Factory[stt.Transcriber]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// CreateNLU instantiates an NLU provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateNLU(entry ProviderEntry) (nlu.Provider, error) {
	return create(r, r.nlu, "nlu", entry)
}

// CreateTTS instantiates a remote synthesizer using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(r, r.tts, "tts", entry)
}

// CreateLocalVoice instantiates a local voice using the factory registered under entry.Name.
func (r *Registry) CreateLocalVoice(entry ProviderEntry) (tts.LocalVoice, error) {
	return create(r, r.localVoice, "local_voice", entry)
}

// CreateSTT instantiates a transcriber using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	return create(r, r.stt, "stt", entry)
}

// Names returns the registered provider names of kind, unsorted.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	collect := func(n string) { names = append(names, n) }
	switch kind {
	case "nlu":
		for n := range r.nlu {
			collect(n)
		}
	case "tts":
		for n := range r.tts {
			collect(n)
		}
	case "local_voice":
		for n := range r.localVoice {
			collect(n)
		}
	case "stt":
		for n := range r.stt {
			collect(n)
		}
	}
	return names
}

func create[T any](r *Registry, factories map[string]Factory[T], kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}
