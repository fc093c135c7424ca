package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/voicelink/voicelink/pkg/audio/capture"
)

// ErrSourceNotRegistered is returned by [Registry.CreateSource] when no
// factory has been registered under the requested source name.
var ErrSourceNotRegistered = errors.New("config: audio source not registered")

// SourceFactory constructs a capture source from its configuration block.
type SourceFactory func(AudioConfig) (capture.Source, error)

// Registry maps audio source names to their constructor functions. Platform
// backends register themselves at init time; tests register fakes. It is safe
// for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]SourceFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]SourceFactory)}
}

// RegisterSource registers a capture source factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSource(name string, factory SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = factory
}

// CreateSource instantiates the capture source registered under cfg.Source.
// Returns [ErrSourceNotRegistered] if no factory has been registered for that
// name.
func (r *Registry) CreateSource(cfg AudioConfig) (capture.Source, error) {
	r.mu.RLock()
	factory, ok := r.sources[cfg.Source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSourceNotRegistered, cfg.Source)
	}
	return factory(cfg)
}

// Names returns the registered source names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultRegistry is the process-wide source registry. The built-in tone
// source is always available; platform backends add themselves at init time.
var DefaultRegistry = NewRegistry()

func init() {
	DefaultRegistry.RegisterSource("tone", func(cfg AudioConfig) (capture.Source, error) {
		src := &capture.ToneSource{}
		if cfg.NativeRate > 0 {
			src.Rate = cfg.NativeRate
		}
		return src, nil
	})
}

// SourceRegistered reports whether name is registered in [DefaultRegistry].
func SourceRegistered(name string) bool {
	return slices.Contains(DefaultRegistry.Names(), name)
}

// RegisteredSources returns the names registered in [DefaultRegistry].
func RegisteredSources() []string {
	return DefaultRegistry.Names()
}
