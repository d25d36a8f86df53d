package pipeline

import (
	"context"
	"fmt"
	"sort"
)

// SynthRouter maps engine names to synthesis backends with O(1) lookup and a
// configurable fallback default.
type SynthRouter struct {
	backends map[string]Synthesizer
	fallback string
}

// NewSynthRouter creates a router with the given backends and a fallback
// engine name used when the requested engine is not found.
func NewSynthRouter(backends map[string]Synthesizer, fallback string) *SynthRouter {
	return &SynthRouter{backends: backends, fallback: fallback}
}

// Route returns the backend for the given engine name, falling back to the
// default.
func (r *SynthRouter) Route(engine string) (Synthesizer, error) {
	if backend, ok := r.backends[engine]; ok {
		return backend, nil
	}
	if backend, ok := r.backends[r.fallback]; ok {
		return backend, nil
	}
	return nil, fmt.Errorf("no backend for engine %q", engine)
}

// Has reports whether the router has a backend for the given engine name.
func (r *SynthRouter) Has(engine string) bool {
	_, ok := r.backends[engine]
	return ok
}

// Engines returns the names of all registered backends, sorted.
func (r *SynthRouter) Engines() []string {
	names := make([]string, 0, len(r.backends))
	for k := range r.backends {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Synthesize routes to the backend for engine and synthesizes the request.
func (r *SynthRouter) Synthesize(ctx context.Context, engine string, req SynthRequest) ([]byte, error) {
	backend, err := r.Route(engine)
	if err != nil {
		return nil, err
	}
	return backend.Synthesize(ctx, req)
}
