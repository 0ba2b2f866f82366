package asr

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tshigata/lecture-ai-engineering/internal/diaglog"
)

// Registry holds the configured backends and picks primary and fallback.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
	primary  string
	fallback string
	diag     *diaglog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
	}
}

// SetDiagLogger attaches a diagnostic logger for backend selection events.
func (r *Registry) SetDiagLogger(l *diaglog.Logger) {
	r.mu.Lock()
	r.diag = l
	r.mu.Unlock()
}

// Register adds b under its Name. The first backend registered becomes the
// primary.
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := b.Name()
	r.backends[name] = b
	if r.primary == "" {
		r.primary = name
	}
}

// SetPrimary selects the primary backend by name.
func (r *Registry) SetPrimary(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[name]; !ok {
		return fmt.Errorf("%w: %q is not registered", ErrNoBackend, name)
	}
	r.primary = name
	return nil
}

// SetFallback selects the fallback backend by name. An empty name clears it.
func (r *Registry) SetFallback(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name != "" {
		if _, ok := r.backends[name]; !ok {
			return fmt.Errorf("%w: %q is not registered", ErrNoBackend, name)
		}
	}
	r.fallback = name
	return nil
}

// Get returns a backend by name.
func (r *Registry) Get(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

// Primary returns the primary backend or nil.
func (r *Registry) Primary() Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backends[r.primary]
}

// Fallback returns the fallback backend or nil.
func (r *Registry) Fallback() Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.fallback == "" {
		return nil
	}
	return r.backends[r.fallback]
}

// Backends returns the registered names in sorted order.
func (r *Registry) Backends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthCheckAll checks every registered backend. A backend whose check
// returns an error is reported as unhealthy with the error as message.
func (r *Registry) HealthCheckAll(ctx context.Context) []*HealthStatus {
	var out []*HealthStatus
	for _, name := range r.Backends() {
		b, _ := r.Get(name)
		st, err := b.HealthCheck(ctx)
		if err != nil || st == nil {
			msg := "no status"
			if err != nil {
				msg = err.Error()
			}
			st = &HealthStatus{Backend: name, Message: msg}
		}
		out = append(out, st)
	}
	return out
}

func (r *Registry) log(e diaglog.LogEntry) {
	r.mu.RLock()
	l := r.diag
	r.mu.RUnlock()
	if l != nil {
		e.Component = diaglog.ComponentASR
		l.Log(e)
	}
}

// TranscribeWithFallback tries the primary backend and, when it fails and a
// fallback is configured, the fallback. Cancellation is never retried on the
// fallback.
func (r *Registry) TranscribeWithFallback(ctx context.Context, filePath string, opts TranscribeOptions) (*Transcript, error) {
	primary := r.Primary()
	if primary == nil {
		return nil, fmt.Errorf("%w: no primary backend", ErrNoBackend)
	}
	r.log(diaglog.LogEntry{Event: diaglog.EventBackendSelected, File: filePath, Payload: map[string]interface{}{"backend": primary.Name()}})

	transcript, err := primary.TranscribeFile(ctx, filePath, opts)
	if err == nil {
		return transcript, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("asr: %s: %w", primary.Name(), ctx.Err())
	}

	fallback := r.Fallback()
	if fallback == nil {
		return nil, fmt.Errorf("asr: primary backend %q failed: %w", primary.Name(), err)
	}
	r.log(diaglog.LogEntry{Event: diaglog.EventBackendFallback, File: filePath, Reason: err.Error(),
		Payload: map[string]interface{}{"backend": fallback.Name()}})

	transcript, fbErr := fallback.TranscribeFile(ctx, filePath, opts)
	if fbErr != nil {
		return nil, fmt.Errorf("asr: primary %q failed (%v), fallback %q also failed: %w", primary.Name(), err, fallback.Name(), fbErr)
	}
	return transcript, nil
}
