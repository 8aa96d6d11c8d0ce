package transport

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"

	errspkg "github.com/drblury/asyncflow/internal/runtime/errors"
)

type registration struct {
	build Builder
	caps  Capabilities
}

// Registry maps PubSubSystem names to transport builders together with what
// each transport guarantees to queued envelopes. Names are case-insensitive.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// DefaultRegistry is the global transport registry.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

func normalize(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Register adds a builder whose guarantees are unknown. Such transports are
// treated as volatile and not safe for retries.
func (r *Registry) Register(name string, builder Builder) {
	r.RegisterWithCapabilities(name, builder, Capabilities{Name: normalize(name)})
}

// RegisterWithCapabilities adds a builder and its capabilities. An empty
// capability name is filled in with the registered name.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	key := normalize(name)
	if caps.Name == "" {
		caps.Name = key
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = registration{build: builder, caps: caps}
}

// GetCapabilities returns the capabilities for a registered transport, or a
// zero set carrying only the name when the transport is unknown.
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.entries[normalize(name)]; ok {
		return entry.caps
	}
	return Capabilities{Name: name}
}

// SafeForRetries reports whether envelopes republished on the named
// transport will still be queued for the next runner.
func (r *Registry) SafeForRetries(name string) bool {
	return r.GetCapabilities(name).SafeForRetries()
}

// RetrySafe returns the sorted names of transports that are safe for retries.
func (r *Registry) RetrySafe() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, entry := range r.entries {
		if entry.caps.SafeForRetries() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Build creates the transport named by the config's PubSubSystem.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	tr, _, err := r.Resolve(ctx, cfg, logger)
	return tr, err
}

// Resolve builds the configured transport and returns its capabilities.
func (r *Registry) Resolve(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, Capabilities, error) {
	if cfg == nil {
		return Transport{}, Capabilities{}, errspkg.ErrConfigRequired
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	name := cfg.GetPubSubSystem()

	r.mu.RLock()
	entry, ok := r.entries[normalize(name)]
	r.mu.RUnlock()

	if !ok {
		return Transport{}, Capabilities{}, fmt.Errorf("%w: %q (registered: %v)", errspkg.ErrUnknownTransport, name, r.Names())
	}

	tr, err := entry.build(ctx, cfg, logger)
	if err != nil {
		return Transport{}, Capabilities{}, err
	}
	return tr, entry.caps, nil
}

// Names returns the registered transport names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has returns true if a transport is registered with the given name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[normalize(name)]
	return ok
}

// Register adds a transport builder to the default registry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities adds a transport builder and its capabilities to the default registry.
func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// Build creates a transport using the default registry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}

// GetCapabilities returns the capabilities of a transport in the default registry.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
