package transport

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
)

// ErrUnknownTransport is returned by Build for an unregistered PubSubSystem.
var ErrUnknownTransport = errors.New("transport: unknown pubsub system")

// aliases maps alternative PubSubSystem spellings to registered names.
var aliases = map[string]string{
	"amqp":      "rabbitmq",
	"jetstream": "nats-jetstream",
	"gochannel": "channel",
}

// Normalize folds case and resolves aliases. Registry lookups go through it.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[name]; ok {
		return canonical
	}
	return name
}

type binding struct {
	build Builder
	caps  Capabilities
	// described is false for bindings registered without capabilities.
	described bool
}

// Registry maps PubSubSystem names to broker bindings.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]binding
}

// DefaultRegistry is the registry binding packages add themselves to from init.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]binding)}
}

func (r *Registry) Register(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[Normalize(name)] = binding{build: builder}
}

func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[Normalize(name)] = binding{build: builder, caps: caps, described: true}
}

func (r *Registry) lookup(name string) (binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[Normalize(name)]
	return b, ok
}

// GetCapabilities returns a Capabilities carrying only the name when the
// binding is unknown or did not describe itself.
func (r *Registry) GetCapabilities(name string) Capabilities {
	if b, ok := r.lookup(name); ok && b.described {
		return b.caps
	}
	return Capabilities{Name: Normalize(name)}
}

// Build creates the transport selected by cfg.GetPubSubSystem.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	if cfg == nil {
		return Transport{}, errors.New("transport: config is required")
	}
	name := cfg.GetPubSubSystem()
	b, ok := r.lookup(name)
	if !ok {
		return Transport{}, fmt.Errorf("%w %q (registered: %s)", ErrUnknownTransport, name, strings.Join(r.Names(), ", "))
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	t, err := b.build(ctx, cfg, logger)
	if err != nil {
		return Transport{}, fmt.Errorf("transport %s: %w", Normalize(name), err)
	}
	return t, nil
}

// Names returns the registered names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.bindings))
	for name := range r.bindings {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *Registry) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
