// Package instance maps instance ids to engine clients.
//
// Instances are either configured (base URL and token, turned into a REST
// client on first use) or registered directly with a ready client. Lookups
// of unknown ids fail with a NotFound error.
package instance

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/canvas"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/config"
	ferrors "github.com/randalmurphal/flowdeploy/pkg/flowdeploy/errors"
)

// Factory builds a client for a configured instance.
type Factory func(inst config.Instance) canvas.Client

// Registry is a thread-safe set of instances, optimised for reads.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]config.Instance
	clients map[string]canvas.Client
	factory Factory
}

// Option configures a Registry.
type Option func(*Registry)

// WithFactory replaces the client factory used for configured instances.
func WithFactory(f Factory) Option {
	return func(r *Registry) {
		if f != nil {
			r.factory = f
		}
	}
}

// New creates an empty registry. Configured instances become REST clients
// with the default HTTP timeout unless WithFactory is given.
func New(logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		configs: make(map[string]config.Instance),
		clients: make(map[string]canvas.Client),
		factory: RESTFactory(config.DefaultHTTPTimeout, logger),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FromSettings creates a registry holding every instance in s.
func FromSettings(s *config.Settings, logger *slog.Logger, opts ...Option) *Registry {
	opts = append([]Option{WithFactory(RESTFactory(s.HTTPTimeout, logger))}, opts...)
	r := New(logger, opts...)
	for _, inst := range s.Instances {
		r.Configure(inst)
	}
	return r
}

// RESTFactory returns a Factory producing REST clients. An instance without
// its own timeout uses defaultTimeout.
func RESTFactory(defaultTimeout time.Duration, logger *slog.Logger) Factory {
	return func(inst config.Instance) canvas.Client {
		timeout := inst.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		return canvas.NewRESTClient(inst.BaseURL,
			canvas.WithToken(inst.Token),
			canvas.WithTimeout(timeout),
			canvas.WithRESTLogger(logger))
	}
}

// Configure adds or replaces a configured instance. A client already built
// for the id is discarded.
func (r *Registry) Configure(inst config.Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[inst.ID] = inst
	delete(r.clients, inst.ID)
}

// Register adds or replaces an instance backed by client.
func (r *Registry) Register(id string, client canvas.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.configs, id)
	r.clients[id] = client
}

// Remove drops an instance.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.configs, id)
	delete(r.clients, id)
}

// Has reports whether id is known.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, built := r.clients[id]
	_, configured := r.configs[id]
	return built || configured
}

// Client returns the client for id, building it on first use. The factory
// is called at most once per configured id.
func (r *Registry) Client(id string) (canvas.Client, error) {
	r.mu.RLock()
	c, ok := r.clients[id]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[id]; ok {
		return c, nil
	}
	inst, ok := r.configs[id]
	if !ok {
		return nil, ferrors.NotFound("get instance", "instance %q is not configured", id)
	}
	c = r.factory(inst)
	r.clients[id] = c
	return c, nil
}

// IDs returns all instance ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool, len(r.configs)+len(r.clients))
	for id := range r.configs {
		seen[id] = true
	}
	for id := range r.clients {
		seen[id] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of instances.
func (r *Registry) Len() int {
	return len(r.IDs())
}
