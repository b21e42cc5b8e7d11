// Package registry tracks the set of known backends: their configured
// addresses and their discovered capability descriptions.
//
// Entries are created by Register, refreshed by Discover, and never
// silently deleted: an unreachable backend stays listed and is marked
// unhealthy. A discovery failure never discards the last successfully
// fetched descriptor, so routing can keep using a stale-but-usable
// snapshot while the backend recovers.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentrelay/agentrelay/a2a"
)

// ErrUnknownBackend indicates the backend id was never registered.
var ErrUnknownBackend = errors.New("registry: unknown backend")

// Descriptor is the immutable identity of one delegatable backend,
// built from its discovered agent card. It is replaced wholesale on
// re-discovery, never mutated field by field.
type Descriptor struct {
	ID                string
	BaseURL           string
	DisplayName       string
	Skills            []a2a.Skill
	SupportsStreaming bool
	InputModes        []string
	OutputModes       []string
}

// Info is a point-in-time health view of one registry entry, including
// entries that have never been successfully discovered.
type Info struct {
	ID               string    `json:"id"`
	BaseURL          string    `json:"base_url"`
	DisplayName      string    `json:"display_name,omitempty"`
	Healthy          bool      `json:"healthy"`
	Discovered       bool      `json:"discovered"`
	LastDiscoveredAt time.Time `json:"last_discovered_at,omitzero"`
	LastError        string    `json:"last_error,omitempty"`
}

// Discoverer fetches a backend's agent card. Implemented by a2a.Client.
type Discoverer interface {
	Discover(ctx context.Context, baseURL string) (*a2a.Card, error)
}

// Metrics observes discovery outcomes. Implemented by the internal
// metrics collector; a nil hook disables observation.
type Metrics interface {
	ObserveDiscovery(backendID string, err error)
}

type entry struct {
	id               string
	baseURL          string
	card             *a2a.Card
	lastDiscoveredAt time.Time
	lastErr          error
}

// Registry is the process-wide owner of backend descriptors. All access
// goes through its methods; descriptors handed out are copies.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	client  Discoverer
	logger  *zap.Logger
	metrics Metrics
}

// New creates a Registry that discovers cards through client.
func New(client Discoverer, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]*entry),
		client:  client,
		logger:  logger.With(zap.String("component", "registry")),
	}
}

// WithMetrics attaches a discovery metrics hook and returns r.
func (r *Registry) WithMetrics(m Metrics) *Registry {
	r.metrics = m
	return r
}

// Register adds or replaces the address for id. It performs no network
// I/O and is idempotent. Registration order is preserved across
// re-registration; changing the address drops the cached descriptor
// since it described the old endpoint.
func (r *Registry) Register(id, baseURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok {
		if e.baseURL != baseURL {
			e.baseURL = baseURL
			e.card = nil
			e.lastErr = nil
			e.lastDiscoveredAt = time.Time{}
		}
		return
	}

	r.entries[id] = &entry{id: id, baseURL: baseURL}
	r.order = append(r.order, id)
	r.logger.Info("backend registered",
		zap.String("backend_id", id),
		zap.String("base_url", baseURL),
	)
}

// Discover fetches the backend's capability description. On success the
// descriptor is stored and the entry's error cleared; on failure the
// error is recorded and returned while any previously cached descriptor
// stays usable.
func (r *Registry) Discover(ctx context.Context, id string) (Descriptor, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.RUnlock()
		return Descriptor{}, ErrUnknownBackend
	}
	baseURL := e.baseURL
	r.mu.RUnlock()

	// Network I/O happens outside the lock so a slow backend never
	// blocks snapshots or other discoveries.
	card, err := r.client.Discover(ctx, baseURL)
	if r.metrics != nil {
		r.metrics.ObserveDiscovery(id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok = r.entries[id]
	if !ok {
		return Descriptor{}, ErrUnknownBackend
	}
	if err != nil {
		e.lastErr = err
		r.logger.Warn("backend discovery failed",
			zap.String("backend_id", id),
			zap.String("base_url", baseURL),
			zap.Error(err),
		)
		return Descriptor{}, err
	}

	e.card = card
	e.lastErr = nil
	e.lastDiscoveredAt = time.Now()
	r.logger.Info("backend discovered",
		zap.String("backend_id", id),
		zap.String("backend_name", card.Name),
		zap.Int("skills", len(card.Skills)),
	)
	return descriptorFrom(e), nil
}

// EnsureDiscovered discovers every registered backend that has no
// cached descriptor yet. Failures are recorded per entry and logged,
// never returned: a dead backend must not block routing for the rest.
func (r *Registry) EnsureDiscovered(ctx context.Context) {
	r.mu.RLock()
	var pending []string
	for _, id := range r.order {
		if r.entries[id].card == nil {
			pending = append(pending, id)
		}
	}
	r.mu.RUnlock()

	if len(pending) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range pending {
		g.Go(func() error {
			_, _ = r.Discover(gctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

// RefreshAll re-discovers every registered backend concurrently.
// Individual failures are recorded per entry; the returned error is
// non-nil only when ctx was canceled.
func (r *Registry) RefreshAll(ctx context.Context) error {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			_, _ = r.Discover(gctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

// Snapshot returns the descriptors of all successfully discovered
// backends, in registration order. The result is a point-in-time copy;
// concurrent discoveries never mutate a returned snapshot.
func (r *Registry) Snapshot() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		if e.card == nil {
			continue
		}
		out = append(out, descriptorFrom(e))
	}
	return out
}

// Get returns the descriptor for one backend, if discovered.
func (r *Registry) Get(id string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return Descriptor{}, ErrUnknownBackend
	}
	if e.card == nil {
		if e.lastErr != nil {
			return Descriptor{}, e.lastErr
		}
		return Descriptor{}, ErrUnknownBackend
	}
	return descriptorFrom(e), nil
}

// List returns the health view of every registered entry, in
// registration order, including never-discovered ones.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		info := Info{
			ID:               e.id,
			BaseURL:          e.baseURL,
			Healthy:          e.card != nil && e.lastErr == nil,
			Discovered:       e.card != nil,
			LastDiscoveredAt: e.lastDiscoveredAt,
		}
		if e.card != nil {
			info.DisplayName = e.card.Name
		}
		if e.lastErr != nil {
			info.LastError = e.lastErr.Error()
		}
		out = append(out, info)
	}
	return out
}

// descriptorFrom copies the entry's card into an owned Descriptor.
// Callers hold at least a read lock.
func descriptorFrom(e *entry) Descriptor {
	card := e.card
	d := Descriptor{
		ID:                e.id,
		BaseURL:           e.baseURL,
		DisplayName:       card.Name,
		SupportsStreaming: card.Capabilities.Streaming,
	}
	d.Skills = make([]a2a.Skill, len(card.Skills))
	for i, s := range card.Skills {
		d.Skills[i] = a2a.Skill{
			ID:          s.ID,
			Name:        s.Name,
			Description: s.Description,
			Tags:        append([]string(nil), s.Tags...),
			Examples:    append([]string(nil), s.Examples...),
		}
	}
	d.InputModes = append([]string(nil), card.DefaultInputModes...)
	d.OutputModes = append([]string(nil), card.DefaultOutputModes...)
	return d
}
