// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/jeranaias/docchat/internal/model"
)

// =============================================================================
// REGISTRY
// =============================================================================

// requestsPerSecond is the client-side pacing applied per provider.
// Backend quota enforcement still applies on top of this.
const requestsPerSecond = 5

// Snapshot is the registry state published to subscribers. All configs
// are deep copies; mutating a snapshot never touches the registry.
type Snapshot struct {
	Providers []*model.ProviderConfig
	ActiveID  string
}

// Active returns the snapshot's active provider, or nil.
func (s Snapshot) Active() *model.ProviderConfig {
	for _, p := range s.Providers {
		if p.ID == s.ActiveID {
			return p
		}
	}
	return nil
}

// Registry owns the provider configurations: the active selection,
// credential and endpoint rotation, partial updates, and the custom
// provider lifecycle. Changes are published to subscribers.
type Registry struct {
	mu        sync.Mutex
	providers map[string]*model.ProviderConfig
	order     []string // stable listing order
	activeID  string
	limiters  map[string]*rate.Limiter

	subs    map[int]chan Snapshot
	nextSub int
}

// builtinTypes are seeded into every new registry. Builtins exist from
// the start, disabled, and cannot be deleted.
var builtinTypes = []model.ProviderType{
	model.ProviderOpenRouter,
	model.ProviderOpenAI,
	model.ProviderAnthropic,
	model.ProviderGemini,
}

// NewRegistry creates a registry seeded with the builtin providers.
func NewRegistry() *Registry {
	r := &Registry{
		providers: make(map[string]*model.ProviderConfig),
		limiters:  make(map[string]*rate.Limiter),
		subs:      make(map[int]chan Snapshot),
	}
	for _, t := range builtinTypes {
		cfg := &model.ProviderConfig{
			ID:              string(t),
			Type:            t,
			IsBuiltin:       true,
			Temperature:     0.7,
			StreamingOutput: true,
			Endpoints:       []model.Endpoint{{BaseURL: specFor(t).defaultBaseURL}},
		}
		r.providers[cfg.ID] = cfg
		r.order = append(r.order, cfg.ID)
	}
	r.activeID = string(model.ProviderOpenRouter)
	return r
}

// =============================================================================
// LOOKUP
// =============================================================================

// Get returns a deep copy of one provider config.
func (r *Registry) Get(id string) (*model.ProviderConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return cfg.Clone(), nil
}

// List returns deep copies of all providers in stable order.
func (r *Registry) List() []*model.ProviderConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []*model.ProviderConfig {
	out := make([]*model.ProviderConfig, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.providers[id].Clone())
	}
	return out
}

// ActiveID returns the id of the currently selected provider.
func (r *Registry) ActiveID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

// Active returns a deep copy of the currently selected provider.
func (r *Registry) Active() *model.ProviderConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg, ok := r.providers[r.activeID]; ok {
		return cfg.Clone()
	}
	return nil
}

// SetActive selects the provider used for new conversations.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	if _, ok := r.providers[id]; !ok {
		r.mu.Unlock()
		return ErrProviderNotFound
	}
	r.activeID = id
	r.publishLocked()
	r.mu.Unlock()
	return nil
}

// =============================================================================
// ADAPTERS AND PACING
// =============================================================================

// limiterFor returns the provider's rate limiter, creating it on first
// use. Limiters are shared across adapters for the same provider so
// pacing holds regardless of how many adapters exist.
func (r *Registry) limiterFor(id string) *rate.Limiter {
	if l, ok := r.limiters[id]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	r.limiters[id] = l
	return l
}

// AdapterFor returns an adapter bound to a copy of the provider's current
// config and its shared rate limiter.
func (r *Registry) AdapterFor(id string) (*Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return NewAdapter(cfg.Clone(), r.limiterFor(id)), nil
}

// ActiveAdapter returns an adapter for the currently selected provider.
func (r *Registry) ActiveAdapter() (*Adapter, error) {
	r.mu.Lock()
	id := r.activeID
	r.mu.Unlock()
	return r.AdapterFor(id)
}

// =============================================================================
// MUTATION
// =============================================================================

// Update merges a partial update into one provider and notifies
// subscribers.
func (r *Registry) Update(id string, u model.ProviderUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.providers[id]
	if !ok {
		return ErrProviderNotFound
	}
	cfg.Apply(u)
	r.publishLocked()
	return nil
}

// RotateKey advances the provider's current endpoint to its next API key.
func (r *Registry) RotateKey(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.providers[id]
	if !ok {
		return ErrProviderNotFound
	}
	if ep := cfg.CurrentEndpoint(); ep != nil {
		ep.RotateKey()
	}
	r.publishLocked()
	return nil
}

// RotateEndpoint advances the provider to its next endpoint.
func (r *Registry) RotateEndpoint(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.providers[id]
	if !ok {
		return ErrProviderNotFound
	}
	cfg.RotateEndpoint()
	r.publishLocked()
	return nil
}

// AddCustomModel registers a user-added model on one provider.
func (r *Registry) AddCustomModel(id, modelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.providers[id]
	if !ok {
		return ErrProviderNotFound
	}
	cfg.AddCustomModel(modelID)
	r.publishLocked()
	return nil
}

// RemoveCustomModel removes a user-added model from one provider.
func (r *Registry) RemoveCustomModel(id, modelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.providers[id]
	if !ok {
		return ErrProviderNotFound
	}
	cfg.RemoveCustomModel(modelID)
	r.publishLocked()
	return nil
}

// CreateCustom registers a user-defined provider speaking one of the
// known wire protocols, typically an OpenAI-compatible endpoint. Returns
// the new provider's id.
func (r *Registry) CreateCustom(name string, t model.ProviderType, baseURL string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := "custom-" + uuid.NewString()[:8]
	cfg := &model.ProviderConfig{
		ID:              id,
		Type:            t,
		Enabled:         true,
		Temperature:     0.7,
		StreamingOutput: true,
		Endpoints:       []model.Endpoint{{BaseURL: strings.TrimSuffix(baseURL, "/")}},
	}
	if name != "" {
		cfg.ID = name
		if _, exists := r.providers[cfg.ID]; exists {
			cfg.ID = id
		}
	}

	r.providers[cfg.ID] = cfg
	r.order = append(r.order, cfg.ID)
	r.publishLocked()
	return cfg.ID, nil
}

// Delete removes a custom provider. Builtins cannot be deleted; the
// active selection falls back to the first remaining provider.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.providers[id]
	if !ok {
		return ErrProviderNotFound
	}
	if cfg.IsBuiltin {
		return ErrBuiltinProvider
	}

	delete(r.providers, id)
	delete(r.limiters, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.activeID == id && len(r.order) > 0 {
		r.activeID = r.order[0]
	}
	r.publishLocked()
	return nil
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// Serialize returns the registry state for persistence.
func (r *Registry) Serialize() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{Providers: r.listLocked(), ActiveID: r.activeID}
}

// Restore replaces registry state from a persisted snapshot. Builtins
// missing from the snapshot are re-seeded so an old config file never
// hides a provider type.
func (r *Registry) Restore(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seeded := NewRegistry()
	r.providers = seeded.providers
	r.order = seeded.order
	r.activeID = seeded.activeID

	for _, cfg := range s.Providers {
		if _, exists := r.providers[cfg.ID]; !exists {
			r.order = append(r.order, cfg.ID)
		}
		r.providers[cfg.ID] = cfg.Clone()
	}
	if _, ok := r.providers[s.ActiveID]; ok && s.ActiveID != "" {
		r.activeID = s.ActiveID
	}
	r.publishLocked()
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// Subscribe registers for change notification. The current state is
// delivered immediately so subscribers need no separate initial read.
// Slow subscribers miss intermediate states, never the latest one.
func (r *Registry) Subscribe() (int, <-chan Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextSub
	r.nextSub++
	ch := make(chan Snapshot, 1)
	ch <- r.snapshotLocked()
	r.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscription and closes its channel.
func (r *Registry) Unsubscribe(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.subs[id]; ok {
		delete(r.subs, id)
		close(ch)
	}
}

func (r *Registry) snapshotLocked() Snapshot {
	return Snapshot{Providers: r.listLocked(), ActiveID: r.activeID}
}

// publishLocked pushes the current state to every subscriber, replacing
// any undelivered previous state.
func (r *Registry) publishLocked() {
	snap := r.snapshotLocked()
	for _, ch := range r.subs {
		select {
		case ch <- snap:
		default:
			// Drop the stale snapshot, then deliver the fresh one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
