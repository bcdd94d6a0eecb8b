package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kilianp07/flexgrid/core/logger"
	"github.com/kilianp07/flexgrid/core/model"
)

// AssetStore persists flexibility assets in a durable store.
type AssetStore interface {
	LoadAssets(ctx context.Context) ([]model.FlexibilityAsset, error)
	SaveAsset(ctx context.Context, a model.FlexibilityAsset) error
}

// Registry is the authoritative in-memory view of flexibility assets.
// The map is a cache over the durable store, not the source of truth.
// Mutations from telemetry pushes are last-write-wins.
type Registry struct {
	store AssetStore
	log   logger.Logger

	mu     sync.RWMutex
	assets map[string]model.FlexibilityAsset
}

// New creates a Registry backed by the given store.
func New(store AssetStore, log logger.Logger) *Registry {
	return &Registry{
		store:  store,
		log:    log,
		assets: make(map[string]model.FlexibilityAsset),
	}
}

// Load populates the registry from the durable store. Existing in-memory
// state is replaced.
func (r *Registry) Load(ctx context.Context) error {
	assets, err := r.store.LoadAssets(ctx)
	if err != nil {
		return fmt.Errorf("load assets: %w", err)
	}
	r.mu.Lock()
	r.assets = make(map[string]model.FlexibilityAsset, len(assets))
	for _, a := range assets {
		r.assets[a.ID] = a
	}
	r.mu.Unlock()
	r.log.Infof("loaded %d assets", len(assets))
	return nil
}

// All returns a snapshot of every known asset, sorted by ID.
func (r *Registry) All() []model.FlexibilityAsset {
	r.mu.RLock()
	out := make([]model.FlexibilityAsset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the asset with the given ID.
func (r *Registry) Get(id string) (model.FlexibilityAsset, bool) {
	r.mu.RLock()
	a, ok := r.assets[id]
	r.mu.RUnlock()
	return a, ok
}

// ApplyPowerChange commits a new power level for the asset. It derives
// the operating status from the sign of the power, persists the change
// and updates the cache. This is the only mutation path for committed
// dispatch effects.
func (r *Registry) ApplyPowerChange(ctx context.Context, id string, powerKW float64) error {
	r.mu.Lock()
	a, ok := r.assets[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("asset not found: %s", id)
	}
	a.CurrentPowerKW = powerKW
	a.Status = a.DeriveStatus(powerKW)
	r.assets[id] = a
	r.mu.Unlock()

	if err := r.store.SaveAsset(ctx, a); err != nil {
		return fmt.Errorf("persist power change for %s: %w", id, err)
	}
	r.log.Debugw("power change applied", map[string]any{
		"asset_id": id,
		"power_kw": powerKW,
		"status":   a.Status.String(),
	})
	return nil
}

// OnExternalUpdate merges a telemetry push into the in-memory snapshot.
// The update overwrites the cached asset wholesale; partial fields are
// not merged.
func (r *Registry) OnExternalUpdate(a model.FlexibilityAsset) {
	if a.ID == "" {
		r.log.Warnf("ignoring telemetry update without asset id")
		return
	}
	r.mu.Lock()
	r.assets[a.ID] = a
	r.mu.Unlock()
}
