package dialer

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/lead-dialer/internal/domain"
	apperrors "github.com/acme/lead-dialer/pkg/errors"
)

// Registry is the process-wide table of engines, at most one per
// campaign. It is the sole enforcement point for that exclusivity; the
// engine itself never self-registers.
type Registry struct {
	deps Deps
	opts Options

	mu      sync.Mutex
	engines map[uuid.UUID]*Engine
}

// NewRegistry constructs an empty registry. All engines it creates share
// the same collaborators and options.
func NewRegistry(deps Deps, opts Options) *Registry {
	return &Registry{
		deps:    deps,
		opts:    opts,
		engines: make(map[uuid.UUID]*Engine),
	}
}

// GetOrCreate returns the engine registered for the campaign, or
// constructs and registers one. Settings are honored only on creation; a
// differing settings value for an existing entry is ignored.
func (r *Registry) GetOrCreate(campaignID uuid.UUID, settings domain.DialerSettings) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()

	if engine, ok := r.engines[campaignID]; ok {
		return engine
	}

	engine := NewEngine(campaignID, settings, r.deps, r.opts)
	engine.onTerminate = r.Remove
	r.engines[campaignID] = engine
	return engine
}

// Get returns the registered engine or ErrNotFound.
func (r *Registry) Get(campaignID uuid.UUID) (*Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	engine, ok := r.engines[campaignID]
	if !ok {
		return nil, fmt.Errorf("%w: no engine for campaign %s", apperrors.ErrNotFound, campaignID)
	}
	return engine, nil
}

// Remove evicts the entry. Called on natural completion and on explicit
// stop.
func (r *Registry) Remove(campaignID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, campaignID)
}

// Start loads the campaign, then creates (or reuses) and starts its
// engine. Settings come from the campaign record at creation time.
func (r *Registry) Start(ctx context.Context, campaignID uuid.UUID) error {
	campaign, err := r.deps.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("registry: load campaign: %w", err)
	}

	engine := r.GetOrCreate(campaignID, campaign.Settings)
	return engine.Start(ctx)
}

// Pause delegates to the campaign's engine.
func (r *Registry) Pause(ctx context.Context, campaignID uuid.UUID) error {
	engine, err := r.Get(campaignID)
	if err != nil {
		return err
	}
	return engine.Pause(ctx)
}

// Resume delegates to the campaign's engine.
func (r *Registry) Resume(ctx context.Context, campaignID uuid.UUID) error {
	engine, err := r.Get(campaignID)
	if err != nil {
		return err
	}
	return engine.Resume(ctx)
}

// Stop tears down the campaign's engine and evicts it, so the next
// GetOrCreate hands out a fresh idle engine.
func (r *Registry) Stop(ctx context.Context, campaignID uuid.UUID) error {
	engine, err := r.Get(campaignID)
	if err != nil {
		return err
	}
	if err := engine.Stop(ctx); err != nil {
		return err
	}
	r.Remove(campaignID)
	return nil
}

// Status returns the monitoring snapshot for the campaign's engine.
func (r *Registry) Status(ctx context.Context, campaignID uuid.UUID) (domain.DialerStatus, error) {
	engine, err := r.Get(campaignID)
	if err != nil {
		return domain.DialerStatus{}, err
	}
	return engine.Status(ctx), nil
}

// OnCallCompletion routes a completion callback to the engine holding the
// call. Unknown call ids are logged at debug level and dropped; the
// callback transport may deliver duplicates or relay calls this process
// never placed.
func (r *Registry) OnCallCompletion(ctx context.Context, callID uuid.UUID, outcome domain.CallOutcome) {
	r.mu.Lock()
	engines := make([]*Engine, 0, len(r.engines))
	for _, engine := range r.engines {
		engines = append(engines, engine)
	}
	r.mu.Unlock()

	for _, engine := range engines {
		if engine.OnCallCompletion(ctx, callID, outcome) {
			return
		}
	}

	r.deps.Logger.Debug("registry: completion for unknown call",
		zap.String("call_id", callID.String()),
		zap.String("outcome", string(outcome)))
}
