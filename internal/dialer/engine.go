package dialer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/lead-dialer/internal/domain"
	"github.com/acme/lead-dialer/internal/queue"
	"github.com/acme/lead-dialer/internal/repository"
	"github.com/acme/lead-dialer/internal/telephony"
	apperrors "github.com/acme/lead-dialer/pkg/errors"
	"github.com/acme/lead-dialer/pkg/logger"
)

// State enumerates engine lifecycle states.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateStopping  State = "stopping"
	StateCompleted State = "completed"
)

// Slots abstracts the global dial-slot limiter. Nil means unlimited.
type Slots interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// EventSink receives reconciled call events for downstream consumers.
type EventSink interface {
	PublishEvent(ctx context.Context, msg queue.CallEventMessage) error
}

// Deps bundles the engine's external collaborators.
type Deps struct {
	Store    repository.LeadStore
	Calls    repository.CallLog
	Provider telephony.Provider
	Slots    Slots
	Events   EventSink
	Logger   *logger.Logger
}

// Options tunes engine internals shared by every campaign.
type Options struct {
	SweepInterval   time.Duration
	QueueLowWater   int
	RefillBatchSize int
}

func (o Options) withDefaults() Options {
	if o.SweepInterval <= 0 {
		o.SweepInterval = 30 * time.Second
	}
	if o.QueueLowWater <= 0 {
		o.QueueLowWater = 10
	}
	if o.RefillBatchSize <= 0 {
		o.RefillBatchSize = 200
	}
	return o
}

// Engine is the per-campaign auto-dialer scheduler. One mutex serializes
// the three mutation sources (dial tick, timeout sweep, completion
// callbacks); engines of different campaigns share nothing and run fully
// independently.
type Engine struct {
	campaignID uuid.UUID
	settings   domain.DialerSettings
	deps       Deps
	opts       Options

	mu        sync.Mutex
	state     State
	queue     *DialQueue
	active    map[uuid.UUID]*domain.ActiveCall
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt *time.Time
	lastTick  *time.Time

	// onTerminate is invoked after natural completion so the registry can
	// evict the entry. The engine never self-registers.
	onTerminate func(campaignID uuid.UUID)

	now func() time.Time
}

// NewEngine constructs an idle engine for the campaign. Settings are
// validated at Start.
func NewEngine(campaignID uuid.UUID, settings domain.DialerSettings, deps Deps, opts Options) *Engine {
	return &Engine{
		campaignID: campaignID,
		settings:   settings,
		deps:       deps,
		opts:       opts.withDefaults(),
		state:      StateIdle,
		queue:      NewDialQueue(),
		active:     make(map[uuid.UUID]*domain.ActiveCall),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start transitions idle to running: validates settings, persists the
// campaign as active, performs the initial queue refill and launches the
// dial tick and timeout sweep loops.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateIdle {
		return fmt.Errorf("%w: campaign %s engine is %s", apperrors.ErrAlreadyRunning, e.campaignID, e.state)
	}

	if err := e.settings.Validate(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	now := e.now()
	update := repository.CampaignUpdate{Status: campaignStatus(domain.CampaignStatusActive), StartedAt: &now}
	if err := e.deps.Store.UpdateCampaign(ctx, e.campaignID, update); err != nil {
		return fmt.Errorf("engine: mark campaign active: %w", err)
	}

	e.refillLocked(ctx)

	e.state = StateRunning
	e.startedAt = &now
	e.lastTick = nil

	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(2)
	go e.dialLoop(loopCtx)
	go e.sweepLoop(loopCtx)

	e.deps.Logger.Info("engine started",
		zap.String("campaign_id", e.campaignID.String()),
		zap.Duration("tick_interval", e.settings.TickInterval()),
		zap.Int("max_concurrent_calls", e.settings.MaxConcurrentCalls))
	return nil
}

// Pause stops issuing new calls; in-flight calls run to completion. No-op
// unless running.
func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateRunning {
		return nil
	}
	e.state = StatePaused
	if err := e.deps.Store.UpdateCampaign(ctx, e.campaignID, repository.CampaignUpdate{Status: campaignStatus(domain.CampaignStatusPaused)}); err != nil {
		e.deps.Logger.Error("engine: persist paused status", zap.Error(err), zap.String("campaign_id", e.campaignID.String()))
	}
	e.deps.Logger.Info("engine paused", zap.String("campaign_id", e.campaignID.String()))
	return nil
}

// Resume re-enters the running state without re-validating idle. No-op
// unless paused.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StatePaused {
		return nil
	}
	e.state = StateRunning
	if err := e.deps.Store.UpdateCampaign(ctx, e.campaignID, repository.CampaignUpdate{Status: campaignStatus(domain.CampaignStatusActive)}); err != nil {
		e.deps.Logger.Error("engine: persist active status", zap.Error(err), zap.String("campaign_id", e.campaignID.String()))
	}
	e.deps.Logger.Info("engine resumed", zap.String("campaign_id", e.campaignID.String()))
	return nil
}

// Stop cancels both loops, force-ends every in-flight call as cancelled,
// persists the campaign as paused and returns the engine to idle. Safe to
// call on an already idle or completed engine.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateIdle || e.state == StateCompleted {
		e.mu.Unlock()
		return nil
	}
	e.state = StateStopping
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()

	for callID := range e.active {
		e.finishCallLocked(ctx, callID, domain.OutcomeCancelled)
	}
	e.queue.Replace(nil)

	if err := e.deps.Store.UpdateCampaign(ctx, e.campaignID, repository.CampaignUpdate{Status: campaignStatus(domain.CampaignStatusPaused)}); err != nil {
		e.deps.Logger.Error("engine: persist paused status on stop", zap.Error(err), zap.String("campaign_id", e.campaignID.String()))
	}

	e.state = StateIdle
	e.cancel = nil
	e.startedAt = nil
	e.deps.Logger.Info("engine stopped", zap.String("campaign_id", e.campaignID.String()))
	return nil
}

// OnCallCompletion reconciles a completion callback for the given call id.
// Returns false when the id is unknown to this engine; duplicates and
// unknown ids are safe no-ops.
func (e *Engine) OnCallCompletion(ctx context.Context, callID uuid.UUID, outcome domain.CallOutcome) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	handled := e.finishCallLocked(ctx, callID, outcome)
	if handled && e.state == StateRunning {
		e.checkDoneLocked(ctx)
	}
	return handled
}

// CampaignID returns the owning campaign.
func (e *Engine) CampaignID() uuid.UUID {
	return e.campaignID
}

// State returns the current engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Status assembles the monitoring snapshot from the in-memory call set and
// the persisted campaign counters. Not authoritative; a store failure
// degrades to the in-memory half.
func (e *Engine) Status(ctx context.Context) domain.DialerStatus {
	e.mu.Lock()
	status := domain.DialerStatus{
		CampaignID:  e.campaignID,
		State:       string(e.state),
		ActiveCalls: len(e.active),
		QueuedLeads: e.queue.Len(),
		StartedAt:   e.startedAt,
		LastTickAt:  e.lastTick,
	}
	e.mu.Unlock()

	campaign, err := e.deps.Store.GetCampaign(ctx, e.campaignID)
	if err != nil {
		e.deps.Logger.Warn("engine: status campaign lookup", zap.Error(err), zap.String("campaign_id", e.campaignID.String()))
		return status
	}
	status.TotalLeads = campaign.Stats.TotalLeads
	status.LeadsCalled = campaign.Stats.LeadsCalled
	status.LeadsAnswered = campaign.Stats.LeadsAnswered
	status.LeadsCompleted = campaign.Stats.LeadsCompleted
	return status
}

func (e *Engine) dialLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.settings.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) sweepLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

// tick launches new calls up to the concurrency ceiling. Errors never
// escape: a bad lead or a failed store call is logged and the loop keeps
// going.
func (e *Engine) tick(ctx context.Context) {
	tracer := otel.Tracer("dialer.engine")
	sctx, span := tracer.Start(ctx, "engine.tick", trace.WithAttributes(
		attribute.String("campaign.id", e.campaignID.String()),
	))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.lastTick = &now

	if e.state != StateRunning {
		return
	}

	if !WithinCallingHours(e.settings, now) {
		span.SetAttributes(attribute.Bool("calling_hours.outside", true))
		e.deps.Logger.Debug("engine: outside calling hours", zap.String("campaign_id", e.campaignID.String()))
		return
	}

	if e.queue.Len() < e.opts.QueueLowWater {
		e.refillLocked(sctx)
	}

	launched := 0
	for len(e.active) < e.settings.MaxConcurrentCalls {
		if !e.acquireSlot(sctx) {
			break
		}

		lead, ok := e.queue.Dequeue(func(l domain.Lead) bool {
			return IsEligible(l, e.settings, e.now())
		})
		if !ok {
			e.releaseSlot(sctx)
			break
		}

		if !e.dispatchLocked(sctx, lead) {
			break
		}
		launched++
	}

	span.SetAttributes(
		attribute.Int("calls.launched", launched),
		attribute.Int("calls.active", len(e.active)),
		attribute.Int("queue.len", e.queue.Len()),
	)

	e.checkDoneLocked(sctx)
}

// refillLocked replaces the queue with a fresh eligible batch. A store
// failure keeps the previous queue; the next refill retries.
func (e *Engine) refillLocked(ctx context.Context) {
	statuses := []domain.LeadStatus{domain.LeadStatusPending, domain.LeadStatusFailed}
	leads, err := e.deps.Store.QueryEligibleLeads(ctx, e.campaignID, statuses, e.settings.RetryAttempts)
	if err != nil {
		e.deps.Logger.Warn("engine: refill query failed", zap.Error(err), zap.String("campaign_id", e.campaignID.String()))
		return
	}

	now := e.now()
	eligible := leads[:0]
	for _, lead := range leads {
		if IsEligible(lead, e.settings, now) {
			eligible = append(eligible, lead)
		}
	}
	// Rank before capping, or the cap would cut off whatever the store
	// happened to return last regardless of priority.
	sortLeads(eligible)
	if len(eligible) > e.opts.RefillBatchSize {
		eligible = eligible[:e.opts.RefillBatchSize]
	}

	e.queue.Replace(eligible)
	e.deps.Logger.Debug("engine: queue refilled",
		zap.String("campaign_id", e.campaignID.String()),
		zap.Int("queued", e.queue.Len()))
}

// dispatchLocked persists the attempt, then places the call. The attempt
// increment must be durable before the provider is invoked so a crash
// mid-call can never under-count attempts. Returns false when the store is
// unreachable and the tick should give up.
func (e *Engine) dispatchLocked(ctx context.Context, lead domain.Lead) bool {
	tracer := otel.Tracer("dialer.engine")
	sctx, span := tracer.Start(ctx, "engine.dispatch", trace.WithAttributes(
		attribute.String("campaign.id", e.campaignID.String()),
		attribute.String("lead.id", lead.ID.String()),
		attribute.Int("attempt", lead.CallAttempts+1),
	))
	defer span.End()

	now := e.now()
	calling := domain.LeadStatusCalling
	update := repository.LeadUpdate{
		Status:            &calling,
		IncrementAttempts: true,
		LastCallAt:        &now,
	}
	if err := e.deps.Store.UpdateLead(sctx, lead.ID, update); err != nil {
		span.RecordError(err)
		e.deps.Logger.Error("engine: persist attempt failed, lead not dialed",
			zap.Error(err), zap.String("lead_id", lead.ID.String()))
		e.releaseSlot(sctx)
		return false
	}

	callID := uuid.New()
	req := telephony.DialRequest{
		CallID:      callID,
		CampaignID:  e.campaignID,
		LeadID:      lead.ID,
		PhoneNumber: lead.PhoneNumber,
		Timeout:     e.settings.CallTimeout,
	}

	ref, err := e.deps.Provider.PlaceCall(sctx, req)
	if err != nil {
		span.RecordError(err)
		e.deps.Logger.Error("engine: place call failed",
			zap.Error(err), zap.String("lead_id", lead.ID.String()), zap.String("phone", lead.PhoneNumber))

		failed := domain.LeadStatusFailed
		dialerErr := domain.OutcomeDialerError
		if uerr := e.deps.Store.UpdateLead(sctx, lead.ID, repository.LeadUpdate{Status: &failed, Outcome: &dialerErr}); uerr != nil {
			e.deps.Logger.Error("engine: mark dialer_error failed", zap.Error(uerr), zap.String("lead_id", lead.ID.String()))
		}
		e.appendEventLocked(sctx, callID, lead.ID, lead.PhoneNumber, domain.PhaseFailed, &dialerErr, err.Error())
		e.releaseSlot(sctx)
		return true
	}

	e.active[callID] = &domain.ActiveCall{
		ID:          callID,
		LeadID:      lead.ID,
		PhoneNumber: lead.PhoneNumber,
		ProviderRef: ref,
		StartedAt:   now,
		Phase:       domain.PhaseDialing,
	}
	e.appendEventLocked(sctx, callID, lead.ID, lead.PhoneNumber, domain.PhaseDialing, nil, "")

	e.deps.Logger.Info("engine: call dispatched",
		zap.String("campaign_id", e.campaignID.String()),
		zap.String("call_id", callID.String()),
		zap.String("lead_id", lead.ID.String()),
		zap.String("provider_ref", ref))
	return true
}

// sweep force-completes calls that exceeded the campaign call timeout.
// This is the sole mechanism keeping never-acknowledged calls from
// occupying concurrency slots forever. Runs while running or paused.
func (e *Engine) sweep(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateRunning && e.state != StatePaused {
		return
	}

	now := e.now()
	var expired []uuid.UUID
	for id, call := range e.active {
		if now.Sub(call.StartedAt) > e.settings.CallTimeout {
			expired = append(expired, id)
		}
	}

	for _, id := range expired {
		e.deps.Logger.Warn("engine: call timed out",
			zap.String("campaign_id", e.campaignID.String()),
			zap.String("call_id", id.String()))
		e.finishCallLocked(ctx, id, domain.OutcomeTimeout)
	}

	if len(expired) > 0 && e.state == StateRunning {
		e.checkDoneLocked(ctx)
	}
}

// finishCallLocked applies the completion exactly once: lead status,
// campaign aggregates, event log, slot release. Unknown call ids are
// debug-logged no-ops.
func (e *Engine) finishCallLocked(ctx context.Context, callID uuid.UUID, outcome domain.CallOutcome) bool {
	call, ok := e.active[callID]
	if !ok {
		// Duplicate or foreign callback; the registry logs the drop.
		return false
	}
	delete(e.active, callID)
	e.releaseSlot(ctx)

	leadStatus := domain.LeadStatusFailed
	if outcome == domain.OutcomeAnswered {
		leadStatus = domain.LeadStatusCompleted
	}
	if err := e.deps.Store.UpdateLead(ctx, call.LeadID, repository.LeadUpdate{Status: &leadStatus, Outcome: &outcome}); err != nil {
		e.deps.Logger.Error("engine: reconcile lead failed", zap.Error(err), zap.String("lead_id", call.LeadID.String()))
	}

	delta := repository.StatsDelta{LeadsCalledDelta: 1}
	if outcome == domain.OutcomeAnswered {
		delta.LeadsAnsweredDelta = 1
		delta.LeadsCompletedDelta = 1
	}
	if err := e.deps.Store.UpdateCampaign(ctx, e.campaignID, repository.CampaignUpdate{Delta: delta}); err != nil {
		e.deps.Logger.Error("engine: reconcile campaign failed", zap.Error(err), zap.String("campaign_id", e.campaignID.String()))
	}

	e.appendEventLocked(ctx, callID, call.LeadID, call.PhoneNumber, domain.PhaseCompleted, &outcome, "")

	if e.deps.Events != nil {
		msg := queue.CallEventMessage{
			CallID:      callID,
			CampaignID:  e.campaignID,
			LeadID:      call.LeadID,
			PhoneNumber: call.PhoneNumber,
			Phase:       string(domain.PhaseCompleted),
			Outcome:     string(outcome),
			OccurredAt:  e.now(),
		}
		if err := e.deps.Events.PublishEvent(ctx, msg); err != nil {
			e.deps.Logger.Warn("engine: publish call event", zap.Error(err), zap.String("call_id", callID.String()))
		}
	}

	e.deps.Logger.Info("engine: call reconciled",
		zap.String("campaign_id", e.campaignID.String()),
		zap.String("call_id", callID.String()),
		zap.String("outcome", string(outcome)))
	return true
}

// checkDoneLocked performs the natural-completion transition: queue
// exhausted, nothing in flight, still running.
func (e *Engine) checkDoneLocked(ctx context.Context) {
	if e.state != StateRunning || e.queue.Len() != 0 || len(e.active) != 0 {
		return
	}

	now := e.now()
	e.state = StateCompleted
	if e.cancel != nil {
		e.cancel()
	}

	update := repository.CampaignUpdate{Status: campaignStatus(domain.CampaignStatusCompleted), CompletedAt: &now}
	if err := e.deps.Store.UpdateCampaign(ctx, e.campaignID, update); err != nil {
		e.deps.Logger.Error("engine: persist completed status", zap.Error(err), zap.String("campaign_id", e.campaignID.String()))
	}

	e.deps.Logger.Info("engine completed", zap.String("campaign_id", e.campaignID.String()))

	if e.onTerminate != nil {
		// Runs outside the engine lock; the registry takes its own lock.
		go e.onTerminate(e.campaignID)
	}
}

func (e *Engine) appendEventLocked(ctx context.Context, callID, leadID uuid.UUID, phone string, phase domain.CallPhase, outcome *domain.CallOutcome, errText string) {
	if e.deps.Calls == nil {
		return
	}
	event := repository.CallEvent{
		CallID:      callID,
		CampaignID:  e.campaignID,
		LeadID:      leadID,
		PhoneNumber: phone,
		Phase:       phase,
		Outcome:     outcome,
		Error:       errText,
		OccurredAt:  e.now(),
	}
	if err := e.deps.Calls.AppendEvent(ctx, event); err != nil {
		e.deps.Logger.Warn("engine: append call event", zap.Error(err), zap.String("call_id", callID.String()))
	}
}

func (e *Engine) acquireSlot(ctx context.Context) bool {
	if e.deps.Slots == nil {
		return true
	}
	ok, err := e.deps.Slots.Acquire(ctx)
	if err != nil {
		e.deps.Logger.Warn("engine: slot acquire", zap.Error(err), zap.String("campaign_id", e.campaignID.String()))
		return false
	}
	return ok
}

func (e *Engine) releaseSlot(ctx context.Context) {
	if e.deps.Slots == nil {
		return
	}
	if err := e.deps.Slots.Release(ctx); err != nil {
		e.deps.Logger.Warn("engine: slot release", zap.Error(err), zap.String("campaign_id", e.campaignID.String()))
	}
}

func campaignStatus(s domain.CampaignStatus) *domain.CampaignStatus {
	return &s
}
