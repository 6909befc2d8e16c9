package dialer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/lead-dialer/internal/domain"
	"github.com/acme/lead-dialer/internal/repository"
	"github.com/acme/lead-dialer/internal/telephony"
	apperrors "github.com/acme/lead-dialer/pkg/errors"
	"github.com/acme/lead-dialer/pkg/logger"
)

// mondayTen is a Monday 10:00 UTC instant inside the default test window.
var mondayTen = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu sync.Mutex

	leads    []domain.Lead
	queryErr error

	campaign *domain.Campaign

	leadUpdates     map[uuid.UUID][]repository.LeadUpdate
	campaignUpdates []repository.CampaignUpdate
	updateLeadErr   error
}

func newFakeStore(leads ...domain.Lead) *fakeStore {
	return &fakeStore{
		leads:       leads,
		leadUpdates: make(map[uuid.UUID][]repository.LeadUpdate),
		campaign:    &domain.Campaign{Status: domain.CampaignStatusActive},
	}
}

func (s *fakeStore) QueryEligibleLeads(ctx context.Context, campaignID uuid.UUID, statuses []domain.LeadStatus, maxAttempts int) ([]domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	out := make([]domain.Lead, len(s.leads))
	copy(out, s.leads)
	return out, nil
}

func (s *fakeStore) UpdateLead(ctx context.Context, leadID uuid.UUID, update repository.LeadUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateLeadErr != nil {
		return s.updateLeadErr
	}
	s.leadUpdates[leadID] = append(s.leadUpdates[leadID], update)
	return nil
}

func (s *fakeStore) GetCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.campaign == nil {
		return nil, repository.ErrNotFound
	}
	c := *s.campaign
	return &c, nil
}

func (s *fakeStore) UpdateCampaign(ctx context.Context, id uuid.UUID, update repository.CampaignUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaignUpdates = append(s.campaignUpdates, update)
	return nil
}

func (s *fakeStore) setLeads(leads ...domain.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads = leads
}

func (s *fakeStore) updatesFor(leadID uuid.UUID) []repository.LeadUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repository.LeadUpdate(nil), s.leadUpdates[leadID]...)
}

func (s *fakeStore) totalCalledDelta() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, u := range s.campaignUpdates {
		total += u.Delta.LeadsCalledDelta
	}
	return total
}

func (s *fakeStore) lastStatus() *domain.CampaignStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.campaignUpdates) - 1; i >= 0; i-- {
		if s.campaignUpdates[i].Status != nil {
			return s.campaignUpdates[i].Status
		}
	}
	return nil
}

type fakeProvider struct {
	mu      sync.Mutex
	placed  []telephony.DialRequest
	err     error
	errOnce bool
	onPlace func(req telephony.DialRequest)
}

func (p *fakeProvider) PlaceCall(ctx context.Context, req telephony.DialRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.onPlace != nil {
		p.onPlace(req)
	}
	if p.err != nil {
		err := p.err
		if p.errOnce {
			p.err = nil
		}
		return "", err
	}
	p.placed = append(p.placed, req)
	return "ref-" + req.CallID.String()[:8], nil
}

func (p *fakeProvider) placedLeads() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(p.placed))
	for _, req := range p.placed {
		ids = append(ids, req.LeadID)
	}
	return ids
}

// trackingSlots enforces a fixed slot budget and records the high-water
// mark, standing in for the Redis limiter.
type trackingSlots struct {
	mu       sync.Mutex
	limit    int
	inUse    int
	maxInUse int
}

func (s *trackingSlots) Acquire(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inUse >= s.limit {
		return false, nil
	}
	s.inUse++
	if s.inUse > s.maxInUse {
		s.maxInUse = s.inUse
	}
	return true, nil
}

func (s *trackingSlots) Release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inUse--
	return nil
}

func (s *trackingSlots) current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse
}

func nopLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

func testSettings() domain.DialerSettings {
	return domain.DialerSettings{
		MaxConcurrentCalls: 2,
		CallTimeout:        2 * time.Minute,
		RetryAttempts:      3,
		RetryDelay:         30 * time.Minute,
		CallingHoursStart:  domain.ClockMinute(9, 0),
		CallingHoursEnd:    domain.ClockMinute(17, 0),
		DaysOfWeek:         []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		DialingRate:        30,
		TimeZone:           "UTC",
	}
}

func pendingLead(priority domain.LeadPriority) domain.Lead {
	return domain.Lead{
		ID:          uuid.New(),
		PhoneNumber: "+15550100",
		Status:      domain.LeadStatusPending,
		Priority:    priority,
	}
}

func newRunningEngine(settings domain.DialerSettings, store *fakeStore, provider telephony.Provider, slots Slots) *Engine {
	deps := Deps{
		Store:    store,
		Provider: provider,
		Slots:    slots,
		Logger:   nopLogger(),
	}
	e := NewEngine(uuid.New(), settings, deps, Options{})
	e.state = StateRunning
	e.now = func() time.Time { return mondayTen }
	return e
}

func TestEngineTickDialsHighestPriorityFirst(t *testing.T) {
	settings := testSettings()
	settings.MaxConcurrentCalls = 1

	normal := pendingLead(domain.PriorityNormal)
	high := pendingLead(domain.PriorityHigh)
	store := newFakeStore(normal, high)

	provider := &fakeProvider{}
	// The attempt must be durable before the provider sees the call.
	provider.onPlace = func(req telephony.DialRequest) {
		updates := store.updatesFor(req.LeadID)
		if len(updates) == 0 {
			t.Errorf("lead %s dialed before its attempt was persisted", req.LeadID)
			return
		}
		u := updates[0]
		if !u.IncrementAttempts || u.Status == nil || *u.Status != domain.LeadStatusCalling {
			t.Errorf("lead %s dialed without a calling-status attempt update: %+v", req.LeadID, u)
		}
	}

	e := newRunningEngine(settings, store, provider, nil)
	e.tick(context.Background())

	placed := provider.placedLeads()
	if len(placed) != 1 {
		t.Fatalf("expected exactly one call, got %d", len(placed))
	}
	if placed[0] != high.ID {
		t.Fatalf("expected the high priority lead to dial first, got %s", placed[0])
	}
	if len(e.active) != 1 {
		t.Fatalf("expected one active call, got %d", len(e.active))
	}
}

func TestEngineRefillRanksBeforeCapping(t *testing.T) {
	settings := testSettings()
	settings.MaxConcurrentCalls = 1

	// More eligible leads than the refill batch holds; the urgent lead is
	// returned last so a cap applied before ranking would drop it.
	firstNormal := pendingLead(domain.PriorityNormal)
	secondNormal := pendingLead(domain.PriorityNormal)
	urgent := pendingLead(domain.PriorityUrgent)
	store := newFakeStore(firstNormal, secondNormal, urgent)
	provider := &fakeProvider{}

	deps := Deps{
		Store:    store,
		Provider: provider,
		Logger:   nopLogger(),
	}
	e := NewEngine(uuid.New(), settings, deps, Options{RefillBatchSize: 2})
	e.state = StateRunning
	e.now = func() time.Time { return mondayTen }

	e.tick(context.Background())

	placed := provider.placedLeads()
	if len(placed) != 1 {
		t.Fatalf("expected exactly one call, got %d", len(placed))
	}
	if placed[0] != urgent.ID {
		t.Fatalf("urgent lead lost to the batch cap: dialed %s instead", placed[0])
	}
	if e.queue.Len() != 1 {
		t.Fatalf("expected the capped queue to hold 1 lead, got %d", e.queue.Len())
	}
}

func TestEngineTickHonorsCampaignCeiling(t *testing.T) {
	settings := testSettings()
	settings.MaxConcurrentCalls = 2

	store := newFakeStore(
		pendingLead(domain.PriorityNormal),
		pendingLead(domain.PriorityNormal),
		pendingLead(domain.PriorityNormal),
		pendingLead(domain.PriorityNormal),
	)
	provider := &fakeProvider{}

	e := newRunningEngine(settings, store, provider, nil)
	e.tick(context.Background())

	if len(e.active) != 2 {
		t.Fatalf("expected active calls capped at 2, got %d", len(e.active))
	}
	if e.queue.Len() != 2 {
		t.Fatalf("expected 2 leads left queued, got %d", e.queue.Len())
	}

	// A second tick with no completions must not exceed the ceiling.
	e.tick(context.Background())
	if len(e.active) != 2 {
		t.Fatalf("ceiling breached on second tick: %d active", len(e.active))
	}
}

func TestEngineTickHonorsGlobalSlotLimit(t *testing.T) {
	settings := testSettings()
	settings.MaxConcurrentCalls = 5

	store := newFakeStore(
		pendingLead(domain.PriorityNormal),
		pendingLead(domain.PriorityNormal),
		pendingLead(domain.PriorityNormal),
	)
	slots := &trackingSlots{limit: 1}
	provider := &fakeProvider{}

	e := newRunningEngine(settings, store, provider, slots)
	e.tick(context.Background())

	if len(e.active) != 1 {
		t.Fatalf("expected global limit to cap active calls at 1, got %d", len(e.active))
	}
	if slots.maxInUse != 1 {
		t.Fatalf("slot high-water mark %d, want 1", slots.maxInUse)
	}
}

func TestEngineTickOutsideCallingHours(t *testing.T) {
	store := newFakeStore(pendingLead(domain.PriorityNormal))
	provider := &fakeProvider{}

	e := newRunningEngine(testSettings(), store, provider, nil)
	e.now = func() time.Time {
		return time.Date(2024, 1, 6, 10, 0, 0, 0, time.UTC) // Saturday
	}
	e.tick(context.Background())

	if len(provider.placedLeads()) != 0 {
		t.Fatalf("expected no calls outside calling hours")
	}
	if e.lastTick == nil {
		t.Fatalf("expected the tick timestamp to be recorded regardless")
	}
}

func TestEngineDispatchProviderFailure(t *testing.T) {
	settings := testSettings()
	settings.MaxConcurrentCalls = 2

	first := pendingLead(domain.PriorityUrgent)
	second := pendingLead(domain.PriorityNormal)
	store := newFakeStore(first, second)
	slots := &trackingSlots{limit: 10}
	provider := &fakeProvider{err: errors.New("trunk unavailable"), errOnce: true}

	e := newRunningEngine(settings, store, provider, slots)
	e.tick(context.Background())

	// The urgent lead hit the failing provider and must be failed with a
	// dialer_error outcome; its attempt is not refunded.
	updates := store.updatesFor(first.ID)
	if len(updates) < 2 {
		t.Fatalf("expected attempt and failure updates for the failed lead, got %d", len(updates))
	}
	last := updates[len(updates)-1]
	if last.Status == nil || *last.Status != domain.LeadStatusFailed {
		t.Fatalf("expected failed status after provider error, got %+v", last)
	}
	if last.Outcome == nil || *last.Outcome != domain.OutcomeDialerError {
		t.Fatalf("expected dialer_error outcome, got %+v", last.Outcome)
	}

	// The tick moves on to the next lead.
	placed := provider.placedLeads()
	if len(placed) != 1 || placed[0] != second.ID {
		t.Fatalf("expected the second lead to dial after the failure, got %v", placed)
	}
	if slots.current() != 1 {
		t.Fatalf("expected exactly one slot held, got %d", slots.current())
	}
}

func TestEngineDispatchStoreFailureAborts(t *testing.T) {
	store := newFakeStore(pendingLead(domain.PriorityNormal), pendingLead(domain.PriorityNormal))
	store.updateLeadErr = errors.New("postgres down")
	slots := &trackingSlots{limit: 10}
	provider := &fakeProvider{}

	e := newRunningEngine(testSettings(), store, provider, slots)
	e.tick(context.Background())

	if len(provider.placedLeads()) != 0 {
		t.Fatalf("expected no calls when the attempt cannot be persisted")
	}
	if slots.current() != 0 {
		t.Fatalf("expected slots returned after store failure, got %d held", slots.current())
	}
}

func TestEngineCompletionAppliedExactlyOnce(t *testing.T) {
	lead := pendingLead(domain.PriorityNormal)
	store := newFakeStore(lead)
	slots := &trackingSlots{limit: 10}
	provider := &fakeProvider{}

	e := newRunningEngine(testSettings(), store, provider, slots)
	e.tick(context.Background())

	var callID uuid.UUID
	for id := range e.active {
		callID = id
	}
	store.setLeads() // nothing left to refill

	if handled := e.OnCallCompletion(context.Background(), callID, domain.OutcomeAnswered); !handled {
		t.Fatalf("expected first completion to be handled")
	}
	if handled := e.OnCallCompletion(context.Background(), callID, domain.OutcomeAnswered); handled {
		t.Fatalf("expected duplicate completion to be a no-op")
	}

	if got := store.totalCalledDelta(); got != 1 {
		t.Fatalf("expected leads_called incremented once, got %d", got)
	}

	updates := store.updatesFor(lead.ID)
	final := updates[len(updates)-1]
	if final.Status == nil || *final.Status != domain.LeadStatusCompleted {
		t.Fatalf("expected answered lead marked completed, got %+v", final)
	}
	if slots.current() != 0 {
		t.Fatalf("expected slot released on completion, got %d held", slots.current())
	}
}

func TestEngineCompletionUnknownCall(t *testing.T) {
	store := newFakeStore()
	e := newRunningEngine(testSettings(), store, &fakeProvider{}, nil)

	if handled := e.OnCallCompletion(context.Background(), uuid.New(), domain.OutcomeAnswered); handled {
		t.Fatalf("expected unknown call id to be ignored")
	}
	if got := store.totalCalledDelta(); got != 0 {
		t.Fatalf("expected no counter movement for unknown call, got %d", got)
	}
}

func TestEngineSweepTimesOutStaleCalls(t *testing.T) {
	lead := pendingLead(domain.PriorityNormal)
	store := newFakeStore(lead)
	slots := &trackingSlots{limit: 10}
	provider := &fakeProvider{}

	e := newRunningEngine(testSettings(), store, provider, slots)
	e.tick(context.Background())
	if len(e.active) != 1 {
		t.Fatalf("expected one active call before the sweep")
	}
	store.setLeads()

	// Just inside the timeout: the sweep leaves the call alone.
	e.now = func() time.Time { return mondayTen.Add(e.settings.CallTimeout) }
	e.sweep(context.Background())
	if len(e.active) != 1 {
		t.Fatalf("call reaped before its timeout elapsed")
	}

	e.now = func() time.Time { return mondayTen.Add(e.settings.CallTimeout + time.Second) }
	e.sweep(context.Background())
	if len(e.active) != 0 {
		t.Fatalf("expected timed-out call reaped")
	}

	updates := store.updatesFor(lead.ID)
	final := updates[len(updates)-1]
	if final.Outcome == nil || *final.Outcome != domain.OutcomeTimeout {
		t.Fatalf("expected timeout outcome, got %+v", final.Outcome)
	}
	if slots.current() != 0 {
		t.Fatalf("expected slot released by the sweep, got %d held", slots.current())
	}
}

func TestEngineNaturalCompletion(t *testing.T) {
	lead := pendingLead(domain.PriorityNormal)
	store := newFakeStore(lead)
	provider := &fakeProvider{}

	e := newRunningEngine(testSettings(), store, provider, nil)

	terminated := make(chan uuid.UUID, 1)
	e.onTerminate = func(id uuid.UUID) { terminated <- id }

	e.tick(context.Background())
	store.setLeads()

	var callID uuid.UUID
	for id := range e.active {
		callID = id
	}
	e.OnCallCompletion(context.Background(), callID, domain.OutcomeNoAnswer)

	if e.State() != StateCompleted {
		t.Fatalf("expected completed state, got %s", e.State())
	}
	status := store.lastStatus()
	if status == nil || *status != domain.CampaignStatusCompleted {
		t.Fatalf("expected campaign persisted completed, got %v", status)
	}

	select {
	case id := <-terminated:
		if id != e.campaignID {
			t.Fatalf("terminate callback for wrong campaign: %s", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("terminate callback never fired")
	}
}

func TestEngineStartTwice(t *testing.T) {
	store := newFakeStore()
	e := NewEngine(uuid.New(), testSettings(), Deps{Store: store, Provider: &fakeProvider{}, Logger: nopLogger()}, Options{})

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	defer e.Stop(context.Background())

	if err := e.Start(context.Background()); !errors.Is(err, apperrors.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestEngineStartInvalidSettings(t *testing.T) {
	settings := testSettings()
	settings.MaxConcurrentCalls = 0

	store := newFakeStore()
	e := NewEngine(uuid.New(), settings, Deps{Store: store, Provider: &fakeProvider{}, Logger: nopLogger()}, Options{})

	if err := e.Start(context.Background()); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if e.State() != StateIdle {
		t.Fatalf("expected engine to stay idle, got %s", e.State())
	}
}

func TestEngineStopCancelsInFlightCalls(t *testing.T) {
	first := pendingLead(domain.PriorityNormal)
	second := pendingLead(domain.PriorityNormal)
	store := newFakeStore(first, second)
	slots := &trackingSlots{limit: 10}
	provider := &fakeProvider{}

	e := newRunningEngine(testSettings(), store, provider, slots)
	e.tick(context.Background())
	if len(e.active) != 2 {
		t.Fatalf("expected two active calls before stop, got %d", len(e.active))
	}

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if e.State() != StateIdle {
		t.Fatalf("expected idle after stop, got %s", e.State())
	}
	if len(e.active) != 0 {
		t.Fatalf("expected no active calls after stop, got %d", len(e.active))
	}
	if e.queue.Len() != 0 {
		t.Fatalf("expected dropped queue after stop, got %d", e.queue.Len())
	}
	if slots.current() != 0 {
		t.Fatalf("expected all slots released after stop, got %d held", slots.current())
	}

	for _, lead := range []domain.Lead{first, second} {
		updates := store.updatesFor(lead.ID)
		final := updates[len(updates)-1]
		if final.Outcome == nil || *final.Outcome != domain.OutcomeCancelled {
			t.Errorf("lead %s: expected cancelled outcome, got %+v", lead.ID, final.Outcome)
		}
	}

	status := store.lastStatus()
	if status == nil || *status != domain.CampaignStatusPaused {
		t.Fatalf("expected campaign persisted paused after stop, got %v", status)
	}
}

func TestEnginePauseAndResume(t *testing.T) {
	store := newFakeStore(pendingLead(domain.PriorityNormal))
	provider := &fakeProvider{}

	e := newRunningEngine(testSettings(), store, provider, nil)

	if err := e.Pause(context.Background()); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	e.tick(context.Background())
	if len(provider.placedLeads()) != 0 {
		t.Fatalf("expected no dialing while paused")
	}

	if err := e.Resume(context.Background()); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	e.tick(context.Background())
	if len(provider.placedLeads()) != 1 {
		t.Fatalf("expected dialing to resume, placed %d", len(provider.placedLeads()))
	}

	// Pause on a non-running engine is a harmless no-op.
	if err := e.Pause(context.Background()); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if err := e.Pause(context.Background()); err != nil {
		t.Fatalf("second pause failed: %v", err)
	}
}
