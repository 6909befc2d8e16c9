package dialer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/lead-dialer/internal/domain"
	apperrors "github.com/acme/lead-dialer/pkg/errors"
)

func newTestRegistry(store *fakeStore) *Registry {
	return NewRegistry(Deps{
		Store:    store,
		Provider: &fakeProvider{},
		Logger:   nopLogger(),
	}, Options{})
}

func TestRegistryGetOrCreateReturnsSameEngine(t *testing.T) {
	r := newTestRegistry(newFakeStore())
	campaignID := uuid.New()

	first := r.GetOrCreate(campaignID, testSettings())

	other := testSettings()
	other.MaxConcurrentCalls = 99
	second := r.GetOrCreate(campaignID, other)

	if first != second {
		t.Fatalf("expected one engine per campaign")
	}
	if second.settings.MaxConcurrentCalls != testSettings().MaxConcurrentCalls {
		t.Fatalf("expected settings of the existing engine to win")
	}
}

func TestRegistryEnginesAreIndependent(t *testing.T) {
	r := newTestRegistry(newFakeStore())

	a := r.GetOrCreate(uuid.New(), testSettings())
	b := r.GetOrCreate(uuid.New(), testSettings())
	if a == b {
		t.Fatalf("expected distinct engines for distinct campaigns")
	}
}

func TestRegistryGetMissing(t *testing.T) {
	r := newTestRegistry(newFakeStore())

	if _, err := r.Get(uuid.New()); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := r.Pause(context.Background(), uuid.New()); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from pause, got %v", err)
	}
}

func TestRegistryStartLoadsCampaignSettings(t *testing.T) {
	store := newFakeStore()
	store.campaign = &domain.Campaign{
		Status:   domain.CampaignStatusDraft,
		Settings: testSettings(),
	}
	r := newTestRegistry(store)
	campaignID := uuid.New()

	if err := r.Start(context.Background(), campaignID); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer r.Stop(context.Background(), campaignID)

	engine, err := r.Get(campaignID)
	if err != nil {
		t.Fatalf("engine not registered after start: %v", err)
	}
	if engine.State() != StateRunning {
		t.Fatalf("expected running engine, got %s", engine.State())
	}

	if err := r.Start(context.Background(), campaignID); !errors.Is(err, apperrors.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning on second start, got %v", err)
	}
}

func TestRegistryStopEvictsEngine(t *testing.T) {
	store := newFakeStore()
	store.campaign = &domain.Campaign{Settings: testSettings()}
	r := newTestRegistry(store)
	campaignID := uuid.New()

	if err := r.Start(context.Background(), campaignID); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := r.Stop(context.Background(), campaignID); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if _, err := r.Get(campaignID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected engine evicted after stop, got %v", err)
	}

	// A subsequent start gets a fresh engine.
	if err := r.Start(context.Background(), campaignID); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	defer r.Stop(context.Background(), campaignID)
}

func TestRegistryCompletionRouting(t *testing.T) {
	store := newFakeStore(pendingLead(domain.PriorityNormal))
	r := newTestRegistry(store)

	engine := r.GetOrCreate(uuid.New(), testSettings())
	engine.state = StateRunning
	engine.now = func() time.Time { return mondayTen }

	// Unknown ids are dropped without touching any engine.
	r.OnCallCompletion(context.Background(), uuid.New(), domain.OutcomeAnswered)
	if got := store.totalCalledDelta(); got != 0 {
		t.Fatalf("expected no counter movement for unknown call, got %d", got)
	}

	engine.tick(context.Background())
	store.setLeads()

	var callID uuid.UUID
	for id := range engine.active {
		callID = id
	}

	r.OnCallCompletion(context.Background(), callID, domain.OutcomeAnswered)
	if got := store.totalCalledDelta(); got != 1 {
		t.Fatalf("expected completion routed to the owning engine, got delta %d", got)
	}

	// Replays after the first delivery are no-ops.
	r.OnCallCompletion(context.Background(), callID, domain.OutcomeAnswered)
	if got := store.totalCalledDelta(); got != 1 {
		t.Fatalf("expected duplicate delivery ignored, got delta %d", got)
	}
}
