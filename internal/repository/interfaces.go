package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/lead-dialer/internal/domain"
	apperrors "github.com/acme/lead-dialer/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// LeadUpdate is a partial update of a lead row. Nil fields are left
// untouched. IncrementAttempts bumps call_attempts atomically in the row,
// never overwriting a concurrent increment.
type LeadUpdate struct {
	Status            *domain.LeadStatus
	Outcome           *domain.CallOutcome
	IncrementAttempts bool
	LastCallAt        *time.Time
}

// StatsDelta captures atomic campaign counter increments.
type StatsDelta struct {
	LeadsCalledDelta    int64
	LeadsAnsweredDelta  int64
	LeadsCompletedDelta int64
}

// CampaignUpdate is a partial update of a campaign row. Status change and
// counter deltas are applied as one logical update.
type CampaignUpdate struct {
	Status      *domain.CampaignStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	Delta       StatsDelta
}

// LeadStore is the thin client to the persisted lead/campaign records.
// The dialer core depends on this interface only; the Postgres
// implementation lives under repository/postgres.
type LeadStore interface {
	QueryEligibleLeads(ctx context.Context, campaignID uuid.UUID, statuses []domain.LeadStatus, maxAttempts int) ([]domain.Lead, error)
	UpdateLead(ctx context.Context, leadID uuid.UUID, update LeadUpdate) error
	GetCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	UpdateCampaign(ctx context.Context, id uuid.UUID, update CampaignUpdate) error
}

// CallEvent is one dispatch or completion record in the call event log.
type CallEvent struct {
	CallID      uuid.UUID
	CampaignID  uuid.UUID
	LeadID      uuid.UUID
	PhoneNumber string
	Phase       domain.CallPhase
	Outcome     *domain.CallOutcome
	Error       string
	OccurredAt  time.Time
}

// CallLog records call lifecycle events for observability.
type CallLog interface {
	AppendEvent(ctx context.Context, event CallEvent) error
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]CallEvent, []byte, error)
}
