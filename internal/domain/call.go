package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallPhase tracks an in-flight call between dispatch and completion.
type CallPhase string

const (
	PhaseDialing   CallPhase = "dialing"
	PhaseRinging   CallPhase = "ringing"
	PhaseConnected CallPhase = "connected"
	PhaseCompleted CallPhase = "completed"
	PhaseFailed    CallPhase = "failed"
)

// ActiveCall is the ephemeral in-memory record of one in-flight call.
// It is owned exclusively by the engine of its campaign and is never
// persisted as its own entity.
type ActiveCall struct {
	ID          uuid.UUID
	LeadID      uuid.UUID
	PhoneNumber string
	ProviderRef string
	StartedAt   time.Time
	Phase       CallPhase
}

// DialerStatus is a derived, read-mostly monitoring snapshot. It is
// recomputed from the campaign record and the in-memory call set and is
// not authoritative.
type DialerStatus struct {
	CampaignID     uuid.UUID
	State          string
	ActiveCalls    int
	QueuedLeads    int
	TotalLeads     int64
	LeadsCalled    int64
	LeadsAnswered  int64
	LeadsCompleted int64
	StartedAt      *time.Time
	LastTickAt     *time.Time
}
