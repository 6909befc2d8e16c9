package domain

import (
	"time"

	"github.com/google/uuid"
)

// LeadStatus enumerates lifecycle states of a lead.
type LeadStatus string

const (
	LeadStatusPending   LeadStatus = "pending"
	LeadStatusCalling   LeadStatus = "calling"
	LeadStatusCompleted LeadStatus = "completed"
	LeadStatusFailed    LeadStatus = "failed"
	LeadStatusDoNotCall LeadStatus = "do_not_call"
)

// CallOutcome is the terminal classification of a completed call.
type CallOutcome string

const (
	OutcomeAnswered    CallOutcome = "answered"
	OutcomeNoAnswer    CallOutcome = "no_answer"
	OutcomeBusy        CallOutcome = "busy"
	OutcomeVoicemail   CallOutcome = "voicemail"
	OutcomeTimeout     CallOutcome = "timeout"
	OutcomeCancelled   CallOutcome = "cancelled"
	OutcomeDialerError CallOutcome = "dialer_error"
)

// LeadPriority orders leads within the dialing queue.
type LeadPriority string

const (
	PriorityUrgent LeadPriority = "urgent"
	PriorityHigh   LeadPriority = "high"
	PriorityNormal LeadPriority = "normal"
	PriorityLow    LeadPriority = "low"
)

// Rank maps a priority to a sortable weight, higher dials first.
// Unknown values collapse to normal.
func (p LeadPriority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// Lead models one call target within a campaign.
type Lead struct {
	ID           uuid.UUID
	CampaignID   uuid.UUID
	PhoneNumber  string
	FirstName    string
	LastName     string
	Status       LeadStatus
	CallAttempts int
	LastCallAt   *time.Time
	Outcome      *CallOutcome
	Priority     LeadPriority
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
