package queue

import (
	"time"

	"github.com/google/uuid"
)

// CompletionMessage reports the terminal outcome of one call attempt. It is
// produced by the telephony integration (or its webhook relay) and consumed
// by the status worker, which forwards it into the owning engine.
type CompletionMessage struct {
	CallID      uuid.UUID `json:"call_id"`
	CampaignID  uuid.UUID `json:"campaign_id"`
	ProviderRef string    `json:"provider_ref,omitempty"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// CallEventMessage mirrors a reconciled call event for downstream
// analytics consumers.
type CallEventMessage struct {
	CallID      uuid.UUID `json:"call_id"`
	CampaignID  uuid.UUID `json:"campaign_id"`
	LeadID      uuid.UUID `json:"lead_id"`
	PhoneNumber string    `json:"phone_number"`
	Phase       string    `json:"phase"`
	Outcome     string    `json:"outcome,omitempty"`
	Error       string    `json:"error,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}
