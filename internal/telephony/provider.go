package telephony

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DialRequest carries everything the provider needs to place one call.
// CallID is assigned by the engine and echoed back in completion
// callbacks so reconciliation is keyed by an id the engine controls.
type DialRequest struct {
	CallID      uuid.UUID
	CampaignID  uuid.UUID
	LeadID      uuid.UUID
	PhoneNumber string
	Timeout     time.Duration
	Metadata    map[string]any
}

// Provider abstracts the telephony integration. PlaceCall must return
// promptly; call progress arrives asynchronously through the completion
// transport.
type Provider interface {
	PlaceCall(ctx context.Context, req DialRequest) (providerRef string, err error)
}
