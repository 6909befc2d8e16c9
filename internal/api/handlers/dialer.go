package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/lead-dialer/internal/domain"
	"github.com/acme/lead-dialer/internal/repository"
	"github.com/acme/lead-dialer/internal/service/common"
)

func (h *HandlerSet) startDialer(ctx *fiber.Ctx) error {
	campaignID, err := parseCampaignID(ctx)
	if err != nil {
		return err
	}

	if err := h.registry.Start(ctx.Context(), campaignID); err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{"campaign_id": campaignID, "state": "running"})
}

func (h *HandlerSet) pauseDialer(ctx *fiber.Ctx) error {
	campaignID, err := parseCampaignID(ctx)
	if err != nil {
		return err
	}

	if err := h.registry.Pause(ctx.Context(), campaignID); err != nil {
		return translateError(err)
	}
	return ctx.JSON(fiber.Map{"campaign_id": campaignID, "state": "paused"})
}

func (h *HandlerSet) resumeDialer(ctx *fiber.Ctx) error {
	campaignID, err := parseCampaignID(ctx)
	if err != nil {
		return err
	}

	if err := h.registry.Resume(ctx.Context(), campaignID); err != nil {
		return translateError(err)
	}
	return ctx.JSON(fiber.Map{"campaign_id": campaignID, "state": "running"})
}

func (h *HandlerSet) stopDialer(ctx *fiber.Ctx) error {
	campaignID, err := parseCampaignID(ctx)
	if err != nil {
		return err
	}

	if err := h.registry.Stop(ctx.Context(), campaignID); err != nil {
		return translateError(err)
	}
	return ctx.JSON(fiber.Map{"campaign_id": campaignID, "state": "idle"})
}

func (h *HandlerSet) dialerStatus(ctx *fiber.Ctx) error {
	campaignID, err := parseCampaignID(ctx)
	if err != nil {
		return err
	}

	status, err := h.registry.Status(ctx.Context(), campaignID)
	if err != nil {
		return translateError(err)
	}

	return ctx.JSON(statusResponse{
		CampaignID:     status.CampaignID,
		State:          status.State,
		ActiveCalls:    status.ActiveCalls,
		QueuedLeads:    status.QueuedLeads,
		TotalLeads:     status.TotalLeads,
		LeadsCalled:    status.LeadsCalled,
		LeadsAnswered:  status.LeadsAnswered,
		LeadsCompleted: status.LeadsCompleted,
		StartedAt:      status.StartedAt,
		LastTickAt:     status.LastTickAt,
	})
}

// callCompletion is the reconciliation entry point relaying provider
// call-status callbacks. Unknown and duplicate call ids are accepted and
// dropped.
func (h *HandlerSet) callCompletion(ctx *fiber.Ctx) error {
	var payload completionRequest
	if err := ctx.BodyParser(&payload); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid completion payload")
	}

	callID, err := uuid.Parse(payload.CallID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call id")
	}
	if payload.Outcome == "" {
		return fiber.NewError(http.StatusBadRequest, "outcome is required")
	}

	h.registry.OnCallCompletion(ctx.Context(), callID, domain.CallOutcome(payload.Outcome))
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) listCallEvents(ctx *fiber.Ctx) error {
	campaignID, err := parseCampaignID(ctx)
	if err != nil {
		return err
	}

	limit := ctx.QueryInt("limit", 100)
	pagingState, err := common.DecodeBase64(ctx.Query("page_token"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid page token")
	}

	events, next, err := h.calls.ListByCampaign(ctx.Context(), campaignID, limit, pagingState)
	if err != nil {
		return translateError(err)
	}

	items := make([]callEventResponse, 0, len(events))
	for _, e := range events {
		items = append(items, toCallEventResponse(e))
	}

	return ctx.JSON(fiber.Map{
		"events":          items,
		"next_page_token": common.EncodeBase64(next),
	})
}

func parseCampaignID(ctx *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Params("campaignID"))
	if err != nil {
		return uuid.Nil, fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	return id, nil
}

type completionRequest struct {
	CallID      string `json:"call_id"`
	Outcome     string `json:"outcome"`
	ProviderRef string `json:"provider_ref"`
}

type statusResponse struct {
	CampaignID     uuid.UUID  `json:"campaign_id"`
	State          string     `json:"state"`
	ActiveCalls    int        `json:"active_calls"`
	QueuedLeads    int        `json:"queued_leads"`
	TotalLeads     int64      `json:"total_leads"`
	LeadsCalled    int64      `json:"leads_called"`
	LeadsAnswered  int64      `json:"leads_answered"`
	LeadsCompleted int64      `json:"leads_completed"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	LastTickAt     *time.Time `json:"last_tick_at,omitempty"`
}

type callEventResponse struct {
	CallID      uuid.UUID `json:"call_id"`
	LeadID      uuid.UUID `json:"lead_id"`
	PhoneNumber string    `json:"phone_number"`
	Phase       string    `json:"phase"`
	Outcome     string    `json:"outcome,omitempty"`
	Error       string    `json:"error,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func toCallEventResponse(e repository.CallEvent) callEventResponse {
	resp := callEventResponse{
		CallID:      e.CallID,
		LeadID:      e.LeadID,
		PhoneNumber: e.PhoneNumber,
		Phase:       string(e.Phase),
		Error:       e.Error,
		OccurredAt:  e.OccurredAt,
	}
	if e.Outcome != nil {
		resp.Outcome = string(*e.Outcome)
	}
	return resp
}
