package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/lead-dialer/internal/domain"
	"github.com/acme/lead-dialer/internal/repository"
)

// CallLog persists call lifecycle events in Scylla, partitioned by
// campaign and day bucket.
type CallLog struct {
	session *gocql.Session
}

// NewCallLog creates a new call event log.
func NewCallLog(session *gocql.Session) *CallLog {
	return &CallLog{session: session}
}

// AppendEvent inserts one dispatch or completion record.
func (l *CallLog) AppendEvent(ctx context.Context, event repository.CallEvent) error {
	bucket := bucketDate(event.OccurredAt)
	var outcome *string
	if event.Outcome != nil {
		o := string(*event.Outcome)
		outcome = &o
	}

	if err := l.session.Query(`INSERT INTO call_events_by_campaign (campaign_id, bucket, occurred_at, call_id, lead_id, phone_number, phase, outcome, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.CampaignID.String(), bucket, event.OccurredAt, event.CallID.String(), event.LeadID.String(),
		event.PhoneNumber, string(event.Phase), outcome, event.Error,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call log: insert event: %w", err)
	}
	return nil
}

// ListByCampaign lists events for a campaign with pagination.
func (l *CallLog) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]repository.CallEvent, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := l.session.Query(`SELECT bucket, occurred_at, call_id, lead_id, phone_number, phase, outcome, error
		FROM call_events_by_campaign WHERE campaign_id = ?`, campaignID.String()).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	events := make([]repository.CallEvent, 0, limit)

	var (
		bucket     time.Time
		occurredAt time.Time
		callIDStr  string
		leadIDStr  string
		phone      string
		phase      string
		outcome    *string
		errText    string
	)

	for iter.Scan(&bucket, &occurredAt, &callIDStr, &leadIDStr, &phone, &phase, &outcome, &errText) {
		callID, err := uuid.Parse(callIDStr)
		if err != nil {
			continue
		}
		leadID, err := uuid.Parse(leadIDStr)
		if err != nil {
			continue
		}

		event := repository.CallEvent{
			CallID:      callID,
			CampaignID:  campaignID,
			LeadID:      leadID,
			PhoneNumber: phone,
			Phase:       domain.CallPhase(phase),
			Error:       errText,
			OccurredAt:  occurredAt,
		}
		if outcome != nil {
			o := domain.CallOutcome(*outcome)
			event.Outcome = &o
		}
		events = append(events, event)
	}

	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("call log: iter close: %w", err)
	}

	nextState := iter.PageState()

	return events, nextState, nil
}

func bucketDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
