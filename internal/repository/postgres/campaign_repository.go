package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/lead-dialer/internal/domain"
	"github.com/acme/lead-dialer/internal/repository"
)

// CampaignRepository implements the campaign half of repository.LeadStore
// using PostgreSQL.
type CampaignRepository struct {
	db *sqlx.DB
}

// NewCampaignRepository constructs a new repository.
func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// GetCampaign fetches a campaign with its dialer settings and counters.
func (r *CampaignRepository) GetCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	q := `SELECT id, name, description, status, time_zone,
	       max_concurrent_calls, call_timeout_seconds, retry_attempts, retry_delay_minutes,
	       calling_hours_start, calling_hours_end, days_of_week, dialing_rate,
	       total_leads, leads_called, leads_answered, leads_completed,
	       created_at, updated_at, started_at, completed_at
	  FROM campaigns WHERE id = $1`

	row := r.db.QueryRowxContext(ctx, q, id)
	var record campaignRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign repo: get: %w", err)
	}

	campaign := record.toDomain()
	return &campaign, nil
}

// UpdateCampaign applies a status change, lifecycle timestamps and counter
// deltas in one statement so reconciliation is a single logical update.
func (r *CampaignRepository) UpdateCampaign(ctx context.Context, id uuid.UUID, update repository.CampaignUpdate) error {
	sets := []string{
		"updated_at = NOW()",
		"leads_called = leads_called + $2",
		"leads_answered = leads_answered + $3",
		"leads_completed = leads_completed + $4",
	}
	args := []any{id, update.Delta.LeadsCalledDelta, update.Delta.LeadsAnsweredDelta, update.Delta.LeadsCompletedDelta}

	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if update.Status != nil {
		sets = append(sets, "status = "+next(string(*update.Status)))
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = "+next(*update.StartedAt))
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = "+next(*update.CompletedAt))
	}

	q := fmt.Sprintf(`UPDATE campaigns SET %s WHERE id = $1`, strings.Join(sets, ", "))
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("campaign repo: update: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type campaignRecord struct {
	ID                 uuid.UUID      `db:"id"`
	Name               string         `db:"name"`
	Description        sql.NullString `db:"description"`
	Status             string         `db:"status"`
	TimeZone           string         `db:"time_zone"`
	MaxConcurrentCalls int            `db:"max_concurrent_calls"`
	CallTimeoutSecs    int            `db:"call_timeout_seconds"`
	RetryAttempts      int            `db:"retry_attempts"`
	RetryDelayMinutes  int            `db:"retry_delay_minutes"`
	CallingHoursStart  int            `db:"calling_hours_start"`
	CallingHoursEnd    int            `db:"calling_hours_end"`
	DaysOfWeek         string         `db:"days_of_week"`
	DialingRate        int            `db:"dialing_rate"`
	TotalLeads         int64          `db:"total_leads"`
	LeadsCalled        int64          `db:"leads_called"`
	LeadsAnswered      int64          `db:"leads_answered"`
	LeadsCompleted     int64          `db:"leads_completed"`
	CreatedAt          sql.NullTime   `db:"created_at"`
	UpdatedAt          sql.NullTime   `db:"updated_at"`
	StartedAt          sql.NullTime   `db:"started_at"`
	CompletedAt        sql.NullTime   `db:"completed_at"`
}

func (r campaignRecord) toDomain() domain.Campaign {
	campaign := domain.Campaign{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description.String,
		Status:      domain.CampaignStatus(r.Status),
		Settings: domain.DialerSettings{
			MaxConcurrentCalls: r.MaxConcurrentCalls,
			CallTimeout:        time.Duration(r.CallTimeoutSecs) * time.Second,
			RetryAttempts:      r.RetryAttempts,
			RetryDelay:         time.Duration(r.RetryDelayMinutes) * time.Minute,
			CallingHoursStart:  r.CallingHoursStart,
			CallingHoursEnd:    r.CallingHoursEnd,
			DaysOfWeek:         parseDays(r.DaysOfWeek),
			DialingRate:        r.DialingRate,
			TimeZone:           r.TimeZone,
		},
		Stats: domain.CampaignStats{
			TotalLeads:     r.TotalLeads,
			LeadsCalled:    r.LeadsCalled,
			LeadsAnswered:  r.LeadsAnswered,
			LeadsCompleted: r.LeadsCompleted,
		},
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		campaign.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		campaign.CompletedAt = &t
	}
	return campaign
}

// parseDays decodes the comma separated weekday column, e.g. "1,2,3,4,5".
func parseDays(raw string) []time.Weekday {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	days := make([]time.Weekday, 0, len(parts))
	for _, p := range parts {
		var d int
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%d", &d); err != nil {
			continue
		}
		if d < 0 || d > 6 {
			continue
		}
		days = append(days, time.Weekday(d))
	}
	return days
}
