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

// LeadRepository implements the lead half of repository.LeadStore using
// PostgreSQL.
type LeadRepository struct {
	db *sqlx.DB
}

// NewLeadRepository constructs a new repository.
func NewLeadRepository(db *sqlx.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// QueryEligibleLeads returns leads of the campaign whose status is in the
// given set and whose attempt count is below maxAttempts. Leads flagged
// do_not_call are excluded regardless of the status filter. Rows come back
// in dialing order (priority rank descending, then oldest call first with
// never-called leads ahead); the in-memory dialing queue re-sorts, but the
// engine caps the batch, so the store must already rank it.
func (r *LeadRepository) QueryEligibleLeads(ctx context.Context, campaignID uuid.UUID, statuses []domain.LeadStatus, maxAttempts int) ([]domain.Lead, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		if s == domain.LeadStatusDoNotCall {
			continue
		}
		values = append(values, string(s))
	}
	if len(values) == 0 {
		return nil, nil
	}

	q := `SELECT id, campaign_id, phone_number, first_name, last_name, status,
	       call_attempts, last_call_at, outcome, priority, created_at, updated_at
	  FROM leads
	 WHERE campaign_id = $1
	   AND status = ANY($2)
	   AND status <> 'do_not_call'
	   AND call_attempts < $3
	 ORDER BY CASE priority
	            WHEN 'urgent' THEN 3
	            WHEN 'high' THEN 2
	            WHEN 'low' THEN 0
	            ELSE 1
	          END DESC,
	          last_call_at ASC NULLS FIRST`

	rows, err := r.db.QueryxContext(ctx, q, campaignID, values, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("lead repo: query eligible: %w", err)
	}
	defer rows.Close()

	var results []domain.Lead
	for rows.Next() {
		var record leadRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("lead repo: scan: %w", err)
		}
		results = append(results, record.toDomain())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lead repo: rows err: %w", err)
	}

	return results, nil
}

// UpdateLead applies a partial update to a single lead row. The attempt
// increment happens inside the UPDATE so two writers can never lose a
// count.
func (r *LeadRepository) UpdateLead(ctx context.Context, leadID uuid.UUID, update repository.LeadUpdate) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{leadID}

	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if update.IncrementAttempts {
		sets = append(sets, "call_attempts = call_attempts + 1")
	}
	if update.Status != nil {
		sets = append(sets, "status = "+next(string(*update.Status)))
	}
	if update.Outcome != nil {
		sets = append(sets, "outcome = "+next(string(*update.Outcome)))
	}
	if update.LastCallAt != nil {
		sets = append(sets, "last_call_at = "+next(*update.LastCallAt))
	}

	if len(sets) == 1 && !update.IncrementAttempts {
		return nil
	}

	q := fmt.Sprintf(`UPDATE leads SET %s WHERE id = $1`, strings.Join(sets, ", "))
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("lead repo: update: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("lead repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type leadRecord struct {
	ID           uuid.UUID      `db:"id"`
	CampaignID   uuid.UUID      `db:"campaign_id"`
	PhoneNumber  string         `db:"phone_number"`
	FirstName    sql.NullString `db:"first_name"`
	LastName     sql.NullString `db:"last_name"`
	Status       string         `db:"status"`
	CallAttempts int            `db:"call_attempts"`
	LastCallAt   sql.NullTime   `db:"last_call_at"`
	Outcome      sql.NullString `db:"outcome"`
	Priority     string         `db:"priority"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r leadRecord) toDomain() domain.Lead {
	lead := domain.Lead{
		ID:           r.ID,
		CampaignID:   r.CampaignID,
		PhoneNumber:  r.PhoneNumber,
		FirstName:    r.FirstName.String,
		LastName:     r.LastName.String,
		Status:       domain.LeadStatus(r.Status),
		CallAttempts: r.CallAttempts,
		Priority:     domain.LeadPriority(r.Priority),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.LastCallAt.Valid {
		t := r.LastCallAt.Time
		lead.LastCallAt = &t
	}
	if r.Outcome.Valid {
		o := domain.CallOutcome(r.Outcome.String)
		lead.Outcome = &o
	}
	return lead
}
