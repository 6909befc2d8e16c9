package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CampaignStatus enumerates lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// DialerSettings carries the per-campaign scheduling rules.
//
// CallingHoursStart and CallingHoursEnd are minutes past midnight in the
// campaign time zone; the window is inclusive on both ends. A window whose
// end precedes its start spans midnight.
type DialerSettings struct {
	MaxConcurrentCalls int
	CallTimeout        time.Duration
	RetryAttempts      int
	RetryDelay         time.Duration
	CallingHoursStart  int
	CallingHoursEnd    int
	DaysOfWeek         []time.Weekday
	DialingRate        int
	TimeZone           string
}

// ClockMinute converts a wall clock time to a minute-of-day value.
func ClockMinute(hour, minute int) int {
	return hour*60 + minute
}

// TickInterval derives the dial tick period from the dialing rate.
func (s DialerSettings) TickInterval() time.Duration {
	if s.DialingRate <= 0 {
		return time.Minute
	}
	return time.Minute / time.Duration(s.DialingRate)
}

// Validate rejects settings that would disable retry or timeout limits.
func (s DialerSettings) Validate() error {
	if s.MaxConcurrentCalls <= 0 {
		return fmt.Errorf("dialer settings: max_concurrent_calls must be positive, got %d", s.MaxConcurrentCalls)
	}
	if s.CallTimeout <= 0 {
		return fmt.Errorf("dialer settings: call_timeout must be positive, got %s", s.CallTimeout)
	}
	if s.RetryAttempts <= 0 {
		return fmt.Errorf("dialer settings: retry_attempts must be positive, got %d", s.RetryAttempts)
	}
	if s.RetryDelay < 0 {
		return fmt.Errorf("dialer settings: retry_delay must not be negative, got %s", s.RetryDelay)
	}
	if s.DialingRate <= 0 {
		return fmt.Errorf("dialer settings: dialing_rate must be positive, got %d", s.DialingRate)
	}
	if s.CallingHoursStart < 0 || s.CallingHoursStart >= 24*60 {
		return fmt.Errorf("dialer settings: calling_hours_start out of range: %d", s.CallingHoursStart)
	}
	if s.CallingHoursEnd < 0 || s.CallingHoursEnd >= 24*60 {
		return fmt.Errorf("dialer settings: calling_hours_end out of range: %d", s.CallingHoursEnd)
	}
	if len(s.DaysOfWeek) == 0 {
		return fmt.Errorf("dialer settings: at least one active weekday is required")
	}
	if s.TimeZone != "" {
		if _, err := time.LoadLocation(s.TimeZone); err != nil {
			return fmt.Errorf("dialer settings: invalid time zone %q: %v", s.TimeZone, err)
		}
	}
	return nil
}

// CampaignStats aggregates campaign counters. Counters are monotonic
// non-decreasing while the campaign is active.
type CampaignStats struct {
	TotalLeads     int64
	LeadsCalled    int64
	LeadsAnswered  int64
	LeadsCompleted int64
}

// Campaign groups leads under shared dialer settings and lifecycle status.
type Campaign struct {
	ID          uuid.UUID
	Name        string
	Description string
	Status      CampaignStatus
	Settings    DialerSettings
	Stats       CampaignStats
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}
