package dialer

import (
	"time"

	"github.com/acme/lead-dialer/internal/domain"
)

// IsEligible reports whether the lead may be dialed at the given instant.
// Pure function: it is applied both when refilling the dialing queue and
// again immediately before dispatch, because lead state may change between
// enqueue and dequeue.
func IsEligible(lead domain.Lead, settings domain.DialerSettings, now time.Time) bool {
	switch lead.Status {
	case domain.LeadStatusPending, domain.LeadStatusFailed:
	default:
		return false
	}

	if lead.CallAttempts >= settings.RetryAttempts {
		return false
	}

	if lead.LastCallAt != nil && now.Sub(*lead.LastCallAt) < settings.RetryDelay {
		return false
	}

	return WithinCallingHours(settings, now)
}

// WithinCallingHours reports whether the instant falls on an active weekday
// inside the calling window, evaluated in the campaign time zone. The
// window is inclusive on both ends; a window whose end precedes its start
// spans midnight into the following day.
func WithinCallingHours(settings domain.DialerSettings, now time.Time) bool {
	local := now
	if settings.TimeZone != "" {
		if loc, err := time.LoadLocation(settings.TimeZone); err == nil {
			local = now.In(loc)
		}
	}

	minuteOfDay := local.Hour()*60 + local.Minute()
	weekday := local.Weekday()

	start := settings.CallingHoursStart
	end := settings.CallingHoursEnd

	if end < start {
		// Window spans midnight: the tail belongs to the next weekday.
		for _, day := range settings.DaysOfWeek {
			if day == weekday && minuteOfDay >= start {
				return true
			}
			if time.Weekday((int(day)+1)%7) == weekday && minuteOfDay <= end {
				return true
			}
		}
		return false
	}

	if !activeDay(settings.DaysOfWeek, weekday) {
		return false
	}
	return minuteOfDay >= start && minuteOfDay <= end
}

func activeDay(days []time.Weekday, day time.Weekday) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}
