// Package schedule decides whether a given instant falls within a
// campaign's configured sending window. Grounded on the original
// scheduling.py's in_window procedure, translated to Go's time package
// idioms (time.LoadLocation instead of pytz, time.Weekday instead of
// strftime("%A")).
package schedule

import (
	"strings"
	"time"

	"github.com/sendloop/campaign-dispatcher/internal/clock"
	"github.com/sendloop/campaign-dispatcher/internal/model"
)

var weekdayNames = [...]string{
	"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday",
}

// InWindow reports whether nowUTC falls inside the campaign's sending
// window. It fails closed (returns false) on any malformed schedule field
// rather than erroring, per the spec's schedule-malformed error policy.
func InWindow(nowUTC time.Time, sch model.CampaignSchedule) bool {
	if strings.TrimSpace(sch.Timezone) == "" {
		return false
	}
	loc, err := clock.ResolveZone(sch.Timezone)
	if err != nil {
		return false
	}
	local := clock.InZone(nowUTC, loc)

	if !weekdayAllowed(local.Weekday, sch.ScheduledDays) {
		return false
	}

	if sch.StartDate != "" {
		start, ok := parseScheduleDate(sch.StartDate)
		if !ok {
			return false
		}
		if local.Date < start {
			return false
		}
	}
	if sch.EndDate != "" {
		end, ok := parseScheduleDate(sch.EndDate)
		if !ok {
			return false
		}
		if local.Date > end {
			return false
		}
	}

	if sch.TimeFrom == "" || sch.TimeTo == "" {
		return true
	}

	tFrom, ok := parseScheduleTime(sch.TimeFrom)
	if !ok {
		return false
	}
	tTo, ok := parseScheduleTime(sch.TimeTo)
	if !ok {
		return false
	}
	nowMinutes := local.Time.Hour()*60 + local.Time.Minute()

	if tFrom <= tTo {
		return tFrom <= nowMinutes && nowMinutes <= tTo
	}
	// Wraps midnight.
	return nowMinutes >= tFrom || nowMinutes <= tTo
}

func weekdayAllowed(weekday time.Weekday, scheduledDays []string) bool {
	if len(scheduledDays) == 0 {
		return true // default: all 7 days
	}
	name := weekdayNames[weekday]
	for _, d := range scheduledDays {
		if strings.ToLower(strings.TrimSpace(d)) == name {
			return true
		}
	}
	return false
}

// parseScheduleDate accepts either a bare YYYY-MM-DD or a full ISO instant,
// truncating at the first "T" as the spec requires.
func parseScheduleDate(val string) (string, bool) {
	v := strings.TrimSpace(val)
	if idx := strings.IndexByte(v, 'T'); idx >= 0 {
		v = v[:idx]
	}
	if len(v) < 10 {
		return "", false
	}
	v = v[:10]
	if _, err := time.Parse("2006-01-02", v); err != nil {
		return "", false
	}
	return v, true
}

// parseScheduleTime accepts "HH:MM" (24h) or "HH:MM am|pm" (12h,
// case-insensitive) and returns minutes since local midnight.
func parseScheduleTime(val string) (int, bool) {
	v := strings.TrimSpace(val)
	lower := strings.ToLower(v)
	if strings.Contains(lower, "am") || strings.Contains(lower, "pm") {
		// Drop whitespace so "1:00pm" and "01:00 PM" both parse.
		normalized := strings.ToUpper(strings.Join(strings.Fields(v), ""))
		t, err := time.Parse("3:04PM", normalized)
		if err != nil {
			return 0, false
		}
		return t.Hour()*60 + t.Minute(), true
	}
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
