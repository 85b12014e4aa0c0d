// Package clock returns UTC instants and derives local-calendar views from
// IANA timezone strings, including ones carrying a human-readable offset
// suffix (a data-quality artifact of campaigns authored through a UI that
// stores both, e.g. "Asia/Kolkata (UTC +05:30)").
package clock

import (
	"fmt"
	"strings"
	"time"
)

// Clock is the sole source of "now" for the scheduling pipeline. Production
// code uses Real; tests substitute a Fixed clock so schedule/arbiter
// properties can be asserted against a known instant.
type Clock interface {
	NowUTC() time.Time
}

// Real returns the operating system's current time, always normalized to UTC.
type Real struct{}

func (Real) NowUTC() time.Time { return time.Now().UTC() }

// Fixed is a clock that always returns the same instant; used in tests.
type Fixed struct {
	At time.Time
}

func (f Fixed) NowUTC() time.Time { return f.At.UTC() }

// LocalView is the decomposed local-calendar view of an instant in a given
// timezone: the pieces the Schedule Evaluator needs without re-deriving them
// from a time.Time on every comparison.
type LocalView struct {
	Date    string // YYYY-MM-DD
	Weekday time.Weekday
	Time    time.Time // only the hour/minute/second fields are meaningful
}

// ResolveZone parses a timezone string, honoring only the token up to the
// first whitespace (stripping any "(UTC +05:30)"-style annotation). An
// unresolvable zone is reported back to the caller so the containing
// operation can fail closed rather than silently default to UTC.
func ResolveZone(tzString string) (*time.Location, error) {
	token := strings.TrimSpace(tzString)
	if idx := strings.IndexAny(token, " \t"); idx >= 0 {
		token = token[:idx]
	}
	if token == "" {
		// time.LoadLocation("") would silently return UTC.
		return nil, fmt.Errorf("clock: empty timezone")
	}
	return time.LoadLocation(token)
}

// InZone projects a UTC instant into the given timezone's local calendar
// view. Callers that already validated the zone via ResolveZone should pass
// its result straight through.
func InZone(nowUTC time.Time, loc *time.Location) LocalView {
	local := nowUTC.In(loc)
	return LocalView{
		Date:    local.Format("2006-01-02"),
		Weekday: local.Weekday(),
		Time:    local,
	}
}
