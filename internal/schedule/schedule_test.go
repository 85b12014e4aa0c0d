package schedule_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sendloop/campaign-dispatcher/internal/model"
	"github.com/sendloop/campaign-dispatcher/internal/schedule"
)

func TestInWindow_NoTimezoneFailsClosed(t *testing.T) {
	sch := model.CampaignSchedule{CampaignID: "c1"}
	assert.False(t, schedule.InWindow(time.Now().UTC(), sch))
}

func TestInWindow_AllowsAllDaysByDefault(t *testing.T) {
	sch := model.CampaignSchedule{Timezone: "UTC"}
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC) // Friday
	assert.True(t, schedule.InWindow(now, sch))
}

func TestInWindow_WeekdayRestriction(t *testing.T) {
	sch := model.CampaignSchedule{Timezone: "UTC", ScheduledDays: []string{"monday", "tuesday"}}
	friday := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	assert.False(t, schedule.InWindow(friday, sch))

	monday := time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)
	assert.True(t, schedule.InWindow(monday, sch))
}

func TestInWindow_DateRange(t *testing.T) {
	sch := model.CampaignSchedule{
		Timezone:  "UTC",
		StartDate: "2026-08-01",
		EndDate:   "2026-08-31",
	}
	before := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)
	inside := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	after := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, schedule.InWindow(before, sch))
	assert.True(t, schedule.InWindow(inside, sch))
	assert.False(t, schedule.InWindow(after, sch))
}

func TestInWindow_TimeRangeSimple(t *testing.T) {
	sch := model.CampaignSchedule{Timezone: "UTC", TimeFrom: "09:00", TimeTo: "17:00"}
	inside := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	outside := time.Date(2026, 7, 31, 20, 0, 0, 0, time.UTC)

	assert.True(t, schedule.InWindow(inside, sch))
	assert.False(t, schedule.InWindow(outside, sch))
}

func TestInWindow_TimeRangeTwelveHourClock(t *testing.T) {
	sch := model.CampaignSchedule{Timezone: "UTC", TimeFrom: "9:00 am", TimeTo: "5:00 PM"}
	inside := time.Date(2026, 7, 31, 14, 0, 0, 0, time.UTC)
	assert.True(t, schedule.InWindow(inside, sch))
}

// TestInWindow_MidnightWrapInAnnotatedTimezone exercises the scenario the
// spec's own fixture calls out: a timezone string carrying a
// human-readable offset annotation, combined with a window that wraps
// midnight in local time.
func TestInWindow_MidnightWrapInAnnotatedTimezone(t *testing.T) {
	sch := model.CampaignSchedule{
		Timezone: "Asia/Kolkata (UTC +05:30)",
		TimeFrom: "22:00",
		TimeTo:   "06:00",
	}

	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skipf("tzdata unavailable in this environment: %v", err)
	}

	// 23:30 IST is inside the wrap window.
	lateNightIST := time.Date(2026, 7, 31, 23, 30, 0, 0, loc)
	assert.True(t, schedule.InWindow(lateNightIST.UTC(), sch))

	// 02:00 IST (next calendar day locally) is also inside the wrap window.
	earlyMorningIST := time.Date(2026, 8, 1, 2, 0, 0, 0, loc)
	assert.True(t, schedule.InWindow(earlyMorningIST.UTC(), sch))

	// 12:00 IST is outside the window.
	noonIST := time.Date(2026, 7, 31, 12, 0, 0, 0, loc)
	assert.False(t, schedule.InWindow(noonIST.UTC(), sch))
}

func TestInWindow_MalformedTimezoneFailsClosed(t *testing.T) {
	sch := model.CampaignSchedule{Timezone: "Not/A_Real_Zone"}
	assert.False(t, schedule.InWindow(time.Now().UTC(), sch))
}

func TestInWindow_ISODateTruncatedAtT(t *testing.T) {
	sch := model.CampaignSchedule{Timezone: "UTC", StartDate: "2026-08-01T00:00:00Z"}
	before := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	after := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	assert.False(t, schedule.InWindow(before, sch))
	assert.True(t, schedule.InWindow(after, sch))
}
