package dispatcher_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendloop/campaign-dispatcher/internal/arbiter"
	"github.com/sendloop/campaign-dispatcher/internal/clock"
	"github.com/sendloop/campaign-dispatcher/internal/dispatcher"
	"github.com/sendloop/campaign-dispatcher/internal/model"
	"github.com/sendloop/campaign-dispatcher/internal/store/memstore"
	"github.com/sendloop/campaign-dispatcher/internal/worker"
)

type noopTransport struct{ sent int }

func (n *noopTransport) Send(context.Context, model.Mailbox, string, string, string) error {
	n.sent++
	return nil
}

func seed(s *memstore.Store, campaignID string, status model.CampaignStatus, dailyLimit int) {
	s.SeedCampaign(model.Campaign{ID: campaignID, Status: status})
	s.SeedOptions(model.CampaignOptions{CampaignID: campaignID, DailyEmailLimit: dailyLimit, MailboxPool: []string{"mbox-1"}})
	s.SeedSchedule(model.CampaignSchedule{CampaignID: campaignID, Timezone: "UTC"})
	s.SeedSequence(model.Sequence{CampaignID: campaignID, Steps: []model.SequenceStepRef{
		{Order: 1, StepID: "step-1", NextMessageDay: 1},
	}})
	s.SeedStep(model.SequenceStep{ID: "step-1", ActiveTemplateRef: "tmpl-1"})
	s.SeedTemplate(model.Template{ID: "tmpl-1", Subject: "Hi", HTML: "Body"})
	s.SeedMailbox(model.Mailbox{ID: "mbox-1", Email: "sender@example.com"})
	s.SeedCampaignSettings(model.MailboxCampaignSettings{MailboxID: "mbox-1", DailyLimit: 100, MinWaitTime: 0})
	s.SeedQueue(model.QueueEntry{CampaignID: campaignID})
}

func TestRunOnce_SkipsPausedCampaigns(t *testing.T) {
	s := memstore.New()
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	seed(s, "camp-1", model.CampaignStatusPaused, 50)
	s.SeedLead(model.Lead{ID: "lead-1", CampaignID: "camp-1", LeadData: []model.Recipient{{Email: "a@example.com"}}})

	tr := &noopTransport{}
	a := arbiter.New(s, 30, time.UTC)
	w := worker.New(s, clock.Fixed{At: now}, a, tr)
	d := dispatcher.New(s, clock.Fixed{At: now}, w)

	require.NoError(t, d.RunOnce(context.Background(), 10))
	assert.Zero(t, tr.sent, "a paused campaign must never be dispatched")
}

func TestRunOnce_SkipsCampaignsOutsideScheduleWindow(t *testing.T) {
	s := memstore.New()
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	seed(s, "camp-1", model.CampaignStatusActive, 50)
	// Overwrite the schedule with a window that excludes `now`.
	s.SeedSchedule(model.CampaignSchedule{CampaignID: "camp-1", Timezone: "UTC", TimeFrom: "22:00", TimeTo: "23:00"})
	s.SeedLead(model.Lead{ID: "lead-1", CampaignID: "camp-1", LeadData: []model.Recipient{{Email: "a@example.com"}}})

	tr := &noopTransport{}
	a := arbiter.New(s, 30, time.UTC)
	w := worker.New(s, clock.Fixed{At: now}, a, tr)
	d := dispatcher.New(s, clock.Fixed{At: now}, w)

	require.NoError(t, d.RunOnce(context.Background(), 10))
	assert.Zero(t, tr.sent)
}

func TestRunOnce_CapsEffectiveBatchAtRemainingDailyLimit(t *testing.T) {
	s := memstore.New()
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	seed(s, "camp-1", model.CampaignStatusActive, 1)
	s.SeedLead(model.Lead{ID: "lead-1", CampaignID: "camp-1", LeadData: []model.Recipient{{Email: "a@example.com"}}})
	s.SeedLead(model.Lead{ID: "lead-2", CampaignID: "camp-1", LeadData: []model.Recipient{{Email: "b@example.com"}}})

	tr := &noopTransport{}
	a := arbiter.New(s, 30, time.UTC)
	w := worker.New(s, clock.Fixed{At: now}, a, tr)
	d := dispatcher.New(s, clock.Fixed{At: now}, w)

	require.NoError(t, d.RunOnce(context.Background(), 10))
	assert.Equal(t, 1, tr.sent, "daily_email_limit=1 must cap the effective batch to a single send")
}

func TestRunOnce_SentTodayHitsLimitSkipsCampaign(t *testing.T) {
	s := memstore.New()
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	seed(s, "camp-1", model.CampaignStatusActive, 1)
	require.NoError(t, s.InsertActivity(context.Background(), model.Activity{
		CampaignID: "camp-1", MailboxID: "mbox-1", LeadID: "lead-0", Type: model.ActivitySent, CreatedAt: now.Add(-time.Hour),
	}))
	s.SeedLead(model.Lead{ID: "lead-1", CampaignID: "camp-1", LeadData: []model.Recipient{{Email: "a@example.com"}}})

	tr := &noopTransport{}
	a := arbiter.New(s, 30, time.UTC)
	w := worker.New(s, clock.Fixed{At: now}, a, tr)
	d := dispatcher.New(s, clock.Fixed{At: now}, w)

	require.NoError(t, d.RunOnce(context.Background(), 10))
	assert.Zero(t, tr.sent, "campaign daily cap already met for today")
}

func TestRunOnce_OneCampaignFailureDoesNotAbortTheRest(t *testing.T) {
	s := memstore.New()
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	// camp-1 has no options at all (config-missing); camp-2 is healthy.
	s.SeedCampaign(model.Campaign{ID: "camp-1", Status: model.CampaignStatusActive})
	s.SeedSchedule(model.CampaignSchedule{CampaignID: "camp-1", Timezone: "UTC"})
	s.SeedQueue(model.QueueEntry{CampaignID: "camp-1"})

	seed(s, "camp-2", model.CampaignStatusActive, 50)
	s.SeedLead(model.Lead{ID: "lead-1", CampaignID: "camp-2", LeadData: []model.Recipient{{Email: "a@example.com"}}})

	tr := &noopTransport{}
	a := arbiter.New(s, 30, time.UTC)
	w := worker.New(s, clock.Fixed{At: now}, a, tr)
	d := dispatcher.New(s, clock.Fixed{At: now}, w)

	require.NoError(t, d.RunOnce(context.Background(), 10))
	assert.Equal(t, 1, tr.sent, "camp-2 must still be processed despite camp-1's config error")
}
