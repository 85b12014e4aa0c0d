package worker_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendloop/campaign-dispatcher/internal/arbiter"
	"github.com/sendloop/campaign-dispatcher/internal/clock"
	"github.com/sendloop/campaign-dispatcher/internal/model"
	"github.com/sendloop/campaign-dispatcher/internal/store/memstore"
	"github.com/sendloop/campaign-dispatcher/internal/worker"
)

type fakeTransport struct {
	fail  bool
	sends []string
}

func (f *fakeTransport) Send(_ context.Context, mailbox model.Mailbox, toEmail, subject, html string) error {
	if f.fail {
		return fmt.Errorf("simulated transport failure")
	}
	f.sends = append(f.sends, toEmail)
	return nil
}

func seedCampaign(s *memstore.Store, campaignID string, nextMessageDay int) {
	s.SeedCampaign(model.Campaign{ID: campaignID, Status: model.CampaignStatusActive})
	s.SeedOptions(model.CampaignOptions{CampaignID: campaignID, DailyEmailLimit: 100, MailboxPool: []string{"mbox-1"}})
	s.SeedSequence(model.Sequence{CampaignID: campaignID, Steps: []model.SequenceStepRef{
		{Order: 1, StepID: "step-1", NextMessageDay: nextMessageDay},
	}})
	s.SeedStep(model.SequenceStep{ID: "step-1", ActiveTemplateRef: "tmpl-1"})
	s.SeedTemplate(model.Template{ID: "tmpl-1", Subject: "Hello {{first_name}}", HTML: "Hi {{first_name}}"})
	s.SeedMailbox(model.Mailbox{ID: "mbox-1", Email: "sender@example.com", SMTPHost: "smtp.example.com", SMTPPort: 587})
	s.SeedCampaignSettings(model.MailboxCampaignSettings{MailboxID: "mbox-1", DailyLimit: 100, MinWaitTime: 0})
}

func newWorker(s *memstore.Store, now time.Time, tr *fakeTransport) *worker.Worker {
	a := arbiter.New(s, 30, time.UTC)
	return worker.New(s, clock.Fixed{At: now}, a, tr)
}

func TestRunOnce_DryRunAdvancesProgressWithoutSending(t *testing.T) {
	s := memstore.New()
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	seedCampaign(s, "camp-1", 1)
	s.SeedLead(model.Lead{ID: "lead-1", CampaignID: "camp-1", LeadData: []model.Recipient{
		{Email: "lead@example.com", Fields: map[string]string{"first_name": "Ada"}},
	}})

	tr := &fakeTransport{}
	w := newWorker(s, now, tr)

	require.NoError(t, w.RunOnce(context.Background(), "camp-1", 10, true))

	lead, err := s.GetLead(context.Background(), "lead-1")
	require.NoError(t, err)
	require.NotNil(t, lead.Progress)
	assert.Equal(t, 2, lead.Progress.CurrentStepOrder)
	assert.Len(t, lead.Progress.ProcessedRecipients, 1)
	assert.Empty(t, tr.sends, "dry-run must never call transport")

	st, err := s.GetAccountRuntimeState(context.Background(), "mbox-1", "2026-07-31")
	require.NoError(t, err)
	assert.Equal(t, 0, st.SentCount, "dry-run must not consume arbiter budget")

	count, err := s.CountSentActivitiesSince(context.Background(), "camp-1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, count, "dry-run must not write a sent activity")
}

func TestRunOnce_HappyPathSendsAndAdvancesStep(t *testing.T) {
	s := memstore.New()
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	seedCampaign(s, "camp-1", 3)
	s.SeedLead(model.Lead{ID: "lead-1", CampaignID: "camp-1", LeadData: []model.Recipient{
		{Email: "lead@example.com", Fields: map[string]string{"first_name": "Ada"}},
	}})

	tr := &fakeTransport{}
	w := newWorker(s, now, tr)
	require.NoError(t, w.RunOnce(context.Background(), "camp-1", 10, false))

	assert.Equal(t, []string{"lead@example.com"}, tr.sends)

	lead, err := s.GetLead(context.Background(), "lead-1")
	require.NoError(t, err)
	require.NotNil(t, lead.Progress)
	assert.Equal(t, 2, lead.Progress.CurrentStepOrder)
	require.NotNil(t, lead.Progress.NextDueAt)
	assert.Equal(t, now.AddDate(0, 0, 3), *lead.Progress.NextDueAt)

	st, err := s.GetAccountRuntimeState(context.Background(), "mbox-1", "2026-07-31")
	require.NoError(t, err)
	assert.Equal(t, 1, st.SentCount)
	assert.Nil(t, st.LockedUntil)

	count, err := s.CountSentActivitiesSince(context.Background(), "camp-1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRunOnce_TransportFailureRollsBackAndRecordsErrorActivity(t *testing.T) {
	s := memstore.New()
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	seedCampaign(s, "camp-1", 1)
	s.SeedLead(model.Lead{ID: "lead-1", CampaignID: "camp-1", LeadData: []model.Recipient{
		{Email: "lead@example.com"},
	}})

	tr := &fakeTransport{fail: true}
	w := newWorker(s, now, tr)
	require.NoError(t, w.RunOnce(context.Background(), "camp-1", 10, false))

	lead, err := s.GetLead(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Nil(t, lead.Progress, "a failed send must not advance progress; the lead stays due")

	st, err := s.GetAccountRuntimeState(context.Background(), "mbox-1", "2026-07-31")
	require.NoError(t, err)
	assert.Equal(t, 0, st.SentCount)
	assert.Nil(t, st.LockedUntil, "reservation must be rolled back after a transport failure")
}

func TestRunOnce_MissingEmailRollsBackAndSkipsLead(t *testing.T) {
	s := memstore.New()
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	seedCampaign(s, "camp-1", 1)
	s.SeedLead(model.Lead{ID: "lead-1", CampaignID: "camp-1", LeadData: []model.Recipient{{Email: ""}}})

	tr := &fakeTransport{}
	w := newWorker(s, now, tr)
	require.NoError(t, w.RunOnce(context.Background(), "camp-1", 10, false))

	assert.Empty(t, tr.sends)
	st, err := s.GetAccountRuntimeState(context.Background(), "mbox-1", "2026-07-31")
	require.NoError(t, err)
	assert.Nil(t, st.LockedUntil)
}

func TestRunOnce_StepCompletionMarksLeadStopped(t *testing.T) {
	s := memstore.New()
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	seedCampaign(s, "camp-1", 1)
	pastDue := now.Add(-time.Minute)
	s.SeedLead(model.Lead{
		ID:         "lead-1",
		CampaignID: "camp-1",
		LeadData:   []model.Recipient{{Email: "lead@example.com"}},
		Progress: &model.LeadProgress{
			CurrentStepOrder: 2, // beyond the only defined step
			NextDueAt:        &pastDue,
			ProcessedRecipients: map[string]model.ProcessedRecipient{
				"step_1_recipient_0": {ProcessedAt: now.Add(-time.Hour), Email: "lead@example.com", TemplateRef: "tmpl-1"},
			},
		},
	})

	tr := &fakeTransport{}
	w := newWorker(s, now, tr)
	require.NoError(t, w.RunOnce(context.Background(), "camp-1", 10, false))

	lead, err := s.GetLead(context.Background(), "lead-1")
	require.NoError(t, err)
	require.NotNil(t, lead.Progress)
	assert.True(t, lead.Progress.Stopped)
	assert.Equal(t, "completed", lead.Progress.Reason)
}

func TestRunOnce_MultiRecipientLeadAdvancesOneAtATime(t *testing.T) {
	s := memstore.New()
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	seedCampaign(s, "camp-1", 2)
	s.SeedLead(model.Lead{ID: "lead-1", CampaignID: "camp-1", LeadData: []model.Recipient{
		{Email: "one@example.com"},
		{Email: "two@example.com"},
	}})

	tr := &fakeTransport{}
	w := newWorker(s, now, tr)

	require.NoError(t, w.RunOnce(context.Background(), "camp-1", 10, false))
	lead, err := s.GetLead(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, 1, lead.Progress.CurrentStepOrder, "step must not advance until both recipients are processed")
	assert.Len(t, lead.Progress.ProcessedRecipients, 1)

	// Force the lead due again and run a second tick for the remaining recipient.
	require.NoError(t, s.MakeLeadDueNow(context.Background(), "lead-1", now))
	w2 := newWorker(s, now.Add(time.Minute), tr)
	require.NoError(t, w2.RunOnce(context.Background(), "camp-1", 10, false))

	lead, err = s.GetLead(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, 2, lead.Progress.CurrentStepOrder, "step advances once both recipients are processed")
	assert.Len(t, lead.Progress.ProcessedRecipients, 2)
}

func TestRunOnce_MultiRecipientUsesMailboxMinWaitForNextDue(t *testing.T) {
	s := memstore.New()
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	seedCampaign(s, "camp-1", 2)
	s.SeedCampaignSettings(model.MailboxCampaignSettings{MailboxID: "mbox-1", DailyLimit: 100, MinWaitTime: 15})
	s.SeedLead(model.Lead{ID: "lead-1", CampaignID: "camp-1", LeadData: []model.Recipient{
		{Email: "one@example.com"},
		{Email: "two@example.com"},
	}})

	tr := &fakeTransport{}
	w := newWorker(s, now, tr)
	require.NoError(t, w.RunOnce(context.Background(), "camp-1", 10, false))

	lead, err := s.GetLead(context.Background(), "lead-1")
	require.NoError(t, err)
	require.NotNil(t, lead.Progress.NextDueAt)
	assert.Equal(t, now.Add(15*time.Minute), *lead.Progress.NextDueAt,
		"the intra-step due time must use the mailbox's min_wait_time, not a hardcoded cadence")
}

func TestRunOnce_PoolExhaustionBackpressuresRemainingLeads(t *testing.T) {
	s := memstore.New()
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	seedCampaign(s, "camp-1", 1)
	s.SeedCampaignSettings(model.MailboxCampaignSettings{MailboxID: "mbox-1", DailyLimit: 0, MinWaitTime: 0})
	s.SeedLead(model.Lead{ID: "lead-1", CampaignID: "camp-1", LeadData: []model.Recipient{{Email: "a@example.com"}}})
	s.SeedLead(model.Lead{ID: "lead-2", CampaignID: "camp-1", LeadData: []model.Recipient{{Email: "b@example.com"}}})

	tr := &fakeTransport{}
	w := newWorker(s, now, tr)
	require.NoError(t, w.RunOnce(context.Background(), "camp-1", 10, false))

	assert.Empty(t, tr.sends)
	l1, _ := s.GetLead(context.Background(), "lead-1")
	l2, _ := s.GetLead(context.Background(), "lead-2")
	assert.Nil(t, l1.Progress)
	assert.Nil(t, l2.Progress)
}
