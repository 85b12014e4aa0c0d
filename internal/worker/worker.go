// Package worker processes one campaign's batch of due leads per tick:
// selects the next unprocessed recipient for each lead's current step,
// arbitrates a sending mailbox, renders the message, submits it, and
// advances progress. Grounded on the original domain/worker.py's per-lead
// procedure and the teacher's campaign_handler.go's send-and-record shape.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sendloop/campaign-dispatcher/internal/arbiter"
	"github.com/sendloop/campaign-dispatcher/internal/clock"
	"github.com/sendloop/campaign-dispatcher/internal/model"
	"github.com/sendloop/campaign-dispatcher/internal/render"
	"github.com/sendloop/campaign-dispatcher/internal/store"
	"github.com/sendloop/campaign-dispatcher/internal/transport"
)

// Worker runs one campaign's batch per RunOnce call. A single Worker value
// is safe to reuse, and safe for the Dispatcher to call repeatedly across
// ticks, across different campaigns concurrently (the per-campaign cursor
// map is mutex-guarded).
type Worker struct {
	Store     store.Store
	Clock     clock.Clock
	Arbiter   *arbiter.Arbiter
	Transport transport.Transport

	cursorMu sync.Mutex
	cursors  map[string]int // campaignID -> next mailbox index to try first
}

// New builds a Worker over the given collaborators.
func New(s store.Store, c clock.Clock, a *arbiter.Arbiter, t transport.Transport) *Worker {
	return &Worker{Store: s, Clock: c, Arbiter: a, Transport: t, cursors: map[string]int{}}
}

// RunOnce processes up to batchSize due leads for campaignID. dryRun still
// advances lead progress (per the spec's own fixture) but performs no
// SMTP call, emits no activity, and rolls back every arbiter reservation.
func (w *Worker) RunOnce(ctx context.Context, campaignID string, batchSize int, dryRun bool) error {
	seq, err := w.Store.GetSequence(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("worker: preflight sequence: %w", err)
	}
	opts, err := w.Store.GetCampaignOptions(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("worker: preflight options: %w", err)
	}
	if len(opts.MailboxPool) == 0 {
		return fmt.Errorf("worker: campaign %s has an empty mailbox pool", campaignID)
	}

	nowUTC := w.Clock.NowUTC()
	leads, err := w.Store.GetDueLeads(ctx, campaignID, nowUTC, batchSize)
	if err != nil {
		return fmt.Errorf("worker: due leads: %w", err)
	}

	for _, lead := range leads {
		if err := w.processLead(ctx, campaignID, lead, seq, opts, dryRun); err != nil {
			if err == errPoolExhausted {
				log.Warn().Str("campaign_id", campaignID).Msg("mailbox pool exhausted, backpressuring remaining leads to next tick")
				return nil
			}
			log.Error().Err(err).Str("campaign_id", campaignID).Str("lead_id", lead.ID).Msg("worker: lead processing failed")
		}
	}
	return nil
}

var errPoolExhausted = fmt.Errorf("worker: mailbox pool exhausted for this tick")

func (w *Worker) processLead(ctx context.Context, campaignID string, lead model.Lead, seq *model.Sequence, opts *model.CampaignOptions, dryRun bool) error {
	stepOrder := 1
	if lead.Progress != nil && lead.Progress.CurrentStepOrder > 0 {
		stepOrder = lead.Progress.CurrentStepOrder
	}

	stepRef := findStepRef(seq, stepOrder)
	if stepRef == nil {
		progress := copyProgress(lead.Progress)
		progress.Stopped = true
		progress.Reason = "completed"
		return w.Store.UpdateLeadProgress(ctx, lead.ID, progress)
	}

	step, err := w.Store.GetSequenceStep(ctx, stepRef.StepID)
	if err != nil {
		log.Error().Err(err).Str("step_id", stepRef.StepID).Msg("worker: step lookup failed, skipping lead")
		return nil
	}
	tmpl, err := w.Store.GetTemplate(ctx, step.ActiveTemplateRef)
	if err != nil {
		log.Error().Err(err).Str("template_ref", step.ActiveTemplateRef).Msg("worker: template lookup failed, skipping lead")
		return nil
	}

	processed := map[string]model.ProcessedRecipient{}
	if lead.Progress != nil {
		processed = lead.Progress.ProcessedRecipients
	}

	total := len(lead.LeadData)
	if total == 0 {
		total = 1
	}
	idx, recipient, found := nextUnprocessedRecipient(lead, stepOrder, processed, total)
	if !found {
		// All recipients for this step are already processed; advancement
		// happens on the send path, nothing to do until the next lead read.
		return nil
	}

	nowUTC := w.Clock.NowUTC()

	mailbox, campSettings, ok, err := w.reserveMailbox(ctx, campaignID, opts.MailboxPool, nowUTC)
	if err != nil {
		return fmt.Errorf("mailbox reservation: %w", err)
	}
	if !ok {
		return errPoolExhausted
	}

	minWait := 0
	if campSettings != nil {
		minWait = campSettings.MinWaitTime
	}

	ctxFields := buildDerivedFields(mailbox, campaignID, stepOrder)
	general, err := w.Store.GetMailboxGeneralSettings(ctx, mailbox.ID)
	if err == nil {
		if general.SenderFirstName != "" || general.SenderLastName != "" {
			ctxFields["sender_first_name"] = general.SenderFirstName
			ctxFields["sender_last_name"] = general.SenderLastName
			ctxFields["sender_name"] = strings.TrimSpace(general.SenderFirstName + " " + general.SenderLastName)
		}
	}
	signature := ""
	if general != nil {
		signature = general.Signature
	}

	renderCtx := render.BuildContext(recipient.Fields, ctxFields)
	subject, body := render.Render(tmpl.Subject, tmpl.HTML, renderCtx, signature)

	if recipient.Email == "" {
		log.Warn().Str("lead_id", lead.ID).Msg("worker: recipient has no email, rolling back")
		return w.Arbiter.Rollback(ctx, mailbox.ID, nowUTC)
	}

	if dryRun {
		if err := w.Arbiter.Rollback(ctx, mailbox.ID, nowUTC); err != nil {
			return err
		}
		return w.advanceProgress(ctx, lead, stepOrder, idx, recipient.Email, step.ActiveTemplateRef, seq, nowUTC, total, processed, minWait)
	}

	if err := w.Transport.Send(ctx, *mailbox, recipient.Email, subject, body); err != nil {
		if rbErr := w.Arbiter.Rollback(ctx, mailbox.ID, nowUTC); rbErr != nil {
			log.Error().Err(rbErr).Msg("worker: rollback after transport failure also failed")
		}
		_ = w.Store.InsertActivity(ctx, model.Activity{
			CampaignID: campaignID,
			LeadID:     lead.ID,
			MailboxID:  mailbox.ID,
			Type:       model.ActivityError,
			Meta:       map[string]string{"error": err.Error()},
			CreatedAt:  nowUTC,
		})
		return nil
	}

	if err := w.Arbiter.Commit(ctx, mailbox.ID, nowUTC, minWait); err != nil {
		log.Error().Err(err).Msg("worker: commit after successful send failed")
	}
	_ = w.Store.InsertActivity(ctx, model.Activity{
		CampaignID: campaignID,
		LeadID:     lead.ID,
		MailboxID:  mailbox.ID,
		Type:       model.ActivitySent,
		CreatedAt:  nowUTC,
	})

	return w.advanceProgress(ctx, lead, stepOrder, idx, recipient.Email, step.ActiveTemplateRef, seq, nowUTC, total, processed, minWait)
}

// reserveMailbox tries the campaign's mailbox pool starting from the
// per-campaign cursor, wrapping once, each mailbox at most once.
func (w *Worker) reserveMailbox(ctx context.Context, campaignID string, pool []string, nowUTC time.Time) (*model.Mailbox, *model.MailboxCampaignSettings, bool, error) {
	w.cursorMu.Lock()
	start := w.cursors[campaignID]
	w.cursorMu.Unlock()

	n := len(pool)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		mailboxID := pool[idx]

		mailbox, err := w.Store.GetMailbox(ctx, mailboxID)
		if err != nil {
			continue
		}
		settings, err := w.Store.GetMailboxCampaignSettings(ctx, mailboxID)
		if err != nil {
			continue
		}

		ok, err := w.Arbiter.Reserve(ctx, mailboxID, nowUTC, settings.DailyLimit, settings.MinWaitTime)
		if err != nil {
			return nil, nil, false, err
		}
		if ok {
			w.cursorMu.Lock()
			w.cursors[campaignID] = (idx + 1) % n
			w.cursorMu.Unlock()
			return mailbox, settings, true, nil
		}
	}
	return nil, nil, false, nil
}

func findStepRef(seq *model.Sequence, order int) *model.SequenceStepRef {
	for i := range seq.Steps {
		if seq.Steps[i].Order == order {
			return &seq.Steps[i]
		}
	}
	return nil
}

// nextUnprocessedRecipient finds the lowest-index recipient of stepOrder
// not yet present in processed, per the "step_{order}_recipient_{i}" key
// convention.
func nextUnprocessedRecipient(lead model.Lead, stepOrder int, processed map[string]model.ProcessedRecipient, total int) (int, model.Recipient, bool) {
	for i := 0; i < total; i++ {
		key := recipientKey(stepOrder, i)
		if _, done := processed[key]; done {
			continue
		}
		if i < len(lead.LeadData) {
			return i, lead.LeadData[i], true
		}
		return i, model.Recipient{}, true
	}
	return 0, model.Recipient{}, false
}

func recipientKey(stepOrder, i int) string {
	return "step_" + strconv.Itoa(stepOrder) + "_recipient_" + strconv.Itoa(i)
}

func buildDerivedFields(mailbox *model.Mailbox, campaignID string, stepOrder int) map[string]string {
	return map[string]string{
		"sender_email": mailbox.Email,
		"campaign_id":  campaignID,
		"step_order":   strconv.Itoa(stepOrder),
	}
}

func copyProgress(p *model.LeadProgress) model.LeadProgress {
	if p == nil {
		return model.LeadProgress{ProcessedRecipients: map[string]model.ProcessedRecipient{}}
	}
	cp := *p
	cp.ProcessedRecipients = map[string]model.ProcessedRecipient{}
	for k, v := range p.ProcessedRecipients {
		cp.ProcessedRecipients[k] = v
	}
	return cp
}

// advanceProgress records the recipient as processed and, if that
// completes the step's recipient set, advances current_step_order; else it
// sets the next intra-step due time using the mailbox's min_wait_time.
func (w *Worker) advanceProgress(ctx context.Context, lead model.Lead, stepOrder, recipientIdx int, email, templateRef string, seq *model.Sequence, nowUTC time.Time, total int, processed map[string]model.ProcessedRecipient, minWaitMinutes int) error {
	progress := copyProgress(lead.Progress)
	progress.CurrentStepOrder = stepOrder
	progress.ProcessedRecipients[recipientKey(stepOrder, recipientIdx)] = model.ProcessedRecipient{
		ProcessedAt: nowUTC,
		Email:       email,
		TemplateRef: templateRef,
	}

	doneInStep := 0
	prefix := "step_" + strconv.Itoa(stepOrder) + "_"
	for k := range progress.ProcessedRecipients {
		if strings.HasPrefix(k, prefix) {
			doneInStep++
		}
	}

	sent := nowUTC
	progress.LastSentAt = &sent

	if doneInStep >= total {
		stepRef := findStepRef(seq, stepOrder)
		nextDelay := 0
		if stepRef != nil {
			nextDelay = stepRef.NextMessageDay
		}
		progress.CurrentStepOrder = stepOrder + 1
		due := nowUTC.AddDate(0, 0, nextDelay)
		progress.NextDueAt = &due
	} else {
		due := nowUTC.Add(time.Duration(minWaitMinutes) * time.Minute)
		progress.NextDueAt = &due
	}

	return w.Store.UpdateLeadProgress(ctx, lead.ID, progress)
}
