// Package dispatcher drives one global tick: walk the campaign queue,
// gate each entry on status/schedule/daily-cap, and invoke the Worker with
// an effective batch size. Grounded on the original domain/dispatcher.py's
// gating order and effective_batch_size computation.
package dispatcher

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sendloop/campaign-dispatcher/internal/clock"
	"github.com/sendloop/campaign-dispatcher/internal/model"
	"github.com/sendloop/campaign-dispatcher/internal/schedule"
	"github.com/sendloop/campaign-dispatcher/internal/store"
	"github.com/sendloop/campaign-dispatcher/internal/worker"
)

// Dispatcher owns one tick of the whole pipeline.
type Dispatcher struct {
	Store  store.Store
	Clock  clock.Clock
	Worker *worker.Worker
}

// New builds a Dispatcher.
func New(s store.Store, c clock.Clock, w *worker.Worker) *Dispatcher {
	return &Dispatcher{Store: s, Clock: c, Worker: w}
}

// RunOnce walks the campaign queue once, invoking the Worker for every
// campaign that passes the status/schedule/daily-cap gates. A per-campaign
// Worker error is logged and does not abort the remaining queue.
func (d *Dispatcher) RunOnce(ctx context.Context, batchSize int) error {
	entries, err := d.Store.GetCampaignQueue(ctx)
	if err != nil {
		return err
	}

	nowUTC := d.Clock.NowUTC()

	for _, entry := range entries {
		if err := d.runOne(ctx, entry.CampaignID, batchSize, nowUTC); err != nil {
			log.Error().Err(err).Str("campaign_id", entry.CampaignID).Msg("dispatcher: campaign tick failed")
		}
	}
	return nil
}

func (d *Dispatcher) runOne(ctx context.Context, campaignID string, batchSize int, nowUTC time.Time) error {
	campaign, err := d.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign.Status != model.CampaignStatusActive {
		return nil
	}

	sch, err := d.Store.GetCampaignSchedule(ctx, campaignID)
	if err != nil {
		return err
	}
	if !schedule.InWindow(nowUTC, *sch) {
		return nil
	}

	opts, err := d.Store.GetCampaignOptions(ctx, campaignID)
	if err != nil {
		return err
	}
	if opts.DailyEmailLimit <= 0 {
		return nil
	}

	startOfDayUTC := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day(), 0, 0, 0, 0, time.UTC)
	sentToday, err := d.Store.CountSentActivitiesSince(ctx, campaignID, startOfDayUTC)
	if err != nil {
		return err
	}
	if sentToday >= opts.DailyEmailLimit {
		return nil
	}

	effectiveBatch := batchSize
	remaining := opts.DailyEmailLimit - sentToday
	if remaining < effectiveBatch {
		effectiveBatch = remaining
	}
	if effectiveBatch <= 0 {
		return nil
	}

	return d.Worker.RunOnce(ctx, campaignID, effectiveBatch, false)
}
