package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/sendloop/campaign-dispatcher/internal/model"
	"github.com/sendloop/campaign-dispatcher/internal/store"
)

func (s *Store) GetCampaign(ctx context.Context, campaignID string) (*model.Campaign, error) {
	var c model.Campaign
	err := s.db.QueryRowContext(ctx,
		`SELECT id, status FROM campaigns WHERE id = $1`, campaignID,
	).Scan(&c.ID, &c.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetCampaignOptions(ctx context.Context, campaignID string) (*model.CampaignOptions, error) {
	var o model.CampaignOptions
	var poolJSON []byte
	o.CampaignID = campaignID
	err := s.db.QueryRowContext(ctx,
		`SELECT daily_email_limit, mailbox_pool FROM campaign_options WHERE campaign_id = $1`, campaignID,
	).Scan(&o.DailyEmailLimit, &poolJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(poolJSON, &o.MailboxPool); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) GetCampaignSchedule(ctx context.Context, campaignID string) (*model.CampaignSchedule, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM campaign_schedule WHERE campaign_id = $1`, campaignID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sch model.CampaignSchedule
	if err := json.Unmarshal(payload, &sch); err != nil {
		return nil, err
	}
	sch.CampaignID = campaignID
	return &sch, nil
}

func (s *Store) GetCampaignQueue(ctx context.Context) ([]model.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT campaign_id FROM campaign_queue`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.QueueEntry
	for rows.Next() {
		var e model.QueueEntry
		if err := rows.Scan(&e.CampaignID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, status FROM campaigns ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Campaign
	for rows.Next() {
		var c model.Campaign
		if err := rows.Scan(&c.ID, &c.Status); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetSequence(ctx context.Context, campaignID string) (*model.Sequence, error) {
	var stepsJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT steps FROM campaign_sequences WHERE campaign_id = $1`, campaignID,
	).Scan(&stepsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	seq := &model.Sequence{CampaignID: campaignID}
	if err := json.Unmarshal(stepsJSON, &seq.Steps); err != nil {
		return nil, err
	}
	return seq, nil
}

func (s *Store) GetSequenceStep(ctx context.Context, stepID string) (*model.SequenceStep, error) {
	var step model.SequenceStep
	err := s.db.QueryRowContext(ctx,
		`SELECT id, active_template_ref FROM sequence_steps WHERE id = $1`, stepID,
	).Scan(&step.ID, &step.ActiveTemplateRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &step, nil
}

func (s *Store) GetTemplate(ctx context.Context, templateID string) (*model.Template, error) {
	var t model.Template
	err := s.db.QueryRowContext(ctx,
		`SELECT id, subject, html FROM templates WHERE id = $1`, templateID,
	).Scan(&t.ID, &t.Subject, &t.HTML)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
