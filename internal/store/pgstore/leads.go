package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/sendloop/campaign-dispatcher/internal/model"
	"github.com/sendloop/campaign-dispatcher/internal/store"
)

func scanLead(row interface {
	Scan(dest ...interface{}) error
}) (*model.Lead, error) {
	var l model.Lead
	var leadDataJSON []byte
	var progressJSON sql.NullString

	if err := row.Scan(&l.ID, &l.CampaignID, &leadDataJSON, &progressJSON); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(leadDataJSON, &l.LeadData); err != nil {
		// A single recipient object becomes a one-element slice.
		var single model.Recipient
		if singleErr := json.Unmarshal(leadDataJSON, &single); singleErr != nil {
			return nil, err
		}
		l.LeadData = []model.Recipient{single}
	}
	if progressJSON.Valid && progressJSON.String != "" {
		var p model.LeadProgress
		if err := json.Unmarshal([]byte(progressJSON.String), &p); err != nil {
			return nil, err
		}
		l.Progress = &p
	}
	return &l, nil
}

// GetDueLeads selects leads with no progress, or not stopped and
// (next_due_at <= now or last_sent_at is absent). The expression index on
// (stopped, next_due_at) created by InitIndexes serves this predicate.
func (s *Store) GetDueLeads(ctx context.Context, campaignID string, nowUTC time.Time, limit int) ([]model.Lead, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_id, lead_data, progress
		FROM campaign_leads
		WHERE campaign_id = $1
		  AND (
		    progress IS NULL
		    OR (
		      COALESCE((progress->>'stopped')::boolean, false) = false
		      AND (
		        (progress->>'next_due_at')::timestamptz <= $2
		        OR (progress->>'last_sent_at') IS NULL
		      )
		    )
		  )
		ORDER BY id
		LIMIT $3
	`, campaignID, nowUTC, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (s *Store) GetLead(ctx context.Context, leadID string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, campaign_id, lead_data, progress FROM campaign_leads WHERE id = $1`, leadID)
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Store) ListLeads(ctx context.Context, campaignID string) ([]model.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, campaign_id, lead_data, progress FROM campaign_leads WHERE campaign_id = $1 ORDER BY id`,
		campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (s *Store) UpdateLeadProgress(ctx context.Context, leadID string, progress model.LeadProgress) error {
	payload, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaign_leads SET progress = $1 WHERE id = $2`, payload, leadID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) BackfillLeadProgress(ctx context.Context, campaignID string) (int, error) {
	empty, err := json.Marshal(model.LeadProgress{CurrentStepOrder: 1, ProcessedRecipients: map[string]model.ProcessedRecipient{}})
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaign_leads SET progress = $1 WHERE campaign_id = $2 AND progress IS NULL`,
		empty, campaignID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) MakeLeadDueNow(ctx context.Context, leadID string, nowUTC time.Time) error {
	lead, err := s.GetLead(ctx, leadID)
	if err != nil {
		return err
	}
	progress := model.LeadProgress{CurrentStepOrder: 1, ProcessedRecipients: map[string]model.ProcessedRecipient{}}
	if lead.Progress != nil {
		progress = *lead.Progress
	}
	due := nowUTC.Add(-time.Second)
	progress.NextDueAt = &due
	progress.Stopped = false
	return s.UpdateLeadProgress(ctx, leadID, progress)
}

func (s *Store) ResetLeadProgress(ctx context.Context, leadID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE campaign_leads SET progress = NULL WHERE id = $1`, leadID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpdateLeadStatuses is administrative only; it never touches progress, per
// the spec's resolved open question that sequencing logic must not depend
// on an externally-set status field.
func (s *Store) UpdateLeadStatuses(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM campaign_leads WHERE campaign_id = $1`, campaignID,
	).Scan(&n)
	return n, err
}
