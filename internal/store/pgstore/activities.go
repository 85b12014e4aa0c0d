package pgstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sendloop/campaign-dispatcher/internal/model"
)

func (s *Store) InsertActivity(ctx context.Context, activity model.Activity) error {
	if activity.ID == "" {
		activity.ID = uuid.New().String()
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now().UTC()
	}
	meta := activity.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO campaign_activities (id, campaign_id, lead_id, mailbox_id, type, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, activity.ID, activity.CampaignID, activity.LeadID, activity.MailboxID, string(activity.Type), metaJSON, activity.CreatedAt)
	return err
}

func (s *Store) CountSentActivitiesSince(ctx context.Context, campaignID string, sinceUTC time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM campaign_activities
		WHERE campaign_id = $1 AND type = $2 AND created_at >= $3
	`, campaignID, string(model.ActivitySent), sinceUTC).Scan(&n)
	return n, err
}
