package pgstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sendloop/campaign-dispatcher/internal/model"
	"github.com/sendloop/campaign-dispatcher/internal/store"
)

func (s *Store) GetMailbox(ctx context.Context, mailboxID string) (*model.Mailbox, error) {
	var m model.Mailbox
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, smtp_host, smtp_port, smtp_user, smtp_pass, status
		FROM email_accounts WHERE id = $1
	`, mailboxID).Scan(&m.ID, &m.Email, &m.SMTPHost, &m.SMTPPort, &m.SMTPUser, &m.SMTPPass, &m.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) GetMailboxCampaignSettings(ctx context.Context, mailboxID string) (*model.MailboxCampaignSettings, error) {
	var c model.MailboxCampaignSettings
	c.MailboxID = mailboxID
	err := s.db.QueryRowContext(ctx,
		`SELECT daily_limit, min_wait_time FROM email_campaign_settings WHERE mailbox_id = $1`, mailboxID,
	).Scan(&c.DailyLimit, &c.MinWaitTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetMailboxGeneralSettings(ctx context.Context, mailboxID string) (*model.MailboxGeneralSettings, error) {
	var g model.MailboxGeneralSettings
	g.MailboxID = mailboxID
	err := s.db.QueryRowContext(ctx,
		`SELECT signature, sender_first_name, sender_last_name FROM email_general_settings WHERE mailbox_id = $1`, mailboxID,
	).Scan(&g.Signature, &g.SenderFirstName, &g.SenderLastName)
	if errors.Is(err, sql.ErrNoRows) {
		// Presentational-only data; absence is not an error, per the
		// Renderer's total-over-missing-fields contract.
		return &g, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) ListMailboxes(ctx context.Context) ([]model.Mailbox, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, smtp_host, smtp_port, smtp_user, smtp_pass, status
		FROM email_accounts ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Mailbox
	for rows.Next() {
		var m model.Mailbox
		if err := rows.Scan(&m.ID, &m.Email, &m.SMTPHost, &m.SMTPPort, &m.SMTPUser, &m.SMTPPass, &m.Status); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
