package pgstore

import "context"

// schemaStatements creates every table this module needs plus the indexes
// named in the external interfaces contract. Run via InitIndexes / the
// `init-indexes` CLI command, grounded on the teacher's database
// auto-migrate step (it runs a fixed list of CREATE TABLE IF NOT EXISTS /
// CREATE INDEX IF NOT EXISTS statements at startup rather than using a
// migration framework).
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		payload JSONB NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status)`,

	`CREATE TABLE IF NOT EXISTS campaign_options (
		campaign_id TEXT PRIMARY KEY,
		daily_email_limit INT NOT NULL DEFAULT 0,
		mailbox_pool JSONB NOT NULL DEFAULT '[]'
	)`,

	`CREATE TABLE IF NOT EXISTS campaign_schedule (
		campaign_id TEXT PRIMARY KEY,
		payload JSONB NOT NULL DEFAULT '{}'
	)`,

	`CREATE TABLE IF NOT EXISTS campaign_queue (
		campaign_id TEXT PRIMARY KEY
	)`,

	`CREATE TABLE IF NOT EXISTS campaign_sequences (
		campaign_id TEXT PRIMARY KEY,
		steps JSONB NOT NULL DEFAULT '[]'
	)`,

	`CREATE TABLE IF NOT EXISTS sequence_steps (
		id TEXT PRIMARY KEY,
		sequence_id TEXT NOT NULL,
		active_template_ref TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sequence_steps_seq_id ON sequence_steps(sequence_id, id)`,

	`CREATE TABLE IF NOT EXISTS templates (
		id TEXT PRIMARY KEY,
		subject TEXT NOT NULL DEFAULT '',
		html TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS campaign_leads (
		id TEXT PRIMARY KEY,
		campaign_id TEXT NOT NULL,
		lead_data JSONB NOT NULL DEFAULT '[]',
		progress JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_campaign_leads_campaign ON campaign_leads(campaign_id)`,
	`CREATE INDEX IF NOT EXISTS idx_campaign_leads_email ON campaign_leads(((lead_data->0->>'email')))`,
	`CREATE INDEX IF NOT EXISTS idx_campaign_leads_due ON campaign_leads(((progress->>'stopped')), ((progress->>'next_due_at')))`,

	`CREATE TABLE IF NOT EXISTS campaign_activities (
		id TEXT PRIMARY KEY,
		campaign_id TEXT NOT NULL,
		lead_id TEXT NOT NULL,
		mailbox_id TEXT NOT NULL,
		type TEXT NOT NULL,
		meta JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activities_campaign ON campaign_activities(campaign_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_activities_lead ON campaign_activities(lead_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_activities_mailbox ON campaign_activities(mailbox_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS account_runtime_state (
		mailbox_id TEXT NOT NULL,
		date_key TEXT NOT NULL,
		sent_count INT NOT NULL DEFAULT 0,
		next_available_at TIMESTAMPTZ NOT NULL,
		locked_until TIMESTAMPTZ,
		PRIMARY KEY (mailbox_id, date_key)
	)`,

	`CREATE TABLE IF NOT EXISTS email_accounts (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		smtp_host TEXT NOT NULL,
		smtp_port INT NOT NULL,
		smtp_user TEXT NOT NULL DEFAULT '',
		smtp_pass TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active'
	)`,

	`CREATE TABLE IF NOT EXISTS email_campaign_settings (
		mailbox_id TEXT PRIMARY KEY,
		daily_limit INT NOT NULL DEFAULT 0,
		min_wait_time INT NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS email_general_settings (
		mailbox_id TEXT PRIMARY KEY,
		signature TEXT NOT NULL DEFAULT '',
		sender_first_name TEXT NOT NULL DEFAULT '',
		sender_last_name TEXT NOT NULL DEFAULT ''
	)`,
}

// InitIndexes runs every schema statement. Idempotent: safe to call on
// every process start, in the teacher's auto-migrate style.
func (s *Store) InitIndexes(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
