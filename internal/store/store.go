// Package store defines the document-store abstraction the rest of the
// scheduling pipeline is built against. Two implementations exist:
// pgstore, backed by PostgreSQL with JSONB payload columns (the production
// path, grounded on the teacher's internal/database/database.go use of
// database/sql + lib/pq), and memstore, an in-process fake used by the
// tests. Every CLI command runs against pgstore.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sendloop/campaign-dispatcher/internal/model"
)

// ErrNotFound is returned by single-entity getters when the requested
// document does not exist. Callers distinguish "absent" from other errors
// to implement the config-missing / reference-dangling error policies.
var ErrNotFound = errors.New("store: not found")

// Store is the full persistence contract the scheduling pipeline, the
// Arbiter, and the administrative CLI are built against.
type Store interface {
	// Campaign / sequence / template reads. All read-only from this
	// system's point of view; campaign authoring is an external collaborator.
	GetCampaign(ctx context.Context, campaignID string) (*model.Campaign, error)
	GetCampaignOptions(ctx context.Context, campaignID string) (*model.CampaignOptions, error)
	GetCampaignSchedule(ctx context.Context, campaignID string) (*model.CampaignSchedule, error)
	GetCampaignQueue(ctx context.Context) ([]model.QueueEntry, error)
	ListCampaigns(ctx context.Context) ([]model.Campaign, error)

	GetSequence(ctx context.Context, campaignID string) (*model.Sequence, error)
	GetSequenceStep(ctx context.Context, stepID string) (*model.SequenceStep, error)
	GetTemplate(ctx context.Context, templateID string) (*model.Template, error)

	// Lead reads/writes. The Worker exclusively mutates Lead Progress.
	GetDueLeads(ctx context.Context, campaignID string, nowUTC time.Time, limit int) ([]model.Lead, error)
	GetLead(ctx context.Context, leadID string) (*model.Lead, error)
	ListLeads(ctx context.Context, campaignID string) ([]model.Lead, error)
	UpdateLeadProgress(ctx context.Context, leadID string, progress model.LeadProgress) error
	BackfillLeadProgress(ctx context.Context, campaignID string) (int, error)
	MakeLeadDueNow(ctx context.Context, leadID string, nowUTC time.Time) error
	ResetLeadProgress(ctx context.Context, leadID string) error
	// UpdateLeadStatuses is administrative only; per the spec's open
	// question it must never gate step advancement.
	UpdateLeadStatuses(ctx context.Context, campaignID string) (int, error)

	// Mailbox reads.
	GetMailbox(ctx context.Context, mailboxID string) (*model.Mailbox, error)
	GetMailboxCampaignSettings(ctx context.Context, mailboxID string) (*model.MailboxCampaignSettings, error)
	GetMailboxGeneralSettings(ctx context.Context, mailboxID string) (*model.MailboxGeneralSettings, error)
	ListMailboxes(ctx context.Context) ([]model.Mailbox, error)

	// Activities. Append-only, write-only from the Worker.
	InsertActivity(ctx context.Context, activity model.Activity) error
	CountSentActivitiesSince(ctx context.Context, campaignID string, sinceUTC time.Time) (int, error)

	// Account Runtime State. Exclusively mutated by the Arbiter; the atomic
	// reserve step is implemented as a single conditional upsert.
	GetAccountRuntimeState(ctx context.Context, mailboxID, dateKey string) (*model.AccountRuntimeState, error)
	ReserveAccountRuntimeState(ctx context.Context, mailboxID, dateKey string, nowUTC time.Time, dailyLimit int, lockUntil time.Time) (*model.AccountRuntimeState, bool, error)
	CommitAccountRuntimeState(ctx context.Context, mailboxID, dateKey string, nextAvailableAt time.Time) error
	RollbackAccountRuntimeState(ctx context.Context, mailboxID, dateKey string) error
	RecountAccountRuntimeState(ctx context.Context, mailboxID, dateKey string, dayStart, dayEnd time.Time) error
	ListAccountRuntimeStates(ctx context.Context) ([]model.AccountRuntimeState, error)
	FixRuntimeStates(ctx context.Context, nowUTC time.Time) (int, error)

	// InitIndexes provisions whatever indexes/collections the backing store
	// needs. A no-op for memstore.
	InitIndexes(ctx context.Context) error
}
