// Package model holds the plain data shapes shared across the scheduling
// pipeline. Mirrors the way the teacher codebase keeps small struct-only
// files per concern under internal/model rather than one giant types file.
package model

import "time"

// CampaignStatus enumerates the values the Dispatcher cares about. Any
// other value is treated as non-active.
type CampaignStatus string

const (
	CampaignStatusActive CampaignStatus = "active"
	CampaignStatusPaused CampaignStatus = "paused"
)

// Campaign is the root entity a Dispatcher queue entry points to.
type Campaign struct {
	ID     string
	Status CampaignStatus
}

// CampaignOptions carries the per-campaign daily cap and the ordered
// mailbox pool that seeds the Worker's round-robin cursor.
type CampaignOptions struct {
	CampaignID      string
	DailyEmailLimit int
	MailboxPool     []string
}

// CampaignSchedule is the raw, possibly-messy document the Schedule
// Evaluator interprets. Dates/times are kept as strings because they may
// arrive from campaign-authoring tooling in several shapes (see
// parseScheduleDate / parseScheduleTime in package schedule).
type CampaignSchedule struct {
	CampaignID    string
	Timezone      string
	ScheduledDays []string // weekday names, lowercase; nil/empty means all 7
	StartDate     string   // "" if unset
	EndDate       string   // "" if unset
	TimeFrom      string   // "" if unset
	TimeTo        string   // "" if unset
}

// Sequence is the ordered list of steps a lead advances through.
type Sequence struct {
	CampaignID string
	Steps      []SequenceStepRef
}

// SequenceStepRef is one entry in a Sequence's step list: the order number
// this step occupies, the step document it points to, and the delay (in
// days) before the lead becomes due for the step after this one.
type SequenceStepRef struct {
	Order          int
	StepID         string
	NextMessageDay int
}

// SequenceStep is the dereferenced step document.
type SequenceStep struct {
	ID                string
	ActiveTemplateRef string
}

// Template holds the raw substitution sources for a message.
type Template struct {
	ID      string
	Subject string
	HTML    string
}

// Recipient is a single addressable target within a Lead. Only Email is
// required; every other field is optional personalization data that flows
// straight into the render context.
type Recipient struct {
	Email  string
	Fields map[string]string
}

// Lead is a unit of work for a campaign. LeadData is normalized at the
// store boundary into a slice: a single-recipient lead is represented as a
// one-element slice so downstream code never branches on shape.
type Lead struct {
	ID         string
	CampaignID string
	LeadData   []Recipient
	Progress   *LeadProgress // nil means "never touched"
}

// ProcessedRecipient records what happened when a specific recipient of a
// specific step was sent to.
type ProcessedRecipient struct {
	ProcessedAt time.Time
	Email       string
	TemplateRef string
}

// LeadProgress is the only mutable part of a Lead.
type LeadProgress struct {
	CurrentStepOrder   int                           `json:"current_step_order"`
	Stopped            bool                          `json:"stopped"`
	LastSentAt         *time.Time                    `json:"last_sent_at"`
	NextDueAt          *time.Time                    `json:"next_due_at"`
	ProcessedRecipients map[string]ProcessedRecipient `json:"processed_recipients"`
	Reason             string                        `json:"reason"`
}

// Mailbox is a sending identity with SMTP credentials.
type Mailbox struct {
	ID       string
	Email    string
	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	Status   string
}

// MailboxCampaignSettings holds the per-mailbox throttle knobs the Arbiter
// enforces.
type MailboxCampaignSettings struct {
	MailboxID     string
	DailyLimit    int
	MinWaitTime   int // minutes
}

// MailboxGeneralSettings is purely presentational data merged into the
// render context.
type MailboxGeneralSettings struct {
	MailboxID       string
	Signature       string
	SenderFirstName string
	SenderLastName  string
}

// AccountRuntimeState is the Arbiter's key mutable structure: one row per
// (mailbox, date_key).
type AccountRuntimeState struct {
	MailboxID        string
	DateKey          string
	SentCount        int
	NextAvailableAt  time.Time
	LockedUntil      *time.Time
}

// ActivityType enumerates the two kinds of Activity this module writes.
type ActivityType string

const (
	ActivitySent  ActivityType = "sent"
	ActivityError ActivityType = "error"
)

// Activity is an append-only record of a send attempt.
type Activity struct {
	ID         string
	CampaignID string
	LeadID     string
	MailboxID  string
	Type       ActivityType
	Meta       map[string]string
	CreatedAt  time.Time
}

// QueueEntry is one row of the campaign_queue collection the Dispatcher
// iterates each tick.
type QueueEntry struct {
	CampaignID string
}
