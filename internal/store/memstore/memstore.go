// Package memstore is an in-process fake of store.Store, used by the unit
// test suite; the CLI does not use it and requires DATABASE_URL. It is not
// a mock: it
// implements the exact same atomicity contract pgstore does, guarded by a
// single mutex instead of a SQL upsert, so the same test suite exercises
// real Arbiter/Worker/Dispatcher logic against it.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sendloop/campaign-dispatcher/internal/model"
	"github.com/sendloop/campaign-dispatcher/internal/store"
)

// Store is the in-memory fake. Zero value is not usable; use New.
type Store struct {
	mu sync.Mutex

	campaigns  map[string]model.Campaign
	options    map[string]model.CampaignOptions
	schedules  map[string]model.CampaignSchedule
	queue      []model.QueueEntry
	sequences  map[string]model.Sequence
	steps      map[string]model.SequenceStep
	templates  map[string]model.Template
	leads      map[string]*model.Lead
	mailboxes  map[string]model.Mailbox
	campSettings map[string]model.MailboxCampaignSettings
	genSettings  map[string]model.MailboxGeneralSettings
	activities []model.Activity
	runtime    map[string]*model.AccountRuntimeState // key: mailboxID+"/"+dateKey

	nextActivityID int
}

// New returns an empty in-memory store. Callers populate it via the
// Seed* helpers below before handing it to a Worker/Dispatcher.
func New() *Store {
	return &Store{
		campaigns:    map[string]model.Campaign{},
		options:      map[string]model.CampaignOptions{},
		schedules:    map[string]model.CampaignSchedule{},
		sequences:    map[string]model.Sequence{},
		steps:        map[string]model.SequenceStep{},
		templates:    map[string]model.Template{},
		leads:        map[string]*model.Lead{},
		mailboxes:    map[string]model.Mailbox{},
		campSettings: map[string]model.MailboxCampaignSettings{},
		genSettings:  map[string]model.MailboxGeneralSettings{},
		runtime:      map[string]*model.AccountRuntimeState{},
	}
}

// --- seeding helpers -------------------------------------------------

func (s *Store) SeedCampaign(c model.Campaign)                       { s.campaigns[c.ID] = c }
func (s *Store) SeedOptions(o model.CampaignOptions)                 { s.options[o.CampaignID] = o }
func (s *Store) SeedSchedule(sch model.CampaignSchedule)             { s.schedules[sch.CampaignID] = sch }
func (s *Store) SeedQueue(entries ...model.QueueEntry)               { s.queue = append(s.queue, entries...) }
func (s *Store) SeedSequence(seq model.Sequence)                     { s.sequences[seq.CampaignID] = seq }
func (s *Store) SeedStep(step model.SequenceStep)                    { s.steps[step.ID] = step }
func (s *Store) SeedTemplate(t model.Template)                       { s.templates[t.ID] = t }
func (s *Store) SeedMailbox(m model.Mailbox)                         { s.mailboxes[m.ID] = m }
func (s *Store) SeedCampaignSettings(c model.MailboxCampaignSettings) { s.campSettings[c.MailboxID] = c }
func (s *Store) SeedGeneralSettings(g model.MailboxGeneralSettings)  { s.genSettings[g.MailboxID] = g }

func (s *Store) SeedLead(l model.Lead) {
	cp := l
	s.leads[l.ID] = &cp
}

// --- campaign / sequence / template reads -----------------------------

func (s *Store) GetCampaign(_ context.Context, id string) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) GetCampaignOptions(_ context.Context, campaignID string) (*model.CampaignOptions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.options[campaignID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

func (s *Store) GetCampaignSchedule(_ context.Context, campaignID string) (*model.CampaignSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sch, ok := s.schedules[campaignID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sch, nil
}

func (s *Store) GetCampaignQueue(_ context.Context) ([]model.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.QueueEntry, len(s.queue))
	copy(out, s.queue)
	return out, nil
}

func (s *Store) ListCampaigns(_ context.Context) ([]model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetSequence(_ context.Context, campaignID string) (*model.Sequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.sequences[campaignID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &seq, nil
}

func (s *Store) GetSequenceStep(_ context.Context, stepID string) (*model.SequenceStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[stepID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &step, nil
}

func (s *Store) GetTemplate(_ context.Context, templateID string) (*model.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[templateID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

// --- lead reads/writes -------------------------------------------------

func (s *Store) GetDueLeads(_ context.Context, campaignID string, nowUTC time.Time, limit int) ([]model.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.leads))
	for id, l := range s.leads {
		if l.CampaignID != campaignID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []model.Lead
	for _, id := range ids {
		l := s.leads[id]
		if isDue(l, nowUTC) {
			out = append(out, *l)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func isDue(l *model.Lead, nowUTC time.Time) bool {
	if l.Progress == nil {
		return true
	}
	p := l.Progress
	if p.Stopped {
		return false
	}
	if p.LastSentAt == nil {
		return true
	}
	if p.NextDueAt != nil && !p.NextDueAt.After(nowUTC) {
		return true
	}
	return false
}

func (s *Store) GetLead(_ context.Context, leadID string) (*model.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *Store) ListLeads(_ context.Context, campaignID string) ([]model.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Lead
	for _, l := range s.leads {
		if l.CampaignID == campaignID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateLeadProgress(_ context.Context, leadID string, progress model.LeadProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok {
		return store.ErrNotFound
	}
	cp := progress
	l.Progress = &cp
	return nil
}

func (s *Store) BackfillLeadProgress(_ context.Context, campaignID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.leads {
		if l.CampaignID == campaignID && l.Progress == nil {
			l.Progress = &model.LeadProgress{CurrentStepOrder: 1, ProcessedRecipients: map[string]model.ProcessedRecipient{}}
			n++
		}
	}
	return n, nil
}

func (s *Store) MakeLeadDueNow(_ context.Context, leadID string, nowUTC time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok {
		return store.ErrNotFound
	}
	if l.Progress == nil {
		l.Progress = &model.LeadProgress{CurrentStepOrder: 1, ProcessedRecipients: map[string]model.ProcessedRecipient{}}
	}
	due := nowUTC.Add(-time.Second)
	l.Progress.NextDueAt = &due
	l.Progress.Stopped = false
	return nil
}

func (s *Store) ResetLeadProgress(_ context.Context, leadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok {
		return store.ErrNotFound
	}
	l.Progress = nil
	return nil
}

func (s *Store) UpdateLeadStatuses(_ context.Context, campaignID string) (int, error) {
	// Administrative only; intentionally does not touch Progress, per the
	// spec's open-question resolution (sequencing logic never reads this).
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.leads {
		if l.CampaignID == campaignID {
			n++
		}
	}
	return n, nil
}

// --- mailbox reads -------------------------------------------------

func (s *Store) GetMailbox(_ context.Context, mailboxID string) (*model.Mailbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mailboxes[mailboxID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

func (s *Store) GetMailboxCampaignSettings(_ context.Context, mailboxID string) (*model.MailboxCampaignSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campSettings[mailboxID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) GetMailboxGeneralSettings(_ context.Context, mailboxID string) (*model.MailboxGeneralSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.genSettings[mailboxID]
	if !ok {
		return &model.MailboxGeneralSettings{MailboxID: mailboxID}, nil
	}
	return &g, nil
}

func (s *Store) ListMailboxes(_ context.Context) ([]model.Mailbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Mailbox, 0, len(s.mailboxes))
	for _, m := range s.mailboxes {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- activities -------------------------------------------------

func (s *Store) InsertActivity(_ context.Context, activity model.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if activity.ID == "" {
		s.nextActivityID++
		activity.ID = fmt.Sprintf("activity-%d", s.nextActivityID)
	}
	s.activities = append(s.activities, activity)
	return nil
}

func (s *Store) CountSentActivitiesSince(_ context.Context, campaignID string, sinceUTC time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.activities {
		if a.CampaignID == campaignID && a.Type == model.ActivitySent && !a.CreatedAt.Before(sinceUTC) {
			n++
		}
	}
	return n, nil
}

// --- account runtime state (arbiter's mutable structure) --------------

func runtimeKey(mailboxID, dateKey string) string { return mailboxID + "/" + dateKey }

func (s *Store) GetAccountRuntimeState(_ context.Context, mailboxID, dateKey string) (*model.AccountRuntimeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.runtime[runtimeKey(mailboxID, dateKey)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

// ReserveAccountRuntimeState is the single atomic operation the Arbiter
// relies on: under the store's mutex, check the three preconditions and
// mutate in one step, exactly the way a SQL "INSERT ... ON CONFLICT DO
// UPDATE ... WHERE <preconditions>" does against pgstore.
func (s *Store) ReserveAccountRuntimeState(_ context.Context, mailboxID, dateKey string, nowUTC time.Time, dailyLimit int, lockUntil time.Time) (*model.AccountRuntimeState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := runtimeKey(mailboxID, dateKey)
	st, exists := s.runtime[key]
	if !exists {
		startOfDay := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day(), 0, 0, 0, 0, time.UTC)
		st = &model.AccountRuntimeState{
			MailboxID:       mailboxID,
			DateKey:         dateKey,
			SentCount:       0,
			NextAvailableAt: startOfDay,
		}
	}

	available := st.SentCount < dailyLimit &&
		(st.LockedUntil == nil || !st.LockedUntil.After(nowUTC)) &&
		!st.NextAvailableAt.After(nowUTC)

	if !available {
		cp := *st
		return &cp, false, nil
	}

	lu := lockUntil
	st.LockedUntil = &lu
	s.runtime[key] = st

	cp := *st
	return &cp, true, nil
}

func (s *Store) CommitAccountRuntimeState(_ context.Context, mailboxID, dateKey string, nextAvailableAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := runtimeKey(mailboxID, dateKey)
	st, ok := s.runtime[key]
	if !ok {
		return store.ErrNotFound
	}
	st.SentCount++
	st.NextAvailableAt = nextAvailableAt
	st.LockedUntil = nil
	return nil
}

func (s *Store) RollbackAccountRuntimeState(_ context.Context, mailboxID, dateKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := runtimeKey(mailboxID, dateKey)
	st, ok := s.runtime[key]
	if !ok {
		return store.ErrNotFound
	}
	st.LockedUntil = nil
	return nil
}

func (s *Store) RecountAccountRuntimeState(_ context.Context, mailboxID, dateKey string, dayStart, dayEnd time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.activities {
		if a.MailboxID == mailboxID && a.Type == model.ActivitySent &&
			!a.CreatedAt.Before(dayStart) && !a.CreatedAt.After(dayEnd) {
			n++
		}
	}
	key := runtimeKey(mailboxID, dateKey)
	st, ok := s.runtime[key]
	if !ok {
		st = &model.AccountRuntimeState{MailboxID: mailboxID, DateKey: dateKey}
		s.runtime[key] = st
	}
	st.SentCount = n
	return nil
}

func (s *Store) ListAccountRuntimeStates(_ context.Context) ([]model.AccountRuntimeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AccountRuntimeState, 0, len(s.runtime))
	for _, st := range s.runtime {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MailboxID != out[j].MailboxID {
			return out[i].MailboxID < out[j].MailboxID
		}
		return out[i].DateKey < out[j].DateKey
	})
	return out, nil
}

// FixRuntimeStates repairs records whose next_available_at looks clearly
// wrong (before 2020, the teacher's original CLI's own heuristic) by
// resetting them to the start of the current UTC day and clearing any lock.
func (s *Store) FixRuntimeStates(_ context.Context, nowUTC time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sentinel := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	startOfToday := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day(), 0, 0, 0, 0, time.UTC)
	n := 0
	for _, st := range s.runtime {
		if st.NextAvailableAt.Before(sentinel) {
			st.NextAvailableAt = startOfToday
			st.LockedUntil = nil
			n++
		}
	}
	return n, nil
}

func (s *Store) InitIndexes(_ context.Context) error { return nil }
