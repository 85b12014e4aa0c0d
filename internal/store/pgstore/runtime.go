package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sendloop/campaign-dispatcher/internal/model"
	"github.com/sendloop/campaign-dispatcher/internal/store"
)

func (s *Store) GetAccountRuntimeState(ctx context.Context, mailboxID, dateKey string) (*model.AccountRuntimeState, error) {
	var st model.AccountRuntimeState
	st.MailboxID = mailboxID
	st.DateKey = dateKey
	var lockedUntil sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT sent_count, next_available_at, locked_until
		FROM account_runtime_state WHERE mailbox_id = $1 AND date_key = $2
	`, mailboxID, dateKey).Scan(&st.SentCount, &st.NextAvailableAt, &lockedUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lockedUntil.Valid {
		st.LockedUntil = &lockedUntil.Time
	}
	return &st, nil
}

// ReserveAccountRuntimeState is the Arbiter's sole write-path precondition
// check: a single atomic conditional upsert. The insert branch only fires
// when dailyLimit allows at least one send (SELECT ... WHERE $5 > 0), so a
// brand-new (mailbox, day) record on a zero-capacity mailbox never gets
// created, let alone locked; on a conflict, the update only applies (and
// only then does RETURNING produce a row) when all three Reserve
// preconditions hold, checked symmetrically with the insert guard.
func (s *Store) ReserveAccountRuntimeState(ctx context.Context, mailboxID, dateKey string, nowUTC time.Time, dailyLimit int, lockUntil time.Time) (*model.AccountRuntimeState, bool, error) {
	startOfDay := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day(), 0, 0, 0, 0, time.UTC)

	var st model.AccountRuntimeState
	st.MailboxID = mailboxID
	st.DateKey = dateKey
	var lockedUntil sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO account_runtime_state (mailbox_id, date_key, sent_count, next_available_at, locked_until)
		SELECT $1, $2, 0, $3, $4 WHERE $5 > 0
		ON CONFLICT (mailbox_id, date_key) DO UPDATE
			SET locked_until = excluded.locked_until
			WHERE account_runtime_state.sent_count < $5
			  AND (account_runtime_state.locked_until IS NULL OR account_runtime_state.locked_until <= $6)
			  AND account_runtime_state.next_available_at <= $6
		RETURNING sent_count, next_available_at, locked_until
	`, mailboxID, dateKey, startOfDay, lockUntil, dailyLimit, nowUTC,
	).Scan(&st.SentCount, &st.NextAvailableAt, &lockedUntil)

	if errors.Is(err, sql.ErrNoRows) {
		// Precondition failed: either a conflicting row was left untouched,
		// or (dailyLimit <= 0 on a never-reserved mailbox/day) no row was
		// inserted at all.
		existing, getErr := s.GetAccountRuntimeState(ctx, mailboxID, dateKey)
		if errors.Is(getErr, store.ErrNotFound) {
			return &model.AccountRuntimeState{
				MailboxID:       mailboxID,
				DateKey:         dateKey,
				NextAvailableAt: startOfDay,
			}, false, nil
		}
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if lockedUntil.Valid {
		st.LockedUntil = &lockedUntil.Time
	}
	return &st, true, nil
}

func (s *Store) CommitAccountRuntimeState(ctx context.Context, mailboxID, dateKey string, nextAvailableAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE account_runtime_state
		SET sent_count = sent_count + 1, next_available_at = $1, locked_until = NULL
		WHERE mailbox_id = $2 AND date_key = $3
	`, nextAvailableAt, mailboxID, dateKey)
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

func (s *Store) RollbackAccountRuntimeState(ctx context.Context, mailboxID, dateKey string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE account_runtime_state SET locked_until = NULL
		WHERE mailbox_id = $1 AND date_key = $2
	`, mailboxID, dateKey)
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

func (s *Store) RecountAccountRuntimeState(ctx context.Context, mailboxID, dateKey string, dayStart, dayEnd time.Time) error {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM campaign_activities
		WHERE mailbox_id = $1 AND type = $2 AND created_at >= $3 AND created_at <= $4
	`, mailboxID, string(model.ActivitySent), dayStart, dayEnd).Scan(&n)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO account_runtime_state (mailbox_id, date_key, sent_count, next_available_at, locked_until)
		VALUES ($1, $2, $3, $4, NULL)
		ON CONFLICT (mailbox_id, date_key) DO UPDATE SET sent_count = $3
	`, mailboxID, dateKey, n, dayStart)
	return err
}

func (s *Store) ListAccountRuntimeStates(ctx context.Context) ([]model.AccountRuntimeState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mailbox_id, date_key, sent_count, next_available_at, locked_until
		FROM account_runtime_state ORDER BY mailbox_id, date_key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AccountRuntimeState
	for rows.Next() {
		var st model.AccountRuntimeState
		var lockedUntil sql.NullTime
		if err := rows.Scan(&st.MailboxID, &st.DateKey, &st.SentCount, &st.NextAvailableAt, &lockedUntil); err != nil {
			return nil, err
		}
		if lockedUntil.Valid {
			st.LockedUntil = &lockedUntil.Time
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// FixRuntimeStates repairs records whose next_available_at predates the
// sentinel 2020-01-01 (a clearly-corrupt value left by an old bug), in the
// same spirit as the original CLI's repair command.
func (s *Store) FixRuntimeStates(ctx context.Context, nowUTC time.Time) (int, error) {
	sentinel := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	startOfToday := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day(), 0, 0, 0, 0, time.UTC)
	res, err := s.db.ExecContext(ctx, `
		UPDATE account_runtime_state
		SET next_available_at = $1, locked_until = NULL
		WHERE next_available_at < $2
	`, startOfToday, sentinel)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
