package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/checkin/internal/model"
)

var (
	// ErrContactNotFound is returned when a run refers to a deleted contact.
	ErrContactNotFound = errors.New("contact not found")
	// ErrSuperseded is returned when a run was cancelled or its contact's
	// generation moved on while it was executing.
	ErrSuperseded = errors.New("run superseded")
)

// RunStore persists scheduling cycles. A run only captures the contact
// generation current at enqueue time; every state-changing write of a
// running run is guarded on that generation and on the lease token handed
// out by the claim, so a worker whose lease expired cannot overwrite the
// worker that re-claimed the run.
type RunStore struct {
	db *sql.DB
}

func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

const runCols = `id, contact_id, parent_id, run_at, generation, state, step, attempts, lease_until,
	lease_token, outcome, booking_cal_id, booking_uid, booking_start, booking_end, search_start, search_end,
	next_run_at, last_error, created_at, updated_at`

func scanRun(scanner interface{ Scan(...any) error }) (*model.Run, error) {
	var r model.Run
	var parentID, calID sql.NullInt64
	var lease, bStart, bEnd, sStart, sEnd, next sql.NullTime
	var uid string
	err := scanner.Scan(&r.ID, &r.ContactID, &parentID, &r.RunAt, &r.Generation, &r.State, &r.Step,
		&r.Attempts, &lease, &r.LeaseToken, &r.Outcome, &calID, &uid, &bStart, &bEnd, &sStart, &sEnd,
		&next, &r.LastError, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		r.ParentID = &parentID.Int64
	}
	r.LeaseUntil = nullTime(lease)
	r.SearchStart = nullTime(sStart)
	r.SearchEnd = nullTime(sEnd)
	r.NextRunAt = nullTime(next)
	if calID.Valid {
		r.Booking = &model.Booking{
			ContactID: r.ContactID,
			CalID:     calID.Int64,
			CalUID:    uid,
			StartTime: bStart.Time,
			EndTime:   bEnd.Time,
		}
	}
	return &r, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (s *RunStore) GetByID(id int64) (*model.Run, error) {
	row := s.db.QueryRow(`SELECT `+runCols+` FROM workflow_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListByContact returns the contact's runs, newest first.
func (s *RunStore) ListByContact(contactID string, limit int) ([]model.Run, error) {
	rows, err := s.db.Query(
		`SELECT `+runCols+` FROM workflow_runs WHERE contact_id = ? ORDER BY id DESC LIMIT ?`,
		contactID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// Live returns the contact's pending or running run, or nil.
func (s *RunStore) Live(contactID string) (*model.Run, error) {
	row := s.db.QueryRow(
		`SELECT `+runCols+` FROM workflow_runs
		 WHERE contact_id = ? AND state IN ('pending', 'running')
		 ORDER BY id DESC LIMIT 1`,
		contactID,
	)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get live run: %w", err)
	}
	return r, nil
}

// Enqueue makes sure the contact has a live run due at runAt. A pending run
// of the current generation is moved to runAt; a running one is returned
// unchanged since it will chain its own successor.
func (s *RunStore) Enqueue(contactID string, runAt time.Time) (*model.Run, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var gen int64
	err = tx.QueryRow(`SELECT generation FROM contacts WHERE id = ?`, contactID).Scan(&gen)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("enqueue run for %s: %w", contactID, ErrContactNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get contact generation: %w", err)
	}

	now := time.Now().UTC()
	var id int64
	var state string
	err = tx.QueryRow(
		`SELECT id, state FROM workflow_runs
		 WHERE contact_id = ? AND generation = ? AND state IN ('pending', 'running')
		 ORDER BY id DESC LIMIT 1`,
		contactID, gen,
	).Scan(&id, &state)
	switch {
	case err == sql.ErrNoRows:
		result, err := tx.Exec(
			`INSERT INTO workflow_runs (contact_id, run_at, generation, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			contactID, runAt.UTC(), gen, now, now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert run: %w", err)
		}
		if id, err = result.LastInsertId(); err != nil {
			return nil, fmt.Errorf("last insert id: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("get live run: %w", err)
	case state == model.RunPending:
		if _, err := tx.Exec(
			`UPDATE workflow_runs SET run_at = ?, updated_at = ? WHERE id = ?`,
			runAt.UTC(), now, id,
		); err != nil {
			return nil, fmt.Errorf("reschedule run: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enqueue: %w", err)
	}
	return s.GetByID(id)
}

// Cancel bumps the contact's generation and cancels its live runs. It
// returns the new generation, or 0 when the contact does not exist.
func (s *RunStore) Cancel(contactID string) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var gen int64
	err = tx.QueryRow(
		`UPDATE contacts SET generation = generation + 1 WHERE id = ? RETURNING generation`,
		contactID,
	).Scan(&gen)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("bump generation: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE workflow_runs SET state = 'cancelled', lease_until = NULL, lease_token = '', updated_at = ?
		 WHERE contact_id = ? AND state IN ('pending', 'running')`,
		now, contactID,
	); err != nil {
		return 0, fmt.Errorf("cancel runs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit cancel: %w", err)
	}
	return gen, nil
}

// ClaimDue leases up to limit pending runs that are due, skipping contacts
// that already have a running run.
func (s *RunStore) ClaimDue(now time.Time, lease time.Duration, limit int) ([]model.Run, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT r.id, r.contact_id FROM workflow_runs r
		 WHERE r.state = 'pending' AND r.run_at <= ?
		   AND NOT EXISTS (
			SELECT 1 FROM workflow_runs x WHERE x.contact_id = r.contact_id AND x.state = 'running'
		   )
		 ORDER BY r.run_at, r.id
		 LIMIT ?`,
		now.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select due runs: %w", err)
	}
	var ids []int64
	seen := make(map[string]bool)
	for rows.Next() {
		var id int64
		var contactID string
		if err := rows.Scan(&id, &contactID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan due run: %w", err)
		}
		if seen[contactID] {
			continue
		}
		seen[contactID] = true
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due runs: %w", err)
	}

	var claimed []int64
	for _, id := range ids {
		ok, err := claim(tx, id, now, lease)
		if err != nil {
			return nil, err
		}
		if ok {
			claimed = append(claimed, id)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	runs := make([]model.Run, 0, len(claimed))
	for _, id := range claimed {
		r, err := s.GetByID(id)
		if err != nil {
			return nil, err
		}
		if r != nil {
			runs = append(runs, *r)
		}
	}
	return runs, nil
}

// Claim leases one specific pending run regardless of its run_at.
func (s *RunStore) Claim(id int64, now time.Time, lease time.Duration) (*model.Run, error) {
	ok, err := claim(s.db, id, now, lease)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return s.GetByID(id)
}

func claim(q execer, id int64, now time.Time, lease time.Duration) (bool, error) {
	result, err := q.Exec(
		`UPDATE workflow_runs SET state = 'running', lease_until = ?, lease_token = ?, attempts = attempts + 1, updated_at = ?
		 WHERE id = ? AND state = 'pending'`,
		now.Add(lease).UTC(), uuid.NewString(), now.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("claim run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Current reports whether the run is still running under its contact's
// current generation and the caller still holds its lease.
func (s *RunStore) Current(r *model.Run) (bool, error) {
	return current(s.db, r)
}

func current(q execer, r *model.Run) (bool, error) {
	var gen int64
	var state, token string
	err := q.QueryRow(
		`SELECT c.generation, w.state, w.lease_token FROM workflow_runs w JOIN contacts c ON c.id = w.contact_id
		 WHERE w.id = ?`,
		r.ID,
	).Scan(&gen, &state, &token)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check run generation: %w", err)
	}
	return gen == r.Generation && state == model.RunRunning && token == r.LeaseToken, nil
}

// updateLeased applies an update to r only while r is running under the
// caller's lease, reporting whether a row changed.
func (s *RunStore) updateLeased(r *model.Run, set string, args ...any) (bool, error) {
	args = append(args, time.Now().UTC(), r.ID, r.LeaseToken)
	result, err := s.db.Exec(
		`UPDATE workflow_runs SET `+set+`, updated_at = ?
		 WHERE id = ? AND state = 'running' AND lease_token = ?`,
		args...,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Heartbeat extends the lease of a running run.
func (s *RunStore) Heartbeat(r *model.Run, until time.Time) error {
	if _, err := s.updateLeased(r, `lease_until = ?`, until.UTC()); err != nil {
		return fmt.Errorf("heartbeat run: %w", err)
	}
	return nil
}

// RecordAttemptError notes a failed attempt of a step that will be retried.
func (s *RunStore) RecordAttemptError(r *model.Run, msg string) error {
	if _, err := s.updateLeased(r, `attempts = attempts + 1, last_error = ?`, msg); err != nil {
		return fmt.Errorf("record attempt error: %w", err)
	}
	return nil
}

// RecordWindow stores the search window chosen for this cycle.
func (s *RunStore) RecordWindow(r *model.Run, start, end time.Time) error {
	if _, err := s.updateLeased(r, `search_start = ?, search_end = ?`, start.UTC(), end.UTC()); err != nil {
		return fmt.Errorf("record window: %w", err)
	}
	return nil
}

// RecordBooking checkpoints a booking created remotely. It is written
// before anything else so a replay never books twice. It fails with
// ErrSuperseded when the caller lost the run; the caller then owns
// compensating the remote booking.
func (s *RunStore) RecordBooking(r *model.Run, b *model.Booking) error {
	ok, err := s.updateLeased(r,
		`step = 'booked', outcome = 'booked', booking_cal_id = ?, booking_uid = ?, booking_start = ?, booking_end = ?`,
		b.CalID, b.CalUID, b.StartTime.UTC(), b.EndTime.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record booking: %w", err)
	}
	if !ok {
		return ErrSuperseded
	}
	return nil
}

// RecordDeferred checkpoints a cycle that found no slot.
func (s *RunStore) RecordDeferred(r *model.Run, next time.Time) error {
	ok, err := s.updateLeased(r, `step = 'deferred', outcome = 'deferred', next_run_at = ?`, next.UTC())
	if err != nil {
		return fmt.Errorf("record deferral: %w", err)
	}
	if !ok {
		return ErrSuperseded
	}
	return nil
}

// SaveBooking persists the checkpointed booking and the next wake time. It
// fails with ErrSuperseded when the run is no longer current; the caller
// then owns compensating the remote booking.
func (s *RunStore) SaveBooking(r *model.Run, userID int64, next time.Time) (*model.Booking, error) {
	if r.Booking == nil {
		return nil, fmt.Errorf("save booking for run %d: no checkpoint", r.ID)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ok, err := current(tx, r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSuperseded
	}

	b := *r.Booking
	b.ContactID = r.ContactID
	b.UserID = userID
	saved, err := upsertBooking(tx, &b)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(
		`UPDATE workflow_runs SET step = 'saved', next_run_at = ?, updated_at = ? WHERE id = ?`,
		next.UTC(), time.Now().UTC(), r.ID,
	); err != nil {
		return nil, fmt.Errorf("record saved step: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit save booking: %w", err)
	}
	return saved, nil
}

// Finish enqueues the successor run at next and marks r done, atomically and
// only if r is still current. The successor is keyed by parent_id, so
// finishing twice creates one successor.
func (s *RunStore) Finish(r *model.Run, next time.Time) (*model.Run, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ok, err := current(tx, r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSuperseded
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(
		`INSERT INTO workflow_runs (contact_id, parent_id, run_at, generation, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(parent_id) DO NOTHING`,
		r.ContactID, r.ID, next.UTC(), r.Generation, now, now,
	); err != nil {
		return nil, fmt.Errorf("insert next run: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE workflow_runs SET state = 'done', step = 'emitted', next_run_at = ?, lease_until = NULL, lease_token = '', updated_at = ?
		 WHERE id = ?`,
		next.UTC(), now, r.ID,
	); err != nil {
		return nil, fmt.Errorf("finish run: %w", err)
	}

	var nextID int64
	if err := tx.QueryRow(`SELECT id FROM workflow_runs WHERE parent_id = ?`, r.ID).Scan(&nextID); err != nil {
		return nil, fmt.Errorf("get next run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit finish: %w", err)
	}
	return s.GetByID(nextID)
}

// Fail marks a running run failed. No successor is scheduled.
func (s *RunStore) Fail(r *model.Run, msg string) error {
	if _, err := s.updateLeased(r, `state = 'failed', last_error = ?, lease_until = NULL, lease_token = ''`, msg); err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	return nil
}

// MarkCancelled marks a run cancelled if the caller still holds its lease.
// A run already cancelled through Cancel is left as is.
func (s *RunStore) MarkCancelled(r *model.Run) error {
	if _, err := s.updateLeased(r, `state = 'cancelled', lease_until = NULL, lease_token = ''`); err != nil {
		return fmt.Errorf("cancel run: %w", err)
	}
	return nil
}

// ResetExpiredLeases returns running runs whose lease ran out to pending,
// keeping their step checkpoints.
func (s *RunStore) ResetExpiredLeases(now time.Time) (int64, error) {
	result, err := s.db.Exec(
		`UPDATE workflow_runs SET state = 'pending', lease_until = NULL, lease_token = '', updated_at = ?
		 WHERE state = 'running' AND lease_until < ?`,
		now.UTC(), now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("reset expired leases: %w", err)
	}
	return result.RowsAffected()
}

// PruneFinished deletes finished runs last touched before cutoff. The most
// recent run of each contact is kept.
func (s *RunStore) PruneFinished(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(
		`DELETE FROM workflow_runs
		 WHERE state IN ('done', 'cancelled', 'failed') AND updated_at < ?
		   AND id NOT IN (SELECT MAX(id) FROM workflow_runs GROUP BY contact_id)
		   AND id NOT IN (SELECT parent_id FROM workflow_runs WHERE parent_id IS NOT NULL AND state IN ('pending', 'running'))`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return result.RowsAffected()
}
