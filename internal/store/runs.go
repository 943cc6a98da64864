package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"meetflow/internal/domain"
)

const syncRunCols = `id, connection_id, sync_type, status, created, updated, errors, error, started_at, finished_at`

func scanSyncRun(sc scanner) (domain.SyncRun, error) {
	var (
		r                 domain.SyncRun
		status            string
		started, finished int64
	)
	err := sc.Scan(&r.ID, &r.ConnectionID, &r.SyncType, &status, &r.Created, &r.Updated, &r.Errors, &r.Error, &started, &finished)
	r.Status = domain.RunStatus(status)
	r.StartedAt, r.FinishedAt = fromMS(started), fromMS(finished)
	return r, err
}

// StartSyncRun opens a running sync run for (connection, type). While another
// run of the same key is running it fails with ErrConflict, unless that run
// started before staleBefore: a crashed worker's run is then marked failed
// and taken over.
func (s *Store) StartSyncRun(ctx context.Context, connectionID, syncType string, staleBefore time.Time) (domain.SyncRun, error) {
	r := domain.SyncRun{
		ID:           uuid.NewString(),
		ConnectionID: connectionID,
		SyncType:     syncType,
		Status:       domain.RunRunning,
		StartedAt:    s.now(),
	}
	insert := func() error {
		_, err := s.exec(ctx, `INSERT INTO sync_runs(id, connection_id, sync_type, status, started_at) VALUES(?,?,?,?,?)`,
			r.ID, r.ConnectionID, r.SyncType, string(r.Status), ms(r.StartedAt))
		return err
	}
	err := insert()
	if err == nil || !errors.Is(err, ErrConflict) || staleBefore.IsZero() {
		return r, err
	}

	running, gerr := scanSyncRun(s.queryRow(ctx, `SELECT `+syncRunCols+` FROM sync_runs
		WHERE connection_id = ? AND sync_type = ? AND status = ?`, connectionID, syncType, string(domain.RunRunning)))
	if gerr != nil {
		return r, err
	}
	if !running.StartedAt.Before(staleBefore) {
		return r, err
	}
	res, uerr := s.exec(ctx, `UPDATE sync_runs SET status = ?, error = ?, finished_at = ? WHERE id = ? AND status = ?`,
		string(domain.RunFailed), "stale: taken over", ms(s.now()), running.ID, string(domain.RunRunning))
	if uerr != nil {
		return r, uerr
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r, err
	}
	s.log.Warn("stale sync run taken over")
	return r, insert()
}

// FinishSyncRun closes a run with its counters.
func (s *Store) FinishSyncRun(ctx context.Context, r domain.SyncRun) error {
	if r.Status == "" || r.Status == domain.RunRunning {
		r.Status = domain.RunCompleted
	}
	res, err := s.exec(ctx, `UPDATE sync_runs SET status = ?, created = ?, updated = ?, errors = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(r.Status), r.Created, r.Updated, r.Errors, r.Error, ms(s.now()), r.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetSyncRun(ctx context.Context, id string) (domain.SyncRun, error) {
	r, err := scanSyncRun(s.queryRow(ctx, `SELECT `+syncRunCols+` FROM sync_runs WHERE id = ?`, id))
	return r, notFound(err)
}

// ClaimDigest records the weekly digest of (org, week) as running. A second
// claim for the same key fails with ErrConflict, unless the earlier attempt
// failed or is still running from before staleBefore (a crashed worker). The
// row is then reopened under the new claim time.
func (s *Store) ClaimDigest(ctx context.Context, orgID, weekStart string, staleBefore time.Time) (domain.DigestDelivery, error) {
	d := domain.DigestDelivery{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		WeekStart:      weekStart,
		Status:         domain.RunRunning,
		CreatedAt:      s.now(),
	}
	_, err := s.exec(ctx, `INSERT INTO digest_deliveries(id, org_id, week_start, status, created_at) VALUES(?,?,?,?,?)`,
		d.ID, d.OrganizationID, d.WeekStart, string(d.Status), ms(d.CreatedAt))
	if !errors.Is(err, ErrConflict) {
		return d, err
	}

	var (
		id, status string
		claimed    int64
	)
	if serr := s.queryRow(ctx, `SELECT id, status, created_at FROM digest_deliveries WHERE org_id = ? AND week_start = ?`,
		orgID, weekStart).Scan(&id, &status, &claimed); serr != nil {
		return d, err
	}
	switch {
	case status == string(domain.RunFailed):
	case status == string(domain.RunRunning) && !staleBefore.IsZero() && fromMS(claimed).Before(staleBefore):
		s.log.Warn("stale digest claim taken over")
	default:
		return d, err
	}
	// created_at guards against a concurrent reclaim of the same row.
	res, uerr := s.exec(ctx, `UPDATE digest_deliveries SET status = ?, finished_at = 0, created_at = ? WHERE id = ? AND status = ? AND created_at = ?`,
		string(domain.RunRunning), ms(d.CreatedAt), id, status, claimed)
	if uerr != nil {
		return d, uerr
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return d, err
	}
	d.ID = id
	return d, nil
}

func (s *Store) FinishDigest(ctx context.Context, id string, status domain.RunStatus, recipients int) error {
	res, err := s.exec(ctx, `UPDATE digest_deliveries SET status = ?, recipients = ?, finished_at = ? WHERE id = ?`,
		string(status), recipients, ms(s.now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
