package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"meetflow/internal/domain"
)

func (s *Store) CreateOrganization(ctx context.Context, o domain.Organization) (domain.Organization, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now()
	}
	_, err := s.exec(ctx, `INSERT INTO organizations(id, name, timezone, created_at) VALUES(?,?,?,?)`,
		o.ID, o.Name, o.Timezone, ms(o.CreatedAt))
	return o, err
}

func (s *Store) ListOrganizations(ctx context.Context) ([]domain.Organization, error) {
	rows, err := s.query(ctx, `SELECT id, name, timezone, created_at FROM organizations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Organization
	for rows.Next() {
		var (
			o       domain.Organization
			created int64
		)
		if err := rows.Scan(&o.ID, &o.Name, &o.Timezone, &created); err != nil {
			return nil, err
		}
		o.CreatedAt = fromMS(created)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) AddMember(ctx context.Context, m domain.Member) error {
	_, err := s.exec(ctx, `INSERT INTO members(org_id, email, name, digest_enabled) VALUES(?,?,?,?)
		ON CONFLICT(org_id, email) DO UPDATE SET name = excluded.name, digest_enabled = excluded.digest_enabled`,
		m.OrganizationID, strings.ToLower(strings.TrimSpace(m.Email)), m.Name, m.DigestEnabled)
	return err
}

// DigestRecipients lists members of org that opted into the weekly digest.
func (s *Store) DigestRecipients(ctx context.Context, orgID string) ([]domain.Member, error) {
	rows, err := s.query(ctx, `SELECT org_id, email, name, digest_enabled FROM members
		WHERE org_id = ? AND digest_enabled = ? ORDER BY email`, orgID, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.OrganizationID, &m.Email, &m.Name, &m.DigestEnabled); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const connectionCols = `id, org_id, provider, account_email, auto_record, sync_enabled, sync_token, last_synced_at, created_at`

type scanner interface{ Scan(dest ...any) error }

func scanConnection(sc scanner) (domain.Connection, error) {
	var (
		c             domain.Connection
		synced, added int64
	)
	err := sc.Scan(&c.ID, &c.OrganizationID, &c.Provider, &c.AccountEmail, &c.AutoRecord, &c.SyncEnabled, &c.SyncToken, &synced, &added)
	c.LastSyncedAt = fromMS(synced)
	c.CreatedAt = fromMS(added)
	return c, err
}

func (s *Store) CreateConnection(ctx context.Context, c domain.Connection) (domain.Connection, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	_, err := s.exec(ctx, `INSERT INTO connections(`+connectionCols+`) VALUES(?,?,?,?,?,?,?,?,?)`,
		c.ID, c.OrganizationID, c.Provider, c.AccountEmail, c.AutoRecord, c.SyncEnabled, c.SyncToken, ms(c.LastSyncedAt), ms(c.CreatedAt))
	return c, err
}

func (s *Store) GetConnection(ctx context.Context, id string) (domain.Connection, error) {
	c, err := scanConnection(s.queryRow(ctx, `SELECT `+connectionCols+` FROM connections WHERE id = ?`, id))
	return c, notFound(err)
}

func (s *Store) listConnections(ctx context.Context, where string, args ...any) ([]domain.Connection, error) {
	rows, err := s.query(ctx, `SELECT `+connectionCols+` FROM connections WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SyncConnections lists connections with calendar sync enabled.
func (s *Store) SyncConnections(ctx context.Context) ([]domain.Connection, error) {
	return s.listConnections(ctx, `sync_enabled = ?`, true)
}

// AutoRecordConnections lists connections with the auto-record flag.
func (s *Store) AutoRecordConnections(ctx context.Context) ([]domain.Connection, error) {
	return s.listConnections(ctx, `auto_record = ?`, true)
}

func (s *Store) UpdateSyncCursor(ctx context.Context, connectionID, token string, at time.Time) error {
	res, err := s.exec(ctx, `UPDATE connections SET sync_token = ?, last_synced_at = ? WHERE id = ?`, token, ms(at), connectionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const eventCols = `id, connection_id, org_id, external_id, title, meeting_url, start_at, end_at, status, updated_at`

func scanEvent(sc scanner) (domain.CalendarEvent, error) {
	var (
		e                   domain.CalendarEvent
		start, end, updated int64
		status              string
	)
	err := sc.Scan(&e.ID, &e.ConnectionID, &e.OrganizationID, &e.ExternalID, &e.Title, &e.MeetingURL, &start, &end, &status, &updated)
	e.StartAt, e.EndAt, e.UpdatedAt = fromMS(start), fromMS(end), fromMS(updated)
	e.Status = domain.EventStatus(status)
	return e, err
}

// UpsertEvent inserts or updates an event by (connection, external id) and
// returns the stored row and whether it was newly created.
func (s *Store) UpsertEvent(ctx context.Context, e domain.CalendarEvent) (domain.CalendarEvent, bool, error) {
	if e.Status == "" {
		e.Status = domain.EventConfirmed
	}
	e.UpdatedAt = s.now()
	existing, err := scanEvent(s.queryRow(ctx, `SELECT `+eventCols+` FROM calendar_events WHERE connection_id = ? AND external_id = ?`,
		e.ConnectionID, e.ExternalID))
	switch err = notFound(err); {
	case err == nil:
		e.ID = existing.ID
		_, err = s.exec(ctx, `UPDATE calendar_events SET title = ?, meeting_url = ?, start_at = ?, end_at = ?, status = ?, updated_at = ? WHERE id = ?`,
			e.Title, e.MeetingURL, ms(e.StartAt), ms(e.EndAt), string(e.Status), ms(e.UpdatedAt), e.ID)
		return e, false, err
	case err == ErrNotFound:
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		_, err = s.exec(ctx, `INSERT INTO calendar_events(`+eventCols+`) VALUES(?,?,?,?,?,?,?,?,?,?)`,
			e.ID, e.ConnectionID, e.OrganizationID, e.ExternalID, e.Title, e.MeetingURL, ms(e.StartAt), ms(e.EndAt), string(e.Status), ms(e.UpdatedAt))
		return e, err == nil, err
	default:
		return e, false, err
	}
}

// AutoRecordCandidates returns confirmed events with a meeting link that
// start within [from, to] on auto-record connections, in start order.
func (s *Store) AutoRecordCandidates(ctx context.Context, from, to time.Time) ([]domain.CalendarEvent, error) {
	rows, err := s.query(ctx, `SELECT e.id, e.connection_id, e.org_id, e.external_id, e.title, e.meeting_url, e.start_at, e.end_at, e.status, e.updated_at
		FROM calendar_events e JOIN connections c ON c.id = e.connection_id
		WHERE c.auto_record = ? AND e.status = ? AND e.meeting_url <> '' AND e.start_at >= ? AND e.start_at <= ?
		ORDER BY e.start_at, e.id`,
		true, string(domain.EventConfirmed), ms(from), ms(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.CalendarEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
