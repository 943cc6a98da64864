package store

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"meetflow/internal/domain"
)

func (s *Store) CreateWebhookEndpoint(ctx context.Context, w domain.WebhookEndpoint) (domain.WebhookEndpoint, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	_, err := s.exec(ctx, `INSERT INTO webhook_endpoints(id, org_id, url, secret, events, enabled) VALUES(?,?,?,?,?,?)`,
		w.ID, w.OrganizationID, w.URL, w.Secret, strings.Join(w.Events, ","), w.Enabled)
	return w, err
}

// WebhookEndpoints lists the enabled endpoints of org subscribed to event.
func (s *Store) WebhookEndpoints(ctx context.Context, orgID, event string) ([]domain.WebhookEndpoint, error) {
	rows, err := s.query(ctx, `SELECT id, org_id, url, secret, events, enabled FROM webhook_endpoints
		WHERE org_id = ? AND enabled = ? ORDER BY id`, orgID, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.WebhookEndpoint
	for rows.Next() {
		var (
			w      domain.WebhookEndpoint
			events string
		)
		if err := rows.Scan(&w.ID, &w.OrganizationID, &w.URL, &w.Secret, &events, &w.Enabled); err != nil {
			return nil, err
		}
		if events != "" {
			w.Events = strings.Split(events, ",")
		}
		if event == "" || w.Wants(event) {
			out = append(out, w)
		}
	}
	return out, rows.Err()
}

func (s *Store) GetWebhookEndpoint(ctx context.Context, id string) (domain.WebhookEndpoint, error) {
	var (
		w      domain.WebhookEndpoint
		events string
	)
	err := s.queryRow(ctx, `SELECT id, org_id, url, secret, events, enabled FROM webhook_endpoints WHERE id = ?`, id).
		Scan(&w.ID, &w.OrganizationID, &w.URL, &w.Secret, &events, &w.Enabled)
	if events != "" {
		w.Events = strings.Split(events, ",")
	}
	return w, notFound(err)
}
