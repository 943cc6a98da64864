package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"meetflow/internal/provider"
	"meetflow/internal/provider/webhook"
	"meetflow/internal/queue"
	"meetflow/internal/store"
	logx "meetflow/pkg/logx"
)

// Notifier fans a lifecycle event out to the subscribed endpoints of an
// organization as deliver-webhook jobs.
type Notifier struct {
	store  Store
	queues Queues
	log    logx.Logger
}

type webhookJob struct {
	EndpointID string          `json:"endpoint_id"`
	DeliveryID string          `json:"delivery_id"`
	Event      string          `json:"event"`
	Body       json.RawMessage `json:"body"`
}

type webhookEnvelope struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	CreatedAt time.Time `json:"created_at"`
	Data      any       `json:"data"`
}

// Notify enqueues one delivery per endpoint. key identifies the subject
// (meeting id, digest week) so a repeated Notify does not deliver twice.
// Failures are logged; a missed notification never fails the caller.
func (n *Notifier) Notify(ctx context.Context, orgID, event, key string, data any) int {
	if n == nil || n.queues == nil {
		return 0
	}
	endpoints, err := n.store.WebhookEndpoints(ctx, orgID, event)
	if err != nil {
		n.log.Warn("list webhook endpoints failed", logx.String("org", orgID), logx.String("event", event), logx.Err(err))
		return 0
	}
	q := n.queues.Queue(QueueWebhooks)
	enqueued := 0
	for _, ep := range endpoints {
		deliveryID := "wh:" + ep.ID + ":" + event + ":" + key
		body, err := json.Marshal(webhookEnvelope{ID: deliveryID, Event: event, CreatedAt: time.Now().UTC(), Data: data})
		if err != nil {
			n.log.Warn("encode webhook failed", logx.String("event", event), logx.Err(err))
			return enqueued
		}
		_, err = q.Add(ctx, JobDeliverWebhook, webhookJob{EndpointID: ep.ID, DeliveryID: deliveryID, Event: event, Body: body}, queue.Options{JobID: deliveryID})
		switch {
		case errors.Is(err, queue.ErrDuplicate):
		case err != nil:
			n.log.Warn("enqueue webhook failed", logx.String("endpoint", ep.ID), logx.String("event", event), logx.Err(err))
		default:
			enqueued++
		}
	}
	return enqueued
}

func deliverWebhook(s Store, sender WebhookSender) queue.Handler {
	return func(ctx context.Context, job *queue.Job) (any, error) {
		var p webhookJob
		if err := decodePayload(job, &p); err != nil {
			return nil, err
		}
		ep, err := s.GetWebhookEndpoint(ctx, p.EndpointID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, queue.NoRetry(fmt.Errorf("webhook endpoint %s is gone", p.EndpointID))
		}
		if err != nil {
			return nil, err
		}
		if !ep.Enabled {
			return map[string]any{"skipped": "endpoint disabled"}, nil
		}
		err = sender.Send(ctx, webhook.Delivery{ID: p.DeliveryID, URL: ep.URL, Secret: ep.Secret, Event: p.Event, Payload: p.Body})
		if err != nil {
			return nil, provider.JobError(err)
		}
		return map[string]any{"endpoint": ep.ID, "event": p.Event}, nil
	}
}
