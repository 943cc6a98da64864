// Package calendar pulls events of a linked calendar account from the
// calendar aggregation API.
package calendar

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"meetflow/internal/provider"
)

// Event is a provider-side calendar event.
type Event struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	MeetingURL string    `json:"meeting_url"`
	StartAt    time.Time `json:"start_at"`
	EndAt      time.Time `json:"end_at"`
	Cancelled  bool      `json:"cancelled"`
}

// ListRequest selects the events to pull. An empty SyncToken requests a full
// listing.
type ListRequest struct {
	ConnectionID string
	SyncToken    string
}

// ErrSyncTokenExpired means the cursor is no longer valid and a full sync is
// needed.
var ErrSyncTokenExpired = errors.New("calendar: sync token expired")

type Client struct {
	api *provider.Client
	// MaxPages bounds one listing.
	MaxPages int
}

func New(cfg provider.Config, opts ...provider.Option) *Client {
	return &Client{api: provider.NewClient(cfg, opts...), MaxPages: 50}
}

type page struct {
	Events        []Event `json:"events"`
	NextPageToken string  `json:"next_page_token"`
	NextSyncToken string  `json:"next_sync_token"`
}

// ListEvents returns every changed event since req.SyncToken and the next
// sync cursor.
func (c *Client) ListEvents(ctx context.Context, req ListRequest) ([]Event, string, error) {
	var (
		out       []Event
		pageToken string
	)
	for i := 0; i < c.MaxPages; i++ {
		q := url.Values{}
		if req.SyncToken != "" {
			q.Set("sync_token", req.SyncToken)
		}
		if pageToken != "" {
			q.Set("page_token", pageToken)
		}
		var p page
		err := c.api.DoJSON(ctx, http.MethodGet, "/connections/"+url.PathEscape(req.ConnectionID)+"/events", q, nil, &p)
		var se *provider.StatusError
		if errors.As(err, &se) && se.Code == http.StatusGone {
			return nil, "", ErrSyncTokenExpired
		}
		if err != nil {
			return nil, "", err
		}
		out = append(out, p.Events...)
		if p.NextPageToken == "" {
			return out, p.NextSyncToken, nil
		}
		pageToken = p.NextPageToken
	}
	return nil, "", errors.New("calendar: too many pages")
}
