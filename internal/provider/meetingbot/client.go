// Package meetingbot deploys recording bots into meetings through the
// meeting bot platform's HTTP API.
package meetingbot

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"meetflow/internal/provider"
)

// DeployRequest asks for a bot to join MeetingURL at JoinAt. A JoinAt in the
// past joins immediately.
type DeployRequest struct {
	MeetingURL string
	JoinAt     time.Time
	BotName    string
	// Metadata is echoed back by the platform in its callbacks.
	Metadata map[string]string
}

type Client struct {
	api *provider.Client
}

func New(cfg provider.Config, opts ...provider.Option) *Client {
	return &Client{api: provider.NewClient(cfg, opts...)}
}

type deployBody struct {
	MeetingURL string            `json:"meeting_url"`
	BotName    string            `json:"bot_name,omitempty"`
	JoinAt     string            `json:"join_at,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type deployResponse struct {
	ID string `json:"id"`
}

// Deploy schedules the bot and returns its platform id.
func (c *Client) Deploy(ctx context.Context, req DeployRequest) (string, error) {
	if strings.TrimSpace(req.MeetingURL) == "" {
		return "", errors.New("meetingbot: meeting url is required")
	}
	body := deployBody{MeetingURL: req.MeetingURL, BotName: req.BotName, Metadata: req.Metadata}
	if !req.JoinAt.IsZero() {
		body.JoinAt = req.JoinAt.UTC().Format(time.RFC3339)
	}
	var out deployResponse
	if err := c.api.DoJSON(ctx, http.MethodPost, "/bots", nil, body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("meetingbot: response without bot id")
	}
	return out.ID, nil
}

// Cancel removes a scheduled bot. Unknown bots are not an error.
func (c *Client) Cancel(ctx context.Context, botID string) error {
	err := c.api.DoJSON(ctx, http.MethodDelete, "/bots/"+botID, nil, nil, nil)
	var se *provider.StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil
	}
	return err
}
