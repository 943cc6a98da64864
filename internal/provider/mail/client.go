// Package mail sends transactional email through the mail provider API.
package mail

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"meetflow/internal/provider"
)

type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text,omitempty"`
	HTML    string `json:"html,omitempty"`
	// IdempotencyKey lets the provider drop a resend of the same message.
	IdempotencyKey string `json:"-"`
}

type Client struct {
	api  *provider.Client
	from string
}

func New(cfg provider.Config, from string, opts ...provider.Option) *Client {
	return &Client{api: provider.NewClient(cfg, opts...), from: from}
}

type sendBody struct {
	From           string `json:"from"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Message
}

type sendResponse struct {
	ID string `json:"id"`
}

// Send delivers m and returns the provider message id.
func (c *Client) Send(ctx context.Context, m Message) (string, error) {
	if strings.TrimSpace(m.To) == "" {
		return "", errors.New("mail: recipient is required")
	}
	var out sendResponse
	err := c.api.DoJSON(ctx, http.MethodPost, "/messages", nil, sendBody{From: c.from, IdempotencyKey: m.IdempotencyKey, Message: m}, &out)
	return out.ID, err
}
