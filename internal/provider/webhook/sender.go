// Package webhook delivers signed lifecycle notifications to customer
// endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"meetflow/internal/provider"
)

// Delivery is one POST to one endpoint.
type Delivery struct {
	ID      string
	URL     string
	Secret  string
	Event   string
	Payload []byte
}

type Sender struct {
	client    *http.Client
	userAgent string
	now       func() time.Time
}

func NewSender(timeout time.Duration, userAgent string) *Sender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if userAgent == "" {
		userAgent = "meetflow-webhooks/1"
	}
	return &Sender{client: &http.Client{Timeout: timeout}, userAgent: userAgent, now: time.Now}
}

// Send posts the payload with an HMAC-SHA256 signature over
// "<timestamp>.<body>". Non-2xx responses return a *provider.StatusError.
func (s *Sender) Send(ctx context.Context, d Delivery) error {
	ts := strconv.FormatInt(s.now().Unix(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("X-Meetflow-Event", d.Event)
	req.Header.Set("X-Meetflow-Delivery", d.ID)
	req.Header.Set("X-Meetflow-Timestamp", ts)
	if d.Secret != "" {
		req.Header.Set("X-Meetflow-Signature", "sha256="+Sign(d.Secret, ts, d.Payload))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()
	return provider.CheckResponse(resp)
}

func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to check an incoming delivery.
func VerifySignature(secret, timestamp string, body []byte, signature string) bool {
	expected := "sha256=" + Sign(secret, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
