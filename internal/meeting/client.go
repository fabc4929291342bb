// Package meeting creates video-meeting rooms through the meeting provider's
// HTTP API.
package meeting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/paidcall/backend/internal/payments"
)

// Meeting is the provider's room reference.
type Meeting struct {
	ID      string `json:"id"`
	JoinURL string `json:"join_url"`
}

type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Policy     payments.RetryPolicy
}

func NewClient(baseURL, token string, policy payments.RetryPolicy) *Client {
	return &Client{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{},
		Policy:     policy,
	}
}

type createMeetingRequest struct {
	Topic           string    `json:"topic"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	ExternalRef     string    `json:"external_ref"`
}

// CreateMeeting books a room. externalRef is sent so the provider can
// de-duplicate a retried request for the same booking.
func (c *Client) CreateMeeting(ctx context.Context, topic string, start time.Time, duration time.Duration, externalRef string) (Meeting, error) {
	body, err := json.Marshal(createMeetingRequest{
		Topic:           topic,
		StartTime:       start.UTC(),
		DurationMinutes: int(duration / time.Minute),
		ExternalRef:     externalRef,
	})
	if err != nil {
		return Meeting{}, err
	}
	return payments.Do(ctx, c.Policy, func(ctx context.Context) (Meeting, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/meetings", bytes.NewReader(body))
		if err != nil {
			return Meeting{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", externalRef)
		if c.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.Token)
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return Meeting{}, fmt.Errorf("meeting api: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return Meeting{}, fmt.Errorf("meeting api returned %d", resp.StatusCode)
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return Meeting{}, backoff.Permanent(fmt.Errorf("meeting api returned %d", resp.StatusCode))
		}

		var m Meeting
		if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
			return Meeting{}, backoff.Permanent(fmt.Errorf("decode meeting: %w", err))
		}
		if m.ID == "" || m.JoinURL == "" {
			return Meeting{}, backoff.Permanent(fmt.Errorf("meeting api returned an incomplete room"))
		}
		return m, nil
	})
}
