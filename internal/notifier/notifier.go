// Package notifier sends fire-and-forget notifications to the notification
// service. Delivery is best effort: the admission path never blocks on it
// and failures are only logged.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kirinyoku/bookd/internal/domain"
)

const (
	TypeBookingConfirmed = "booking_confirmed"
	TypeBookingCancelled = "booking_cancelled"
)

type Config struct {
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	http   *http.Client
	logger *slog.Logger
	cfg    Config
}

func New(logger *slog.Logger, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		cfg:    cfg,
	}
}

type sendRequest struct {
	UserID  string `json:"user_id"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Dispatch sends the notification on a detached goroutine. The caller's
// context only contributes values; its cancellation does not abort the
// send.
func (c *Client) Dispatch(ctx context.Context, b *domain.Booking, notifType string) {
	if c == nil || c.cfg.BaseURL == "" {
		return
	}

	go c.send(context.WithoutCancel(ctx), b, notifType)
}

func (c *Client) send(ctx context.Context, b *domain.Booking, notifType string) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	payload := sendRequest{
		UserID:  b.UserID,
		Type:    notifType,
		Content: fmt.Sprintf("Booking %s for event %s is now %s.", b.ID, b.EventID, b.Status),
	}

	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.cfg.BaseURL+"/notifications/send",
		bytes.NewReader(body),
	)
	if err != nil {
		c.logger.Error("notification request build failed", "booking_id", b.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("notification send failed", "booking_id", b.ID, "type", notifType, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.logger.Error("notification rejected",
			"booking_id", b.ID,
			"type", notifType,
			"status", resp.StatusCode,
		)
	}
}
