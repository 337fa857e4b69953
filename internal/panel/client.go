// Package panel talks to the remote admin panel store over HTTP. The
// client implements both sides the services need: checking whether the
// panel knows an order (reconciliation sweep B) and pushing order events
// to it (lifecycle mirroring). Timeouts are short and failures are soft:
// the local store is the source of truth and a panel outage must never
// block order handling.
package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dtopup/go-topup-backend/internal/domain"
)

// ErrPanelUnavailable wraps transport-level failures.
var ErrPanelUnavailable = errors.New("panel unavailable")

// Client is the HTTP client for the panel store.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// orderPayload mirrors the panel's order JSON. OriginalTimestamp and
// OriginalStatus let the panel audit re-pushed orders: they carry the local
// creation time and the status the order held when it was pushed.
type orderPayload struct {
	Event             string    `json:"event"`
	OrderID           int64     `json:"order_id"`
	GroupID           string    `json:"group_id"`
	UserID            string    `json:"user_id"`
	UserName          string    `json:"user_name,omitempty"`
	PlayerID          string    `json:"player_id,omitempty"`
	Diamonds          int       `json:"diamonds"`
	Rate              float64   `json:"rate"`
	Amount            float64   `json:"amount"`
	Status            string    `json:"status"`
	MessageID         string    `json:"message_id,omitempty"`
	Recovered         bool      `json:"recovered,omitempty"`
	OriginalTimestamp time.Time `json:"original_timestamp"`
	OriginalStatus    string    `json:"original_status,omitempty"`
}

// NewClient builds a Client for an absolute base URL.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse panel url: %w", err)
	}
	if !parsed.IsAbs() {
		return nil, fmt.Errorf("panel url must be absolute")
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// OrderExists asks the panel whether it holds the order. 404 means no,
// 200 means yes; anything else is an error the sweep will retry next
// round.
func (c *Client) OrderExists(ctx context.Context, groupID string, orderID int64) (bool, error) {
	endpoint := *c.baseURL
	endpoint.Path = path.Join(endpoint.Path, "api/groups", groupID, "orders", fmt.Sprintf("%d", orderID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPanelUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		body, _ := io.ReadAll(resp.Body)
		log.Warn().Int("status", resp.StatusCode).Str("body", string(body)).
			Msg("panel order lookup failed")
		return false, fmt.Errorf("panel error: %s", resp.Status)
	}
}

// PublishOrderEvent posts one order event to the panel.
func (c *Client) PublishOrderEvent(ctx context.Context, event string, o *domain.Order) error {
	endpoint := *c.baseURL
	endpoint.Path = path.Join(endpoint.Path, "api/events")

	origStatus := o.Status
	if o.OriginalStatus != "" {
		origStatus = o.OriginalStatus
	}
	payload := orderPayload{
		Event:             event,
		OrderID:           o.ID,
		GroupID:           o.GroupID,
		UserID:            o.UserID,
		UserName:          o.UserName,
		PlayerID:          o.PlayerID,
		Diamonds:          o.Diamonds,
		Rate:              o.Rate,
		Amount:            o.Amount(),
		Status:            o.Status,
		MessageID:         o.MessageID,
		Recovered:         o.RecoveredFromChat || o.IsRecovered,
		OriginalTimestamp: o.CreatedAt,
		OriginalStatus:    origStatus,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPanelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		log.Warn().Int("status", resp.StatusCode).Str("event", event).
			Str("body", string(respBody)).Msg("panel event rejected")
		return fmt.Errorf("panel error: %s", resp.Status)
	}
	return nil
}

// ReportDeduction posts one balance ledger row, so the panel's payment
// view matches the local ledger.
func (c *Client) ReportDeduction(ctx context.Context, t *domain.PaymentTransaction) error {
	endpoint := *c.baseURL
	endpoint.Path = path.Join(endpoint.Path, "api/transactions")

	body, err := json.Marshal(t)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPanelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("panel error: %s", resp.Status)
	}
	return nil
}
