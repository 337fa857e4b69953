package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dtopup/go-topup-backend/internal/services"
)

// BridgeSender talks to the chat bridge, the sidecar that owns the actual
// WhatsApp session. It sends outbound group messages and fetches chat
// history for the transcript sweep; tests use in-memory fakes instead.
type BridgeSender struct {
	baseURL    *url.URL
	httpClient *http.Client
}

type sendPayload struct {
	GroupID string `json:"group_id"`
	Text    string `json:"text"`
}

// NewBridgeSender builds a BridgeSender for an absolute base URL.
func NewBridgeSender(baseURL string, timeout time.Duration) (*BridgeSender, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse bridge url: %w", err)
	}
	if !parsed.IsAbs() {
		return nil, fmt.Errorf("bridge url must be absolute")
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &BridgeSender{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// SendText posts one message to the bridge's send endpoint.
func (b *BridgeSender) SendText(ctx context.Context, groupID, text string) error {
	endpoint := *b.baseURL
	endpoint.Path = path.Join(endpoint.Path, "api/send")

	body, err := json.Marshal(sendPayload{GroupID: groupID, Text: text})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bridge unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		log.Warn().Int("status", resp.StatusCode).Str("group", groupID).
			Str("body", string(respBody)).Msg("bridge send rejected")
		return fmt.Errorf("bridge error: %s", resp.Status)
	}
	return nil
}

type transcriptEntry struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name,omitempty"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at"`
}

// Messages fetches the group transcript since the given time, oldest
// first. It backs the reconciliation transcript sweep.
func (b *BridgeSender) Messages(ctx context.Context, groupID string, since time.Time) ([]services.TranscriptMessage, error) {
	endpoint := *b.baseURL
	endpoint.Path = path.Join(endpoint.Path, "api/groups", groupID, "messages")
	q := endpoint.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bridge unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bridge error: %s", resp.Status)
	}

	var entries []transcriptEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	out := make([]services.TranscriptMessage, 0, len(entries))
	for _, e := range entries {
		out = append(out, services.TranscriptMessage{
			MessageID: e.MessageID,
			UserID:    e.UserID,
			UserName:  e.UserName,
			Text:      e.Text,
			SentAt:    e.SentAt,
		})
	}
	return out, nil
}
