package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"communique/internal/submission"
)

// EmailClient relays messages to offices reachable only by email, through
// an HTTP relay that owns the actual SMTP session.
type EmailClient struct {
	relayURL   string
	apiKey     string
	fromDomain string
	httpClient *http.Client
}

func NewEmailClient(relayURL, apiKey, fromDomain string, httpClient *http.Client) *EmailClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &EmailClient{
		relayURL:   relayURL,
		apiKey:     apiKey,
		fromDomain: fromDomain,
		httpClient: httpClient,
	}
}

func (c *EmailClient) Channel() submission.Channel { return submission.ChannelEmail }

type relayRequest struct {
	To       string `json:"to"`
	From     string `json:"from"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	ReplyRef string `json:"reply_ref"`
	District string `json:"district"`
}

type relayResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

func (c *EmailClient) Deliver(ctx context.Context, d Dispatch) (Outcome, error) {
	payload := relayRequest{
		To:       d.OfficeID,
		From:     d.SenderRef + "@" + c.fromDomain,
		Subject:  d.Subject,
		Body:     d.Body,
		ReplyRef: d.SenderRef,
		District: d.Address.District,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode relay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL+"/send", bytes.NewReader(body))
	if err != nil {
		return Outcome{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var ack relayResponse
		_ = json.Unmarshal(raw, &ack)
		return Outcome{Delivered: true, Receipt: ack.MessageID}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		var ack relayResponse
		reason := fmt.Sprintf("relay responded %d", resp.StatusCode)
		if err := json.Unmarshal(raw, &ack); err == nil && ack.Error != "" {
			reason = ack.Error
		}
		return Outcome{Delivered: false, Reason: reason}, nil
	default:
		return Outcome{}, fmt.Errorf("%w: relay responded %d", ErrTransient, resp.StatusCode)
	}
}
