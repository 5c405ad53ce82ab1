package delivery

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"

	"communique/internal/submission"
)

// CWCClient submits constituent messages to congressional offices through
// the Communicating With Congress endpoint: an XML document POSTed per
// message, acknowledged with a tracking identifier.
type CWCClient struct {
	baseURL    string
	apiKey     string
	campaignID string
	httpClient *http.Client
}

func NewCWCClient(baseURL, apiKey, campaignID string, httpClient *http.Client) *CWCClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &CWCClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		campaignID: campaignID,
		httpClient: httpClient,
	}
}

func (c *CWCClient) Channel() submission.Channel { return submission.ChannelCongress }

type cwcMessage struct {
	XMLName    xml.Name `xml:"CWC"`
	Version    string   `xml:"version,attr"`
	CampaignID string   `xml:"Delivery>CampaignId"`
	OfficeCode string   `xml:"Recipient>OfficeCode"`
	Prefix     string   `xml:"Constituent>Prefix,omitempty"`
	FullName   string   `xml:"Constituent>FullName"`
	Street     string   `xml:"Constituent>Address1"`
	City       string   `xml:"Constituent>City"`
	State      string   `xml:"Constituent>StateAbbreviation"`
	Zip        string   `xml:"Constituent>Zip"`
	District   string   `xml:"Constituent>District"`
	Subject    string   `xml:"Message>Subject"`
	Body       string   `xml:"Message>LibraryOfCongressTopics,omitempty"`
	Text       string   `xml:"Message>ConstituentMessage"`
	SenderRef  string   `xml:"Message>MessageId"`
}

type cwcAck struct {
	XMLName    xml.Name `xml:"CWCResponse"`
	TrackingID string   `xml:"TrackingId"`
	Error      string   `xml:"Error"`
}

func (c *CWCClient) Deliver(ctx context.Context, d Dispatch) (Outcome, error) {
	payload := cwcMessage{
		Version:    "2.0",
		CampaignID: c.campaignID,
		OfficeCode: d.OfficeID,
		FullName:   d.Address.Name,
		Street:     d.Address.Street,
		City:       d.Address.City,
		State:      d.Address.State,
		Zip:        d.Address.Zip,
		District:   d.Address.District,
		Subject:    d.Subject,
		Text:       d.Body,
		SenderRef:  d.SenderRef,
	}
	body, err := xml.Marshal(payload)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode cwc message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/message", bytes.NewReader(body))
	if err != nil {
		return Outcome{}, err
	}
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var ack cwcAck
		if err := xml.Unmarshal(raw, &ack); err != nil {
			// Accepted but unreadable ack. Treat as delivered without a
			// tracking id rather than double-sending.
			return Outcome{Delivered: true}, nil
		}
		return Outcome{Delivered: true, Receipt: ack.TrackingID}, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		var ack cwcAck
		reason := "message rejected by office"
		if err := xml.Unmarshal(raw, &ack); err == nil && ack.Error != "" {
			reason = ack.Error
		}
		return Outcome{Delivered: false, Reason: reason}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Outcome{}, fmt.Errorf("%w: cwc responded %d", ErrTransient, resp.StatusCode)
	default:
		return Outcome{Delivered: false, Reason: fmt.Sprintf("cwc responded %d", resp.StatusCode)}, nil
	}
}
