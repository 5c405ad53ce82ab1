package delivery_test

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"

	"communique/internal/delivery"
)

type ClientSuite struct {
	suite.Suite
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) dispatch() delivery.Dispatch {
	return delivery.Dispatch{
		OfficeID: "HIL13",
		Address: delivery.ConstituentAddress{
			Name: "A Constituent", Street: "1 Main St", City: "Springfield",
			State: "IL", Zip: "62701", District: "IL-13",
		},
		Subject:   "Support the bill",
		Body:      "Please vote yes.",
		SenderRef: "anon_client_test",
	}
}

func (s *ClientSuite) TestCWCDeliver() {
	s.Run("accepted message carries the tracking id", func() {
		var gotKey string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotKey = r.Header.Get("X-Api-Key")
			body, _ := io.ReadAll(r.Body)
			s.Contains(string(body), "<OfficeCode>HIL13</OfficeCode>")
			s.Contains(string(body), "<CampaignId>camp-1</CampaignId>")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`<CWCResponse><TrackingId>cwc-881</TrackingId></CWCResponse>`))
		}))
		defer srv.Close()

		client := delivery.NewCWCClient(srv.URL, "key-abc", "camp-1", srv.Client())
		out, err := client.Deliver(context.Background(), s.dispatch())
		s.Require().NoError(err)
		s.True(out.Delivered)
		s.Equal("cwc-881", out.Receipt)
		s.Equal("key-abc", gotKey)
	})

	s.Run("validation rejection surfaces the office's reason", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			out, _ := xml.Marshal(struct {
				XMLName xml.Name `xml:"CWCResponse"`
				Error   string   `xml:"Error"`
			}{Error: "unknown office code"})
			_, _ = w.Write(out)
		}))
		defer srv.Close()

		client := delivery.NewCWCClient(srv.URL, "key-abc", "camp-1", srv.Client())
		out, err := client.Deliver(context.Background(), s.dispatch())
		s.Require().NoError(err)
		s.False(out.Delivered)
		s.Equal("unknown office code", out.Reason)
	})

	s.Run("server errors and throttling are transient", func() {
		for _, code := range []int{http.StatusTooManyRequests, http.StatusBadGateway} {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(code)
			}))
			client := delivery.NewCWCClient(srv.URL, "key-abc", "camp-1", srv.Client())
			_, err := client.Deliver(context.Background(), s.dispatch())
			s.ErrorIs(err, delivery.ErrTransient)
			srv.Close()
		}
	})
}

func (s *ClientSuite) TestEmailDeliver() {
	s.Run("relay acceptance carries the message id", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.Equal("Bearer relay-key", r.Header.Get("Authorization"))
			var req struct {
				To   string `json:"to"`
				From string `json:"from"`
			}
			s.Require().NoError(json.NewDecoder(r.Body).Decode(&req))
			s.Equal("HIL13", req.To)
			s.Equal("anon_client_test@mail.example.gov", req.From)
			_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "msg-42"})
		}))
		defer srv.Close()

		client := delivery.NewEmailClient(srv.URL, "relay-key", "mail.example.gov", srv.Client())
		out, err := client.Deliver(context.Background(), s.dispatch())
		s.Require().NoError(err)
		s.True(out.Delivered)
		s.Equal("msg-42", out.Receipt)
	})

	s.Run("relay rejection is terminal with its reason", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "recipient suppressed"})
		}))
		defer srv.Close()

		client := delivery.NewEmailClient(srv.URL, "relay-key", "mail.example.gov", srv.Client())
		out, err := client.Deliver(context.Background(), s.dispatch())
		s.Require().NoError(err)
		s.False(out.Delivered)
		s.Equal("recipient suppressed", out.Reason)
	})
}
