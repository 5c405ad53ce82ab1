// Package delivery moves accepted submissions to their recipients. A pool
// of workers claims attempts under an exclusive lease, decrypts the sender's
// witness to recover the routing address, and hands the message to the
// channel-specific client. Nothing outside this package talks to a delivery
// endpoint.
package delivery

import (
	"context"
	"errors"

	"communique/internal/submission"
	dErrors "communique/pkg/domain-errors"
)

// ErrTransient marks a delivery failure worth retrying: timeouts, 5xx
// responses, connection resets. Anything else from a client is terminal.
var ErrTransient = errors.New("transient delivery failure")

// Outcome is the terminal answer from a delivery endpoint.
type Outcome struct {
	Delivered bool
	// Receipt is the endpoint's tracking identifier when delivered.
	Receipt string
	// Reason explains a rejection in the endpoint's own words.
	Reason string
}

// Dispatch is one message addressed to one office. The address fields come
// from the decrypted witness and exist only for the duration of the call.
type Dispatch struct {
	OfficeID string
	Address  ConstituentAddress
	Subject  string
	Body     string
	// SenderRef is the pseudonymous sender handle endpoints may use for
	// dedup. Never a real identity.
	SenderRef string
}

//go:generate mockgen -destination=mocks/client_mock.go -package=mocks communique/internal/delivery Client

// Client delivers a dispatch over one channel. Deliver returns ErrTransient
// (possibly wrapped) for retryable failures and an Outcome otherwise.
type Client interface {
	Deliver(ctx context.Context, d Dispatch) (Outcome, error)
	Channel() submission.Channel
}

// Router picks the client for a recipient's channel. Channel branching
// lives here and nowhere else.
type Router struct {
	clients map[submission.Channel]Client
}

func NewRouter(clients ...Client) *Router {
	r := &Router{clients: make(map[submission.Channel]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.Channel()] = c
	}
	return r
}

func (r *Router) For(channel submission.Channel) (Client, error) {
	c, ok := r.clients[channel]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeInternal, "no delivery client for channel %q", channel)
	}
	return c, nil
}
