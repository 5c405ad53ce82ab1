// Package audit captures structured security and operations events. Events
// are fire-and-forget from the request path: services hand them to the
// publisher and move on; a lost audit event never fails a submission.
package audit

import (
	"time"

	id "communique/pkg/domain"
)

// Kind names one auditable occurrence.
type Kind string

const (
	KindCredentialIssued  Kind = "credential_issued"
	KindCredentialRevoked Kind = "credential_revoked"
	KindTierPromoted      Kind = "tier_promoted"
	KindSubmissionCreated Kind = "submission_created"
	KindNullifierReused   Kind = "nullifier_reused"
	KindDeliveryTerminal  Kind = "delivery_terminal"
)

// Event is one audit record. Identifiers are serialized as strings so the
// topic is greppable without custom tooling.
type Event struct {
	Timestamp    time.Time      `json:"timestamp"`
	Kind         Kind           `json:"kind"`
	Pseudonym    id.Pseudonym   `json:"pseudonym,omitempty"`
	SubmissionID string         `json:"submission_id,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	Detail       map[string]any `json:"detail,omitempty"`
}
