// Package submission owns the server-side submission ledger: the record of
// who sent what, keyed by nullifier, created exactly once. The ledger is the
// only writer of submission rows; delivery attempt rows are mutated only by
// the delivery worker.
package submission

import (
	"time"

	id "communique/pkg/domain"
)

// Status is the user-visible aggregate status of a submission. This is a
// closed set: internal retry attempts are never exposed as extra states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusPartial   Status = "partial"
	StatusRejected  Status = "rejected"
	StatusFailed    Status = "failed"
)

// AttemptStatus is the per-recipient delivery state machine.
type AttemptStatus string

const (
	AttemptPending    AttemptStatus = "pending"
	AttemptDecrypting AttemptStatus = "decrypting"
	AttemptAddressed  AttemptStatus = "addressed"
	AttemptSubmitted  AttemptStatus = "submitted"
	AttemptDelivered  AttemptStatus = "delivered"
	AttemptRejected   AttemptStatus = "rejected"
	AttemptFailed     AttemptStatus = "failed"
)

// Terminal reports whether the attempt can no longer change state.
func (s AttemptStatus) Terminal() bool {
	switch s {
	case AttemptDelivered, AttemptRejected, AttemptFailed:
		return true
	}
	return false
}

// Channel discriminates how a recipient is reached.
type Channel string

const (
	// ChannelCongress routes through the congressional CWC integration.
	ChannelCongress Channel = "congress"
	// ChannelEmail routes through the direct email relay.
	ChannelEmail Channel = "email"
)

// Recipient describes one intended receiver of a submission. Routing data
// beyond the office identifier lives in the encrypted witness until the
// worker decrypts it.
type Recipient struct {
	Channel Channel `json:"channel"`
	// OfficeID identifies the recipient office (congressional office code
	// or a configured municipal inbox).
	OfficeID string `json:"office_id"`
}

// Submission is the ledger row.
type Submission struct {
	ID               id.SubmissionID
	Nullifier        id.Nullifier
	IdempotencyKey   id.IdempotencyKey
	SenderPseudonym  id.Pseudonym
	ActionID         id.ActionID
	Subject          string
	Body             string
	Recipients       []Recipient
	EncryptedWitness []byte
	WitnessKeyID     string
	Status           Status
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DeliveryAttempt is one recipient's copy of a submission moving through
// the external delivery integration. RetryCount is persisted with the row so
// a crashed worker resumes without double-counting.
type DeliveryAttempt struct {
	ID           id.AttemptID
	SubmissionID id.SubmissionID
	Recipient    Recipient
	Status       AttemptStatus
	RetryCount   int
	NextAttempt  time.Time
	LeaseUntil   time.Time
	LastError    string
	UpdatedAt    time.Time
}

// Aggregate folds per-attempt statuses into the parent submission status.
//
// Partial success stays observable: it is never collapsed into a boolean.
// While some attempts are still in flight, any already-terminal outcome
// moves the aggregate to partial rather than a premature terminal state.
func Aggregate(attempts []DeliveryAttempt) Status {
	if len(attempts) == 0 {
		return StatusPending
	}

	var delivered, rejected, failed, inFlight int
	for _, a := range attempts {
		switch a.Status {
		case AttemptDelivered:
			delivered++
		case AttemptRejected:
			rejected++
		case AttemptFailed:
			failed++
		default:
			inFlight++
		}
	}

	if inFlight > 0 {
		if delivered+rejected+failed == 0 {
			return StatusPending
		}
		return StatusPartial
	}

	switch {
	case delivered == len(attempts):
		return StatusDelivered
	case delivered > 0:
		return StatusPartial
	case rejected == len(attempts):
		return StatusRejected
	default:
		return StatusFailed
	}
}

// AggregateTerminal reports whether every attempt is terminal.
func AggregateTerminal(attempts []DeliveryAttempt) bool {
	for _, a := range attempts {
		if !a.Status.Terminal() {
			return false
		}
	}
	return len(attempts) > 0
}
