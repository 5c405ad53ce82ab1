// Package domain holds shared domain primitives: typed identifiers, trust
// tiers, and the anti-replay values that flow between the identity, proof,
// and submission layers. Construct values via the Parse functions at trust
// boundaries; direct casting bypasses validation.
package domain

import (
	"github.com/google/uuid"

	dErrors "communique/pkg/domain-errors"
)

// Typed UUID identifiers. Distinct types so a submission id can never be
// passed where an attempt id is expected.
type (
	SubmissionID uuid.UUID
	AttemptID    uuid.UUID
	ActionID     uuid.UUID
)

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be empty", what)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is not a valid UUID", what)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be the nil UUID", what)
	}
	return u, nil
}

// ParseSubmissionID validates and returns a SubmissionID.
func ParseSubmissionID(s string) (SubmissionID, error) {
	u, err := parseUUID(s, "submission id")
	if err != nil {
		return SubmissionID{}, err
	}
	return SubmissionID(u), nil
}

// ParseAttemptID validates and returns an AttemptID.
func ParseAttemptID(s string) (AttemptID, error) {
	u, err := parseUUID(s, "attempt id")
	if err != nil {
		return AttemptID{}, err
	}
	return AttemptID(u), nil
}

// ParseActionID validates and returns an ActionID.
func ParseActionID(s string) (ActionID, error) {
	u, err := parseUUID(s, "action id")
	if err != nil {
		return ActionID{}, err
	}
	return ActionID(u), nil
}

func (id SubmissionID) String() string { return uuid.UUID(id).String() }
func (id AttemptID) String() string    { return uuid.UUID(id).String() }
func (id ActionID) String() string     { return uuid.UUID(id).String() }

func (id SubmissionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id AttemptID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ActionID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }

// Text marshaling renders the canonical UUID string, so the typed ids read
// naturally in JSON payloads and log fields.
func (id SubmissionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id AttemptID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id ActionID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }

func (id *SubmissionID) UnmarshalText(b []byte) error {
	parsed, err := ParseSubmissionID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *AttemptID) UnmarshalText(b []byte) error {
	parsed, err := ParseAttemptID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *ActionID) UnmarshalText(b []byte) error {
	parsed, err := ParseActionID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NewSubmissionID mints a fresh submission id.
func NewSubmissionID() SubmissionID { return SubmissionID(uuid.New()) }

// NewAttemptID mints a fresh attempt id.
func NewAttemptID() AttemptID { return AttemptID(uuid.New()) }

// NewActionID mints a fresh action id.
func NewActionID() ActionID { return ActionID(uuid.New()) }

// Pseudonym identifies a participant without revealing who they are. It is
// an opaque string minted at verification time, not a UUID, so it can be
// derived deterministically from a passkey binding.
type Pseudonym string

// ParsePseudonym validates a pseudonym from external input.
func ParsePseudonym(s string) (Pseudonym, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "pseudonym cannot be empty")
	}
	return Pseudonym(s), nil
}

func (p Pseudonym) String() string { return string(p) }
func (p Pseudonym) IsNil() bool    { return p == "" }

// DistrictCommitment is the opaque commitment to a participant's district
// tree leaf. It never carries a plaintext location.
type DistrictCommitment string

func (d DistrictCommitment) String() string { return string(d) }
func (d DistrictCommitment) IsNil() bool    { return d == "" }
