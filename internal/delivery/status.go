package delivery

import (
	"context"
	"time"

	"communique/internal/submission"
	id "communique/pkg/domain"
)

// AttemptView is the per-recipient slice of a status report. LastError is
// surfaced verbatim; it never contains witness material.
type AttemptView struct {
	ID         id.AttemptID       `json:"id"`
	Channel    submission.Channel `json:"channel"`
	OfficeID   string             `json:"officeId"`
	Status     string             `json:"status"`
	RetryCount int                `json:"retryCount"`
	LastError  string             `json:"lastError,omitempty"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

// StatusReport is the caller-facing view of one submission.
type StatusReport struct {
	SubmissionID id.SubmissionID `json:"submissionId"`
	Overall      string          `json:"overall"`
	Terminal     bool            `json:"terminal"`
	Attempts     []AttemptView   `json:"attempts"`
}

// Tracker answers status queries. Read only: the aggregate is computed from
// the live attempts, so a report is never staler than the attempt rows.
type Tracker struct {
	ledger   submission.Store
	attempts AttemptStore
}

func NewTracker(ledger submission.Store, attempts AttemptStore) *Tracker {
	return &Tracker{ledger: ledger, attempts: attempts}
}

func (t *Tracker) GetStatus(ctx context.Context, submissionID id.SubmissionID) (StatusReport, error) {
	sub, created, err := t.ledger.Find(ctx, submissionID)
	if err != nil {
		return StatusReport{}, err
	}

	attempts, err := t.attempts.BySubmission(ctx, submissionID)
	if err != nil {
		return StatusReport{}, err
	}
	if len(attempts) == 0 {
		// The worker store has not seen this submission yet; fall back to
		// the rows the ledger created with it.
		attempts = created
	}

	report := StatusReport{
		SubmissionID: sub.ID,
		Overall:      string(submission.Aggregate(attempts)),
		Terminal:     submission.AggregateTerminal(attempts),
		Attempts:     make([]AttemptView, 0, len(attempts)),
	}
	for _, a := range attempts {
		report.Attempts = append(report.Attempts, AttemptView{
			ID:         a.ID,
			Channel:    a.Recipient.Channel,
			OfficeID:   a.Recipient.OfficeID,
			Status:     string(a.Status),
			RetryCount: a.RetryCount,
			LastError:  a.LastError,
			UpdatedAt:  a.UpdatedAt,
		})
	}
	return report, nil
}
