package submission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func attemptsWith(statuses ...AttemptStatus) []DeliveryAttempt {
	out := make([]DeliveryAttempt, len(statuses))
	for i, s := range statuses {
		out[i].Status = s
	}
	return out
}

func TestAggregate(t *testing.T) {
	cases := []struct {
		name     string
		statuses []AttemptStatus
		want     Status
		terminal bool
	}{
		{
			name:     "no attempts is pending",
			statuses: nil,
			want:     StatusPending,
			terminal: false,
		},
		{
			name:     "all in flight is pending",
			statuses: []AttemptStatus{AttemptPending, AttemptSubmitted},
			want:     StatusPending,
			terminal: false,
		},
		{
			name:     "all delivered",
			statuses: []AttemptStatus{AttemptDelivered, AttemptDelivered},
			want:     StatusDelivered,
			terminal: true,
		},
		{
			name:     "two delivered one rejected is partial, terminal",
			statuses: []AttemptStatus{AttemptDelivered, AttemptDelivered, AttemptRejected},
			want:     StatusPartial,
			terminal: true,
		},
		{
			name:     "rejected while another still pending is partial, in flight",
			statuses: []AttemptStatus{AttemptRejected, AttemptPending},
			want:     StatusPartial,
			terminal: false,
		},
		{
			name:     "all rejected",
			statuses: []AttemptStatus{AttemptRejected, AttemptRejected},
			want:     StatusRejected,
			terminal: true,
		},
		{
			name:     "rejected and failed with none delivered is failed",
			statuses: []AttemptStatus{AttemptRejected, AttemptFailed},
			want:     StatusFailed,
			terminal: true,
		},
		{
			name:     "delivered while another retries is partial",
			statuses: []AttemptStatus{AttemptDelivered, AttemptPending},
			want:     StatusPartial,
			terminal: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			attempts := attemptsWith(tc.statuses...)
			assert.Equal(t, tc.want, Aggregate(attempts))
			assert.Equal(t, tc.terminal, AggregateTerminal(attempts))
		})
	}
}
