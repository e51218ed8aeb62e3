package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	all := []JobStatus{JobPending, JobProcessing, JobCompleted, JobFailed}

	allowed := map[[2]JobStatus]bool{
		{JobPending, JobProcessing}:   true,
		{JobPending, JobPending}:      true,
		{JobPending, JobFailed}:       true,
		{JobPending, JobCompleted}:    true,
		{JobProcessing, JobPending}:   true,
		{JobProcessing, JobFailed}:    true,
		{JobProcessing, JobCompleted}: true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]JobStatus{from, to}]
			assert.Equalf(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStatusesNeverMove(t *testing.T) {
	for _, from := range []JobStatus{JobCompleted, JobFailed} {
		assert.True(t, from.Terminal())
		for _, to := range []JobStatus{JobPending, JobProcessing, JobCompleted, JobFailed} {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name   string
		counts JobCounts
		total  int
		want   BatchStatus
	}{
		{"fresh", JobCounts{Pending: 3}, 3, BatchQueued},
		{"claimed", JobCounts{Pending: 1, Processing: 2}, 3, BatchProcessing},
		{"partly done", JobCounts{Pending: 2, Completed: 1}, 3, BatchProcessing},
		{"done with failures", JobCounts{Completed: 2, Failed: 1}, 3, BatchCompleted},
		{"all failed", JobCounts{Failed: 3}, 3, BatchCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.counts.DeriveStatus(tt.total))
			assert.Equal(t, tt.total, tt.counts.Total())
		})
	}
}

func TestJobCountsAdd(t *testing.T) {
	var c JobCounts
	c.Add(JobPending, 2)
	c.Add(JobFailed, 1)
	c.Add(JobStatus("bogus"), 5)
	assert.Equal(t, JobCounts{Pending: 2, Failed: 1}, c)
}

func TestRecipientMissingFields(t *testing.T) {
	r := Recipient{ID: "10122026", DisplayName: "Acme Motors", Phone: " ", LogoURL: ""}
	assert.Equal(t, []string{"phone", "logo_url"}, r.MissingFields())

	r.Phone = "555-0100"
	r.LogoURL = "https://cdn.example.com/acme.png"
	assert.Empty(t, r.MissingFields())
}

func TestJobUpdateEmpty(t *testing.T) {
	assert.True(t, JobUpdate{ExpectStatus: NonTerminal}.Empty())
	assert.False(t, JobUpdate{ClearExternalID: true}.Empty())
	assert.False(t, JobUpdate{Status: StatusPtr(JobFailed)}.Empty())
}
