package models

import "testing"

func TestJobStatusCanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    JobStatus
		to      JobStatus
		allowed bool
	}{
		{"pending to processing", JobStatusPending, JobStatusProcessing, true},
		{"pending to cancelled", JobStatusPending, JobStatusCancelled, true},
		{"pending to completed", JobStatusPending, JobStatusCompleted, false},
		{"retrying to processing", JobStatusRetrying, JobStatusProcessing, true},
		{"retrying to cancelled", JobStatusRetrying, JobStatusCancelled, true},
		{"processing to completed", JobStatusProcessing, JobStatusCompleted, true},
		{"processing to failed", JobStatusProcessing, JobStatusFailed, true},
		{"processing to retrying", JobStatusProcessing, JobStatusRetrying, true},
		{"processing to cancelled", JobStatusProcessing, JobStatusCancelled, false},
		{"completed is terminal", JobStatusCompleted, JobStatusPending, false},
		{"failed is terminal", JobStatusFailed, JobStatusRetrying, false},
		{"cancelled is terminal", JobStatusCancelled, JobStatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}

func TestJobStatusTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}

	active := []JobStatus{JobStatusPending, JobStatusProcessing, JobStatusRetrying}
	for _, s := range active {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
		if s == JobStatusProcessing && s.Dispatchable() {
			t.Error("processing jobs must not be dispatchable")
		}
	}
}

func TestPriorityRank(t *testing.T) {
	if PriorityUrgent.Rank() <= PriorityHigh.Rank() {
		t.Error("urgent must outrank high")
	}
	if PriorityHigh.Rank() <= PriorityNormal.Rank() {
		t.Error("high must outrank normal")
	}
	if Priority("bogus").Rank() != PriorityNormal.Rank() {
		t.Error("unknown priorities must rank as normal")
	}
}

func TestOrderStatusCanTransitionTo(t *testing.T) {
	tests := []struct {
		from    OrderStatus
		to      OrderStatus
		allowed bool
	}{
		{OrderStatusPending, OrderStatusQueued, true},
		{OrderStatusPending, OrderStatusPrinted, true},
		{OrderStatusQueued, OrderStatusPrinted, true},
		{OrderStatusPrinted, OrderStatusShipped, true},
		{OrderStatusPrinted, OrderStatusPending, false},
		{OrderStatusQueued, OrderStatusPending, false},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusPrinted, OrderStatusCancelled, true},
		{OrderStatusShipped, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusPending, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
			t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}
