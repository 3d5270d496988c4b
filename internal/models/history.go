package models

import (
	"time"

	"gorm.io/datatypes"
)

// HistoryEventType classifies print job lifecycle events
type HistoryEventType string

const (
	HistoryEventCreated       HistoryEventType = "created"
	HistoryEventStatusChanged HistoryEventType = "status_changed"
	HistoryEventCompleted     HistoryEventType = "completed"
	HistoryEventFailed        HistoryEventType = "failed"
)

// PrintHistoryEvent is an append-only audit record of one print job
// lifecycle transition. Rows are write-once: there is no update or delete
// path anywhere in the codebase.
type PrintHistoryEvent struct {
	ID         uint             `gorm:"primaryKey" json:"id"`
	PrintJobID uint             `gorm:"not null;index" json:"printJobId"`
	EventType  HistoryEventType `gorm:"not null;index" json:"eventType"`
	FromStatus JobStatus        `json:"fromStatus,omitempty"`
	ToStatus   JobStatus        `json:"toStatus,omitempty"`
	Detail     datatypes.JSON   `json:"detail,omitempty"`
	PrinterID  *uint            `gorm:"index" json:"printerId,omitempty"`
	CreatedAt  time.Time        `gorm:"index" json:"createdAt"`
}

// TableName specifies the table name for PrintHistoryEvent model
func (PrintHistoryEvent) TableName() string {
	return "print_history_events"
}
