package models

import (
	"time"

	"gorm.io/datatypes"
)

// JobStatus defines the lifecycle states of a print job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"    // Waiting to be claimed by a dispatch sweep
	JobStatusProcessing JobStatus = "processing" // Claimed and sent to a printer agent
	JobStatusCompleted  JobStatus = "completed"  // Agent confirmed a successful print
	JobStatusFailed     JobStatus = "failed"     // Retries exhausted or cancelled mid-send
	JobStatusRetrying   JobStatus = "retrying"   // Failed with retries remaining, eligible again
	JobStatusCancelled  JobStatus = "cancelled"  // Withdrawn before it reached a printer
)

// jobTransitions is the closed set of legal status moves. Every mutation goes
// through queue.Store.Transition, which consults this table, so an illegal
// transition can never reach the database.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing, JobStatusCancelled},
	JobStatusRetrying:   {JobStatusProcessing, JobStatusCancelled},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed, JobStatusRetrying},
}

// CanTransitionTo reports whether a job may move from s to target.
func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a final state. Terminal jobs are only ever
// touched again by retention cleanup.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Dispatchable reports whether a job in this state may be claimed by a
// dispatch sweep.
func (s JobStatus) Dispatchable() bool {
	return s == JobStatusPending || s == JobStatusRetrying
}

// PrintJob is one unit of print work targeting a specific printer
type PrintJob struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// OrderID is nil for test prints
	OrderID    *uint  `gorm:"index" json:"orderId,omitempty"`
	UserID     string `gorm:"type:uuid;not null;index" json:"userId"`
	ShopID     *uint  `gorm:"index" json:"shopId,omitempty"`
	TemplateID *uint  `json:"templateId,omitempty"`
	PrinterID  uint   `gorm:"not null;index" json:"printerId"`

	Status       JobStatus `gorm:"default:'pending';index" json:"status"`
	Priority     Priority  `gorm:"default:'normal'" json:"priority"`
	PriorityRank int       `gorm:"default:1;index" json:"-"`

	RetryCount int `gorm:"default:0" json:"retryCount"`
	MaxRetries int `gorm:"default:3" json:"maxRetries"`

	// Payload is a denormalized snapshot of the order taken at enqueue time,
	// so dispatch never needs a join at send time
	Payload      datatypes.JSON `json:"payload"`
	ErrorMessage string         `json:"errorMessage,omitempty"`

	// NotBefore delays retry eligibility when a retry backoff is configured
	NotBefore *time.Time `gorm:"index" json:"notBefore,omitempty"`

	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	FailedAt    *time.Time `json:"failedAt,omitempty"`
	CreatedAt   time.Time  `gorm:"index" json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`

	Order   *Order   `gorm:"foreignKey:OrderID" json:"-"`
	Printer *Printer `gorm:"foreignKey:PrinterID" json:"-"`
}

// TableName specifies the table name for PrintJob model
func (PrintJob) TableName() string {
	return "print_jobs"
}
