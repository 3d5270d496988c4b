package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PrinterStatus defines the reachability state of a printer agent
type PrinterStatus string

const (
	PrinterStatusOnline  PrinterStatus = "online"
	PrinterStatusOffline PrinterStatus = "offline"
)

// Printer represents a registered desktop print agent, identified by a
// device id that is stable per installation
type Printer struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	UserID   string `gorm:"type:uuid;not null;index;uniqueIndex:idx_user_device" json:"userId"`
	DeviceID string `gorm:"not null;uniqueIndex:idx_user_device" json:"deviceId"`

	Name         string         `json:"name"`
	Type         string         `json:"type"` // thermal | laser | inkjet
	Capabilities datatypes.JSON `json:"capabilities,omitempty"`

	Status          PrinterStatus `gorm:"default:'offline';index" json:"status"`
	LastSeenAt      time.Time     `gorm:"index" json:"lastSeenAt"`
	CurrentJobCount int           `gorm:"default:0" json:"currentJobCount"`

	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for Printer model
func (Printer) TableName() string {
	return "printers"
}

// SeenWithin reports whether the printer reported a heartbeat inside the
// given window. The dispatch eligibility window (2m) and the display window
// (5m) are intentionally different; callers pass the one they need.
func (p *Printer) SeenWithin(window time.Duration) bool {
	return time.Since(p.LastSeenAt) <= window
}
