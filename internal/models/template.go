package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TemplateKind defines what kind of document a template renders
type TemplateKind string

const (
	TemplateKindShippingLabel TemplateKind = "shipping_label"
	TemplateKindPackingSlip   TemplateKind = "packing_slip"
)

// Template describes a printable document layout owned by a user
type Template struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UserID    string         `gorm:"type:uuid;not null;index" json:"userId"`
	Name      string         `gorm:"not null" json:"name"`
	Kind      TemplateKind   `gorm:"default:'shipping_label'" json:"kind"`
	Layout    datatypes.JSON `json:"layout,omitempty"`
	IsDefault bool           `gorm:"default:false" json:"isDefault"`

	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for Template model
func (Template) TableName() string {
	return "templates"
}
