package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ShopStatus defines the connection state of a marketplace shop
type ShopStatus string

const (
	ShopStatusActive       ShopStatus = "active"       // Tokens valid, polling enabled
	ShopStatusNeedsReauth  ShopStatus = "needs_reauth" // Token refresh failed, operator must reconnect
	ShopStatusDisconnected ShopStatus = "disconnected" // Explicitly disconnected by the operator
)

// Shop represents a connected marketplace shop account
type Shop struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         string     `gorm:"type:uuid;not null;index" json:"userId"`
	PlatformShopID string     `gorm:"uniqueIndex;not null" json:"platformShopId"`
	Name           string     `json:"name"`
	Region         string     `json:"region"`
	Status         ShopStatus `gorm:"default:'active';index" json:"status"`

	// Marketplace credentials, AES-GCM encrypted at rest (utils.Encrypt)
	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	TokenExpiresAt *time.Time `json:"tokenExpiresAt,omitempty"`

	// Print automation settings
	AutoPrint        bool  `gorm:"default:false" json:"autoPrint"`
	LiveMode         bool  `gorm:"default:false" json:"liveMode"`
	DefaultTemplate  *uint `json:"defaultTemplateId,omitempty"`
	DefaultPrinterID *uint `json:"defaultPrinterId,omitempty"`

	LastSyncAt *time.Time     `json:"lastSyncAt,omitempty"`
	Metadata   datatypes.JSON `json:"metadata,omitempty"`

	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	User *UserAuth `gorm:"foreignKey:UserID" json:"-"`
}

// TableName specifies the table name for Shop model
func (Shop) TableName() string {
	return "shops"
}
