package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OrderStatus defines possible order statuses
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"   // Ingested, not yet queued for print
	OrderStatusQueued    OrderStatus = "queued"    // At least one print job enqueued
	OrderStatusPrinted   OrderStatus = "printed"   // Shipping document printed
	OrderStatusShipped   OrderStatus = "shipped"   // Handed to the carrier
	OrderStatusCancelled OrderStatus = "cancelled" // Cancelled by operator or platform
)

// orderStatusRank orders the forward-only lifecycle. Cancellation is the
// single allowed sideways move and is handled separately.
var orderStatusRank = map[OrderStatus]int{
	OrderStatusPending: 0,
	OrderStatusQueued:  1,
	OrderStatusPrinted: 2,
	OrderStatusShipped: 3,
}

// CanTransitionTo reports whether an order may move from s to target.
// Orders only move forward; cancellation is allowed from any non-terminal
// state; terminal states (shipped, cancelled) never change again.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	if s == OrderStatusCancelled || s == OrderStatusShipped {
		return false
	}
	if target == OrderStatusCancelled {
		return true
	}
	from, okFrom := orderStatusRank[s]
	to, okTo := orderStatusRank[target]
	return okFrom && okTo && to > from
}

// Priority classifies how urgently an order or job should be handled
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank returns the numeric weight used for queue ordering. Unknown values
// rank as normal so a bad row never jumps the queue.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	default:
		return 1
	}
}

// Order represents a marketplace sale tracked for fulfillment and printing
type Order struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	ShopID          uint   `gorm:"not null;index;uniqueIndex:idx_shop_platform_order" json:"shopId"`
	PlatformOrderID string `gorm:"not null;uniqueIndex:idx_shop_platform_order" json:"platformOrderId"`
	OrderNumber     string `gorm:"index" json:"orderNumber"`

	Status   OrderStatus `gorm:"default:'pending';index" json:"status"`
	Priority Priority    `gorm:"default:'normal';index" json:"priority"`

	// Customer and shipping snapshot taken at ingestion time
	CustomerName    string         `json:"customerName"`
	CustomerEmail   string         `json:"customerEmail"`
	CustomerPhone   string         `json:"customerPhone"`
	ShippingAddress datatypes.JSON `json:"shippingAddress"`
	Items           datatypes.JSON `json:"items"`

	OrderTotal decimal.Decimal `gorm:"type:numeric(14,2)" json:"orderTotal"`
	Currency   string          `gorm:"default:'USD'" json:"currency"`

	// Platform-mirrored fields, overwritten on every re-ingestion
	PlatformStatus string         `json:"platformStatus"`
	PlatformData   datatypes.JSON `json:"platformData"`

	// Operator-set fields, never touched by ingestion
	Notes        string `gorm:"type:text" json:"notes"`
	CancelReason string `json:"cancelReason,omitempty"`

	PrintedAt *time.Time     `json:"printedAt,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Shop *Shop `gorm:"foreignKey:ShopID" json:"-"`
}

// TableName specifies the table name for Order model
func (Order) TableName() string {
	return "orders"
}
