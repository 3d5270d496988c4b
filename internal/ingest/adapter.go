package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/shopflow/printbridge/internal/marketplace"
	"github.com/shopflow/printbridge/internal/models"
	"github.com/shopflow/printbridge/internal/queue"
)

// Result classifies what an ingestion attempt did with an order
type Result string

const (
	ResultCreated   Result = "created"
	ResultUpdated   Result = "updated"
	ResultDuplicate Result = "duplicate"
)

// incomingOrder is the validation boundary for platform payloads. Orders
// failing it are rejected before touching the database.
type incomingOrder struct {
	OrderID       string `validate:"required"`
	OrderStatus   string `validate:"required"`
	RecipientName string `validate:"required"`
	AddressLine1  string `validate:"required"`
	ItemCount     int    `validate:"min=1"`
}

func incomingFrom(po marketplace.PlatformOrder) incomingOrder {
	in := incomingOrder{
		OrderID:     po.OrderID,
		OrderStatus: po.OrderStatus,
		ItemCount:   len(po.OrderLines),
	}
	if po.RecipientAddress != nil {
		in.RecipientName = po.RecipientAddress.Name
		in.AddressLine1 = po.RecipientAddress.AddressLine1
	}
	return in
}

// Adapter turns raw platform orders into local order rows. Both the webhook
// handler and the poller feed it; deduplication happens here so the two
// sources can overlap freely.
type Adapter struct {
	db       *gorm.DB
	store    *queue.Store
	validate *validator.Validate
}

func NewAdapter(db *gorm.DB, store *queue.Store) *Adapter {
	return &Adapter{
		db:       db,
		store:    store,
		validate: validator.New(),
	}
}

// UpsertOrder ingests one platform order for a shop. The same order may
// arrive many times (webhook retry, poll overlap); the first arrival creates
// the row, later arrivals refresh the platform-mirrored fields only and
// never touch operator-set fields.
func (a *Adapter) UpsertOrder(ctx context.Context, shop *models.Shop, po marketplace.PlatformOrder) (Result, *models.Order, error) {
	if err := a.validate.Struct(incomingFrom(po)); err != nil {
		return "", nil, fmt.Errorf("ingest: invalid platform order: %w", err)
	}

	var existing models.Order
	err := a.db.WithContext(ctx).
		Where("shop_id = ? AND platform_order_id = ?", shop.ID, po.OrderID).
		First(&existing).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return a.createOrder(ctx, shop, po)
	}
	if err != nil {
		return "", nil, fmt.Errorf("ingest: lookup order %s: %w", po.OrderID, err)
	}
	return a.refreshOrder(ctx, shop, &existing, po)
}

func (a *Adapter) createOrder(ctx context.Context, shop *models.Shop, po marketplace.PlatformOrder) (Result, *models.Order, error) {
	order := models.Order{
		ShopID:          shop.ID,
		PlatformOrderID: po.OrderID,
		OrderNumber:     po.OrderNumber,
		Status:          models.OrderStatusPending,
		Priority:        orderPriority(shop),
		PlatformStatus:  po.OrderStatus,
	}
	applyPlatformSnapshot(&order, po)

	if platformCancelled(po.OrderStatus) {
		order.Status = models.OrderStatusCancelled
		order.CancelReason = "cancelled on platform"
	}

	if err := a.db.WithContext(ctx).Create(&order).Error; err != nil {
		// A concurrent ingestion of the same order wins the unique index race
		var after models.Order
		lookupErr := a.db.WithContext(ctx).
			Where("shop_id = ? AND platform_order_id = ?", shop.ID, po.OrderID).
			First(&after).Error
		if lookupErr == nil {
			return ResultDuplicate, &after, nil
		}
		return "", nil, fmt.Errorf("ingest: create order %s: %w", po.OrderID, err)
	}
	log.Printf("📦 Order %s ingested for shop %s", po.OrderID, shop.PlatformShopID)

	if order.Status != models.OrderStatusCancelled {
		a.autoPrint(ctx, shop, &order)
	}
	return ResultCreated, &order, nil
}

// refreshOrder overwrites the platform mirror on an existing row. A payload
// identical to what is stored is reported as a duplicate and writes nothing.
func (a *Adapter) refreshOrder(ctx context.Context, shop *models.Shop, order *models.Order, po marketplace.PlatformOrder) (Result, *models.Order, error) {
	raw, err := json.Marshal(po)
	if err != nil {
		return "", nil, fmt.Errorf("ingest: marshal order %s: %w", po.OrderID, err)
	}
	if order.PlatformStatus == po.OrderStatus && bytes.Equal(order.PlatformData, raw) {
		return ResultDuplicate, order, nil
	}

	applyPlatformSnapshot(order, po)
	order.PlatformStatus = po.OrderStatus

	if platformCancelled(po.OrderStatus) && order.Status.CanTransitionTo(models.OrderStatusCancelled) {
		order.Status = models.OrderStatusCancelled
		order.CancelReason = "cancelled on platform"
		if n, err := a.store.CancelForOrder(ctx, order.ID); err != nil {
			log.Printf("⚠️ Ingest: cancel jobs for order %d: %v", order.ID, err)
		} else if n > 0 {
			log.Printf("🚫 Order %s cancelled on platform, dropped %d queued jobs", po.OrderID, n)
		}
	}

	cols := []string{"order_number", "customer_name", "customer_email", "customer_phone",
		"shipping_address", "items", "order_total", "currency",
		"platform_status", "platform_data", "status", "cancel_reason", "updated_at"}
	if err := a.db.WithContext(ctx).Model(order).Select(cols).Updates(order).Error; err != nil {
		return "", nil, fmt.Errorf("ingest: refresh order %s: %w", po.OrderID, err)
	}
	return ResultUpdated, order, nil
}

// autoPrint enqueues a print job for a freshly ingested order when the shop
// asks for it. Failure here never fails the ingestion.
func (a *Adapter) autoPrint(ctx context.Context, shop *models.Shop, order *models.Order) {
	if !shop.AutoPrint || shop.DefaultPrinterID == nil {
		return
	}

	payload := map[string]interface{}{
		"orderId":         order.ID,
		"platformOrderId": order.PlatformOrderID,
		"orderNumber":     order.OrderNumber,
		"customerName":    order.CustomerName,
		"shippingAddress": json.RawMessage(order.ShippingAddress),
		"items":           json.RawMessage(order.Items),
	}
	_, err := a.store.Enqueue(ctx, queue.JobSpec{
		OrderID:    &order.ID,
		UserID:     shop.UserID,
		ShopID:     &shop.ID,
		TemplateID: shop.DefaultTemplate,
		PrinterID:  *shop.DefaultPrinterID,
		Priority:   order.Priority,
		Payload:    payload,
	})
	if err != nil {
		log.Printf("⚠️ Ingest: auto-print for order %s: %v", order.PlatformOrderID, err)
		return
	}

	result := a.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", order.ID, models.OrderStatusPending).
		Update("status", models.OrderStatusQueued)
	if result.Error != nil {
		log.Printf("⚠️ Ingest: mark order %d queued: %v", order.ID, result.Error)
		return
	}
	if result.RowsAffected > 0 {
		order.Status = models.OrderStatusQueued
	}
	log.Printf("🖨️ Auto-print queued for order %s", order.PlatformOrderID)
}

// applyPlatformSnapshot copies the platform payload onto the mirror fields
func applyPlatformSnapshot(order *models.Order, po marketplace.PlatformOrder) {
	order.OrderNumber = po.OrderNumber

	if addr := po.RecipientAddress; addr != nil {
		order.CustomerName = addr.Name
		order.CustomerPhone = addr.PhoneNumber
		if raw, err := json.Marshal(addr); err == nil {
			order.ShippingAddress = datatypes.JSON(raw)
		}
	}
	order.CustomerEmail = po.BuyerEmail

	if len(po.OrderLines) > 0 {
		if raw, err := json.Marshal(po.OrderLines); err == nil {
			order.Items = datatypes.JSON(raw)
		}
	}

	if po.Payment != nil {
		if total, err := decimal.NewFromString(po.Payment.TotalAmount); err == nil {
			order.OrderTotal = total
		}
		if po.Payment.Currency != "" {
			order.Currency = po.Payment.Currency
		}
	}

	if raw, err := json.Marshal(po); err == nil {
		order.PlatformData = datatypes.JSON(raw)
	}
}

// orderPriority maps shop mode to queue priority. Live-selling shops need
// their labels on the packing table before the stream moves on.
func orderPriority(shop *models.Shop) models.Priority {
	if shop.LiveMode {
		return models.PriorityUrgent
	}
	return models.PriorityNormal
}

func platformCancelled(platformStatus string) bool {
	return strings.EqualFold(platformStatus, "CANCELLED") || strings.EqualFold(platformStatus, "CANCEL")
}
