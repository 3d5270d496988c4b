package ingest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shopflow/printbridge/internal/history"
	"github.com/shopflow/printbridge/internal/marketplace"
	"github.com/shopflow/printbridge/internal/models"
	"github.com/shopflow/printbridge/internal/queue"
)

func newTestAdapter(t *testing.T) (*Adapter, *queue.Store, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Shop{}, &models.Order{}, &models.PrintJob{}, &models.PrintHistoryEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := queue.NewStore(db, history.NewLogger(db), 3)
	return NewAdapter(db, store), store, db
}

func createShop(t *testing.T, db *gorm.DB, mutate func(*models.Shop)) *models.Shop {
	t.Helper()
	shop := models.Shop{
		UserID:         "u1",
		PlatformShopID: "shop-1",
		Name:           "Test Shop",
		Status:         models.ShopStatusActive,
	}
	if mutate != nil {
		mutate(&shop)
	}
	if err := db.Create(&shop).Error; err != nil {
		t.Fatalf("create shop: %v", err)
	}
	return &shop
}

func platformOrder(orderID, status string) marketplace.PlatformOrder {
	return marketplace.PlatformOrder{
		OrderID:     orderID,
		OrderNumber: "SO-" + orderID,
		OrderStatus: status,
		BuyerEmail:  "buyer@example.com",
		RecipientAddress: &marketplace.RecipientAddress{
			Name:         "Pat Doe",
			PhoneNumber:  "+1555000",
			AddressLine1: "1 Main St",
			City:         "Austin",
			Zipcode:      "78701",
			CountryCode:  "US",
		},
		OrderLines: []marketplace.OrderLine{
			{ProductID: "p1", ProductName: "Mug", Quantity: 2, Price: "19.98"},
		},
		Payment: &marketplace.Payment{TotalAmount: "19.98", Currency: "USD"},
	}
}

func TestUpsertOrderCreates(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	shop := createShop(t, a.db, nil)

	result, order, err := a.UpsertOrder(context.Background(), shop, platformOrder("ord-1", "AWAITING_SHIPMENT"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if result != ResultCreated {
		t.Errorf("result = %s, want created", result)
	}
	if order.Status != models.OrderStatusPending {
		t.Errorf("status = %s, want pending", order.Status)
	}
	if order.Priority != models.PriorityNormal {
		t.Errorf("priority = %s, want normal", order.Priority)
	}
	if order.CustomerName != "Pat Doe" {
		t.Errorf("customer = %q, want Pat Doe", order.CustomerName)
	}
	if order.OrderTotal.String() != "19.98" {
		t.Errorf("total = %s, want 19.98", order.OrderTotal)
	}
}

func TestUpsertOrderDeduplicates(t *testing.T) {
	a, _, db := newTestAdapter(t)
	shop := createShop(t, a.db, nil)
	po := platformOrder("ord-1", "AWAITING_SHIPMENT")
	ctx := context.Background()

	if _, _, err := a.UpsertOrder(ctx, shop, po); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	result, _, err := a.UpsertOrder(ctx, shop, po)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if result != ResultDuplicate {
		t.Errorf("result = %s, want duplicate", result)
	}

	var count int64
	if err := db.Model(&models.Order{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("order rows = %d, want 1", count)
	}
}

func TestUpsertOrderRefreshKeepsOperatorFields(t *testing.T) {
	a, _, db := newTestAdapter(t)
	shop := createShop(t, a.db, nil)
	ctx := context.Background()

	_, order, err := a.UpsertOrder(ctx, shop, platformOrder("ord-1", "AWAITING_SHIPMENT"))
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := db.Model(order).Update("notes", "fragile, double-box").Error; err != nil {
		t.Fatalf("set notes: %v", err)
	}

	result, _, err := a.UpsertOrder(ctx, shop, platformOrder("ord-1", "IN_TRANSIT"))
	if err != nil {
		t.Fatalf("refresh upsert: %v", err)
	}
	if result != ResultUpdated {
		t.Errorf("result = %s, want updated", result)
	}

	var got models.Order
	if err := db.First(&got, order.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.PlatformStatus != "IN_TRANSIT" {
		t.Errorf("platform status = %s, want IN_TRANSIT", got.PlatformStatus)
	}
	if got.Notes != "fragile, double-box" {
		t.Errorf("notes = %q, operator field must survive re-ingestion", got.Notes)
	}
}

func TestUpsertOrderLiveModeIsUrgent(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	shop := createShop(t, a.db, func(s *models.Shop) { s.LiveMode = true })

	_, order, err := a.UpsertOrder(context.Background(), shop, platformOrder("ord-1", "AWAITING_SHIPMENT"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if order.Priority != models.PriorityUrgent {
		t.Errorf("priority = %s, want urgent", order.Priority)
	}
}

func TestUpsertOrderAutoPrint(t *testing.T) {
	a, store, db := newTestAdapter(t)
	printerID := uint(1)
	shop := createShop(t, a.db, func(s *models.Shop) {
		s.AutoPrint = true
		s.DefaultPrinterID = &printerID
	})
	ctx := context.Background()

	_, order, err := a.UpsertOrder(ctx, shop, platformOrder("ord-1", "AWAITING_SHIPMENT"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if order.Status != models.OrderStatusQueued {
		t.Errorf("status = %s, want queued", order.Status)
	}

	jobs, err := store.ListPending(ctx, printerID, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	if jobs[0].OrderID == nil || *jobs[0].OrderID != order.ID {
		t.Errorf("job order = %v, want %d", jobs[0].OrderID, order.ID)
	}

	var got models.Order
	if err := db.First(&got, order.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != models.OrderStatusQueued {
		t.Errorf("stored status = %s, want queued", got.Status)
	}
}

func TestUpsertOrderPlatformCancellation(t *testing.T) {
	a, store, _ := newTestAdapter(t)
	printerID := uint(1)
	shop := createShop(t, a.db, func(s *models.Shop) {
		s.AutoPrint = true
		s.DefaultPrinterID = &printerID
	})
	ctx := context.Background()

	_, order, err := a.UpsertOrder(ctx, shop, platformOrder("ord-1", "AWAITING_SHIPMENT"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	result, got, err := a.UpsertOrder(ctx, shop, platformOrder("ord-1", "CANCELLED"))
	if err != nil {
		t.Fatalf("cancel upsert: %v", err)
	}
	if result != ResultUpdated {
		t.Errorf("result = %s, want updated", result)
	}
	if got.Status != models.OrderStatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}

	jobs, err := store.ListPending(ctx, printerID, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("queued jobs after cancellation = %d, want 0", len(jobs))
	}
	_ = order
}

func TestUpsertOrderValidation(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	shop := createShop(t, a.db, nil)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*marketplace.PlatformOrder)
	}{
		{"missing order id", func(po *marketplace.PlatformOrder) { po.OrderID = "" }},
		{"missing recipient", func(po *marketplace.PlatformOrder) { po.RecipientAddress = nil }},
		{"missing address line", func(po *marketplace.PlatformOrder) { po.RecipientAddress.AddressLine1 = "" }},
		{"no items", func(po *marketplace.PlatformOrder) { po.OrderLines = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			po := platformOrder("ord-1", "AWAITING_SHIPMENT")
			tc.mutate(&po)
			if _, _, err := a.UpsertOrder(ctx, shop, po); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
