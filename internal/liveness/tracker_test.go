package liveness

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shopflow/printbridge/internal/models"
)

func newTestTracker(t *testing.T) (*Tracker, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Printer{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewTracker(db, 2*time.Minute), db
}

func createPrinter(t *testing.T, db *gorm.DB, deviceID string, status models.PrinterStatus, lastSeen time.Time) *models.Printer {
	t.Helper()
	p := models.Printer{
		UserID:     "u1",
		DeviceID:   deviceID,
		Name:       "desk " + deviceID,
		Status:     status,
		LastSeenAt: lastSeen,
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("create printer: %v", err)
	}
	return &p
}

func TestHeartbeatBringsPrinterOnline(t *testing.T) {
	tr, db := newTestTracker(t)
	p := createPrinter(t, db, "dev-1", models.PrinterStatusOffline, time.Now().UTC().Add(-time.Hour))

	if err := tr.Heartbeat(context.Background(), p.ID, 2); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	var got models.Printer
	if err := db.First(&got, p.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != models.PrinterStatusOnline {
		t.Errorf("status = %s, want online", got.Status)
	}
	if got.CurrentJobCount != 2 {
		t.Errorf("job count = %d, want 2", got.CurrentJobCount)
	}
	if !got.SeenWithin(time.Minute) {
		t.Errorf("last_seen_at not refreshed: %v", got.LastSeenAt)
	}
}

func TestHeartbeatUnknownPrinter(t *testing.T) {
	tr, _ := newTestTracker(t)
	if err := tr.Heartbeat(context.Background(), 9999, 0); err == nil {
		t.Fatal("expected error for unregistered printer")
	}
}

func TestSweepMarksSilentPrintersOffline(t *testing.T) {
	tr, db := newTestTracker(t)
	now := time.Now().UTC()

	silent := createPrinter(t, db, "dev-silent", models.PrinterStatusOnline, now.Add(-5*time.Minute))
	fresh := createPrinter(t, db, "dev-fresh", models.PrinterStatusOnline, now.Add(-30*time.Second))
	alreadyOff := createPrinter(t, db, "dev-off", models.PrinterStatusOffline, now.Add(-time.Hour))

	downgraded, err := tr.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if downgraded != 1 {
		t.Errorf("downgraded = %d, want 1", downgraded)
	}

	cases := []struct {
		name string
		id   uint
		want models.PrinterStatus
	}{
		{"silent goes offline", silent.ID, models.PrinterStatusOffline},
		{"fresh stays online", fresh.ID, models.PrinterStatusOnline},
		{"offline stays offline", alreadyOff.ID, models.PrinterStatusOffline},
	}
	for _, tc := range cases {
		var got models.Printer
		if err := db.First(&got, tc.id).Error; err != nil {
			t.Fatalf("%s: reload: %v", tc.name, err)
		}
		if got.Status != tc.want {
			t.Errorf("%s: status = %s, want %s", tc.name, got.Status, tc.want)
		}
	}
}

func TestMarkOffline(t *testing.T) {
	tr, db := newTestTracker(t)
	p := createPrinter(t, db, "dev-2", models.PrinterStatusOnline, time.Now().UTC())

	if err := tr.MarkOffline(context.Background(), p.ID); err != nil {
		t.Fatalf("mark offline: %v", err)
	}

	var got models.Printer
	if err := db.First(&got, p.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != models.PrinterStatusOffline {
		t.Errorf("status = %s, want offline", got.Status)
	}
}
