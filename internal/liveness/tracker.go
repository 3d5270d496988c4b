package liveness

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/shopflow/printbridge/internal/models"
)

// Tracker records printer heartbeats and downgrades printers that stop
// reporting. Heartbeats arrive over the agent websocket; the sweep runs in
// the background.
type Tracker struct {
	db *gorm.DB

	// offlineAfter is how long a printer may stay silent before the sweep
	// marks it offline. Dispatch uses its own, tighter window.
	offlineAfter time.Duration
}

func NewTracker(db *gorm.DB, offlineAfter time.Duration) *Tracker {
	if offlineAfter <= 0 {
		offlineAfter = 2 * time.Minute
	}
	return &Tracker{db: db, offlineAfter: offlineAfter}
}

// Heartbeat records that a printer agent is alive right now. Last write
// wins; concurrent heartbeats for one printer are harmless.
func (t *Tracker) Heartbeat(ctx context.Context, printerID uint, jobCount int) error {
	now := time.Now().UTC()
	result := t.db.WithContext(ctx).Model(&models.Printer{}).
		Where("id = ?", printerID).
		Updates(map[string]interface{}{
			"status":            models.PrinterStatusOnline,
			"last_seen_at":      now,
			"current_job_count": jobCount,
			"updated_at":        now,
		})
	if result.Error != nil {
		return fmt.Errorf("liveness: heartbeat: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("liveness: printer %d not registered", printerID)
	}
	return nil
}

// MarkOffline downgrades one printer immediately, used when its websocket
// connection drops.
func (t *Tracker) MarkOffline(ctx context.Context, printerID uint) error {
	err := t.db.WithContext(ctx).Model(&models.Printer{}).
		Where("id = ?", printerID).
		Update("status", models.PrinterStatusOffline).Error
	if err != nil {
		return fmt.Errorf("liveness: mark offline: %w", err)
	}
	return nil
}

// Sweep marks every printer silent for longer than the offline window as
// offline. Returns how many printers were downgraded.
func (t *Tracker) Sweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-t.offlineAfter)
	result := t.db.WithContext(ctx).Model(&models.Printer{}).
		Where("status = ?", models.PrinterStatusOnline).
		Where("last_seen_at < ?", cutoff).
		Update("status", models.PrinterStatusOffline)
	if result.Error != nil {
		return 0, fmt.Errorf("liveness: sweep: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		log.Printf("📴 Liveness: marked %d silent printers offline", result.RowsAffected)
	}
	return result.RowsAffected, nil
}

// Run sweeps on the given interval until the context is cancelled
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.Sweep(ctx); err != nil {
				log.Printf("⚠️ Liveness sweep: %v", err)
			}
		}
	}
}
