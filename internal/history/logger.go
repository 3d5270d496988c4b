// Package history appends the immutable audit trail of print job lifecycle
// events. Appends are best-effort: queue state is authoritative, history is
// auxiliary, so an append failure is logged and never propagated.
package history

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/shopflow/printbridge/internal/models"
)

// Logger writes and reads print history events
type Logger struct {
	db *gorm.DB
}

// NewLogger creates a history logger
func NewLogger(db *gorm.DB) *Logger {
	return &Logger{db: db}
}

// Append records one lifecycle event for a job. Fire-and-forget: errors are
// logged, never returned, so history can never block a job transition.
func (l *Logger) Append(ctx context.Context, jobID uint, eventType models.HistoryEventType, from, to models.JobStatus, printerID *uint, detail map[string]interface{}) {
	event := models.PrintHistoryEvent{
		PrintJobID: jobID,
		EventType:  eventType,
		FromStatus: from,
		ToStatus:   to,
		PrinterID:  printerID,
	}

	if detail != nil {
		if raw, err := json.Marshal(detail); err == nil {
			event.Detail = datatypes.JSON(raw)
		}
	}

	if err := l.db.WithContext(ctx).Create(&event).Error; err != nil {
		log.Printf("⚠️ History: failed to append event for job %d: %v", jobID, err)
	}
}

// Timeline returns all events for one job, oldest first
func (l *Logger) Timeline(ctx context.Context, jobID uint) ([]models.PrintHistoryEvent, error) {
	var events []models.PrintHistoryEvent
	err := l.db.WithContext(ctx).
		Where("print_job_id = ?", jobID).
		Order("created_at ASC, id ASC").
		Find(&events).Error
	return events, err
}

// PrinterStats summarizes a printer's recent throughput and failure rate
type PrinterStats struct {
	PrinterID   uint    `json:"printerId"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	FailureRate float64 `json:"failureRate"`
}

// StatsForPrinter computes completion/failure counts for a printer over a
// trailing window
func (l *Logger) StatsForPrinter(ctx context.Context, printerID uint, since time.Time) (*PrinterStats, error) {
	stats := &PrinterStats{PrinterID: printerID}

	base := l.db.WithContext(ctx).Model(&models.PrintHistoryEvent{}).
		Where("printer_id = ? AND created_at >= ?", printerID, since)

	if err := base.Session(&gorm.Session{}).
		Where("event_type = ?", models.HistoryEventCompleted).
		Count(&stats.Completed).Error; err != nil {
		return nil, err
	}
	if err := base.Session(&gorm.Session{}).
		Where("event_type = ?", models.HistoryEventFailed).
		Count(&stats.Failed).Error; err != nil {
		return nil, err
	}

	if total := stats.Completed + stats.Failed; total > 0 {
		stats.FailureRate = float64(stats.Failed) / float64(total)
	}
	return stats, nil
}
