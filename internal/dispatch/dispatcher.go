package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/shopflow/printbridge/internal/models"
	"github.com/shopflow/printbridge/internal/queue"
)

// Sender pushes a message toward one printer agent. The hub implements it;
// tests substitute their own.
type Sender interface {
	SendToPrinter(printerID uint, message interface{}) bool
}

// Liveness lets the dispatcher downgrade printers it finds silent
type Liveness interface {
	MarkOffline(ctx context.Context, printerID uint) error
}

// PrintCommand is the message pushed to an agent for one job
type PrintCommand struct {
	Type       string          `json:"type"`
	JobID      uint            `json:"jobId"`
	TemplateID *uint           `json:"templateId,omitempty"`
	Priority   models.Priority `json:"priority"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Config holds the dispatch sweep tunables
type Config struct {
	// Batch is the most jobs pushed to one printer per sweep
	Batch int

	// JobDelay paces consecutive pushes to the same printer
	JobDelay time.Duration

	// Window is how recently a printer must have been seen to receive work
	Window time.Duration
}

// Dispatcher periodically drains eligible queued jobs to connected printer
// agents. Claims go through the queue's guarded transition, so several
// dispatcher instances can sweep the same database without double-sending.
type Dispatcher struct {
	db         *gorm.DB
	store      *queue.Store
	completion *queue.Completion
	sender     Sender
	liveness   Liveness
	cfg        Config

	mu       sync.Mutex
	limiters map[uint]*rate.Limiter
}

func New(db *gorm.DB, store *queue.Store, completion *queue.Completion, sender Sender, liveness Liveness, cfg Config) *Dispatcher {
	if cfg.Batch <= 0 {
		cfg.Batch = 5
	}
	if cfg.JobDelay <= 0 {
		cfg.JobDelay = time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = 2 * time.Minute
	}
	return &Dispatcher{
		db:         db,
		store:      store,
		completion: completion,
		sender:     sender,
		liveness:   liveness,
		cfg:        cfg,
		limiters:   make(map[uint]*rate.Limiter),
	}
}

// limiter returns the per-printer pacing limiter, creating it on first use
func (d *Dispatcher) limiter(printerID uint) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[printerID]
	if !ok {
		l = rate.NewLimiter(rate.Every(d.cfg.JobDelay), 1)
		d.limiters[printerID] = l
	}
	return l
}

// Sweep runs one dispatch pass: find printers with dispatchable jobs, skip
// the ones outside the liveness window, and drain a batch to each of the
// rest concurrently. Per-printer failures do not abort the sweep.
func (d *Dispatcher) Sweep(ctx context.Context) error {
	printerIDs, err := d.candidatePrinters(ctx)
	if err != nil {
		return err
	}
	if len(printerIDs) == 0 {
		return nil
	}

	var printers []models.Printer
	if err := d.db.WithContext(ctx).Where("id IN ?", printerIDs).Find(&printers).Error; err != nil {
		return fmt.Errorf("dispatch: load printers: %w", err)
	}

	p := pool.New().WithContext(ctx).WithMaxGoroutines(4)
	for _, printer := range printers {
		printer := printer
		if !printer.SeenWithin(d.cfg.Window) {
			if printer.Status == models.PrinterStatusOnline {
				if err := d.liveness.MarkOffline(ctx, printer.ID); err != nil {
					log.Printf("⚠️ Dispatch: mark printer %d offline: %v", printer.ID, err)
				}
			}
			continue
		}
		p.Go(func(ctx context.Context) error {
			if err := d.dispatchPrinter(ctx, printer.ID); err != nil {
				log.Printf("⚠️ Dispatch: printer %d: %v", printer.ID, err)
			}
			return nil
		})
	}
	return p.Wait()
}

// candidatePrinters lists printers that currently have dispatchable jobs
func (d *Dispatcher) candidatePrinters(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := d.db.WithContext(ctx).Model(&models.PrintJob{}).
		Distinct("printer_id").
		Where("status IN ?", []models.JobStatus{models.JobStatusPending, models.JobStatusRetrying}).
		Where("not_before IS NULL OR not_before <= ?", time.Now().UTC()).
		Pluck("printer_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("dispatch: candidate printers: %w", err)
	}
	return ids, nil
}

// dispatchPrinter drains one batch to one printer
func (d *Dispatcher) dispatchPrinter(ctx context.Context, printerID uint) error {
	jobs, err := d.store.ListPending(ctx, printerID, d.cfg.Batch)
	if err != nil {
		return err
	}

	lim := d.limiter(printerID)
	for _, job := range jobs {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		if err := d.dispatchJob(ctx, job); err != nil {
			log.Printf("⚠️ Dispatch: job %d: %v", job.ID, err)
		}
	}
	return nil
}

// dispatchJob claims one job and pushes it. A claim conflict means another
// dispatcher got there first; that is not an error.
func (d *Dispatcher) dispatchJob(ctx context.Context, job models.PrintJob) error {
	from := job.Status
	claimed, err := d.store.Transition(ctx, job.ID, &from, models.JobStatusProcessing, queue.TransitionUpdate{})
	if err != nil {
		if errors.Is(err, queue.ErrConflict) {
			return nil
		}
		return err
	}

	cmd := PrintCommand{
		Type:       "print_command",
		JobID:      claimed.ID,
		TemplateID: claimed.TemplateID,
		Priority:   claimed.Priority,
		Payload:    json.RawMessage(claimed.Payload),
	}
	if d.sender.SendToPrinter(claimed.PrinterID, cmd) {
		log.Printf("📤 Dispatched job %d to printer %d", claimed.ID, claimed.PrinterID)
		return nil
	}

	// Agent unreachable: hand the job to the retry policy
	if _, err := d.completion.Fail(ctx, claimed.ID, "printer unreachable"); err != nil {
		return fmt.Errorf("fail unreachable job: %w", err)
	}
	return nil
}

// Run sweeps on the given interval until the context is cancelled
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Sweep(ctx); err != nil {
				log.Printf("⚠️ Dispatch sweep: %v", err)
			}
		}
	}
}
