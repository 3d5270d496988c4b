package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/shopflow/printbridge/internal/models"
)

// StaleTimeoutMessage is recorded on jobs force-failed by the stale sweep
const StaleTimeoutMessage = "timed out - no response from printer"

// Completion applies job results reported by printer agents and recovers
// jobs whose agent disappeared mid-print.
type Completion struct {
	store *Store
	db    *gorm.DB

	// retryBackoff delays a retrying job's next dispatch eligibility.
	// Current policy is immediate (zero); the knob exists so a delay can be
	// introduced without touching the state machine.
	retryBackoff time.Duration
}

// NewCompletion creates a completion handler
func NewCompletion(store *Store, retryBackoff time.Duration) *Completion {
	return &Completion{store: store, db: store.DB(), retryBackoff: retryBackoff}
}

// Complete applies a success/failure callback for a job. Callbacks may
// arrive out of order or twice; a callback for a job that is no longer
// processing returns ErrConflict and changes nothing.
func (c *Completion) Complete(ctx context.Context, jobID uint, success bool, errDetail string) (*models.PrintJob, error) {
	if success {
		return c.succeed(ctx, jobID)
	}
	return c.Fail(ctx, jobID, errDetail)
}

func (c *Completion) succeed(ctx context.Context, jobID uint) (*models.PrintJob, error) {
	from := models.JobStatusProcessing
	job, err := c.store.Transition(ctx, jobID, &from, models.JobStatusCompleted, TransitionUpdate{})
	if err != nil {
		return nil, err
	}

	if job.OrderID != nil {
		if err := c.markOrderPrinted(ctx, *job.OrderID); err != nil {
			// Order bookkeeping is secondary to queue state
			log.Printf("⚠️ Completion: job %d done but order %d not updated: %v", job.ID, *job.OrderID, err)
		}
	}
	return job, nil
}

// Fail applies the retry policy to a failing processing job: re-queue as
// retrying while budget remains, terminal failure once it is spent.
func (c *Completion) Fail(ctx context.Context, jobID uint, errDetail string) (*models.PrintJob, error) {
	job, err := c.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusProcessing {
		return nil, ErrConflict
	}

	from := models.JobStatusProcessing

	if job.RetryCount < job.MaxRetries {
		nextCount := job.RetryCount + 1
		cleared := ""
		update := TransitionUpdate{
			RetryCount:     &nextCount,
			ErrorMessage:   &cleared,
			ClearNotBefore: true,
			Detail:         errDetail,
		}
		if c.retryBackoff > 0 {
			eligible := time.Now().UTC().Add(c.retryBackoff)
			update.NotBefore = &eligible
			update.ClearNotBefore = false
		}

		retried, err := c.store.Transition(ctx, jobID, &from, models.JobStatusRetrying, update)
		if err != nil {
			return nil, err
		}
		log.Printf("🔁 Job %d queued for retry (attempt %d/%d): %s", jobID, nextCount, job.MaxRetries, errDetail)
		return retried, nil
	}

	failed, err := c.store.Transition(ctx, jobID, &from, models.JobStatusFailed, TransitionUpdate{
		ErrorMessage: &errDetail,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("❌ Job %d failed permanently after %d retries: %s", jobID, job.RetryCount, errDetail)
	return failed, nil
}

// markOrderPrinted advances the order to printed exactly once. A second
// completed job for the same order is a no-op for the order.
func (c *Completion) markOrderPrinted(ctx context.Context, orderID uint) error {
	now := time.Now().UTC()
	result := c.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", orderID).
		Where("status IN ?", []models.OrderStatus{models.OrderStatusPending, models.OrderStatusQueued}).
		Updates(map[string]interface{}{
			"status":     models.OrderStatusPrinted,
			"printed_at": now,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	// RowsAffected == 0 means the order was already printed or cancelled
	return nil
}

// SweepStale force-fails jobs stuck in processing since before the stale
// threshold, then applies the ordinary retry policy to each. Returns the
// jobs it touched. Per-job errors are logged and do not abort the sweep.
func (c *Completion) SweepStale(ctx context.Context, staleAfter time.Duration) ([]models.PrintJob, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	stale, err := c.store.ListStaleProcessing(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	if len(stale) == 0 {
		return nil, nil
	}
	log.Printf("⚠️ Stale sweep: found %d jobs stuck in processing", len(stale))

	var swept []models.PrintJob
	for _, job := range stale {
		failed, err := c.Fail(ctx, job.ID, StaleTimeoutMessage)
		if err != nil {
			if errors.Is(err, ErrConflict) {
				continue // completed between listing and failing; fine
			}
			log.Printf("⚠️ Stale sweep: job %d: %v", job.ID, err)
			continue
		}
		swept = append(swept, *failed)
	}
	return swept, nil
}

// Reprint clones a terminally failed job into a fresh pending job at an
// operator's request. The failed job stays terminal (terminal states are
// never transitioned again), so the audit trail of the failure is kept.
func (c *Completion) Reprint(ctx context.Context, jobID uint) (*models.PrintJob, error) {
	job, err := c.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusFailed {
		return nil, fmt.Errorf("queue: only failed jobs can be reprinted (job %d is %s)", jobID, job.Status)
	}

	spec := JobSpec{
		OrderID:    job.OrderID,
		UserID:     job.UserID,
		ShopID:     job.ShopID,
		TemplateID: job.TemplateID,
		PrinterID:  job.PrinterID,
		Priority:   job.Priority,
		MaxRetries: job.MaxRetries,
	}

	fresh, err := c.store.Enqueue(ctx, spec)
	if err != nil {
		return nil, err
	}
	// Carry the payload snapshot over verbatim
	if len(job.Payload) > 0 {
		if err := c.db.WithContext(ctx).Model(&models.PrintJob{}).
			Where("id = ?", fresh.ID).
			Update("payload", job.Payload).Error; err != nil {
			return nil, err
		}
		fresh.Payload = job.Payload
	}
	return fresh, nil
}
