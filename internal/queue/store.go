// Package queue owns print job state. Every status mutation in the system
// goes through Store.Transition, whose compare-and-swap guard is the only
// synchronization point that prevents two dispatch sweeps (or two backend
// replicas) from double-sending the same physical print.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/shopflow/printbridge/internal/history"
	"github.com/shopflow/printbridge/internal/models"
)

var (
	// ErrConflict signals that a guarded transition lost the race: the job's
	// current status did not match the expected one. Expected under
	// concurrency; callers skip silently.
	ErrConflict = errors.New("queue: transition conflict")

	// ErrIllegalTransition signals a transition outside the closed table in
	// models. This is a programming error, not a race.
	ErrIllegalTransition = errors.New("queue: illegal transition")

	// ErrNotFound signals the job does not exist
	ErrNotFound = errors.New("queue: job not found")
)

// JobSpec describes a job to enqueue
type JobSpec struct {
	OrderID    *uint
	UserID     string
	ShopID     *uint
	TemplateID *uint
	PrinterID  uint
	Priority   models.Priority
	MaxRetries int
	Payload    map[string]interface{}
}

// Store is the durable print queue
type Store struct {
	db         *gorm.DB
	history    *history.Logger
	maxRetries int
}

// NewStore creates a queue store. maxRetries is the default retry budget for
// jobs whose spec does not set one.
func NewStore(db *gorm.DB, hist *history.Logger, maxRetries int) *Store {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Store{db: db, history: hist, maxRetries: maxRetries}
}

// DB exposes the underlying handle for read-only queries by other components
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Enqueue inserts a new pending job with a payload snapshot of its order
func (s *Store) Enqueue(ctx context.Context, spec JobSpec) (*models.PrintJob, error) {
	if spec.PrinterID == 0 {
		return nil, errors.New("queue: printer id is required")
	}
	if spec.Priority == "" {
		spec.Priority = models.PriorityNormal
	}
	if spec.MaxRetries <= 0 {
		spec.MaxRetries = s.maxRetries
	}

	job := models.PrintJob{
		OrderID:      spec.OrderID,
		UserID:       spec.UserID,
		ShopID:       spec.ShopID,
		TemplateID:   spec.TemplateID,
		PrinterID:    spec.PrinterID,
		Status:       models.JobStatusPending,
		Priority:     spec.Priority,
		PriorityRank: spec.Priority.Rank(),
		RetryCount:   0,
		MaxRetries:   spec.MaxRetries,
	}

	if spec.Payload != nil {
		raw, err := json.Marshal(spec.Payload)
		if err != nil {
			return nil, fmt.Errorf("queue: marshal payload: %w", err)
		}
		job.Payload = datatypes.JSON(raw)
	}

	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return nil, fmt.Errorf("queue: enqueue: %w", err)
	}

	s.history.Append(ctx, job.ID, models.HistoryEventCreated, "", models.JobStatusPending, &job.PrinterID, map[string]interface{}{
		"priority": job.Priority,
	})

	return &job, nil
}

// Get fetches one job
func (s *Store) Get(ctx context.Context, jobID uint) (*models.PrintJob, error) {
	var job models.PrintJob
	err := s.db.WithContext(ctx).First(&job, jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListPending returns the dispatchable jobs for a printer: status pending or
// retrying, past any retry backoff, ordered by priority band descending and
// FIFO within a band. This ordering is the scheduling policy.
func (s *Store) ListPending(ctx context.Context, printerID uint, limit int) ([]models.PrintJob, error) {
	if limit <= 0 {
		limit = 10
	}

	var jobs []models.PrintJob
	err := s.db.WithContext(ctx).
		Where("printer_id = ?", printerID).
		Where("status IN ?", []models.JobStatus{models.JobStatusPending, models.JobStatusRetrying}).
		Where("not_before IS NULL OR not_before <= ?", time.Now().UTC()).
		Order("priority_rank DESC, created_at ASC, id ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("queue: list pending: %w", err)
	}
	return jobs, nil
}

// TransitionUpdate carries optional column changes applied atomically with a
// status transition
type TransitionUpdate struct {
	ErrorMessage   *string
	RetryCount     *int
	NotBefore      *time.Time
	ClearNotBefore bool

	// Detail goes into the history event only, never into the job row. Lets
	// a retry clear the job's error_message while the audit trail still
	// records what went wrong.
	Detail string
}

// Transition atomically moves a job to a new status. When from is non-nil it
// acts as a compare-and-swap: the update only applies if the stored status
// still equals *from, and ErrConflict is returned otherwise. This is the
// concurrency guard for job claiming; see ListPending callers.
func (s *Store) Transition(ctx context.Context, jobID uint, from *models.JobStatus, to models.JobStatus, update TransitionUpdate) (*models.PrintJob, error) {
	if from != nil && !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, *from, to)
	}

	now := time.Now().UTC()
	columns := map[string]interface{}{
		"status":     to,
		"updated_at": now,
	}

	switch to {
	case models.JobStatusProcessing:
		columns["started_at"] = now
	case models.JobStatusCompleted:
		columns["completed_at"] = now
	case models.JobStatusFailed:
		columns["failed_at"] = now
	}

	if update.ErrorMessage != nil {
		columns["error_message"] = *update.ErrorMessage
	}
	if update.RetryCount != nil {
		columns["retry_count"] = *update.RetryCount
	}
	if update.NotBefore != nil {
		columns["not_before"] = *update.NotBefore
	} else if update.ClearNotBefore {
		columns["not_before"] = nil
	}

	query := s.db.WithContext(ctx).Model(&models.PrintJob{}).Where("id = ?", jobID)
	if from != nil {
		query = query.Where("status = ?", *from)
	} else {
		// Unguarded transitions still must not touch terminal jobs or make
		// illegal moves; restrict to states that may legally reach `to`.
		query = query.Where("status IN ?", legalSources(to))
	}

	result := query.Updates(columns)
	if result.Error != nil {
		return nil, fmt.Errorf("queue: transition: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Distinguish a missing job from a lost race
		var count int64
		s.db.WithContext(ctx).Model(&models.PrintJob{}).Where("id = ?", jobID).Count(&count)
		if count == 0 {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	fromStatus := models.JobStatus("")
	if from != nil {
		fromStatus = *from
	}
	s.history.Append(ctx, job.ID, historyEventFor(to), fromStatus, to, &job.PrinterID, historyDetail(job, update))

	return job, nil
}

// legalSources returns the states from which `to` is reachable
func legalSources(to models.JobStatus) []models.JobStatus {
	var sources []models.JobStatus
	for _, from := range []models.JobStatus{
		models.JobStatusPending,
		models.JobStatusProcessing,
		models.JobStatusRetrying,
	} {
		if from.CanTransitionTo(to) {
			sources = append(sources, from)
		}
	}
	return sources
}

func historyEventFor(to models.JobStatus) models.HistoryEventType {
	switch to {
	case models.JobStatusCompleted:
		return models.HistoryEventCompleted
	case models.JobStatusFailed:
		return models.HistoryEventFailed
	default:
		return models.HistoryEventStatusChanged
	}
}

func historyDetail(job *models.PrintJob, update TransitionUpdate) map[string]interface{} {
	detail := map[string]interface{}{
		"retryCount": job.RetryCount,
	}
	switch {
	case update.Detail != "":
		detail["error"] = update.Detail
	case update.ErrorMessage != nil && *update.ErrorMessage != "":
		detail["error"] = *update.ErrorMessage
	}
	return detail
}

// CancelForOrder cancels all still-queued jobs of an order. Jobs already
// processing are left alone: there is no cancel-in-flight protocol, they run
// to completion or are caught by the stale sweep.
func (s *Store) CancelForOrder(ctx context.Context, orderID uint) (int, error) {
	var jobs []models.PrintJob
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Where("status IN ?", []models.JobStatus{models.JobStatusPending, models.JobStatusRetrying}).
		Find(&jobs).Error
	if err != nil {
		return 0, fmt.Errorf("queue: cancel for order: %w", err)
	}

	cancelled := 0
	for _, job := range jobs {
		from := job.Status
		if _, err := s.Transition(ctx, job.ID, &from, models.JobStatusCancelled, TransitionUpdate{}); err != nil {
			if errors.Is(err, ErrConflict) {
				continue // claimed by a dispatcher in the meantime
			}
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}

// ListStaleProcessing returns jobs stuck in processing since before cutoff
func (s *Store) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]models.PrintJob, error) {
	var jobs []models.PrintJob
	err := s.db.WithContext(ctx).
		Where("status = ?", models.JobStatusProcessing).
		Where("started_at IS NOT NULL AND started_at < ?", cutoff).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("queue: list stale: %w", err)
	}
	return jobs, nil
}

// CountPendingForPrinter reports how many undispatched jobs a printer has.
// Used to refuse printer deletion while work is queued.
func (s *Store) CountPendingForPrinter(ctx context.Context, printerID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.PrintJob{}).
		Where("printer_id = ?", printerID).
		Where("status IN ?", []models.JobStatus{models.JobStatusPending, models.JobStatusRetrying, models.JobStatusProcessing}).
		Count(&count).Error
	return count, err
}

// CleanupTerminal deletes terminal jobs older than the retention cutoff
func (s *Store) CleanupTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("status IN ?", []models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled}).
		Where("created_at < ?", olderThan).
		Delete(&models.PrintJob{})
	if result.Error != nil {
		return 0, fmt.Errorf("queue: cleanup: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		log.Printf("🧹 Queue: removed %d terminal jobs older than %s", result.RowsAffected, olderThan.Format(time.RFC3339))
	}
	return result.RowsAffected, nil
}

// StatusCounts returns job counts per status for one user
func (s *Store) StatusCounts(ctx context.Context, userID string) (map[models.JobStatus]int64, error) {
	type row struct {
		Status models.JobStatus
		N      int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&models.PrintJob{}).
		Select("status, count(*) as n").
		Where("user_id = ?", userID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[models.JobStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}
