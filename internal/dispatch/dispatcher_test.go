package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shopflow/printbridge/internal/history"
	"github.com/shopflow/printbridge/internal/models"
	"github.com/shopflow/printbridge/internal/queue"
)

type fakeSender struct {
	mu   sync.Mutex
	sent map[uint][]PrintCommand
	ok   bool
}

func newFakeSender(ok bool) *fakeSender {
	return &fakeSender{sent: make(map[uint][]PrintCommand), ok: ok}
}

func (f *fakeSender) SendToPrinter(printerID uint, message interface{}) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cmd, isCmd := message.(PrintCommand); isCmd {
		f.sent[printerID] = append(f.sent[printerID], cmd)
	}
	return f.ok
}

func (f *fakeSender) sentTo(printerID uint) []PrintCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[printerID]
}

type fakeLiveness struct {
	mu      sync.Mutex
	offline []uint
}

func (f *fakeLiveness) MarkOffline(_ context.Context, printerID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = append(f.offline, printerID)
	return nil
}

func newTestDispatcher(t *testing.T, sender Sender) (*Dispatcher, *queue.Store, *gorm.DB, *fakeLiveness) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.PrintJob{}, &models.Order{}, &models.Printer{}, &models.PrintHistoryEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := queue.NewStore(db, history.NewLogger(db), 3)
	completion := queue.NewCompletion(store, 0)
	liveness := &fakeLiveness{}
	d := New(db, store, completion, sender, liveness, Config{
		Batch:    2,
		JobDelay: time.Millisecond,
		Window:   2 * time.Minute,
	})
	return d, store, db, liveness
}

func createPrinter(t *testing.T, db *gorm.DB, deviceID string, lastSeen time.Time) *models.Printer {
	t.Helper()
	p := models.Printer{
		UserID:     "u1",
		DeviceID:   deviceID,
		Status:     models.PrinterStatusOnline,
		LastSeenAt: lastSeen,
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("create printer: %v", err)
	}
	return &p
}

func enqueue(t *testing.T, s *queue.Store, printerID uint, priority models.Priority) *models.PrintJob {
	t.Helper()
	job, err := s.Enqueue(context.Background(), queue.JobSpec{
		UserID:    "u1",
		PrinterID: printerID,
		Priority:  priority,
		Payload:   map[string]interface{}{"label": "test"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return job
}

func TestSweepDispatchesToLivePrinter(t *testing.T) {
	sender := newFakeSender(true)
	d, store, db, _ := newTestDispatcher(t, sender)
	ctx := context.Background()

	printer := createPrinter(t, db, "dev-1", time.Now().UTC())
	job := enqueue(t, store, printer.ID, models.PriorityNormal)

	if err := d.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got := sender.sentTo(printer.ID)
	if len(got) != 1 {
		t.Fatalf("sent %d commands, want 1", len(got))
	}
	if got[0].JobID != job.ID {
		t.Errorf("sent job %d, want %d", got[0].JobID, job.ID)
	}
	if got[0].Type != "print_command" {
		t.Errorf("type = %s, want print_command", got[0].Type)
	}

	claimed, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if claimed.Status != models.JobStatusProcessing {
		t.Errorf("status = %s, want processing", claimed.Status)
	}
}

func TestSweepSkipsStalePrinter(t *testing.T) {
	sender := newFakeSender(true)
	d, store, db, liveness := newTestDispatcher(t, sender)
	ctx := context.Background()

	stale := createPrinter(t, db, "dev-stale", time.Now().UTC().Add(-10*time.Minute))
	job := enqueue(t, store, stale.ID, models.PriorityNormal)

	if err := d.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if len(sender.sentTo(stale.ID)) != 0 {
		t.Error("must not dispatch to a printer outside the liveness window")
	}
	if len(liveness.offline) != 1 || liveness.offline[0] != stale.ID {
		t.Errorf("offline = %v, want [%d]", liveness.offline, stale.ID)
	}

	// The job stays queued for when the printer comes back
	current, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.Status != models.JobStatusPending {
		t.Errorf("status = %s, want pending", current.Status)
	}
}

func TestSweepRespectsBatchLimit(t *testing.T) {
	sender := newFakeSender(true)
	d, store, db, _ := newTestDispatcher(t, sender)
	ctx := context.Background()

	printer := createPrinter(t, db, "dev-1", time.Now().UTC())
	for i := 0; i < 5; i++ {
		enqueue(t, store, printer.ID, models.PriorityNormal)
	}

	if err := d.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := len(sender.sentTo(printer.ID)); got != 2 {
		t.Errorf("sent %d commands, want batch of 2", got)
	}
}

func TestUnreachableAgentTriggersRetry(t *testing.T) {
	sender := newFakeSender(false)
	d, store, db, _ := newTestDispatcher(t, sender)
	ctx := context.Background()

	printer := createPrinter(t, db, "dev-1", time.Now().UTC())
	job := enqueue(t, store, printer.ID, models.PriorityNormal)

	if err := d.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	current, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.Status != models.JobStatusRetrying {
		t.Errorf("status = %s, want retrying", current.Status)
	}
	if current.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", current.RetryCount)
	}
}

func TestDispatchJobClaimConflict(t *testing.T) {
	sender := newFakeSender(true)
	d, store, _, _ := newTestDispatcher(t, sender)
	ctx := context.Background()

	job := enqueue(t, store, 1, models.PriorityNormal)

	// Another dispatcher claims the job between listing and claiming
	from := models.JobStatusPending
	if _, err := store.Transition(ctx, job.ID, &from, models.JobStatusProcessing, queue.TransitionUpdate{}); err != nil {
		t.Fatalf("pre-claim: %v", err)
	}

	// The stale snapshot still says pending
	if err := d.dispatchJob(ctx, *job); err != nil {
		t.Fatalf("dispatchJob: %v", err)
	}
	if len(sender.sentTo(1)) != 0 {
		t.Error("lost claim must not send a command")
	}
}

func TestSweepHonorsPriorityOrder(t *testing.T) {
	sender := newFakeSender(true)
	d, store, db, _ := newTestDispatcher(t, sender)
	ctx := context.Background()

	printer := createPrinter(t, db, "dev-1", time.Now().UTC())
	enqueue(t, store, printer.ID, models.PriorityNormal)
	urgent := enqueue(t, store, printer.ID, models.PriorityUrgent)

	if err := d.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got := sender.sentTo(printer.ID)
	if len(got) != 2 {
		t.Fatalf("sent %d commands, want 2", len(got))
	}
	if got[0].JobID != urgent.ID {
		t.Errorf("first dispatched job = %d, want urgent job %d", got[0].JobID, urgent.ID)
	}
}
