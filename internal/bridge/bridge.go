// Package bridge keeps the fast ledger eventually consistent with the
// authoritative ledger.
//
// Two independent periodic activities share the work queue and the sync
// cursor and nothing else: the poll cycle ingests L1 change events into
// normalized sync tasks, and the apply cycle drains tasks into batched L2
// writes with a bounded retry budget. A slow apply never delays the next
// poll tick, and vice versa.
//
// Delivery is at-least-once: the startup safety window and the retry path
// both reprocess, so applying the same task twice must converge to the same
// L2 state. Last-write-wins per record type at the fast ledger provides
// that.
package bridge

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/namesync/namesync/internal/content"
	"github.com/namesync/namesync/internal/event"
	"github.com/namesync/namesync/internal/ledger"
	"github.com/namesync/namesync/internal/queue"
	"github.com/namesync/namesync/internal/store"
)

// Config holds bridge tuning.
type Config struct {
	// PollInterval is how often the poll cycle checks L1 for new events.
	PollInterval time.Duration

	// ApplyInterval is how often the apply cycle drains one task.
	ApplyInterval time.Duration

	// SafetyWindow is how far behind the derived start height sits, so
	// events missed during downtime get reprocessed instead of lost.
	SafetyWindow uint64

	// MaxRetries is how many times a failing task is re-enqueued before
	// being abandoned.
	MaxRetries int

	// DefaultTTL fills in record TTLs the content source left unset.
	DefaultTTL uint32

	// Logger for bridge activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:  30 * time.Second,
		ApplyInterval: 5 * time.Second,
		SafetyWindow:  10_000,
		MaxRetries:    3,
		DefaultTTL:    3600,
		Logger:        log.New(os.Stderr, "[bridge] ", log.LstdFlags),
	}
}

// Stats is a point-in-time snapshot of bridge counters.
type Stats struct {
	Cursor          uint64 `json:"cursor"`
	QueueDepth      int    `json:"queue_depth"`
	Polls           uint64 `json:"polls"`
	PollErrors      uint64 `json:"poll_errors"`
	TasksEnqueued   uint64 `json:"tasks_enqueued"`
	TasksApplied    uint64 `json:"tasks_applied"`
	ApplyErrors     uint64 `json:"apply_errors"`
	Retries         uint64 `json:"retries"`
	Abandoned       uint64 `json:"abandoned"`
	RetrievalErrors uint64 `json:"retrieval_errors"`
}

// Bridge synchronizes L1 change events into the fast ledger.
type Bridge struct {
	cfg     *Config
	l1      ledger.L1Client
	l2      ledger.L2Client
	content *content.Resolver
	tasks   *queue.Queue
	journal *store.Store // optional
	sink    event.Sink   // optional

	cursorMu sync.Mutex
	cursor   uint64

	polls         atomic.Uint64
	pollErrors    atomic.Uint64
	tasksEnqueued atomic.Uint64
	tasksApplied  atomic.Uint64
	applyErrors   atomic.Uint64
	retries       atomic.Uint64
	abandoned     atomic.Uint64

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
}

// New creates a bridge. journal and sink may be nil; everything else is
// required.
func New(l1 ledger.L1Client, l2 ledger.L2Client, cr *content.Resolver, tasks *queue.Queue, journal *store.Store, sink event.Sink, cfg *Config) (*Bridge, error) {
	if l1 == nil {
		return nil, fmt.Errorf("l1 client cannot be nil")
	}
	if l2 == nil {
		return nil, fmt.Errorf("l2 client cannot be nil")
	}
	if cr == nil {
		return nil, fmt.Errorf("content resolver cannot be nil")
	}
	if tasks == nil {
		return nil, fmt.Errorf("task queue cannot be nil")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[bridge] ", log.LstdFlags)
	}
	return &Bridge{
		cfg:     cfg,
		l1:      l1,
		l2:      l2,
		content: cr,
		tasks:   tasks,
		journal: journal,
		sink:    sink,
	}, nil
}

// Start derives the cursor and launches the poll and apply loops.
// It returns once both loops are running; use Stop to halt them.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.InitCursor(ctx); err != nil {
		return fmt.Errorf("failed to derive start cursor: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.started.Store(true)

	b.wg.Add(2)
	go b.pollLoop(loopCtx)
	go b.applyLoop(loopCtx)

	b.cfg.Logger.Printf("Started: cursor=%d poll=%s apply=%s window=%d",
		b.Cursor(), b.cfg.PollInterval, b.cfg.ApplyInterval, b.cfg.SafetyWindow)
	return nil
}

// Stop halts both periodic activities and reports whether the bridge was
// running. Already-queued tasks stay in the queue; nothing dequeued is in
// flight once Stop returns.
func (b *Bridge) Stop() bool {
	if !b.started.CompareAndSwap(true, false) {
		return false
	}
	b.cancel()
	b.wg.Wait()
	b.cfg.Logger.Println("Stopped")
	return true
}

// InitCursor derives the starting cursor: the journaled height when one
// exists, otherwise the current L1 height, in both cases pulled back by the
// safety window. The persisted value is a hint, never trusted as exact,
// because events may have been missed while the process was down.
func (b *Bridge) InitCursor(ctx context.Context) error {
	if b.journal != nil {
		if h, ok, err := b.journal.LoadCursor(ctx); err != nil {
			b.cfg.Logger.Printf("WARNING: failed to load journaled cursor: %v", err)
		} else if ok {
			b.setCursor(sub(h, b.cfg.SafetyWindow))
			b.cfg.Logger.Printf("Resuming from journaled height %d (rewound to %d)", h, b.Cursor())
			return nil
		}
	}

	h, err := b.l1.CurrentHeight(ctx)
	if err != nil {
		return err
	}
	b.setCursor(sub(h, b.cfg.SafetyWindow))
	return nil
}

// Cursor returns the highest fully processed L1 height.
func (b *Bridge) Cursor() uint64 {
	b.cursorMu.Lock()
	defer b.cursorMu.Unlock()
	return b.cursor
}

func (b *Bridge) setCursor(h uint64) {
	b.cursorMu.Lock()
	defer b.cursorMu.Unlock()
	b.cursor = h
}

func (b *Bridge) pollLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.PollOnce(ctx); err != nil {
				b.pollErrors.Add(1)
				b.cfg.Logger.Printf("Poll cycle failed (will retry next tick): %v", err)
			}
		}
	}
}

func (b *Bridge) applyLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.ApplyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// One task per tick bounds the L2 write rate and gives
			// natural backpressure.
			b.ApplyOnce(ctx)
		}
	}
}

// PollOnce runs one poll cycle: query both event classes over
// (cursor, H], enqueue the resulting tasks, then advance the cursor.
//
// The cursor only advances after every query has succeeded; any partial
// failure leaves it untouched so the whole cycle is retryable on the next
// tick. Re-enqueueing duplicates on such a retry is safe because apply is
// idempotent.
func (b *Bridge) PollOnce(ctx context.Context) error {
	b.polls.Add(1)

	h, err := b.l1.CurrentHeight(ctx)
	if err != nil {
		return fmt.Errorf("current height: %w", err)
	}

	from := b.Cursor()
	if h <= from {
		return nil
	}

	updates, err := b.l1.UpdateEvents(ctx, from, h)
	if err != nil {
		return fmt.Errorf("update events (%d, %d]: %w", from, h, err)
	}

	registers, err := b.l1.RegisterEvents(ctx, from, h)
	if err != nil {
		return fmt.Errorf("register events (%d, %d]: %w", from, h, err)
	}

	// Build all tasks before enqueueing any, so the point reads below can
	// still fail the cycle without leaving it half-ingested.
	pending := make([]*queue.SyncTask, 0, len(updates)+len(registers))
	for _, ev := range updates {
		pending = append(pending, queue.NewTask(queue.KindUpdate, ev.DomainKey, ev.ContentRef, ev.Height))
	}
	for _, ev := range registers {
		rec, err := b.l1.DomainRecord(ctx, ev.DomainKey)
		if err != nil {
			return fmt.Errorf("domain record %x: %w", ev.DomainKey, err)
		}
		// A registration alone carries no content; only queue work for
		// domains that already point at something.
		if len(rec.ContentRef) == 0 {
			continue
		}
		pending = append(pending, queue.NewTask(queue.KindRegister, ev.DomainKey, rec.ContentRef, ev.Height))
	}

	for _, t := range pending {
		b.tasks.Enqueue(t)
	}
	b.tasksEnqueued.Add(uint64(len(pending)))

	b.setCursor(h)
	if b.journal != nil {
		if err := b.journal.SaveCursor(ctx, h); err != nil {
			b.cfg.Logger.Printf("WARNING: failed to journal cursor %d: %v", h, err)
		}
	}

	if len(pending) > 0 {
		b.cfg.Logger.Printf("Polled (%d, %d]: %d update, %d register events, %d tasks enqueued",
			from, h, len(updates), len(registers), len(pending))
	}
	return nil
}

// ApplyOnce drains at most one task from the queue.
//
// A failing task never halts the loop: it is re-enqueued to the back while
// its retry budget lasts, then abandoned with a counter, a log line, a
// journal row, and an event.
func (b *Bridge) ApplyOnce(ctx context.Context) {
	task, err := b.tasks.Dequeue()
	if err != nil {
		return // nothing to do
	}

	if err := b.apply(ctx, task); err != nil {
		b.applyErrors.Add(1)
		task.RetryCount++
		if task.RetryCount <= b.cfg.MaxRetries {
			b.retries.Add(1)
			b.cfg.Logger.Printf("Apply failed for %s task %s (retry %d/%d): %v",
				task.Kind, task.ID, task.RetryCount, b.cfg.MaxRetries, err)
			b.tasks.Enqueue(task)
			return
		}
		b.abandon(ctx, task, err)
		return
	}

	b.tasksApplied.Add(1)
	event.Publish(b.sink, event.TypeTaskApplied, map[string]string{
		"task":   task.ID.String(),
		"kind":   task.Kind.String(),
		"domain": task.DomainKey.Hex(),
	})
}

// apply fetches the task's record set and submits one atomic batch write
// covering every record type for the domain.
func (b *Bridge) apply(ctx context.Context, task *queue.SyncTask) error {
	rs, degraded := b.content.Fetch(ctx, task.ContentRef)

	ref := task.ContentRef
	if degraded {
		// Degraded data is written without a content reference so readers
		// can never mistake it for verified content.
		ref = nil
		event.Publish(b.sink, event.TypeDegradedFetch, map[string]string{
			"task":   task.ID.String(),
			"domain": task.DomainKey.Hex(),
		})
	}

	rtypes, values, ttls := content.Flatten(rs, b.cfg.DefaultTTL)
	if len(rtypes) == 0 {
		return nil // empty record set, nothing to write
	}
	return b.l2.SubmitBatch(ctx, task.DomainKey, rtypes, values, ttls, ref)
}

func (b *Bridge) abandon(ctx context.Context, task *queue.SyncTask, cause error) {
	b.abandoned.Add(1)
	b.cfg.Logger.Printf("WARNING: abandoning %s task %s for %s after %d attempts: %v",
		task.Kind, task.ID, task.DomainKey.Hex(), task.RetryCount, cause)

	if b.journal != nil {
		rec := store.AbandonedTask{
			TaskID:       task.ID.String(),
			Kind:         task.Kind.String(),
			DomainKey:    task.DomainKey.Hex(),
			SourceHeight: task.SourceHeight,
			Retries:      task.RetryCount,
			Reason:       cause.Error(),
		}
		if err := b.journal.RecordAbandoned(ctx, rec); err != nil {
			b.cfg.Logger.Printf("WARNING: failed to journal abandoned task %s: %v", task.ID, err)
		}
	}

	event.Publish(b.sink, event.TypeTaskAbandoned, map[string]string{
		"task":   task.ID.String(),
		"kind":   task.Kind.String(),
		"domain": task.DomainKey.Hex(),
		"reason": cause.Error(),
	})
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Cursor:          b.Cursor(),
		QueueDepth:      b.tasks.Len(),
		Polls:           b.polls.Load(),
		PollErrors:      b.pollErrors.Load(),
		TasksEnqueued:   b.tasksEnqueued.Load(),
		TasksApplied:    b.tasksApplied.Load(),
		ApplyErrors:     b.applyErrors.Load(),
		Retries:         b.retries.Load(),
		Abandoned:       b.abandoned.Load(),
		RetrievalErrors: b.content.RetrievalErrors(),
	}
}

func sub(h, window uint64) uint64 {
	if h < window {
		return 0
	}
	return h - window
}
