// Package queue provides the ordered, at-least-once work buffer between the
// bridge's poll cycle and its apply cycle.
//
// The queue is a plain FIFO: no priority, no deduplication. Duplicate tasks
// for the same domain may coexist; last-applied-wins at the fast ledger
// resolves any conflict. A single mutex is enough because traffic is
// interval-driven, not request-driven.
package queue

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// ErrEmptyQueue is returned by Dequeue when there is nothing to dequeue.
var ErrEmptyQueue = errors.New("queue: empty")

// TaskKind distinguishes the two event classes the bridge ingests.
type TaskKind int

const (
	// KindUpdate is a content-reference change for an existing domain.
	KindUpdate TaskKind = iota + 1
	// KindRegister is a new registration that already carries content.
	KindRegister
)

// String returns the kind's wire/log name.
func (k TaskKind) String() string {
	switch k {
	case KindUpdate:
		return "update"
	case KindRegister:
		return "register"
	default:
		return "unknown"
	}
}

// SyncTask is one unit of pending bridge work.
//
// RetryCount starts at zero and is incremented by the bridge on each failed
// apply; the task is abandoned once the retry budget is exhausted.
type SyncTask struct {
	ID           uuid.UUID
	Kind         TaskKind
	DomainKey    common.Hash
	ContentRef   []byte
	SourceHeight uint64
	RetryCount   int
}

// NewTask builds a task with a fresh ID.
func NewTask(kind TaskKind, key common.Hash, contentRef []byte, height uint64) *SyncTask {
	return &SyncTask{
		ID:           uuid.New(),
		Kind:         kind,
		DomainKey:    key,
		ContentRef:   contentRef,
		SourceHeight: height,
	}
}

// Queue is a mutex-guarded FIFO of sync tasks, safe for concurrent
// enqueue (poll cycle) and dequeue (apply cycle).
type Queue struct {
	mu    sync.Mutex
	tasks []*SyncTask
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{tasks: make([]*SyncTask, 0, 16)}
}

// Enqueue appends a task to the back of the queue.
func (q *Queue) Enqueue(t *SyncTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, t)
}

// Dequeue removes and returns the front task, or ErrEmptyQueue.
func (q *Queue) Dequeue() (*SyncTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, ErrEmptyQueue
	}
	t := q.tasks[0]
	// Nil out the slot so the backing array does not retain the task.
	q.tasks[0] = nil
	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}
	return t, nil
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Empty reports whether the queue has no tasks.
func (q *Queue) Empty() bool {
	return q.Len() == 0
}
