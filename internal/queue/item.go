package queue

import (
	"context"
	"time"
)

// Status is the lifecycle state of a work item.
type Status int

const (
	// StatusNotFound is returned for identifiers the queue never saw or has
	// already purged from its retention window.
	StatusNotFound Status = iota
	StatusQueued
	StatusRunning
	StatusCompleted
	StatusFailed
)

// String returns string representation of the status
func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "not_found"
	}
}

// IsTerminal reports whether s is Completed or Failed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Action is the unit of work executed by a worker.
type Action func(ctx context.Context) error

// SuccessFunc is invoked with the item path after a successful action.
type SuccessFunc func(path string)

// ErrorFunc is invoked with the item path and final error after a failed action.
type ErrorFunc func(path string, err error)

// workItem is owned by the queue; callers only see a Handle.
type workItem struct {
	id        string
	path      string
	payload   []byte
	action    Action
	onSuccess SuccessFunc
	onError   ErrorFunc

	enqueuedAt  time.Time
	completedAt time.Time
	status      Status
	err         error

	done chan struct{}
}

// Handle is the caller's reference to a submitted work item.
type Handle struct {
	ID   string
	Path string

	q    *Queue
	item *workItem
}

// Status returns the item's current status. It reports StatusNotFound once
// the item has aged out of the retention window.
func (h *Handle) Status() Status {
	return h.q.GetStatus(h.ID)
}

// IsComplete reports whether the item reached Completed or Failed. It agrees
// with Status while callbacks run and stays true after the item is purged
// from the retention window.
func (h *Handle) IsComplete() bool {
	h.q.mu.Lock()
	defer h.q.mu.Unlock()
	return h.item.status == StatusCompleted || h.item.status == StatusFailed
}

// Done is closed once the item settles and its callbacks have returned.
func (h *Handle) Done() <-chan struct{} {
	return h.item.done
}

// Wait blocks until the item settles or ctx is done. It returns the item's
// error, or ctx.Err() if ctx finished first.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.item.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the error recorded for a failed item, or nil.
func (h *Handle) Err() error {
	h.q.mu.Lock()
	defer h.q.mu.Unlock()
	return h.item.err
}
