package cron

import (
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// Status is the state of a schedule.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusIdle      Status = "idle"
	StatusFailing   Status = "failing"
	StatusCanceled  Status = "canceled"
	StatusStopped   Status = "stopped"
)

// Handle tracks one recurring schedule.
type Handle struct {
	scheduler *Scheduler
	id        int64
	name      string
	entryID   rcron.EntryID
	done      chan struct{}
	once      sync.Once

	mu       sync.RWMutex
	status   Status
	lastErr  error
	lastRun  time.Time
	runs     int
	failures int
}

func newHandle(s *Scheduler, id int64, name string) *Handle {
	return &Handle{
		scheduler: s,
		id:        id,
		name:      name,
		status:    StatusScheduled,
		done:      make(chan struct{}),
	}
}

// Name is the job label used in logs.
func (h *Handle) Name() string { return h.name }

// Cancel removes the schedule. Runs already in flight complete.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.scheduler.remove(h)
	h.end(StatusCanceled)
}

// Status returns the current state.
func (h *Handle) Status() Status {
	if h == nil {
		return StatusStopped
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Err returns the error of the last run, nil when it succeeded.
func (h *Handle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr
}

// Runs returns how many runs finished and when the last one did.
func (h *Handle) Runs() (int, time.Time) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.runs, h.lastRun
}

// ConsecutiveFailures counts failed runs since the last success.
func (h *Handle) ConsecutiveFailures() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.failures
}

// Done is closed once the schedule is canceled or stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) begin() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminal() {
		return false
	}
	h.status = StatusRunning
	return true
}

func (h *Handle) finish(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs++
	h.lastRun = time.Now()
	h.lastErr = err
	if err != nil {
		h.failures++
	} else {
		h.failures = 0
	}
	if h.terminal() {
		return
	}
	if err != nil {
		h.status = StatusFailing
	} else {
		h.status = StatusIdle
	}
}

func (h *Handle) end(status Status) {
	h.once.Do(func() {
		h.mu.Lock()
		if !h.terminal() {
			h.status = status
		}
		h.mu.Unlock()
		close(h.done)
	})
}

func (h *Handle) terminal() bool {
	return h.status == StatusCanceled || h.status == StatusStopped
}
