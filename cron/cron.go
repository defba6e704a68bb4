package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	dapi "github.com/goliatone/go-dapi"
	"github.com/goliatone/go-dapi/runner"
	"github.com/goliatone/go-errors"

	rcron "github.com/robfig/cron/v3"
)

// Job is the unit of scheduled work.
type Job func(ctx context.Context) error

// Scheduler runs recurring jobs on cron expressions. Every run gets the
// job timeout and retry budget from its JobConfig.
type Scheduler struct {
	mu           sync.Mutex
	cron         *rcron.Cron
	location     *time.Location
	errorHandler func(error)
	logger       dapi.Logger
	parser       Parser
	retry        runner.RetryStrategy

	ctx    context.Context
	cancel context.CancelFunc

	nextID  int64
	handles map[int64]*Handle
}

// NewScheduler creates a scheduler. It does not run jobs until Start.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		location: time.Local,
		parser:   DefaultParser,
		logger:   dapi.NopLogger{},
		retry:    runner.ExponentialBackoffStrategy{Base: 100 * time.Millisecond, Factor: 2, Max: 2 * time.Second},
		handles:  make(map[int64]*Handle),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.errorHandler == nil {
		logger := s.logger
		s.errorHandler = func(err error) {
			logger.Error("scheduled job failed: %v", err)
		}
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = rcron.New(s.build()...)
	return s
}

// ScheduleCron runs job on every tick of cfg.Expression.
func (s *Scheduler) ScheduleCron(cfg JobConfig, job Job) (*Handle, error) {
	if cfg.Expression == "" {
		return nil, errors.New("cron expression cannot be empty", errors.CategoryBadInput).
			WithTextCode("CRON_EXPRESSION_REQUIRED")
	}
	if job == nil {
		return nil, errors.New("cron job cannot be nil", errors.CategoryBadInput).
			WithTextCode("CRON_JOB_REQUIRED")
	}

	s.mu.Lock()
	s.nextID++
	h := newHandle(s, s.nextID, cfg.label())
	s.mu.Unlock()

	run := s.runnable(cfg, job)
	entryID, err := s.cron.AddFunc(cfg.Expression, func() {
		if !h.begin() {
			return
		}
		err := run()
		h.finish(err)
		if err != nil {
			s.errorHandler(err)
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput,
			fmt.Sprintf("invalid cron expression %q", cfg.Expression)).
			WithTextCode("CRON_EXPRESSION_INVALID")
	}

	s.mu.Lock()
	h.entryID = entryID
	s.handles[h.id] = h
	s.mu.Unlock()
	return h, nil
}

// Start begins executing jobs.
func (s *Scheduler) Start(_ context.Context) error {
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, cancels running jobs and marks every handle
// stopped. It waits for running jobs or until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()

	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.handles))
	entries := make([]rcron.EntryID, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
		entries = append(entries, h.entryID)
	}
	s.handles = make(map[int64]*Handle)
	s.mu.Unlock()

	for i, h := range handles {
		s.cron.Remove(entries[i])
		h.end(StatusStopped)
	}

	if ctx == nil {
		return nil
	}
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of active schedules.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func (s *Scheduler) remove(h *Handle) {
	s.mu.Lock()
	delete(s.handles, h.id)
	entryID := h.entryID
	s.mu.Unlock()
	s.cron.Remove(entryID)
}

func (s *Scheduler) runnable(cfg JobConfig, job Job) func() error {
	return func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = errors.New(fmt.Sprintf("job %s panicked: %v", cfg.label(), p), errors.CategoryInternal).
					WithTextCode("CRON_JOB_PANIC")
			}
		}()
		return runner.Retry(s.ctx, s.retry, cfg.MaxRetries, func(ctx context.Context) error {
			if cfg.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
				defer cancel()
			}
			return job(ctx)
		})
	}
}

func (s *Scheduler) build() []rcron.Option {
	opts := []rcron.Option{rcron.WithLocation(s.location)}

	switch s.parser {
	case StandardParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	case SecondsParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Second|rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	}

	// overlapping ticks of a slow job are skipped rather than queued
	opts = append(opts,
		rcron.WithChain(
			rcron.Recover(&errorHandlerAdapter{handler: s.errorHandler}),
			rcron.SkipIfStillRunning(&loggerAdapter{logger: s.logger}),
		),
		rcron.WithLogger(&loggerAdapter{logger: s.logger}),
	)
	return opts
}
