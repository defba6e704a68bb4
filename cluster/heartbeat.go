package cluster

import (
	"context"
	"time"

	dapi "github.com/goliatone/go-dapi"
	"github.com/goliatone/go-dapi/cron"
)

// DefaultHeartbeat is the beat schedule when none is configured.
const DefaultHeartbeat = "@every 5s"

// Heartbeat periodically calls a Beater on a cron schedule so the local
// node stays visible to the rest of the cluster.
type Heartbeat struct {
	scheduler  *cron.Scheduler
	beater     Beater
	expression string
	timeout    time.Duration
	logger     dapi.Logger
	handle     *cron.Handle
}

func NewHeartbeat(scheduler *cron.Scheduler, beater Beater, expression string, logger dapi.Logger) *Heartbeat {
	if expression == "" {
		expression = DefaultHeartbeat
	}
	if logger == nil {
		logger = dapi.NopLogger{}
	}
	return &Heartbeat{
		scheduler:  scheduler,
		beater:     beater,
		expression: expression,
		timeout:    2 * time.Second,
		logger:     logger,
	}
}

// Start beats once synchronously and then on every tick.
func (h *Heartbeat) Start(ctx context.Context) error {
	if err := h.beat(ctx); err != nil {
		return err
	}
	handle, err := h.scheduler.ScheduleCron(cron.JobConfig{
		Name:       "cluster-heartbeat",
		Expression: h.expression,
		Timeout:    h.timeout,
		MaxRetries: 1,
	}, h.beat)
	if err != nil {
		return err
	}
	h.handle = handle
	return nil
}

// Failures returns the number of scheduled beats that failed since the
// last successful one.
func (h *Heartbeat) Failures() int {
	if h.handle == nil {
		return 0
	}
	return h.handle.ConsecutiveFailures()
}

// Stop cancels future beats.
func (h *Heartbeat) Stop() {
	if h.handle != nil {
		h.handle.Cancel()
	}
}

func (h *Heartbeat) beat(ctx context.Context) error {
	if err := h.beater.Beat(ctx); err != nil {
		h.logger.Warn("heartbeat failed: %v", err)
		return err
	}
	h.logger.Trace("heartbeat sent")
	return nil
}
