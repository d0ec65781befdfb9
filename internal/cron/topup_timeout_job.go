package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/tlb-diamond/tlbd-backend/pkg/logger"
)

const (
	topupTimeoutWindow    = 24 * time.Hour
	topupTimeoutBatchSize = 100
)

// TopupTimeoutJobParams configures the stale top-up sweep.
type TopupTimeoutJobParams struct {
	Logger    *logger.Logger
	Transfers topupTimeouter
	Window    time.Duration
	BatchSize int
}

type topupTimeouter interface {
	TimeoutStaleTopups(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// NewTopupTimeoutJob constructs the top-up timeout cron job.
func NewTopupTimeoutJob(params TopupTimeoutJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Transfers == nil {
		return nil, fmt.Errorf("transfers service required")
	}
	window := params.Window
	if window <= 0 {
		window = topupTimeoutWindow
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = topupTimeoutBatchSize
	}
	return &topupTimeoutJob{
		logg:      params.Logger,
		transfers: params.Transfers,
		window:    window,
		batch:     batch,
	}, nil
}

type topupTimeoutJob struct {
	logg      *logger.Logger
	transfers topupTimeouter
	window    time.Duration
	batch     int
}

func (j *topupTimeoutJob) Name() string { return "topup-timeout" }

// Run fails top-ups that sat past the gateway confirmation window.
func (j *topupTimeoutJob) Run(ctx context.Context) error {
	failed, err := j.transfers.TimeoutStaleTopups(ctx, j.window, j.batch)
	if err != nil {
		return fmt.Errorf("topup timeout sweep: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"window":        j.window.String(),
		"topups_failed": failed,
	})
	j.logg.Info(logCtx, "topup timeout sweep complete")
	return nil
}
