package cron

import (
	"context"
	"fmt"

	"github.com/tlb-diamond/tlbd-backend/pkg/logger"
)

const (
	bonusExpiryBatchSize = 500
	bonusExpiryMaxLoops  = 100
)

// BonusExpiryJobParams configures the scheduled bonus expiry sweep.
type BonusExpiryJobParams struct {
	Logger    *logger.Logger
	Bonuses   bonusSweeper
	BatchSize int
}

type bonusSweeper interface {
	ExpireSweep(ctx context.Context, batchSize int) (int, error)
}

// NewBonusExpiryJob constructs the bonus expiry cron job.
func NewBonusExpiryJob(params BonusExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Bonuses == nil {
		return nil, fmt.Errorf("bonuses service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = bonusExpiryBatchSize
	}
	return &bonusExpiryJob{
		logg:    params.Logger,
		bonuses: params.Bonuses,
		batch:   batch,
	}, nil
}

type bonusExpiryJob struct {
	logg    *logger.Logger
	bonuses bonusSweeper
	batch   int
}

func (j *bonusExpiryJob) Name() string { return "bonus-expiry" }

// Run sweeps lapsed bonuses in batches until a batch comes back short.
func (j *bonusExpiryJob) Run(ctx context.Context) error {
	total := 0
	for i := 0; i < bonusExpiryMaxLoops; i++ {
		expired, err := j.bonuses.ExpireSweep(ctx, j.batch)
		if err != nil {
			return fmt.Errorf("bonus expiry sweep: %w", err)
		}
		total += expired
		if expired < j.batch {
			break
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"batch_size":    j.batch,
		"bonuses_swept": total,
	})
	j.logg.Info(logCtx, "bonus expiry sweep complete")
	return nil
}
