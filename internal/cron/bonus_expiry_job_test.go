package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/tlb-diamond/tlbd-backend/pkg/logger"
)

type fakeBonusSweeper struct {
	batches []int
	counts  []int
	err     error
}

func (f *fakeBonusSweeper) ExpireSweep(ctx context.Context, batchSize int) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.batches = append(f.batches, batchSize)
	call := len(f.batches) - 1
	if call < len(f.counts) {
		return f.counts[call], nil
	}
	return 0, nil
}

func newBonusExpiryJob(t *testing.T, sweeper *fakeBonusSweeper, batch int) Job {
	t.Helper()
	job, err := NewBonusExpiryJob(BonusExpiryJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		Bonuses:   sweeper,
		BatchSize: batch,
	})
	if err != nil {
		t.Fatalf("NewBonusExpiryJob: %v", err)
	}
	return job
}

func TestBonusExpiryJobSweepsUntilShortBatch(t *testing.T) {
	sweeper := &fakeBonusSweeper{counts: []int{10, 10, 3}}
	job := newBonusExpiryJob(t, sweeper, 10)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sweeper.batches) != 3 {
		t.Fatalf("expected 3 sweep calls, got %d", len(sweeper.batches))
	}
	for _, batch := range sweeper.batches {
		if batch != 10 {
			t.Fatalf("expected batch size 10, got %d", batch)
		}
	}
}

func TestBonusExpiryJobDefaultsBatchSize(t *testing.T) {
	sweeper := &fakeBonusSweeper{counts: []int{0}}
	job := newBonusExpiryJob(t, sweeper, 0)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sweeper.batches) != 1 || sweeper.batches[0] != bonusExpiryBatchSize {
		t.Fatalf("expected one sweep with default batch, got %v", sweeper.batches)
	}
}

func TestBonusExpiryJobPropagatesError(t *testing.T) {
	sweeper := &fakeBonusSweeper{err: errors.New("boom")}
	job := newBonusExpiryJob(t, sweeper, 10)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
