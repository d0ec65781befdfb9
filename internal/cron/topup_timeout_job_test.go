package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tlb-diamond/tlbd-backend/pkg/logger"
)

type fakeTopupTimeouter struct {
	window time.Duration
	limit  int
	called int
	err    error
}

func (f *fakeTopupTimeouter) TimeoutStaleTopups(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	f.called++
	f.window = olderThan
	f.limit = limit
	if f.err != nil {
		return 0, f.err
	}
	return 2, nil
}

func TestTopupTimeoutJobUsesConfiguredWindow(t *testing.T) {
	transfers := &fakeTopupTimeouter{}
	job, err := NewTopupTimeoutJob(TopupTimeoutJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		Transfers: transfers,
		Window:    6 * time.Hour,
		BatchSize: 25,
	})
	if err != nil {
		t.Fatalf("NewTopupTimeoutJob: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if transfers.window != 6*time.Hour {
		t.Fatalf("expected 6h window, got %s", transfers.window)
	}
	if transfers.limit != 25 {
		t.Fatalf("expected batch 25, got %d", transfers.limit)
	}
}

func TestTopupTimeoutJobDefaults(t *testing.T) {
	transfers := &fakeTopupTimeouter{}
	job, err := NewTopupTimeoutJob(TopupTimeoutJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		Transfers: transfers,
	})
	if err != nil {
		t.Fatalf("NewTopupTimeoutJob: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if transfers.window != topupTimeoutWindow || transfers.limit != topupTimeoutBatchSize {
		t.Fatalf("expected defaults, got window %s limit %d", transfers.window, transfers.limit)
	}
}

func TestTopupTimeoutJobPropagatesError(t *testing.T) {
	transfers := &fakeTopupTimeouter{err: errors.New("boom")}
	job, err := NewTopupTimeoutJob(TopupTimeoutJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		Transfers: transfers,
	})
	if err != nil {
		t.Fatalf("NewTopupTimeoutJob: %v", err)
	}

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
