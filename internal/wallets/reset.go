package wallets

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tlb-diamond/tlbd-backend/pkg/db/models"
)

// StalePeriods reports which accumulator windows have lapsed.
type StalePeriods struct {
	Daily   bool
	Monthly bool
}

// Any reports whether at least one window needs a reset.
func (s StalePeriods) Any() bool {
	return s.Daily || s.Monthly
}

// stalePeriods compares the wallet's reset markers against now in UTC. The
// comparison is calendar-based, not duration-based: crossing midnight or the
// month boundary makes the window stale no matter how recently it was reset.
func stalePeriods(w models.Wallet, now time.Time) StalePeriods {
	now = now.UTC()
	lastDaily := w.LastDailyReset.UTC()
	lastMonthly := w.LastMonthlyReset.UTC()

	var stale StalePeriods

	dy, dm, dd := lastDaily.Date()
	ny, nm, nd := now.Date()
	if dy != ny || dm != nm || dd != nd {
		stale.Daily = true
	}

	my, mm, _ := lastMonthly.Date()
	if my != ny || mm != nm {
		stale.Monthly = true
	}
	return stale
}

// applyResets zeroes the stale accumulators on the in-memory wallet. Running
// it twice with the same now is a no-op, which keeps the lazy reset idempotent
// under concurrent transactions.
func applyResets(w *models.Wallet, now time.Time, stale StalePeriods) {
	now = now.UTC()
	if stale.Daily {
		w.DailySpent = decimal.Zero
		w.LastDailyReset = now
	}
	if stale.Monthly {
		w.MonthlyEarned = decimal.Zero
		w.MonthlySpent = decimal.Zero
		w.MonthlyBonuses = decimal.Zero
		w.LastMonthlyReset = now
	}
}
