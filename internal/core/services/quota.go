package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/NoahRocket/X/internal/core/ports"
)

// DailyQuestionLimit is the fixed per-user allotment of questions per
// calendar day.
const DailyQuestionLimit = 100

// RateTracker computes and enforces the daily question quota. The stored
// counter is only meaningful when last_question_date falls on the current
// day in the tracker's location; otherwise it is logically zero.
type RateTracker struct {
	store ports.QuotaStore
	loc   *time.Location
	now   func() time.Time
}

func NewRateTracker(store ports.QuotaStore, loc *time.Location) *RateTracker {
	if loc == nil {
		loc = time.Local
	}
	return &RateTracker{store: store, loc: loc, now: time.Now}
}

func (t *RateTracker) Remaining(ctx context.Context, userID string) (int, error) {
	q, err := t.store.GetQuota(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("get quota: %w", err)
	}

	count := q.Count
	if !t.sameDay(q.LastAsked) {
		// Counter is left over from a previous day. The reset write is
		// advisory only: the computed result never depends on it landing.
		if count != 0 || q.LastAsked != nil {
			if rerr := t.store.ResetQuota(ctx, userID); rerr != nil {
				slog.Warn("quota reset failed", "user_id", userID, "error", rerr)
			}
		}
		count = 0
	}
	if count < 0 {
		// A negative stored count is a data defect; guard, don't propagate.
		count = 0
	}

	remaining := DailyQuestionLimit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Consume records one successful submission. The increment happens
// server-side in a single atomic UPDATE so concurrent sessions of the same
// user cannot lose updates. Returns the remaining allotment.
func (t *RateTracker) Consume(ctx context.Context, userID string) (int, error) {
	n, err := t.store.IncrementQuota(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("increment quota: %w", err)
	}
	remaining := DailyQuestionLimit - n
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (t *RateTracker) sameDay(last *time.Time) bool {
	if last == nil {
		return false
	}
	now := t.now().In(t.loc)
	l := last.In(t.loc)
	return l.Year() == now.Year() && l.Month() == now.Month() && l.Day() == now.Day()
}
