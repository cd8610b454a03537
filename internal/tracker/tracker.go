// Package tracker implements the daily streak transitions for log and view
// events.
package tracker

import (
	"errors"
	"fmt"

	"streakkeeper/internal/achievement"
	"streakkeeper/internal/types/streak"
)

// ErrClockSkew means today is earlier than the last logged date.
var ErrClockSkew = errors.New("today is before the last logged date")

type Transition string

const (
	NoOp    Transition = "noop"
	Start   Transition = "start"
	Advance Transition = "advance"
	Break   Transition = "break"
)

// Outcome describes what a log or view event did to a record.
type Outcome struct {
	Transition Transition
	// BrokenCount is the streak length that ended, set on Break.
	BrokenCount int
	// NewLongest is set when the broken streak replaced the longest streak.
	NewLongest bool
	Milestones []achievement.Milestone
}

// ApplyLog advances rec for a log event on today. rec is untouched when an
// error is returned.
func ApplyLog(rec *streak.Record, today streak.Date) (Outcome, error) {
	last := rec.LastLoggedDate
	switch {
	case last.Equal(today):
		return Outcome{Transition: NoOp}, nil
	case last.IsZero():
		// A reset to n>0 keeps a count with no log date; treat it as the
		// base that today's log continues from.
		rec.StreakCount++
		if rec.StreakCount == 1 || rec.StartDate.IsZero() {
			rec.StartDate = today.AddDays(1 - rec.StreakCount)
		}
		rec.LastLoggedDate = today
		return withMilestones(rec, today, Outcome{Transition: Start}), nil
	}

	gap := last.DaysUntil(today)
	switch {
	case gap == 1:
		rec.StreakCount++
		rec.LastLoggedDate = today
		if rec.StartDate.IsZero() {
			rec.StartDate = today.AddDays(1 - rec.StreakCount)
		}
		return withMilestones(rec, today, Outcome{Transition: Advance}), nil
	case gap > 1:
		out := breakStreak(rec)
		rec.StreakCount = 1
		rec.StartDate = today
		rec.LastLoggedDate = today
		return withMilestones(rec, today, out), nil
	default:
		return Outcome{}, fmt.Errorf("%w: last %s, today %s", ErrClockSkew, last, today)
	}
}

// ApplyView runs the passive break check behind the streak view. A streak
// whose last log is more than a day old drops to zero.
func ApplyView(rec *streak.Record, today streak.Date) Outcome {
	last := rec.LastLoggedDate
	if last.IsZero() || last.DaysUntil(today) <= 1 {
		return Outcome{Transition: NoOp}
	}
	out := breakStreak(rec)
	rec.StreakCount = 0
	rec.StartDate = streak.Date{}
	rec.LastLoggedDate = streak.Date{}
	return out
}

// breakStreak records the high-water mark for the streak that just ended.
func breakStreak(rec *streak.Record) Outcome {
	out := Outcome{Transition: Break, BrokenCount: rec.StreakCount}
	if rec.StreakCount > rec.LongestStreak {
		rec.LongestStreak = rec.StreakCount
		rec.LongestStreakEndDate = rec.LastLoggedDate
		out.NewLongest = true
	}
	return out
}

func withMilestones(rec *streak.Record, today streak.Date, out Outcome) Outcome {
	out.Milestones = achievement.Evaluate(rec.StreakCount, rec.StartDate, today)
	return out
}

// Reset sets the streak to count. A positive count ends today when today is
// already logged and yesterday otherwise, so the next log continues it
// without counting today twice.
func Reset(rec *streak.Record, count int, today streak.Date) {
	if count <= 0 {
		rec.StreakCount = 0
		rec.StartDate = streak.Date{}
		rec.LastLoggedDate = streak.Date{}
		return
	}
	rec.StreakCount = count
	if !rec.LastLoggedDate.Equal(today) {
		rec.LastLoggedDate = today.AddDays(-1)
	}
	rec.StartDate = rec.LastLoggedDate.AddDays(1 - count)
}
