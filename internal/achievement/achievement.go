// Package achievement decides which streak milestones a day's log reaches.
package achievement

import (
	"fmt"

	"streakkeeper/internal/types/streak"
)

type Kind string

const (
	KindStreak Kind = "streak"
	KindMonth  Kind = "month_anniversary"
	KindYear   Kind = "year_anniversary"
)

// Milestone is a notable streak length or anniversary.
type Milestone struct {
	Kind  Kind `json:"kind"`
	Value int  `json:"value"`
}

func (m Milestone) String() string {
	switch m.Kind {
	case KindYear:
		return plural(m.Value, "year")
	case KindMonth:
		return plural(m.Value, "month")
	default:
		return fmt.Sprintf("Day %d", m.Value)
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

var fixedCounts = map[int]bool{1: true, 7: true, 30: true}

// IsCountMilestone reports whether a streak of n days is worth celebrating.
func IsCountMilestone(n int) bool {
	if n <= 0 {
		return false
	}
	return fixedCounts[n] || n%50 == 0 || n%365 == 0
}

// Evaluate returns the milestones reached by a streak of count days that
// started on start, as of today. A year anniversary suppresses the month
// anniversary on the same day.
func Evaluate(count int, start, today streak.Date) []Milestone {
	var out []Milestone
	if IsCountMilestone(count) {
		out = append(out, Milestone{Kind: KindStreak, Value: count})
	}
	if start.IsZero() || today.IsZero() || !start.Before(today) {
		return out
	}

	if years := fullYears(start, today); years >= 1 && today.Month() == start.Month() && today.Day() == start.Day() {
		return append(out, Milestone{Kind: KindYear, Value: years})
	}
	if months := fullMonths(start, today); months >= 1 && today.Day() == start.Day() {
		out = append(out, Milestone{Kind: KindMonth, Value: months})
	}
	return out
}

func fullMonths(start, today streak.Date) int {
	months := (today.Year()-start.Year())*12 + int(today.Month()) - int(start.Month())
	if today.Day() < start.Day() {
		months--
	}
	return months
}

func fullYears(start, today streak.Date) int {
	return fullMonths(start, today) / 12
}
