// Package leaderboard holds the contribution ledger rules: per-day
// idempotent crediting and stable ranking.
package leaderboard

import (
	"sort"

	lbtypes "streakkeeper/internal/types/leaderboard"
	"streakkeeper/internal/types/streak"
)

const DefaultTopN = 10

// CanCredit reports whether a contribution for date may be added to entry.
// A nil entry means the user has never contributed.
func CanCredit(entry *lbtypes.Entry, date streak.Date) bool {
	if entry == nil || entry.LastLogDate.IsZero() {
		return true
	}
	if date.Equal(entry.LastLogDate) {
		return false
	}
	for _, d := range entry.CreditedDates {
		if d.Equal(date) {
			return false
		}
	}
	// Without a credited-day list only the latest day is known, so anything
	// before it may already be counted.
	if len(entry.CreditedDates) == 0 && date.Before(entry.LastLogDate) {
		return false
	}
	return true
}

// Credit builds the update adding one contribution for date. LastLogDate only
// moves forward and the credited-day list keeps the days still inside the
// confirmation window ending today.
func Credit(entry *lbtypes.Entry, userID, displayName string, date, today streak.Date) lbtypes.Update {
	last := date
	days := []streak.Date{date}
	if entry != nil {
		if entry.LastLogDate.After(last) {
			last = entry.LastLogDate
		}
		if !entry.LastLogDate.IsZero() {
			days = append(days, entry.LastLogDate)
		}
		days = append(days, entry.CreditedDates...)
	}

	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	oldest := today.AddDays(-streak.ConfirmationRetentionDays)
	kept := make([]streak.Date, 0, len(days))
	for _, d := range days {
		if d.Before(oldest) || (len(kept) > 0 && kept[len(kept)-1].Equal(d)) {
			continue
		}
		kept = append(kept, d)
	}

	return lbtypes.Update{
		UserID:        userID,
		DisplayName:   displayName,
		Delta:         1,
		Date:          last,
		CreditedDates: kept,
	}
}

// Find returns the entry for userID, or nil.
func Find(entries []lbtypes.Entry, userID string) *lbtypes.Entry {
	for i := range entries {
		if entries[i].UserID == userID {
			return &entries[i]
		}
	}
	return nil
}

// Sorted returns entries ordered by contributions, descending. Ties keep the
// ledger's insertion order. The input is not modified.
func Sorted(entries []lbtypes.Entry) []lbtypes.Entry {
	out := make([]lbtypes.Entry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Contributions > out[j].Contributions
	})
	return out
}

// Rank returns the 1-based position of userID, or 0 when absent.
func Rank(entries []lbtypes.Entry, userID string) int {
	for i, e := range Sorted(entries) {
		if e.UserID == userID {
			return i + 1
		}
	}
	return 0
}

// Top returns the first min(n, len(entries)) ranked entries.
func Top(entries []lbtypes.Entry, n int) []*lbtypes.RankedEntry {
	sorted := Sorted(entries)
	if n < 0 {
		n = 0
	}
	if n > len(sorted) {
		n = len(sorted)
	}
	top := make([]*lbtypes.RankedEntry, 0, n)
	for i := 0; i < n; i++ {
		top = append(top, &lbtypes.RankedEntry{Entry: sorted[i], Rank: i + 1})
	}
	return top
}

// Build assembles a leaderboard view, including userID's position when set.
func Build(entries []lbtypes.Entry, userID string, n int) *lbtypes.Leaderboard {
	board := &lbtypes.Leaderboard{
		Entries:    Top(entries, n),
		TotalUsers: len(entries),
	}
	if userID == "" {
		return board
	}
	for i, e := range Sorted(entries) {
		if e.UserID == userID {
			board.UserPosition = &lbtypes.RankedEntry{Entry: e, Rank: i + 1}
			break
		}
	}
	return board
}
