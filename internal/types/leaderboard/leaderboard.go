package leaderboard

import "streakkeeper/internal/types/streak"

// Entry is one user's row in a guild's contribution ledger.
type Entry struct {
	UserID        string      `json:"user_id" db:"user_id"`
	DisplayName   string      `json:"display_name" db:"display_name"`
	Contributions int         `json:"contributions" db:"contributions"`
	LastLogDate   streak.Date `json:"last_log_date" db:"last_log_date"`
	// CreditedDates lists the recent days this user has already been
	// credited for.
	CreditedDates []streak.Date `json:"credited_dates,omitempty" db:"credited_dates"`
}

// Update is an incremental change applied by a store's UpsertLedgerEntry.
// A non-zero Date replaces both LastLogDate and CreditedDates.
type Update struct {
	UserID        string
	DisplayName   string
	Delta         int
	Date          streak.Date
	CreditedDates []streak.Date
}

type RankedEntry struct {
	Entry
	Rank int `json:"rank"`
}

type Leaderboard struct {
	Entries      []*RankedEntry `json:"entries"`
	UserPosition *RankedEntry   `json:"user_position,omitempty"`
	TotalUsers   int            `json:"total_users"`
}
