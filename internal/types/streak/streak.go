package streak

import (
	"time"
)

// Record is the per-guild streak state.
type Record struct {
	GuildID              string         `json:"guild_id"`
	StreakCount          int            `json:"streak_count"`
	StartDate            Date           `json:"start_date"`
	LastLoggedDate       Date           `json:"last_logged_date"`
	ReminderTime         string         `json:"reminder_time"`
	LongestStreak        int            `json:"longest_streak"`
	LongestStreakEndDate Date           `json:"longest_streak_end_date"`
	LedgerPeriod         string         `json:"ledger_period,omitempty"`
	Confirmations        []Confirmation `json:"confirmations,omitempty"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// Confirmation is a bot message that members can react to for credit.
type Confirmation struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	Date      Date   `json:"date"`
	LoggerID  string `json:"logger_id"`
}

// ConfirmationRetentionDays is how many days back a confirmation stays valid
// for reactions. 1 keeps today's and yesterday's.
const ConfirmationRetentionDays = 1

func NewRecord(guildID string) *Record {
	return &Record{
		GuildID:      guildID,
		ReminderTime: DefaultReminderTime,
	}
}

// Normalize repairs values read from loosely typed storage.
func (r *Record) Normalize() {
	if r.StreakCount < 0 {
		r.StreakCount = 0
	}
	if r.LongestStreak < 0 {
		r.LongestStreak = 0
	}
	if r.StreakCount == 0 {
		r.LastLoggedDate = Date{}
		r.StartDate = Date{}
	}
	if !r.StartDate.IsZero() && !r.LastLoggedDate.IsZero() && r.StartDate.After(r.LastLoggedDate) {
		r.StartDate = r.LastLoggedDate
	}
	if rt, err := ParseReminderTime(r.ReminderTime); err == nil {
		r.ReminderTime = rt.String()
	} else {
		r.ReminderTime = DefaultReminderTime
	}
}

// Reminder returns the parsed reminder time, falling back to the default.
func (r *Record) Reminder() ReminderTime {
	rt, err := ParseReminderTime(r.ReminderTime)
	if err != nil {
		rt, _ = ParseReminderTime(DefaultReminderTime)
	}
	return rt
}

// Track remembers a confirmation message and drops expired ones.
func (r *Record) Track(c Confirmation, today Date) {
	r.Confirmations = append(r.Confirmations, c)
	r.Prune(today)
}

// Prune drops confirmations older than the retention window.
func (r *Record) Prune(today Date) {
	oldest := today.AddDays(-ConfirmationRetentionDays)
	kept := r.Confirmations[:0]
	for _, c := range r.Confirmations {
		if c.Date.Before(oldest) || c.Date.After(today) {
			continue
		}
		kept = append(kept, c)
	}
	r.Confirmations = kept
}

// Confirmation looks up a tracked message that is still inside the
// retention window relative to today.
func (r *Record) Confirmation(messageID string, today Date) (Confirmation, bool) {
	oldest := today.AddDays(-ConfirmationRetentionDays)
	for _, c := range r.Confirmations {
		if c.MessageID != messageID {
			continue
		}
		if c.Date.Before(oldest) {
			return Confirmation{}, false
		}
		return c, true
	}
	return Confirmation{}, false
}
