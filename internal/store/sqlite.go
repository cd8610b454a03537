package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	lbtypes "streakkeeper/internal/types/leaderboard"
	"streakkeeper/internal/types/streak"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS streak_records (
	guild_id                TEXT PRIMARY KEY,
	streak_count            INTEGER NOT NULL DEFAULT 0,
	start_date              TEXT,
	last_logged_date        TEXT,
	reminder_time           TEXT NOT NULL DEFAULT '19:00',
	longest_streak          INTEGER NOT NULL DEFAULT 0,
	longest_streak_end_date TEXT,
	ledger_period           TEXT NOT NULL DEFAULT '',
	confirmations           TEXT NOT NULL DEFAULT '[]',
	updated_at              TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	guild_id      TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	display_name  TEXT NOT NULL DEFAULT '',
	contributions INTEGER NOT NULL DEFAULT 0,
	last_log_date TEXT,
	credited_dates TEXT NOT NULL DEFAULT '',
	UNIQUE (guild_id, user_id)
);
`

// SQLiteStore is a single-file SQL backend for small deployments.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		path = "streak.db"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sqlite schema: %w", err)
	}
	if err := sqliteAddColumn(ctx, db, "ledger_entries", "credited_dates", "TEXT NOT NULL DEFAULT ''"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// sqliteAddColumn brings tables created by older versions up to date.
func sqliteAddColumn(ctx context.Context, db *sql.DB, table, column, decl string) error {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("failed to add %s.%s: %w", table, column, err)
	}
	return nil
}

func textDate(d streak.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.String()
}

func encodeConfirmations(cs []streak.Confirmation) string {
	if len(cs) == 0 {
		return "[]"
	}
	b, err := json.Marshal(cs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// encodeDates stores a credited-day list as comma separated YYYY-MM-DD.
func encodeDates(ds []streak.Date) string {
	parts := make([]string, 0, len(ds))
	for _, d := range ds {
		if !d.IsZero() {
			parts = append(parts, d.String())
		}
	}
	return strings.Join(parts, ",")
}

func decodeDates(s string) []streak.Date {
	var ds []streak.Date
	for _, part := range strings.Split(s, ",") {
		if d := streak.ParseDateOrZero(strings.TrimSpace(part)); !d.IsZero() {
			ds = append(ds, d)
		}
	}
	return ds
}

func decodeConfirmations(s string) []streak.Confirmation {
	var cs []streak.Confirmation
	if err := json.Unmarshal([]byte(s), &cs); err != nil {
		return nil
	}
	return cs
}

func (s *SQLiteStore) Load(ctx context.Context, guildID string) (*streak.Record, error) {
	query := `
	SELECT streak_count, start_date, last_logged_date, reminder_time, longest_streak,
		longest_streak_end_date, ledger_period, confirmations, updated_at
	FROM streak_records
	WHERE guild_id = ?
	`

	rec := &streak.Record{GuildID: guildID}
	var start, last, longestEnd sql.NullString
	var confirmations, updatedAt string
	err := s.db.QueryRowContext(ctx, query, guildID).Scan(
		&rec.StreakCount,
		&start,
		&last,
		&rec.ReminderTime,
		&rec.LongestStreak,
		&longestEnd,
		&rec.LedgerPeriod,
		&confirmations,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return streak.NewRecord(guildID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load streak record: %w", err)
	}

	rec.StartDate = streak.ParseDateOrZero(start.String)
	rec.LastLoggedDate = streak.ParseDateOrZero(last.String)
	rec.LongestStreakEndDate = streak.ParseDateOrZero(longestEnd.String)
	rec.Confirmations = decodeConfirmations(confirmations)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	rec.Normalize()
	return rec, nil
}

func (s *SQLiteStore) Save(ctx context.Context, guildID string, rec *streak.Record) error {
	query := `
	INSERT INTO streak_records (guild_id, streak_count, start_date, last_logged_date, reminder_time,
		longest_streak, longest_streak_end_date, ledger_period, confirmations, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (guild_id) DO UPDATE SET
		streak_count = excluded.streak_count,
		start_date = excluded.start_date,
		last_logged_date = excluded.last_logged_date,
		reminder_time = excluded.reminder_time,
		longest_streak = excluded.longest_streak,
		longest_streak_end_date = excluded.longest_streak_end_date,
		ledger_period = excluded.ledger_period,
		confirmations = excluded.confirmations,
		updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		guildID,
		rec.StreakCount,
		textDate(rec.StartDate),
		textDate(rec.LastLoggedDate),
		rec.ReminderTime,
		rec.LongestStreak,
		textDate(rec.LongestStreakEndDate),
		rec.LedgerPeriod,
		encodeConfirmations(rec.Confirmations),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save streak record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadLedger(ctx context.Context, guildID string) ([]lbtypes.Entry, error) {
	query := `
	SELECT user_id, display_name, contributions, last_log_date, credited_dates
	FROM ledger_entries
	WHERE guild_id = ?
	ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	defer rows.Close()

	entries := []lbtypes.Entry{}
	for rows.Next() {
		var e lbtypes.Entry
		var last sql.NullString
		var credited string
		if err := rows.Scan(&e.UserID, &e.DisplayName, &e.Contributions, &last, &credited); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.LastLogDate = streak.ParseDateOrZero(last.String)
		e.CreditedDates = decodeDates(credited)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) UpsertLedgerEntry(ctx context.Context, guildID string, u lbtypes.Update) error {
	query := `
	INSERT INTO ledger_entries (guild_id, user_id, display_name, contributions, last_log_date, credited_dates)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (guild_id, user_id) DO UPDATE SET
		contributions = contributions + excluded.contributions,
		display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE display_name END,
		credited_dates = CASE WHEN excluded.last_log_date IS NULL THEN credited_dates ELSE excluded.credited_dates END,
		last_log_date = COALESCE(excluded.last_log_date, last_log_date)
	`

	_, err := s.db.ExecContext(ctx, query, guildID, u.UserID, u.DisplayName, u.Delta, textDate(u.Date), encodeDates(u.CreditedDates))
	if err != nil {
		return fmt.Errorf("failed to upsert ledger entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetLedgerCount(ctx context.Context, guildID, userID, displayName string, count int) error {
	query := `
	INSERT INTO ledger_entries (guild_id, user_id, display_name, contributions)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (guild_id, user_id) DO UPDATE SET
		contributions = excluded.contributions,
		display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE display_name END
	`

	if _, err := s.db.ExecContext(ctx, query, guildID, userID, displayName, count); err != nil {
		return fmt.Errorf("failed to set contributions: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearLedger(ctx context.Context, guildID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ledger_entries WHERE guild_id = ?`, guildID); err != nil {
		return fmt.Errorf("failed to clear ledger: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }
