package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	lbtypes "streakkeeper/internal/types/leaderboard"
	"streakkeeper/internal/types/streak"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS streak_records (
	guild_id                TEXT PRIMARY KEY,
	streak_count            INTEGER NOT NULL DEFAULT 0,
	start_date              DATE,
	last_logged_date        DATE,
	reminder_time           TEXT NOT NULL DEFAULT '19:00',
	longest_streak          INTEGER NOT NULL DEFAULT 0,
	longest_streak_end_date DATE,
	ledger_period           TEXT NOT NULL DEFAULT '',
	confirmations           JSONB NOT NULL DEFAULT '[]',
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id            UUID PRIMARY KEY,
	seq           BIGSERIAL,
	guild_id      TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	display_name  TEXT NOT NULL DEFAULT '',
	contributions INTEGER NOT NULL DEFAULT 0,
	last_log_date DATE,
	credited_dates TEXT NOT NULL DEFAULT '',
	UNIQUE (guild_id, user_id)
);

ALTER TABLE ledger_entries ADD COLUMN IF NOT EXISTS credited_dates TEXT NOT NULL DEFAULT '';
`

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dbURL string, logger *zap.Logger) (*PostgresStore, error) {
	if dbURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = 5
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("connected to postgres", zap.String("host", poolConfig.ConnConfig.Host))
	return &PostgresStore{db: pool}, nil
}

func pgDate(d streak.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.Time()
}

func fromPgDate(t *time.Time) streak.Date {
	if t == nil {
		return streak.Date{}
	}
	return streak.DateOf(t.UTC())
}

func (s *PostgresStore) Load(ctx context.Context, guildID string) (*streak.Record, error) {
	query := `
	SELECT streak_count, start_date, last_logged_date, reminder_time, longest_streak,
		longest_streak_end_date, ledger_period, confirmations::text, updated_at
	FROM streak_records
	WHERE guild_id = $1
	`

	rec := &streak.Record{GuildID: guildID}
	var start, last, longestEnd *time.Time
	var confirmations string
	err := s.db.QueryRow(ctx, query, guildID).Scan(
		&rec.StreakCount,
		&start,
		&last,
		&rec.ReminderTime,
		&rec.LongestStreak,
		&longestEnd,
		&rec.LedgerPeriod,
		&confirmations,
		&rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return streak.NewRecord(guildID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load streak record: %w", err)
	}

	rec.StartDate = fromPgDate(start)
	rec.LastLoggedDate = fromPgDate(last)
	rec.LongestStreakEndDate = fromPgDate(longestEnd)
	rec.Confirmations = decodeConfirmations(confirmations)
	rec.Normalize()
	return rec, nil
}

func (s *PostgresStore) Save(ctx context.Context, guildID string, rec *streak.Record) error {
	query := `
	INSERT INTO streak_records (guild_id, streak_count, start_date, last_logged_date, reminder_time,
		longest_streak, longest_streak_end_date, ledger_period, confirmations, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)
	ON CONFLICT (guild_id) DO UPDATE SET
		streak_count = EXCLUDED.streak_count,
		start_date = EXCLUDED.start_date,
		last_logged_date = EXCLUDED.last_logged_date,
		reminder_time = EXCLUDED.reminder_time,
		longest_streak = EXCLUDED.longest_streak,
		longest_streak_end_date = EXCLUDED.longest_streak_end_date,
		ledger_period = EXCLUDED.ledger_period,
		confirmations = EXCLUDED.confirmations,
		updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.Exec(ctx, query,
		guildID,
		rec.StreakCount,
		pgDate(rec.StartDate),
		pgDate(rec.LastLoggedDate),
		rec.ReminderTime,
		rec.LongestStreak,
		pgDate(rec.LongestStreakEndDate),
		rec.LedgerPeriod,
		encodeConfirmations(rec.Confirmations),
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save streak record: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadLedger(ctx context.Context, guildID string) ([]lbtypes.Entry, error) {
	query := `
	SELECT user_id, display_name, contributions, last_log_date, credited_dates
	FROM ledger_entries
	WHERE guild_id = $1
	ORDER BY seq
	`

	rows, err := s.db.Query(ctx, query, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	defer rows.Close()

	entries := []lbtypes.Entry{}
	for rows.Next() {
		var e lbtypes.Entry
		var last *time.Time
		var credited string
		if err := rows.Scan(&e.UserID, &e.DisplayName, &e.Contributions, &last, &credited); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.LastLogDate = fromPgDate(last)
		e.CreditedDates = decodeDates(credited)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) UpsertLedgerEntry(ctx context.Context, guildID string, u lbtypes.Update) error {
	query := `
	INSERT INTO ledger_entries (id, guild_id, user_id, display_name, contributions, last_log_date, credited_dates)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (guild_id, user_id) DO UPDATE SET
		contributions = ledger_entries.contributions + EXCLUDED.contributions,
		display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), ledger_entries.display_name),
		credited_dates = CASE WHEN EXCLUDED.last_log_date IS NULL THEN ledger_entries.credited_dates ELSE EXCLUDED.credited_dates END,
		last_log_date = COALESCE(EXCLUDED.last_log_date, ledger_entries.last_log_date)
	`

	_, err := s.db.Exec(ctx, query, uuid.New(), guildID, u.UserID, u.DisplayName, u.Delta, pgDate(u.Date), encodeDates(u.CreditedDates))
	if err != nil {
		return fmt.Errorf("failed to upsert ledger entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetLedgerCount(ctx context.Context, guildID, userID, displayName string, count int) error {
	query := `
	INSERT INTO ledger_entries (id, guild_id, user_id, display_name, contributions)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (guild_id, user_id) DO UPDATE SET
		contributions = EXCLUDED.contributions,
		display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), ledger_entries.display_name)
	`

	if _, err := s.db.Exec(ctx, query, uuid.New(), guildID, userID, displayName, count); err != nil {
		return fmt.Errorf("failed to set contributions: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearLedger(ctx context.Context, guildID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM ledger_entries WHERE guild_id = $1`, guildID); err != nil {
		return fmt.Errorf("failed to clear ledger: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
