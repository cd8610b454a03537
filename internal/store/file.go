package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	lbtypes "streakkeeper/internal/types/leaderboard"
	"streakkeeper/internal/types/streak"
)

// FileStore keeps every guild in one JSON document keyed by guild id. The
// file is re-read on every call and replaced atomically on write.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	if path == "" {
		path = "data.json"
	}
	return &FileStore{path: path}
}

// looseInt decodes numbers, numeric strings and anything else as 0.
type looseInt int

func (n *looseInt) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*n = looseInt(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*n = looseInt(parseCount(s))
		return nil
	}
	*n = 0
	return nil
}

type fileEntry struct {
	UserID        string        `json:"user_id"`
	DisplayName   string        `json:"display_name"`
	Contributions looseInt      `json:"contributions"`
	LastLogDate   streak.Date   `json:"last_log_date"`
	CreditedDates []streak.Date `json:"credited_dates,omitempty"`
}

type legacyCount struct {
	userID string
	count  looseInt
}

// legacyCounts decodes the old user_contributions object keeping the order
// the users appear in the file, which is their ledger order.
type legacyCounts []legacyCount

func (l *legacyCounts) UnmarshalJSON(b []byte) error {
	*l = nil
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		id, _ := tok.(string)
		var n looseInt
		if err := dec.Decode(&n); err != nil {
			return err
		}
		*l = append(*l, legacyCount{userID: id, count: n})
	}
	_, err = dec.Token()
	return err
}

type fileGuild struct {
	StreakCount          looseInt              `json:"streak_count"`
	StartDate            streak.Date           `json:"start_date"`
	LastLoggedDate       streak.Date           `json:"last_logged_date"`
	ReminderTime         string                `json:"reminder_time"`
	LongestStreak        looseInt              `json:"longest_streak"`
	LongestStreakEndDate streak.Date           `json:"longest_streak_end_date"`
	LedgerPeriod         string                `json:"ledger_period,omitempty"`
	Confirmations        []streak.Confirmation `json:"confirmations,omitempty"`
	UpdatedAt            time.Time             `json:"updated_at"`
	Ledger               []fileEntry           `json:"ledger"`

	// Written by the first version of the bot: user id to count.
	UserContributions legacyCounts `json:"user_contributions,omitempty"`
}

func (g *fileGuild) record(guildID string) *streak.Record {
	rec := &streak.Record{
		GuildID:              guildID,
		StreakCount:          int(g.StreakCount),
		StartDate:            g.StartDate,
		LastLoggedDate:       g.LastLoggedDate,
		ReminderTime:         g.ReminderTime,
		LongestStreak:        int(g.LongestStreak),
		LongestStreakEndDate: g.LongestStreakEndDate,
		LedgerPeriod:         g.LedgerPeriod,
		Confirmations:        g.Confirmations,
		UpdatedAt:            g.UpdatedAt,
	}
	rec.Normalize()
	return rec
}

func (g *fileGuild) setRecord(rec *streak.Record) {
	g.StreakCount = looseInt(rec.StreakCount)
	g.StartDate = rec.StartDate
	g.LastLoggedDate = rec.LastLoggedDate
	g.ReminderTime = rec.ReminderTime
	g.LongestStreak = looseInt(rec.LongestStreak)
	g.LongestStreakEndDate = rec.LongestStreakEndDate
	g.LedgerPeriod = rec.LedgerPeriod
	g.Confirmations = rec.Confirmations
	g.UpdatedAt = rec.UpdatedAt
}

// migrateLegacy folds the old user_contributions map into the ledger.
func (g *fileGuild) migrateLegacy() {
	for _, c := range g.UserContributions {
		if c.userID == "" || g.find(c.userID) != nil {
			continue
		}
		g.Ledger = append(g.Ledger, fileEntry{UserID: c.userID, Contributions: c.count})
	}
	g.UserContributions = nil
}

func (g *fileGuild) find(userID string) *fileEntry {
	for i := range g.Ledger {
		if g.Ledger[i].UserID == userID {
			return &g.Ledger[i]
		}
	}
	return nil
}

func (s *FileStore) read() (map[string]*fileGuild, error) {
	doc := map[string]*fileGuild{}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", s.path, err)
	}
	for _, g := range doc {
		if g != nil {
			g.migrateLegacy()
		}
	}
	return doc, nil
}

func (s *FileStore) write(doc map[string]*fileGuild) error {
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

// update runs fn on the guild's document under the store lock and writes
// the result back.
func (s *FileStore) update(guildID string, fn func(g *fileGuild)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	g, ok := doc[guildID]
	if !ok || g == nil {
		g = &fileGuild{ReminderTime: streak.DefaultReminderTime}
		doc[guildID] = g
	}
	fn(g)
	return s.write(doc)
}

func (s *FileStore) Load(ctx context.Context, guildID string) (*streak.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	g, ok := doc[guildID]
	if !ok || g == nil {
		return streak.NewRecord(guildID), nil
	}
	return g.record(guildID), nil
}

func (s *FileStore) Save(ctx context.Context, guildID string, rec *streak.Record) error {
	return s.update(guildID, func(g *fileGuild) { g.setRecord(rec) })
}

func (s *FileStore) LoadLedger(ctx context.Context, guildID string) ([]lbtypes.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	g, ok := doc[guildID]
	if !ok || g == nil {
		return []lbtypes.Entry{}, nil
	}
	entries := make([]lbtypes.Entry, 0, len(g.Ledger))
	for _, e := range g.Ledger {
		entries = append(entries, lbtypes.Entry{
			UserID:        e.UserID,
			DisplayName:   e.DisplayName,
			Contributions: int(e.Contributions),
			LastLogDate:   e.LastLogDate,
			CreditedDates: e.CreditedDates,
		})
	}
	return entries, nil
}

func (s *FileStore) UpsertLedgerEntry(ctx context.Context, guildID string, u lbtypes.Update) error {
	return s.update(guildID, func(g *fileGuild) {
		e := g.find(u.UserID)
		if e == nil {
			g.Ledger = append(g.Ledger, fileEntry{UserID: u.UserID})
			e = &g.Ledger[len(g.Ledger)-1]
		}
		e.Contributions += looseInt(u.Delta)
		if u.DisplayName != "" {
			e.DisplayName = u.DisplayName
		}
		if !u.Date.IsZero() {
			e.LastLogDate = u.Date
			e.CreditedDates = u.CreditedDates
		}
	})
}

func (s *FileStore) SetLedgerCount(ctx context.Context, guildID, userID, displayName string, count int) error {
	return s.update(guildID, func(g *fileGuild) {
		e := g.find(userID)
		if e == nil {
			g.Ledger = append(g.Ledger, fileEntry{UserID: userID})
			e = &g.Ledger[len(g.Ledger)-1]
		}
		e.Contributions = looseInt(count)
		if displayName != "" {
			e.DisplayName = displayName
		}
	})
}

func (s *FileStore) ClearLedger(ctx context.Context, guildID string) error {
	return s.update(guildID, func(g *fileGuild) { g.Ledger = nil })
}

// Ping checks that the data file's directory is reachable.
func (s *FileStore) Ping(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("data directory %q: %w", dir, err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
