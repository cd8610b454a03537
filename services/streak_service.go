package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"streakkeeper/internal/leaderboard"
	"streakkeeper/internal/store"
	"streakkeeper/internal/tracker"
	lbtypes "streakkeeper/internal/types/leaderboard"
	"streakkeeper/internal/types/streak"
)

// ContributionEmoji is the reaction that credits a member on a confirmation.
const ContributionEmoji = "➕"

var (
	ErrNoAttachment          = errors.New("log requires a proof attachment")
	ErrInvalidReminderTime   = streak.ErrInvalidReminderTime
	ErrNegativeContributions = errors.New("contributions cannot be negative")
	ErrNegativeCount         = errors.New("streak count cannot be negative")
	ErrForbidden             = errors.New("permission denied")
)

// Actor is the member issuing a command or reaction.
type Actor struct {
	UserID      string
	DisplayName string
	IsAdmin     bool
	IsBot       bool
}

type LogResult struct {
	Outcome tracker.Outcome
	Record  streak.Record
	// Credited is false when the caller already contributed for today.
	Credited bool
}

type ViewResult struct {
	Outcome tracker.Outcome
	Record  streak.Record
}

type StatsResult struct {
	UserID        string `json:"user_id"`
	Contributions int    `json:"contributions"`
	// Rank is 0 when the user has no ledger entry.
	Rank       int `json:"rank"`
	TotalUsers int `json:"total_users"`
}

type ReactResult struct {
	Credited  bool
	Duplicate bool
}

// Snapshot is the export document for one guild.
type Snapshot struct {
	GuildID    string          `json:"guild_id"`
	ExportedAt time.Time       `json:"exported_at"`
	Record     *streak.Record  `json:"record"`
	Ledger     []lbtypes.Entry `json:"ledger"`
}

// Rollover describes a closed ledger period.
type Rollover struct {
	Period string
	Board  *lbtypes.Leaderboard
}

type StreakService struct {
	store             store.Store
	logger            *zap.Logger
	loc               *time.Location
	now               func() time.Time
	leaderboardAdmins map[string]bool

	mu     sync.Mutex
	guilds map[string]*sync.Mutex
}

func NewStreakService(st store.Store, logger *zap.Logger, loc *time.Location, leaderboardAdmins []string) *StreakService {
	if loc == nil {
		loc = time.Local
	}
	admins := make(map[string]bool, len(leaderboardAdmins))
	for _, id := range leaderboardAdmins {
		admins[id] = true
	}
	return &StreakService{
		store:             st,
		logger:            logger,
		loc:               loc,
		now:               time.Now,
		leaderboardAdmins: admins,
		guilds:            make(map[string]*sync.Mutex),
	}
}

// SetClock replaces the time source. Used by tests and the CLI.
func (s *StreakService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *StreakService) Location() *time.Location { return s.loc }

// Now is the current time in the configured zone.
func (s *StreakService) Now() time.Time { return s.now().In(s.loc) }

func (s *StreakService) Today() streak.Date { return streak.DateOf(s.Now()) }

// lock serialises load/modify/save cycles per guild inside this process.
func (s *StreakService) lock(guildID string) func() {
	s.mu.Lock()
	m, ok := s.guilds[guildID]
	if !ok {
		m = &sync.Mutex{}
		s.guilds[guildID] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func (s *StreakService) save(ctx context.Context, guildID string, rec *streak.Record) error {
	rec.UpdatedAt = s.now().UTC()
	if err := s.store.Save(ctx, guildID, rec); err != nil {
		return fmt.Errorf("failed to save streak: %w", err)
	}
	return nil
}

// credit adds one contribution for date unless the user was already credited
// for that day.
func (s *StreakService) credit(ctx context.Context, guildID string, who Actor, date streak.Date) (bool, error) {
	entries, err := s.store.LoadLedger(ctx, guildID)
	if err != nil {
		return false, fmt.Errorf("failed to load ledger: %w", err)
	}
	entry := leaderboard.Find(entries, who.UserID)
	if !leaderboard.CanCredit(entry, date) {
		return false, nil
	}
	update := leaderboard.Credit(entry, who.UserID, who.DisplayName, date, s.Today())
	if err := s.store.UpsertLedgerEntry(ctx, guildID, update); err != nil {
		return false, fmt.Errorf("failed to credit contribution: %w", err)
	}
	return true, nil
}

// Log records a proof post by who. The streak moves at most once per day;
// the caller is credited once per day regardless.
func (s *StreakService) Log(ctx context.Context, guildID string, who Actor, hasAttachment bool) (*LogResult, error) {
	if !hasAttachment {
		return nil, ErrNoAttachment
	}

	unlock := s.lock(guildID)
	defer unlock()

	rec, err := s.store.Load(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to load streak: %w", err)
	}

	today := s.Today()
	outcome, err := tracker.ApplyLog(rec, today)
	if err != nil {
		s.logger.Warn("ignoring log with skewed clock",
			zap.String("guild_id", guildID),
			zap.String("last_logged_date", rec.LastLoggedDate.String()),
			zap.String("today", today.String()),
		)
		return nil, err
	}

	// Record before ledger: a failed save must leave no contribution behind.
	if outcome.Transition != tracker.NoOp {
		if err := s.save(ctx, guildID, rec); err != nil {
			return nil, err
		}
	}

	credited, err := s.credit(ctx, guildID, who, today)
	if err != nil {
		return nil, err
	}

	s.logger.Info("streak logged",
		zap.String("guild_id", guildID),
		zap.String("user_id", who.UserID),
		zap.String("transition", string(outcome.Transition)),
		zap.Int("streak_count", rec.StreakCount),
		zap.Bool("credited", credited),
	)
	return &LogResult{Outcome: outcome, Record: *rec, Credited: credited}, nil
}

// TrackConfirmation remembers a posted confirmation so reactions on it can be
// credited.
func (s *StreakService) TrackConfirmation(ctx context.Context, guildID string, c streak.Confirmation) error {
	unlock := s.lock(guildID)
	defer unlock()

	rec, err := s.store.Load(ctx, guildID)
	if err != nil {
		return fmt.Errorf("failed to load streak: %w", err)
	}
	if c.Date.IsZero() {
		c.Date = s.Today()
	}
	rec.Track(c, s.Today())
	return s.save(ctx, guildID, rec)
}

// React credits who for the day of a tracked confirmation message.
func (s *StreakService) React(ctx context.Context, guildID, messageID, emoji string, who Actor) (*ReactResult, error) {
	if who.IsBot || emoji != ContributionEmoji {
		return &ReactResult{}, nil
	}

	unlock := s.lock(guildID)
	defer unlock()

	rec, err := s.store.Load(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to load streak: %w", err)
	}
	c, ok := rec.Confirmation(messageID, s.Today())
	if !ok {
		return &ReactResult{}, nil
	}

	credited, err := s.credit(ctx, guildID, who, c.Date)
	if err != nil {
		return nil, err
	}
	return &ReactResult{Credited: credited, Duplicate: !credited}, nil
}

// View returns the current streak, breaking it first when the last log is
// more than a day old.
func (s *StreakService) View(ctx context.Context, guildID string) (*ViewResult, error) {
	unlock := s.lock(guildID)
	defer unlock()

	rec, err := s.store.Load(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to load streak: %w", err)
	}
	outcome := tracker.ApplyView(rec, s.Today())
	if outcome.Transition == tracker.Break {
		if err := s.save(ctx, guildID, rec); err != nil {
			return nil, err
		}
		s.logger.Info("streak broken on view",
			zap.String("guild_id", guildID),
			zap.Int("broken_count", outcome.BrokenCount),
		)
	}
	return &ViewResult{Outcome: outcome, Record: *rec}, nil
}

// Record returns the stored record without applying any transition.
func (s *StreakService) Record(ctx context.Context, guildID string) (*streak.Record, error) {
	rec, err := s.store.Load(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to load streak: %w", err)
	}
	return rec, nil
}

func (s *StreakService) Leaderboard(ctx context.Context, guildID string, n int) (*lbtypes.Leaderboard, error) {
	if n <= 0 {
		n = leaderboard.DefaultTopN
	}
	entries, err := s.store.LoadLedger(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	return leaderboard.Build(entries, "", n), nil
}

func (s *StreakService) Stats(ctx context.Context, guildID, userID string) (*StatsResult, error) {
	entries, err := s.store.LoadLedger(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	res := &StatsResult{UserID: userID, TotalUsers: len(entries)}
	if e := leaderboard.Find(entries, userID); e != nil {
		res.Contributions = e.Contributions
		res.Rank = leaderboard.Rank(entries, userID)
	}
	return res, nil
}

// Longest returns the longest finished streak and the day it ended.
func (s *StreakService) Longest(ctx context.Context, guildID string) (int, streak.Date, error) {
	rec, err := s.Record(ctx, guildID)
	if err != nil {
		return 0, streak.Date{}, err
	}
	return rec.LongestStreak, rec.LongestStreakEndDate, nil
}

func (s *StreakService) ReminderTime(ctx context.Context, guildID string) (string, error) {
	rec, err := s.Record(ctx, guildID)
	if err != nil {
		return "", err
	}
	return rec.ReminderTime, nil
}

// SetReminderTime validates input before touching the record and returns the
// previous and new values.
func (s *StreakService) SetReminderTime(ctx context.Context, guildID, input string) (string, string, error) {
	rt, err := streak.ParseReminderTime(input)
	if err != nil {
		return "", "", err
	}

	unlock := s.lock(guildID)
	defer unlock()

	rec, err := s.store.Load(ctx, guildID)
	if err != nil {
		return "", "", fmt.Errorf("failed to load streak: %w", err)
	}
	prev := rec.ReminderTime
	rec.ReminderTime = rt.String()
	if err := s.save(ctx, guildID, rec); err != nil {
		return "", "", err
	}
	return prev, rec.ReminderTime, nil
}

// Reset sets the streak to count. Admins only.
func (s *StreakService) Reset(ctx context.Context, guildID string, who Actor, count int) (*streak.Record, error) {
	if !who.IsAdmin {
		return nil, ErrForbidden
	}
	if count < 0 {
		return nil, ErrNegativeCount
	}

	unlock := s.lock(guildID)
	defer unlock()

	rec, err := s.store.Load(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to load streak: %w", err)
	}
	tracker.Reset(rec, count, s.Today())
	if err := s.save(ctx, guildID, rec); err != nil {
		return nil, err
	}
	s.logger.Info("streak reset",
		zap.String("guild_id", guildID),
		zap.String("user_id", who.UserID),
		zap.Int("count", count),
	)
	return rec, nil
}

// ResetLeaderboard clears the ledger for allow-listed users.
func (s *StreakService) ResetLeaderboard(ctx context.Context, guildID string, who Actor) error {
	if !s.leaderboardAdmins[who.UserID] {
		return ErrForbidden
	}

	unlock := s.lock(guildID)
	defer unlock()

	if err := s.store.ClearLedger(ctx, guildID); err != nil {
		return fmt.Errorf("failed to clear ledger: %w", err)
	}
	s.logger.Info("leaderboard cleared", zap.String("guild_id", guildID), zap.String("user_id", who.UserID))
	return nil
}

// SetContributions overrides target's count. Admins only.
func (s *StreakService) SetContributions(ctx context.Context, guildID string, who Actor, target Actor, count int) error {
	if !who.IsAdmin {
		return ErrForbidden
	}
	if count < 0 {
		return ErrNegativeContributions
	}

	unlock := s.lock(guildID)
	defer unlock()

	if err := s.store.SetLedgerCount(ctx, guildID, target.UserID, target.DisplayName, count); err != nil {
		return fmt.Errorf("failed to set contributions: %w", err)
	}
	return nil
}

func (s *StreakService) Snapshot(ctx context.Context, guildID string) (*Snapshot, error) {
	rec, err := s.Record(ctx, guildID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.LoadLedger(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	return &Snapshot{
		GuildID:    guildID,
		ExportedAt: s.now().UTC(),
		Record:     rec,
		Ledger:     entries,
	}, nil
}

// Export renders the guild snapshot as indented JSON.
func (s *StreakService) Export(ctx context.Context, guildID string) ([]byte, error) {
	snap, err := s.Snapshot(ctx, guildID)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(snap, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}
	return data, nil
}

// ReminderDue reports whether the daily reminder should fire at now: the
// minute matches the configured time and nobody has logged today.
func (s *StreakService) ReminderDue(ctx context.Context, guildID string, now time.Time) (bool, *streak.Record, error) {
	rec, err := s.Record(ctx, guildID)
	if err != nil {
		return false, nil, err
	}
	now = now.In(s.loc)
	if !rec.Reminder().Matches(now) {
		return false, rec, nil
	}
	return !rec.LastLoggedDate.Equal(streak.DateOf(now)), rec, nil
}

// RollLedgerPeriod starts period when the ledger still belongs to an older
// one. The closing top ten is returned and the ledger is cleared. A record
// with no period yet is only stamped.
func (s *StreakService) RollLedgerPeriod(ctx context.Context, guildID, period string) (*Rollover, error) {
	unlock := s.lock(guildID)
	defer unlock()

	rec, err := s.store.Load(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to load streak: %w", err)
	}
	if rec.LedgerPeriod == period {
		return nil, nil
	}

	prev := rec.LedgerPeriod
	var out *Rollover
	if prev != "" {
		entries, err := s.store.LoadLedger(ctx, guildID)
		if err != nil {
			return nil, fmt.Errorf("failed to load ledger: %w", err)
		}
		out = &Rollover{Period: prev, Board: leaderboard.Build(entries, "", leaderboard.DefaultTopN)}
		if err := s.store.ClearLedger(ctx, guildID); err != nil {
			return nil, fmt.Errorf("failed to clear ledger: %w", err)
		}
	}

	rec.LedgerPeriod = period
	if err := s.save(ctx, guildID, rec); err != nil {
		return nil, err
	}
	s.logger.Info("ledger period started",
		zap.String("guild_id", guildID),
		zap.String("period", period),
		zap.String("previous", prev),
	)
	return out, nil
}
