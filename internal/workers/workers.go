// Package workers runs the periodic jobs for the served guild: the daily
// reminder and the monthly ledger rollover.
package workers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"streakkeeper/internal/notification"
	lbtypes "streakkeeper/internal/types/leaderboard"
	"streakkeeper/internal/types/streak"
	"streakkeeper/services"
)

const defaultPrefix = "!"

// ReminderMessage is the daily nudge, naming the log command under prefix.
func ReminderMessage(prefix string) string {
	return fmt.Sprintf("⏰ Friendly reminder: nobody has logged the streak yet today! Post your proof with `%slog` to keep it alive. 🔥", prefix)
}

// StreakSource is the part of the streak service the scheduler needs.
type StreakSource interface {
	Now() time.Time
	ReminderDue(ctx context.Context, guildID string, now time.Time) (bool, *streak.Record, error)
	RollLedgerPeriod(ctx context.Context, guildID, period string) (*services.Rollover, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, n *notification.Notification) error
}

// BoardFormatter renders a closing leaderboard for the channel.
type BoardFormatter func(title string, board *lbtypes.Leaderboard) string

type Config struct {
	GuildID   string
	ChannelID string
	// Prefix is the command prefix quoted in the reminder.
	Prefix   string
	Interval time.Duration
	// Reminders can be switched off while the monthly rollover keeps running.
	RemindersEnabled bool
}

// Scheduler checks both jobs on every tick. Neither job catches up on ticks
// it missed.
type Scheduler struct {
	cfg        Config
	source     StreakSource
	dispatcher Dispatcher
	format     BoardFormatter
	logger     *zap.Logger

	lastFired streak.Date
}

func NewScheduler(cfg Config, source StreakSource, dispatcher Dispatcher, format BoardFormatter, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	return &Scheduler{
		cfg:        cfg,
		source:     source,
		dispatcher: dispatcher,
		format:     format,
		logger:     logger.With(zap.String("guild_id", cfg.GuildID)),
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", zap.Duration("interval", s.cfg.Interval))
	for {
		select {
		case <-ticker.C:
			s.Tick(ctx, s.source.Now())
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		}
	}
}

// Tick runs both jobs for the instant now.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	if s.cfg.RemindersEnabled {
		if err := s.remind(ctx, now); err != nil {
			s.logger.Error("reminder check failed", zap.Error(err))
		}
	}
	if err := s.rollover(ctx, now); err != nil {
		s.logger.Error("ledger rollover failed", zap.Error(err))
	}
}

func (s *Scheduler) remind(ctx context.Context, now time.Time) error {
	today := streak.DateOf(now)
	if s.lastFired.Equal(today) {
		return nil
	}
	due, rec, err := s.source.ReminderDue(ctx, s.cfg.GuildID, now)
	if err != nil {
		return err
	}
	if !due {
		return nil
	}

	n := notification.New(notification.NotificationReminder, s.cfg.GuildID, s.cfg.ChannelID, "Streak reminder", ReminderMessage(s.cfg.Prefix))
	n.Data["streak_count"] = fmt.Sprint(rec.StreakCount)
	if err := s.dispatcher.Dispatch(ctx, n); err != nil {
		return fmt.Errorf("failed to dispatch reminder: %w", err)
	}
	s.lastFired = today
	s.logger.Info("reminder dispatched", zap.String("reminder_time", rec.ReminderTime))
	return nil
}

func (s *Scheduler) rollover(ctx context.Context, now time.Time) error {
	out, err := s.source.RollLedgerPeriod(ctx, s.cfg.GuildID, now.Format("2006-01"))
	if err != nil || out == nil {
		return err
	}

	title := "Final leaderboard for " + out.Period
	if t, err := time.Parse("2006-01", out.Period); err == nil {
		title = "Final leaderboard for " + t.Format("January 2006")
	}
	n := notification.New(notification.NotificationRollover, s.cfg.GuildID, s.cfg.ChannelID, title, s.format(title, out.Board))
	n.Data["period"] = out.Period
	if err := s.dispatcher.Dispatch(ctx, n); err != nil {
		return fmt.Errorf("failed to dispatch closing leaderboard: %w", err)
	}
	return nil
}
