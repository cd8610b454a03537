package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"streakkeeper/internal/achievement"
	"streakkeeper/internal/leaderboard"
	"streakkeeper/internal/tracker"
	lbtypes "streakkeeper/internal/types/leaderboard"
	"streakkeeper/internal/types/streak"
	"streakkeeper/middleware"
	"streakkeeper/services"
)

// Messenger sends replies back to the chat platform.
type Messenger interface {
	Send(ctx context.Context, channelID, content string) (string, error)
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	SendFile(ctx context.Context, channelID, content, name string, data []byte) error
}

// Command is a chat message that may carry a bot command.
type Command struct {
	GuildID       string
	ChannelID     string
	MessageID     string
	Author        services.Actor
	Content       string
	HasAttachment bool
	// Mentions holds the members the platform could resolve, in order.
	Mentions []services.Actor
}

type Reaction struct {
	GuildID   string
	ChannelID string
	MessageID string
	Emoji     string
	User      services.Actor
}

// Limiter throttles commands per user.
type Limiter interface {
	Allow(key string) bool
}

const (
	msgNoProof          = "Did it even happen if there's no proof? 🤔"
	msgAlreadyLogged    = "Thanks! The streak’s logged. See you tomorrow! 🌟"
	msgAlreadyCredited  = "The streak’s already logged and you’ve already contributed today. See you tomorrow! 🌟"
	msgBrokenOnLog      = "😢 The streak was broken! Starting fresh from today."
	msgBrokenOnView     = "😢 The streak was broken! It's now reset to 0 days."
	msgNoContributions  = "No contributions yet! Be the first to log a streak! 🔥"
	msgNoPermission     = "You do not have permission to use this command."
	msgNotAllowListed   = "You are not allowed to reset the leaderboard."
	msgMissingTime      = "You need to provide a time! Use the format HH:MM in 24-hour time (e.g., 19:00)."
	msgInvalidTime      = "Invalid time format! Please use HH:MM in 24-hour format (e.g., 19:00)."
	msgNegative         = "Contributions cannot be negative."
	msgBadContribArgs   = "Please mention a valid user and provide a valid number."
	msgSlowDown         = "Slow down! You're sending commands too quickly. ⏳"
	msgGenericFailure   = "Something went wrong. Please try again."
	msgClockSkew        = "The bot's clock looks off, so this log was ignored. Please try again later."
	msgLeaderboardReset = "The leaderboard has been reset. 🧹"
)

// CommandHandler parses prefixed chat commands, calls the streak service and
// formats the replies.
type CommandHandler struct {
	svc       *services.StreakService
	messenger Messenger
	prefix    string
	limiter   Limiter
	logger    *zap.Logger
}

func NewCommandHandler(svc *services.StreakService, messenger Messenger, prefix string, limiter Limiter, logger *zap.Logger) *CommandHandler {
	if prefix == "" {
		prefix = "!"
	}
	return &CommandHandler{
		svc:       svc,
		messenger: messenger,
		prefix:    prefix,
		limiter:   limiter,
		logger:    logger,
	}
}

// parse splits "!name a b" into the lower-cased name and its arguments.
func (h *CommandHandler) parse(content string) (string, []string, bool) {
	if !strings.HasPrefix(content, h.prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, h.prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

type commandFunc func(ctx context.Context, cmd *Command, args []string) (string, error)

func (h *CommandHandler) commands() map[string]commandFunc {
	return map[string]commandFunc{
		"log":              h.log,
		"streak":           h.streak,
		"leaderboard":      h.leaderboard,
		"stats":            h.stats,
		"longeststreak":    h.longest,
		"remindertime":     h.reminderTime,
		"setremindertime":  h.setReminderTime,
		"reset":            h.reset,
		"resetleaderboard": h.resetLeaderboard,
		"export":           h.export,
		"setcontributions": h.setContributions,
		"help":             h.help,
	}
}

// HandleCommand runs cmd if it is a known command. Messages from bots and
// unknown commands are ignored.
func (h *CommandHandler) HandleCommand(ctx context.Context, cmd *Command) {
	if cmd.Author.IsBot {
		return
	}
	name, args, ok := h.parse(cmd.Content)
	if !ok {
		return
	}
	run, ok := h.commands()[name]
	if !ok {
		return
	}

	logger := h.logger.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("command", name),
		zap.String("guild_id", cmd.GuildID),
		zap.String("user_id", cmd.Author.UserID),
	)

	if h.limiter != nil && !h.limiter.Allow(cmd.Author.UserID) {
		middleware.RecordCommand(name, "rate_limited")
		h.reply(ctx, logger, cmd.ChannelID, msgSlowDown)
		return
	}

	text, err := run(ctx, cmd, args)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		text = h.errorReply(logger, err)
	}
	middleware.RecordCommand(name, outcome)

	if text != "" {
		h.reply(ctx, logger, cmd.ChannelID, text)
	}
}

func (h *CommandHandler) errorReply(logger *zap.Logger, err error) string {
	switch {
	case errors.Is(err, services.ErrForbidden):
		return msgNoPermission
	case errors.Is(err, services.ErrNoAttachment):
		return msgNoProof
	case errors.Is(err, services.ErrInvalidReminderTime):
		return msgInvalidTime
	case errors.Is(err, services.ErrNegativeContributions):
		return msgNegative
	case errors.Is(err, services.ErrNegativeCount):
		return "The streak cannot be reset to a negative number."
	case errors.Is(err, tracker.ErrClockSkew):
		logger.Warn("log rejected", zap.Error(err))
		return msgClockSkew
	}
	logger.Error("command failed", zap.Error(err))
	return msgGenericFailure
}

func (h *CommandHandler) reply(ctx context.Context, logger *zap.Logger, channelID, text string) {
	if _, err := h.messenger.Send(ctx, channelID, text); err != nil {
		logger.Error("failed to send reply", zap.Error(err))
	}
}

func (h *CommandHandler) log(ctx context.Context, cmd *Command, _ []string) (string, error) {
	res, err := h.svc.Log(ctx, cmd.GuildID, cmd.Author, cmd.HasAttachment)
	if err != nil {
		return "", err
	}
	middleware.SetStreakCount(cmd.GuildID, res.Record.StreakCount)

	if res.Outcome.Transition == tracker.NoOp {
		if res.Credited {
			return msgAlreadyLogged, nil
		}
		return msgAlreadyCredited, nil
	}

	var lines []string
	if res.Outcome.Transition == tracker.Break {
		lines = append(lines, msgBrokenOnLog)
	}
	for _, m := range res.Outcome.Milestones {
		lines = append(lines, FormatMilestone(m, res.Record.StreakCount))
	}
	for _, line := range lines {
		if _, err := h.messenger.Send(ctx, cmd.ChannelID, line); err != nil {
			return "", fmt.Errorf("failed to send log notice: %w", err)
		}
	}

	confirmation := fmt.Sprintf("Entry logged! The streak is now %s long! React with %s to contribute!",
		days(res.Record.StreakCount), services.ContributionEmoji)
	msgID, err := h.messenger.Send(ctx, cmd.ChannelID, confirmation)
	if err != nil {
		return "", fmt.Errorf("failed to send confirmation: %w", err)
	}
	if err := h.messenger.AddReaction(ctx, cmd.ChannelID, msgID, services.ContributionEmoji); err != nil {
		h.logger.Warn("failed to add reaction", zap.String("message_id", msgID), zap.Error(err))
	}
	err = h.svc.TrackConfirmation(ctx, cmd.GuildID, streak.Confirmation{
		MessageID: msgID,
		ChannelID: cmd.ChannelID,
		Date:      res.Record.LastLoggedDate,
		LoggerID:  cmd.Author.UserID,
	})
	if err != nil {
		return "", err
	}
	return "", nil
}

// HandleReaction credits a member who reacted to a confirmation.
func (h *CommandHandler) HandleReaction(ctx context.Context, r *Reaction) {
	res, err := h.svc.React(ctx, r.GuildID, r.MessageID, r.Emoji, r.User)
	if err != nil {
		h.logger.Error("reaction failed",
			zap.String("guild_id", r.GuildID),
			zap.String("message_id", r.MessageID),
			zap.Error(err),
		)
		return
	}
	if res.Credited {
		middleware.RecordCommand("reaction", "credited")
		h.logger.Info("reaction credited",
			zap.String("guild_id", r.GuildID),
			zap.String("user_id", r.User.UserID),
		)
	}
}

func (h *CommandHandler) streak(ctx context.Context, cmd *Command, _ []string) (string, error) {
	res, err := h.svc.View(ctx, cmd.GuildID)
	if err != nil {
		return "", err
	}
	middleware.SetStreakCount(cmd.GuildID, res.Record.StreakCount)
	if res.Outcome.Transition == tracker.Break {
		return msgBrokenOnView, nil
	}
	return fmt.Sprintf("The current streak is %s!", days(res.Record.StreakCount)), nil
}

func (h *CommandHandler) leaderboard(ctx context.Context, cmd *Command, args []string) (string, error) {
	n := 0
	if len(args) > 0 {
		if v, err := strconv.Atoi(args[0]); err == nil && v > 0 {
			n = v
		}
	}
	board, err := h.svc.Leaderboard(ctx, cmd.GuildID, n)
	if err != nil {
		return "", err
	}
	if len(board.Entries) == 0 {
		return msgNoContributions, nil
	}
	if n == 0 {
		n = leaderboard.DefaultTopN
	}
	return FormatLeaderboard(fmt.Sprintf("Leaderboard (Top %d)", n), board), nil
}

func (h *CommandHandler) stats(ctx context.Context, cmd *Command, _ []string) (string, error) {
	member := cmd.Author
	if len(cmd.Mentions) > 0 {
		member = cmd.Mentions[0]
	}
	res, err := h.svc.Stats(ctx, cmd.GuildID, member.UserID)
	if err != nil {
		return "", err
	}
	name := displayName(member)
	if res.Rank == 0 {
		return fmt.Sprintf("%s has not contributed yet.", name), nil
	}
	return fmt.Sprintf("**%s's Stats:**\n🌟 Contributions: %d\n🏅 Leaderboard Rank: %d", name, res.Contributions, res.Rank), nil
}

func (h *CommandHandler) longest(ctx context.Context, cmd *Command, _ []string) (string, error) {
	count, end, err := h.svc.Longest(ctx, cmd.GuildID)
	if err != nil {
		return "", err
	}
	if count == 0 {
		return "No streak has ended yet, so there is no longest streak on record.", nil
	}
	return fmt.Sprintf("🏆 The longest streak was %s, ending on %s.", days(count), end.Display()), nil
}

func (h *CommandHandler) reminderTime(ctx context.Context, cmd *Command, _ []string) (string, error) {
	rt, err := h.svc.ReminderTime(ctx, cmd.GuildID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("The current reminder time is %s.", rt), nil
}

func (h *CommandHandler) setReminderTime(ctx context.Context, cmd *Command, args []string) (string, error) {
	if len(args) == 0 {
		return msgMissingTime, nil
	}
	prev, next, err := h.svc.SetReminderTime(ctx, cmd.GuildID, args[0])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Reminder time has been updated from %s to %s!", prev, next), nil
}

func (h *CommandHandler) reset(ctx context.Context, cmd *Command, args []string) (string, error) {
	count := 0
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Sprintf("Usage: `%sreset [days]`", h.prefix), nil
		}
		count = v
	}
	rec, err := h.svc.Reset(ctx, cmd.GuildID, cmd.Author, count)
	if err != nil {
		return "", err
	}
	middleware.SetStreakCount(cmd.GuildID, rec.StreakCount)
	return fmt.Sprintf("The streak has been reset to %s.", days(rec.StreakCount)), nil
}

func (h *CommandHandler) resetLeaderboard(ctx context.Context, cmd *Command, _ []string) (string, error) {
	err := h.svc.ResetLeaderboard(ctx, cmd.GuildID, cmd.Author)
	if errors.Is(err, services.ErrForbidden) {
		return msgNotAllowListed, nil
	}
	if err != nil {
		return "", err
	}
	return msgLeaderboardReset, nil
}

func (h *CommandHandler) export(ctx context.Context, cmd *Command, _ []string) (string, error) {
	data, err := h.svc.Export(ctx, cmd.GuildID)
	if err == nil {
		err = h.messenger.SendFile(ctx, cmd.ChannelID, "Here is the exported streak data:",
			fmt.Sprintf("streak-%s.json", cmd.GuildID), data)
	}
	if err != nil {
		h.logger.Error("export failed", zap.String("guild_id", cmd.GuildID), zap.Error(err))
		return fmt.Sprintf("Failed to export data: %v", err), nil
	}
	return "", nil
}

func (h *CommandHandler) setContributions(ctx context.Context, cmd *Command, args []string) (string, error) {
	if len(args) < 2 {
		return fmt.Sprintf("Usage: `%ssetcontributions @member <number>`", h.prefix), nil
	}
	if !cmd.Author.IsAdmin {
		return "", services.ErrForbidden
	}
	count, err := strconv.Atoi(args[len(args)-1])
	if err != nil || len(cmd.Mentions) == 0 {
		return msgBadContribArgs, nil
	}
	target := cmd.Mentions[0]
	if err := h.svc.SetContributions(ctx, cmd.GuildID, cmd.Author, target, count); err != nil {
		return "", err
	}
	return fmt.Sprintf("Contributions for **%s** have been set to %d. 🚀", displayName(target), count), nil
}

func (h *CommandHandler) help(_ context.Context, _ *Command, _ []string) (string, error) {
	p := h.prefix
	lines := []string{
		"**StreakKeeper commands:**",
		p + "log (attach your proof) - log today's streak",
		p + "streak - show the current streak",
		p + "leaderboard [n] - top contributors",
		p + "stats [@member] - contributions and rank",
		p + "longeststreak - the longest streak so far",
		p + "remindertime - show the daily reminder time",
		p + "setremindertime HH:MM - change the reminder time",
		p + "reset [days] - admins: reset the streak",
		p + "resetleaderboard - clear the leaderboard",
		p + "setcontributions @member <number> - admins: set contributions",
		p + "export - download the raw streak data",
	}
	return strings.Join(lines, "\n"), nil
}

// FormatLeaderboard renders ranked entries with user mentions.
func FormatLeaderboard(title string, board *lbtypes.Leaderboard) string {
	if board == nil || len(board.Entries) == 0 {
		return fmt.Sprintf("**%s:**\n%s", title, msgNoContributions)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**%s:**", title)
	for _, e := range board.Entries {
		fmt.Fprintf(&b, "\n%d. <@%s>: %dx", e.Rank, e.UserID, e.Contributions)
	}
	return b.String()
}

// FormatMilestone renders the celebration for one milestone.
func FormatMilestone(m achievement.Milestone, count int) string {
	switch m.Kind {
	case achievement.KindYear, achievement.KindMonth:
		return fmt.Sprintf("🎉 **Happy anniversary!** The streak is %s old today! 🚀", m)
	default:
		return fmt.Sprintf("🎉 **Milestone reached!** %s of streak! 🚀", days(count))
	}
}

func days(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}

func displayName(a services.Actor) string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return "<@" + a.UserID + ">"
}
