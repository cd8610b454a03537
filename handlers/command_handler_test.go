package handlers

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"streakkeeper/internal/achievement"
	"streakkeeper/internal/store"
	lbtypes "streakkeeper/internal/types/leaderboard"
	"streakkeeper/services"
)

type sentFile struct {
	content, name string
	data          []byte
}

type fakeMessenger struct {
	mu        sync.Mutex
	messages  []string
	reactions []string
	files     []sentFile
	fileErr   error
	nextID    int
}

func (f *fakeMessenger) Send(_ context.Context, _ string, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, content)
	f.nextID++
	return fmt.Sprintf("msg-%d", f.nextID), nil
}

func (f *fakeMessenger) AddReaction(_ context.Context, _, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, messageID+" "+emoji)
	return nil
}

func (f *fakeMessenger) SendFile(_ context.Context, _, content, name string, data []byte) error {
	if f.fileErr != nil {
		return f.fileErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, sentFile{content, name, data})
	return nil
}

func (f *fakeMessenger) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return ""
	}
	return f.messages[len(f.messages)-1]
}

func (f *fakeMessenger) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = nil
	f.reactions = nil
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

type harness struct {
	h    *CommandHandler
	svc  *services.StreakService
	msgr *fakeMessenger
	now  time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	hs := &harness{
		msgr: &fakeMessenger{},
		now:  time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC),
	}
	st := store.NewFileStore(filepath.Join(t.TempDir(), "data.json"))
	hs.svc = services.NewStreakService(st, zap.NewNop(), time.UTC, []string{"owner"})
	hs.svc.SetClock(func() time.Time { return hs.now })
	hs.h = NewCommandHandler(hs.svc, hs.msgr, "!", nil, zap.NewNop())
	return hs
}

var (
	ann   = services.Actor{UserID: "ann", DisplayName: "Ann"}
	ben   = services.Actor{UserID: "ben", DisplayName: "Ben"}
	modly = services.Actor{UserID: "mod", DisplayName: "Mod", IsAdmin: true}
)

func (hs *harness) run(author services.Actor, content string, opts ...func(*Command)) string {
	cmd := &Command{GuildID: "g1", ChannelID: "c1", MessageID: "in", Author: author, Content: content}
	for _, o := range opts {
		o(cmd)
	}
	hs.h.HandleCommand(context.Background(), cmd)
	return hs.msgr.last()
}

func withAttachment(c *Command) { c.HasAttachment = true }

func mentioning(a services.Actor) func(*Command) {
	return func(c *Command) { c.Mentions = append(c.Mentions, a) }
}

func TestParse(t *testing.T) {
	h := &CommandHandler{prefix: "!"}

	name, args, ok := h.parse("!Leaderboard  5 ")
	require.True(t, ok)
	assert.Equal(t, "leaderboard", name)
	assert.Equal(t, []string{"5"}, args)

	_, _, ok = h.parse("hello !log")
	assert.False(t, ok)
	_, _, ok = h.parse("!")
	assert.False(t, ok)
}

func TestLogCommand(t *testing.T) {
	hs := newHarness(t)

	assert.Equal(t, msgNoProof, hs.run(ann, "!log"))

	hs.msgr.reset()
	hs.run(ann, "!log", withAttachment)
	require.Len(t, hs.msgr.messages, 2)
	assert.Contains(t, hs.msgr.messages[0], "Milestone reached!")
	assert.Equal(t, "Entry logged! The streak is now 1 day long! React with ➕ to contribute!", hs.msgr.messages[1])
	assert.Equal(t, []string{"msg-3 ➕"}, hs.msgr.reactions)

	assert.Equal(t, msgAlreadyLogged, hs.run(ben, "!log", withAttachment))
	assert.Equal(t, msgAlreadyCredited, hs.run(ann, "!log", withAttachment))

	// reaction on the tracked confirmation credits a third member
	hs.h.HandleReaction(context.Background(), &Reaction{
		GuildID: "g1", ChannelID: "c1", MessageID: "msg-3", Emoji: "➕",
		User: services.Actor{UserID: "cat", DisplayName: "Cat"},
	})
	assert.Contains(t, hs.run(ann, "!leaderboard"), "<@cat>: 1x")
}

func TestLogCommandAfterBreak(t *testing.T) {
	hs := newHarness(t)
	hs.run(ann, "!log", withAttachment)

	hs.now = hs.now.AddDate(0, 0, 3)
	hs.msgr.reset()
	hs.run(ann, "!log", withAttachment)
	assert.Equal(t, msgBrokenOnLog, hs.msgr.messages[0])
	assert.Equal(t, "Entry logged! The streak is now 1 day long! React with ➕ to contribute!", hs.msgr.last())

	assert.Equal(t, "🏆 The longest streak was 1 day, ending on 2024-03-10.", hs.run(ann, "!longeststreak"))
}

func TestStreakCommand(t *testing.T) {
	hs := newHarness(t)
	assert.Equal(t, "The current streak is 0 days!", hs.run(ann, "!streak"))

	hs.run(ann, "!log", withAttachment)
	assert.Equal(t, "The current streak is 1 day!", hs.run(ann, "!streak"))

	hs.now = hs.now.AddDate(0, 0, 2)
	assert.Equal(t, msgBrokenOnView, hs.run(ann, "!streak"))
	assert.Equal(t, "The current streak is 0 days!", hs.run(ann, "!streak"))
}

func TestLeaderboardAndStats(t *testing.T) {
	hs := newHarness(t)
	assert.Equal(t, msgNoContributions, hs.run(ann, "!leaderboard"))

	hs.run(ann, "!log", withAttachment)
	hs.run(ben, "!log", withAttachment)
	hs.now = hs.now.AddDate(0, 0, 1)
	hs.run(ben, "!log", withAttachment)

	assert.Equal(t, "**Leaderboard (Top 10):**\n1. <@ben>: 2x\n2. <@ann>: 1x", hs.run(ann, "!leaderboard"))
	assert.Equal(t, "**Leaderboard (Top 1):**\n1. <@ben>: 2x", hs.run(ann, "!leaderboard 1"))

	assert.Equal(t, "**Ann's Stats:**\n🌟 Contributions: 1\n🏅 Leaderboard Rank: 2", hs.run(ann, "!stats"))
	assert.Equal(t, "**Ben's Stats:**\n🌟 Contributions: 2\n🏅 Leaderboard Rank: 1", hs.run(ann, "!stats @ben", mentioning(ben)))

	// an unresolved mention arrives with no Mentions and falls back to the caller
	assert.Contains(t, hs.run(ann, "!stats @ghost"), "Ann's Stats")

	newcomer := services.Actor{UserID: "new", DisplayName: "Newbie"}
	assert.Equal(t, "Newbie has not contributed yet.", hs.run(newcomer, "!stats"))
}

func TestReminderTimeCommands(t *testing.T) {
	hs := newHarness(t)
	assert.Equal(t, "The current reminder time is 19:00.", hs.run(ann, "!remindertime"))
	assert.Equal(t, msgMissingTime, hs.run(ann, "!setremindertime"))
	assert.Equal(t, msgInvalidTime, hs.run(ann, "!setremindertime 25:00"))
	assert.Equal(t, "Reminder time has been updated from 19:00 to 20:15!", hs.run(ann, "!setremindertime 20:15"))
	assert.Equal(t, "The current reminder time is 20:15.", hs.run(ann, "!remindertime"))
}

func TestResetCommands(t *testing.T) {
	hs := newHarness(t)

	assert.Equal(t, msgNoPermission, hs.run(ann, "!reset 5"))
	assert.Equal(t, "Usage: `!reset [days]`", hs.run(modly, "!reset five"))
	assert.Equal(t, "The streak has been reset to 5 days.", hs.run(modly, "!reset 5"))
	assert.Equal(t, "The current streak is 5 days!", hs.run(ann, "!streak"))
	assert.Equal(t, "The streak has been reset to 0 days.", hs.run(modly, "!reset"))

	hs.run(ann, "!log", withAttachment)
	assert.Equal(t, msgNotAllowListed, hs.run(modly, "!resetleaderboard"))
	assert.Equal(t, msgLeaderboardReset, hs.run(services.Actor{UserID: "owner"}, "!resetleaderboard"))
	assert.Equal(t, msgNoContributions, hs.run(ann, "!leaderboard"))
}

func TestSetContributionsCommand(t *testing.T) {
	hs := newHarness(t)

	assert.Equal(t, "Usage: `!setcontributions @member <number>`", hs.run(modly, "!setcontributions"))
	assert.Equal(t, msgNoPermission, hs.run(ann, "!setcontributions @ben 4", mentioning(ben)))
	assert.Equal(t, msgBadContribArgs, hs.run(modly, "!setcontributions @ben four", mentioning(ben)))
	assert.Equal(t, msgBadContribArgs, hs.run(modly, "!setcontributions @ghost 4"))
	assert.Equal(t, msgNegative, hs.run(modly, "!setcontributions @ben -1", mentioning(ben)))
	assert.Equal(t, "Contributions for **Ben** have been set to 4. 🚀", hs.run(modly, "!setcontributions @ben 4", mentioning(ben)))
	assert.Contains(t, hs.run(ann, "!leaderboard"), "<@ben>: 4x")
}

func TestExportCommand(t *testing.T) {
	hs := newHarness(t)
	hs.run(ann, "!log", withAttachment)

	hs.run(ann, "!export")
	require.Len(t, hs.msgr.files, 1)
	assert.Equal(t, "streak-g1.json", hs.msgr.files[0].name)
	assert.Contains(t, string(hs.msgr.files[0].data), `"streak_count": 1`)

	hs.msgr.fileErr = errors.New("file too large")
	assert.Equal(t, "Failed to export data: file too large", hs.run(ann, "!export"))
}

func TestIgnoredMessages(t *testing.T) {
	hs := newHarness(t)
	hs.run(ann, "just chatting")
	hs.run(ann, "!dance")
	hs.run(services.Actor{UserID: "bot", IsBot: true}, "!streak")
	assert.Empty(t, hs.msgr.messages)
}

func TestRateLimitedCommand(t *testing.T) {
	hs := newHarness(t)
	hs.h.limiter = denyAll{}
	assert.Equal(t, msgSlowDown, hs.run(ann, "!log", withAttachment))

	rec, err := hs.svc.Record(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.StreakCount)
}

func TestHelpListsCommands(t *testing.T) {
	hs := newHarness(t)
	help := hs.run(ann, "!help")
	for _, name := range []string{"log", "streak", "leaderboard", "stats", "longeststreak", "setremindertime", "export"} {
		assert.True(t, strings.Contains(help, "!"+name), name)
	}
}

func TestFormatMilestone(t *testing.T) {
	assert.Equal(t, "🎉 **Milestone reached!** 7 days of streak! 🚀",
		FormatMilestone(achievement.Milestone{Kind: achievement.KindStreak, Value: 7}, 7))
	assert.Equal(t, "🎉 **Happy anniversary!** The streak is 2 months old today! 🚀",
		FormatMilestone(achievement.Milestone{Kind: achievement.KindMonth, Value: 2}, 61))
}

func TestFormatLeaderboardEmpty(t *testing.T) {
	assert.Contains(t, FormatLeaderboard("Final", &lbtypes.Leaderboard{}), msgNoContributions)
}
