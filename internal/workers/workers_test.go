package workers

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"streakkeeper/internal/notification"
	"streakkeeper/internal/store"
	lbtypes "streakkeeper/internal/types/leaderboard"
	"streakkeeper/services"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type captureDispatcher struct {
	mu   sync.Mutex
	sent []*notification.Notification
}

func (c *captureDispatcher) Dispatch(_ context.Context, n *notification.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return nil
}

func (c *captureDispatcher) ofType(typ notification.NotificationType) []*notification.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*notification.Notification
	for _, n := range c.sent {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

func plainBoard(title string, board *lbtypes.Leaderboard) string {
	lines := []string{title}
	for _, e := range board.Entries {
		lines = append(lines, fmt.Sprintf("%d. %s: %dx", e.Rank, e.UserID, e.Contributions))
	}
	return strings.Join(lines, "\n")
}

type fixture struct {
	svc  *services.StreakService
	disp *captureDispatcher
	s    *Scheduler
	now  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		disp: &captureDispatcher{},
		now:  time.Date(2024, time.March, 10, 18, 0, 0, 0, time.UTC),
	}
	st := store.NewFileStore(filepath.Join(t.TempDir(), "data.json"))
	f.svc = services.NewStreakService(st, zap.NewNop(), time.UTC, nil)
	f.svc.SetClock(func() time.Time { return f.now })
	f.s = NewScheduler(Config{
		GuildID:          "g1",
		ChannelID:        "c1",
		Interval:         time.Minute,
		RemindersEnabled: true,
	}, f.svc, f.disp, plainBoard, zap.NewNop())
	return f
}

func (f *fixture) tickAt(h, m int) {
	f.now = time.Date(f.now.Year(), f.now.Month(), f.now.Day(), h, m, 0, 0, time.UTC)
	f.s.Tick(context.Background(), f.now)
}

func TestReminderFiresOncePerDay(t *testing.T) {
	f := newFixture(t)

	f.tickAt(18, 59)
	assert.Empty(t, f.disp.ofType(notification.NotificationReminder))

	f.tickAt(19, 0)
	f.tickAt(19, 0)
	reminders := f.disp.ofType(notification.NotificationReminder)
	require.Len(t, reminders, 1)
	assert.Equal(t, "c1", reminders[0].ChannelID)
	assert.Equal(t, ReminderMessage("!"), reminders[0].Message)

	f.tickAt(19, 1)
	assert.Len(t, f.disp.ofType(notification.NotificationReminder), 1)

	// next day fires again
	f.now = f.now.AddDate(0, 0, 1)
	f.tickAt(19, 0)
	assert.Len(t, f.disp.ofType(notification.NotificationReminder), 2)
}

func TestReminderQuotesConfiguredPrefix(t *testing.T) {
	f := newFixture(t)
	f.s = NewScheduler(Config{
		GuildID:          "g1",
		ChannelID:        "c1",
		Prefix:           "?",
		RemindersEnabled: true,
	}, f.svc, f.disp, plainBoard, zap.NewNop())

	f.tickAt(19, 0)
	reminders := f.disp.ofType(notification.NotificationReminder)
	require.Len(t, reminders, 1)
	assert.Contains(t, reminders[0].Message, "`?log`")
	assert.NotContains(t, reminders[0].Message, "!log")
}

func TestReminderSkippedWhenLogged(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Log(context.Background(), "g1", services.Actor{UserID: "u1"}, true)
	require.NoError(t, err)

	f.tickAt(19, 0)
	assert.Empty(t, f.disp.ofType(notification.NotificationReminder))
}

func TestReminderUsesConfiguredTime(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.SetReminderTime(context.Background(), "g1", "7:30")
	require.NoError(t, err)

	f.tickAt(19, 0)
	assert.Empty(t, f.disp.ofType(notification.NotificationReminder))
	f.tickAt(7, 30)
	assert.Len(t, f.disp.ofType(notification.NotificationReminder), 1)
}

func TestRemindersDisabled(t *testing.T) {
	f := newFixture(t)
	f.s.cfg.RemindersEnabled = false
	f.tickAt(19, 0)
	assert.Empty(t, f.disp.ofType(notification.NotificationReminder))
}

func TestMonthlyRolloverPostsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Log(ctx, "g1", services.Actor{UserID: "u1"}, true)
	require.NoError(t, err)

	// first tick only stamps the current month
	f.tickAt(10, 0)
	assert.Empty(t, f.disp.ofType(notification.NotificationRollover))

	f.now = time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC)
	f.tickAt(0, 0)
	f.tickAt(0, 1)

	rollovers := f.disp.ofType(notification.NotificationRollover)
	require.Len(t, rollovers, 1)
	assert.Equal(t, "Final leaderboard for March 2024", rollovers[0].Title)
	assert.Contains(t, rollovers[0].Message, "1. u1: 1x")
	assert.Equal(t, "2024-03", rollovers[0].Data["period"])

	board, err := f.svc.Leaderboard(ctx, "g1", 10)
	require.NoError(t, err)
	assert.Empty(t, board.Entries)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.s.cfg.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
