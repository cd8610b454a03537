package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"streakkeeper/internal/notification"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingProvider struct {
	name string
	err  error

	mu   sync.Mutex
	sent []*notification.Notification
	done chan struct{}
}

func newRecordingProvider(name string, err error) *recordingProvider {
	return &recordingProvider{name: name, err: err, done: make(chan struct{}, 8)}
}

func (p *recordingProvider) Name() string { return p.name }

func (p *recordingProvider) Send(_ context.Context, n *notification.Notification) error {
	p.mu.Lock()
	p.sent = append(p.sent, n)
	p.mu.Unlock()
	p.done <- struct{}{}
	return p.err
}

func (p *recordingProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestDispatcherFansOutPastFailures(t *testing.T) {
	failing := newRecordingProvider("fcm", errors.New("boom"))
	ok := newRecordingProvider("discord", nil)

	d := NewNotificationDispatcher(zap.NewNop(), failing, ok)
	defer d.Stop()

	var mu sync.Mutex
	var delivered []string
	d.OnDelivered(func(provider string) {
		mu.Lock()
		delivered = append(delivered, provider)
		mu.Unlock()
	})

	n := notification.New(notification.NotificationReminder, "g1", "c1", "Reminder", "Log today")
	require.NoError(t, d.Dispatch(context.Background(), n))

	waitFor(t, failing.done)
	waitFor(t, ok.done)

	assert.Equal(t, 1, failing.count())
	assert.Equal(t, 1, ok.count())

	// the hook runs after Send returns
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 1
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"discord"}, delivered)
	mu.Unlock()
}

func TestDispatcherStopIsIdempotent(t *testing.T) {
	d := NewNotificationDispatcher(zap.NewNop())
	d.Stop()
	d.Stop()
}

func TestDispatchHonoursContext(t *testing.T) {
	d := NewNotificationDispatcher(zap.NewNop())
	d.Stop()

	// nothing drains the queue after Stop; fill it up
	for i := 0; i < cap(d.jobQueue); i++ {
		d.jobQueue <- notification.New(notification.NotificationReminder, "g", "c", "t", "m")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Dispatch(ctx, notification.New(notification.NotificationReminder, "g", "c", "t", "m"))
	assert.ErrorIs(t, err, context.Canceled)
}
