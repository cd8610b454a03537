package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"streakkeeper/internal/notification"
)

// NotificationProvider delivers a notification over one channel (the
// Discord channel, an FCM topic).
type NotificationProvider interface {
	Name() string
	Send(ctx context.Context, n *notification.Notification) error
}

var ErrQueueFull = errors.New("notification queue full")

// NotificationDispatcher fans queued notifications out to every provider.
// A failing provider is logged and does not block the others.
type NotificationDispatcher struct {
	providers   []NotificationProvider
	logger      *zap.Logger
	workers     int
	jobQueue    chan *notification.Notification
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	sendTimeout time.Duration
	onDelivered func(provider string)
}

func NewNotificationDispatcher(logger *zap.Logger, providers ...NotificationProvider) *NotificationDispatcher {
	d := &NotificationDispatcher{
		providers:   providers,
		logger:      logger,
		workers:     1,
		jobQueue:    make(chan *notification.Notification, 32),
		stopChan:    make(chan struct{}),
		sendTimeout: 10 * time.Second,
	}
	d.startWorkers()
	return d
}

// OnDelivered registers a hook called after each successful provider send.
// Set it before dispatching.
func (d *NotificationDispatcher) OnDelivered(fn func(provider string)) {
	d.onDelivered = fn
}

func (d *NotificationDispatcher) startWorkers() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

func (d *NotificationDispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case n := <-d.jobQueue:
			d.processJob(n)
		case <-d.stopChan:
			return
		}
	}
}

func (d *NotificationDispatcher) processJob(n *notification.Notification) {
	for _, p := range d.providers {
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		err := p.Send(ctx, n)
		cancel()

		if err != nil {
			d.logger.Error("notification delivery failed",
				zap.String("provider", p.Name()),
				zap.String("notification_id", n.ID.String()),
				zap.String("guild_id", n.GuildID),
				zap.Error(err),
			)
			continue
		}
		if d.onDelivered != nil {
			d.onDelivered(p.Name())
		}
	}
}

// Dispatch queues n for delivery.
func (d *NotificationDispatcher) Dispatch(ctx context.Context, n *notification.Notification) error {
	select {
	case d.jobQueue <- n:
		d.logger.Debug("notification queued", zap.String("notification_id", n.ID.String()), zap.String("type", string(n.Type)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return ErrQueueFull
	}
}

// Stop waits for the workers to exit. Queued notifications that were not
// picked up yet are dropped.
func (d *NotificationDispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopChan)
	})
	d.wg.Wait()
	d.logger.Info("notification dispatcher stopped")
}
