package events

import (
	"sync"
	"time"

	"github.com/bizzylink/apiserver/types"
	"go.uber.org/zap"
)

// Notifier pushes events through a Hub. Critical events are delivered twice:
// immediately, then once more after the redundant delay with Redundant set.
type Notifier struct {
	hub    *Hub
	delay  time.Duration
	logger *zap.Logger

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewNotifier(hub *Hub, redundantDelay time.Duration, logger *zap.Logger) *Notifier {
	return &Notifier{
		hub:    hub,
		delay:  redundantDelay,
		logger: logger,
		timers: make(map[*time.Timer]struct{}),
	}
}

// Notify sends event to all of userID's streams.
func (n *Notifier) Notify(userID int, event types.Event) {
	n.hub.SendToUser(userID, event)
}

// NotifyAdmins sends event to the admins room.
func (n *Notifier) NotifyAdmins(event types.Event) {
	n.hub.SendToAdmins(event)
}

// NotifyCritical sends event now and schedules the redundant copy.
func (n *Notifier) NotifyCritical(userID int, event types.Event) {
	delivered := n.hub.SendToUser(userID, event)
	n.logger.Debug("critical event sent",
		zap.Int("user_id", userID),
		zap.String("type", event.Type),
		zap.Int("streams", delivered),
	)
	if n.delay <= 0 {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}

	resend := event
	resend.Redundant = true
	n.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(n.delay, func() {
		defer n.wg.Done()
		n.mu.Lock()
		delete(n.timers, timer)
		n.mu.Unlock()
		n.hub.SendToUser(userID, resend)
	})
	n.timers[timer] = struct{}{}
}

// Close cancels pending redundant sends and waits for running ones.
func (n *Notifier) Close() {
	n.mu.Lock()
	n.closed = true
	for timer := range n.timers {
		if timer.Stop() {
			n.wg.Done()
		}
		delete(n.timers, timer)
	}
	n.mu.Unlock()
	n.wg.Wait()
}
