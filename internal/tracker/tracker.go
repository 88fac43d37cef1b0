// Package tracker emits read receipts for inbound messages in the
// active conversation, debouncing rapid bursts into fewer MARK_READ
// acknowledgements.
package tracker

import (
	"time"

	"go.uber.org/zap"

	"github.com/Bamboo-rat/adminchat/internal/model"
)

// AckFunc acknowledges one message as read, best effort over the
// persistent channel.
type AckFunc func(messageID string)

// ScheduleFunc arms a one-shot timer and returns its cancel function.
// The session controller injects one that re-enters the event loop, so
// the flash of acknowledgements runs serialized with everything else.
type ScheduleFunc func(d time.Duration, fn func()) (cancel func())

// Receipts batches pending read receipts behind a short delay. It is
// confined to the session event loop.
type Receipts struct {
	delay    time.Duration
	ack      AckFunc
	schedule ScheduleFunc
	log      *zap.Logger

	pending []string
	cancel  func()
}

// New builds a receipt tracker. A nil schedule falls back to
// time.AfterFunc.
func New(delay time.Duration, ack AckFunc, schedule ScheduleFunc, log *zap.Logger) *Receipts {
	if schedule == nil {
		schedule = func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Receipts{delay: delay, ack: ack, schedule: schedule, log: log}
}

// Observe considers one reconciled inbound message. Only messages
// addressed to the local user, not yet read, and belonging to the
// currently open conversation are acknowledged; anything else stays
// unread and is reflected by the conversation's unread count instead.
func (r *Receipts) Observe(msg model.ChatMessage, active bool) {
	if !active || msg.Status == model.StatusRead {
		return
	}

	r.pending = append(r.pending, msg.MessageID)
	if r.cancel == nil {
		r.cancel = r.schedule(r.delay, r.flush)
	}
}

// flush acknowledges the batch collected since the timer was armed.
func (r *Receipts) flush() {
	pending := r.pending
	r.pending = nil
	r.cancel = nil

	for _, id := range pending {
		r.ack(id)
	}
	if len(pending) > 0 {
		r.log.Debug("read receipts flushed", zap.Int("count", len(pending)))
	}
}

// Teardown drops the pending batch and disarms the timer.
func (r *Receipts) Teardown() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.pending = nil
}
