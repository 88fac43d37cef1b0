// Package typing tracks ephemeral "peer is typing" indicators with
// automatic expiry. Signals are never persisted or deduplicated.
package typing

import (
	"time"
)

// ScheduleFunc arms a one-shot timer and returns its cancel function.
type ScheduleFunc func(d time.Duration, fn func()) (cancel func())

// Monitor holds the set of peers currently typing. A fresh signal for
// a peer resets that peer's expiry timer rather than stacking a second
// indicator. Confined to the session event loop.
type Monitor struct {
	expiry   time.Duration
	schedule ScheduleFunc
	timers   map[string]func()
}

// NewMonitor builds a monitor. A nil schedule falls back to
// time.AfterFunc.
func NewMonitor(expiry time.Duration, schedule ScheduleFunc) *Monitor {
	if schedule == nil {
		schedule = func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		}
	}
	return &Monitor{
		expiry:   expiry,
		schedule: schedule,
		timers:   make(map[string]func()),
	}
}

// Observe records a typing signal from a peer, starting or resetting
// its expiry timer.
func (m *Monitor) Observe(peerID string) {
	if cancel, ok := m.timers[peerID]; ok {
		cancel()
	}
	m.timers[peerID] = m.schedule(m.expiry, func() {
		delete(m.timers, peerID)
	})
}

// IsTyping reports whether a peer's indicator is still live.
func (m *Monitor) IsTyping(peerID string) bool {
	_, ok := m.timers[peerID]
	return ok
}

// Teardown cancels every live timer.
func (m *Monitor) Teardown() {
	for id, cancel := range m.timers {
		cancel()
		delete(m.timers, id)
	}
}
