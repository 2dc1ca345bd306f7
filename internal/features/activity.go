package features

import (
	"sync"
	"time"
)

// ActivityWindow is how far back RecentMessages looks.
const ActivityWindow = time.Hour

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Tracker maintains per-channel message timestamps and the time of the
// bot's last response, producing the ChannelContext read by Extract.
type Tracker struct {
	clock Clock

	mu       sync.Mutex
	messages map[string][]time.Time
	lastResp map[string]time.Time
}

// NewTracker creates a Tracker using the wall clock.
func NewTracker() *Tracker {
	return NewTrackerWithClock(realClock{})
}

// NewTrackerWithClock creates a Tracker with a custom clock (for testing).
func NewTrackerWithClock(clock Clock) *Tracker {
	return &Tracker{
		clock:    clock,
		messages: make(map[string][]time.Time),
		lastResp: make(map[string]time.Time),
	}
}

// Observe records one inbound message in channel and drops entries older
// than ActivityWindow.
func (t *Tracker) Observe(channel string) {
	now := t.clock.Now()
	cutoff := now.Add(-ActivityWindow)

	t.mu.Lock()
	defer t.mu.Unlock()

	ts := append(t.messages[channel], now)
	kept := ts[:0]
	for _, at := range ts {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	t.messages[channel] = kept
}

// Now returns the tracker's current time.
func (t *Tracker) Now() time.Time { return t.clock.Now() }

// RecordResponse notes that the bot just responded in channel.
func (t *Tracker) RecordResponse(channel string) {
	now := t.clock.Now()
	t.mu.Lock()
	t.lastResp[channel] = now
	t.mu.Unlock()
}

// Context returns the current context of channel.
func (t *Tracker) Context(channel string) ChannelContext {
	cutoff := t.clock.Now().Add(-ActivityWindow)

	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, at := range t.messages[channel] {
		if at.After(cutoff) {
			n++
		}
	}
	return ChannelContext{
		LastBotResponse: t.lastResp[channel],
		RecentMessages:  n,
	}
}
