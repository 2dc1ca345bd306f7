package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestTracker_Window(t *testing.T) {
	clk := &fakeClock{now: monday}
	tr := NewTrackerWithClock(clk)

	tr.Observe("c1")
	clk.now = clk.now.Add(30 * time.Minute)
	tr.Observe("c1")
	tr.Observe("c2")

	assert.Equal(t, 2, tr.Context("c1").RecentMessages)
	assert.Equal(t, 1, tr.Context("c2").RecentMessages)

	clk.now = clk.now.Add(45 * time.Minute)
	assert.Equal(t, 1, tr.Context("c1").RecentMessages)

	clk.now = clk.now.Add(time.Hour)
	assert.Equal(t, 0, tr.Context("c1").RecentMessages)
}

func TestTracker_RecordResponse(t *testing.T) {
	clk := &fakeClock{now: monday}
	tr := NewTrackerWithClock(clk)

	assert.True(t, tr.Context("c1").LastBotResponse.IsZero())

	tr.RecordResponse("c1")
	assert.Equal(t, monday, tr.Context("c1").LastBotResponse)
	assert.True(t, tr.Context("c2").LastBotResponse.IsZero())
}
