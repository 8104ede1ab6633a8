package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClock_AfterFunc(t *testing.T) {
	tests := []struct {
		name    string
		delay   time.Duration
		advance time.Duration
		fired   bool
	}{
		{name: "before deadline", delay: 2 * time.Second, advance: time.Second, fired: false},
		{name: "at deadline", delay: 2 * time.Second, advance: 2 * time.Second, fired: true},
		{name: "past deadline", delay: 2 * time.Second, advance: 5 * time.Second, fired: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Fake(epoch)
			fired := false
			c.AfterFunc(tt.delay, func() { fired = true })
			c.Advance(tt.advance)
			assert.Equal(t, tt.fired, fired)
			assert.Equal(t, epoch.Add(tt.advance), c.Now())
		})
	}
}

func TestFakeClock_Stop(t *testing.T) {
	c := Fake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	c.Advance(2 * time.Second)
	assert.False(t, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeClock_RearmingCallback(t *testing.T) {
	c := Fake(epoch)
	var fireTimes []time.Time
	var tick func()
	tick = func() {
		fireTimes = append(fireTimes, c.Now())
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(3 * time.Second)

	assert.Equal(t, []time.Time{
		epoch.Add(time.Second),
		epoch.Add(2 * time.Second),
		epoch.Add(3 * time.Second),
	}, fireTimes)
	assert.Equal(t, 1, c.Pending())
}

func TestFakeClock_DeadlineOrder(t *testing.T) {
	c := Fake(epoch)
	var order []string
	c.AfterFunc(3*time.Second, func() { order = append(order, "late") })
	c.AfterFunc(time.Second, func() { order = append(order, "early") })

	c.Advance(5 * time.Second)

	assert.Equal(t, []string{"early", "late"}, order)
}
