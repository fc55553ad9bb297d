package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeAfterFuncFiresOnAdvance(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	var fired []string
	c.AfterFunc(200*time.Millisecond, func() { fired = append(fired, "b") })
	c.AfterFunc(100*time.Millisecond, func() { fired = append(fired, "a") })

	c.Advance(99 * time.Millisecond)
	require.Empty(t, fired, "fired early")
	c.Advance(200 * time.Millisecond)
	require.Equal(t, []string{"a", "b"}, fired)
	assert.Zero(t, c.Pending())
}

func TestFakeTimerStop(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	require.True(t, timer.Stop(), "pending timer")
	assert.False(t, timer.Stop(), "second Stop")
	c.Advance(2 * time.Second)
	assert.False(t, fired, "stopped timer fired")
}

func TestFakeCallbackCanSchedule(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	count := 0
	var again func()
	again = func() {
		count++
		if count < 3 {
			c.AfterFunc(10*time.Millisecond, again)
		}
	}
	c.AfterFunc(10*time.Millisecond, again)
	c.Advance(time.Second)
	require.Equal(t, 1, count, "rescheduled relative to advanced time")
	c.Advance(10 * time.Millisecond)
	c.Advance(10 * time.Millisecond)
	assert.Equal(t, 3, count)
}

func TestFakeTicker(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)
	defer tk.Stop()
	c.Advance(time.Second)
	select {
	case <-tk.C:
	default:
		t.Fatal("expected tick")
	}
	select {
	case <-tk.C:
		t.Fatal("unexpected second tick")
	default:
	}
}

func TestNilTimerStop(t *testing.T) {
	var timer *Timer
	assert.False(t, timer.Stop())
}
