package subscription

import (
	"sync"
	"time"
)

// Clock issues write-ordering markers in epoch milliseconds.
type Clock interface {
	Now() int64
}

// MonotonicClock never issues the same marker twice and never goes backwards,
// even if the wall clock does.
type MonotonicClock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{now: time.Now}
}

// NewMonotonicClockFrom uses now as the wall clock source.
func NewMonotonicClockFrom(now func() time.Time) *MonotonicClock {
	if now == nil {
		now = time.Now
	}
	return &MonotonicClock{now: now}
}

func (c *MonotonicClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ms := c.now().UnixMilli()
	if ms <= c.last {
		ms = c.last + 1
	}
	c.last = ms
	return ms
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() int64

func (f ClockFunc) Now() int64 { return f() }
