package image

import (
	"sync/atomic"
	"time"
)

// versionClock hands out strictly increasing versions based on the wall
// clock, so requests dispatched later by this process always win.
type versionClock struct {
	last atomic.Int64
	now  func() time.Time
}

func newVersionClock(now func() time.Time) *versionClock {
	return &versionClock{now: now}
}

// Next returns a version greater than every version returned before.
func (c *versionClock) Next() int64 {
	for {
		prev := c.last.Load()
		next := c.now().UnixNano()
		if next <= prev {
			next = prev + 1
		}
		if c.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}
