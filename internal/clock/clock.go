package clock

import (
	"sync"
	"time"
)

// Clock abstracts time.Now so schedules can be tested
type Clock interface {
	Now() time.Time
}

// Real is the wall clock
type Real struct{}

func (Real) Now() time.Time {
	return time.Now()
}

// Fake is a manually advanced clock
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *Fake) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
