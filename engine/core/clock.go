package core

import "time"

type Clock struct {
	start   time.Time
	elapsed time.Duration
	now     func() time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Update refreshes the elapsed time. Has no effect on stopped clocks.
func (c *Clock) Update() {
	if !c.start.IsZero() {
		c.elapsed = c.now().Sub(c.start)
	}
}

// Start resets elapsed time.
func (c *Clock) Start() {
	c.start = c.now()
	c.elapsed = 0
}

// Stop does not reset elapsed time.
func (c *Clock) Stop() {
	c.start = time.Time{}
}

// Elapsed returns the seconds between Start and the last Update.
func (c *Clock) Elapsed() float64 {
	return c.elapsed.Seconds()
}
