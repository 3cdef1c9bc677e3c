package timex

import "time"

// Clock is the wall-clock source used to stamp records and operations.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// UnixMilli returns the clock reading in milliseconds since epoch.
func UnixMilli(c Clock) int64 {
	return c.Now().UnixMilli()
}
