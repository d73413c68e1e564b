package taskrunner

import "time"

// Clock abstracts wall-clock access so the monitor and delayed-task
// recirculation can be driven deterministically in tests instead of
// depending on real sleeps.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// systemClock is the Clock used in production: a thin pass-through to
// the time package.
type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

var defaultClock Clock = systemClock{}
