package engine

import "time"

// Scheduler arms delayed state transitions. The returned cancel stops the
// callback from firing. The engine wraps every callback with its own teardown
// guard, so implementations only need to deliver the call.
type Scheduler interface {
	After(d time.Duration, fn func()) (cancel func())
}

type timerScheduler struct{}

func (timerScheduler) After(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}
