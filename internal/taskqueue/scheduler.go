package taskqueue

import "time"

// Scheduler arranges for execute to be called once.
type Scheduler func(execute func())

// Synchronous runs execute immediately on the calling goroutine.
func Synchronous(execute func()) { execute() }

// Goroutine runs execute on a new goroutine.
func Goroutine(execute func()) { go execute() }

// Timer runs execute after d.
func Timer(d time.Duration) Scheduler {
	return func(execute func()) { time.AfterFunc(d, execute) }
}
