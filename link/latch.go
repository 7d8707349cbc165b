package link

import "sync/atomic"

// Latch holds the radio notifications until the tick loop consumes them.
// Raising an already pending flag has no further effect.
type Latch struct {
	operationDone    atomic.Bool
	activityDetected atomic.Bool
}

func (l *Latch) RaiseOperationDone()    { l.operationDone.Store(true) }
func (l *Latch) RaiseActivityDetected() { l.activityDetected.Store(true) }

// PopOperationDone reports whether an operation finished since the last pop
// and clears the flag.
func (l *Latch) PopOperationDone() bool { return l.operationDone.Swap(false) }

// PopActivityDetected reports whether channel activity was seen since the
// last pop and clears the flag.
func (l *Latch) PopActivityDetected() bool { return l.activityDetected.Swap(false) }

// clear drops anything pending.
func (l *Latch) clear() {
	l.operationDone.Store(false)
	l.activityDetected.Store(false)
}
