package docsync

import (
	"sort"
	"sync"
	"time"
)

// timers of the channel and the session run through a `Clock`
// so reconnect, heartbeat and watchdog behavior can be driven by hand.

type Timer interface {
	// Stop reports whether the timer was stopped before it fired.
	Stop() bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func SystemClock() Clock {
	return &systemClock{}
}

func (self *systemClock) Now() time.Time {
	return time.Now()
}

func (self *systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ManualClock fires timers only from `Advance`, on the advancing goroutine.
type ManualClock struct {
	stateLock sync.Mutex
	now       time.Time
	nextOrder int
	timers    []*manualTimer
}

type manualTimer struct {
	clock *ManualClock
	at    time.Time
	order int
	f     func()
	done  bool
}

func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{
		now: now,
	}
}

func (self *ManualClock) Now() time.Time {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.now
}

func (self *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	timer := &manualTimer{
		clock: self,
		at:    self.now.Add(d),
		order: self.nextOrder,
		f:     f,
	}
	self.nextOrder += 1
	self.timers = append(self.timers, timer)
	return timer
}

// Advance moves the clock forward and fires due timers in time order.
// Timers armed by a firing timer also fire if they fall within the window.
func (self *ManualClock) Advance(d time.Duration) {
	self.stateLock.Lock()
	end := self.now.Add(d)
	self.stateLock.Unlock()

	for {
		self.stateLock.Lock()
		var next *manualTimer
		pending := []*manualTimer{}
		for _, timer := range self.timers {
			if timer.done {
				continue
			}
			pending = append(pending, timer)
		}
		sort.Slice(pending, func(i int, j int) bool {
			if pending[i].at.Equal(pending[j].at) {
				return pending[i].order < pending[j].order
			}
			return pending[i].at.Before(pending[j].at)
		})
		self.timers = pending
		if 0 < len(pending) && !pending[0].at.After(end) {
			next = pending[0]
			next.done = true
			if self.now.Before(next.at) {
				self.now = next.at
			}
		} else {
			self.now = end
		}
		self.stateLock.Unlock()

		if next == nil {
			return
		}
		next.f()
	}
}

// PendingTimers counts timers that have not fired or been stopped.
func (self *ManualClock) PendingTimers() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	n := 0
	for _, timer := range self.timers {
		if !timer.done {
			n += 1
		}
	}
	return n
}

func (self *manualTimer) Stop() bool {
	self.clock.stateLock.Lock()
	defer self.clock.stateLock.Unlock()
	if self.done {
		return false
	}
	self.done = true
	return true
}
