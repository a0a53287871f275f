package corefoundation

import (
	"time"
)

// RunResult is the value returned by CFRunLoopRunInMode.
type RunResult int32

const (
	RunFinished      RunResult = 1
	RunStopped       RunResult = 2
	RunTimedOut      RunResult = 3
	RunHandledSource RunResult = 4
)

func (r RunResult) String() string {
	switch r {
	case RunFinished:
		return "finished"
	case RunStopped:
		return "stopped"
	case RunTimedOut:
		return "timed out"
	case RunHandledSource:
		return "handled source"
	default:
		return "unknown"
	}
}

func (cf *CoreFoundation) RunLoopGetCurrent() Ref {
	return Ref(cf.call("CFRunLoopGetCurrent"))
}

// RunLoopRun runs the current thread's run loop until RunLoopStop.
func (cf *CoreFoundation) RunLoopRun() {
	cf.call("CFRunLoopRun")
}

func (cf *CoreFoundation) RunLoopStop(rl Ref) {
	cf.call("CFRunLoopStop", uintptr(rl))
}

// DefaultMode is kCFRunLoopDefaultMode.
func (cf *CoreFoundation) DefaultMode() Ref {
	return Ref(cf.t.Var("kCFRunLoopDefaultMode"))
}

// CommonModes is kCFRunLoopCommonModes.
func (cf *CoreFoundation) CommonModes() Ref {
	return Ref(cf.t.Var("kCFRunLoopCommonModes"))
}

func (cf *CoreFoundation) RunInMode(mode Ref, seconds float64, returnAfterSourceHandled bool) RunResult {
	return RunResult(int32(cf.call("CFRunLoopRunInMode", uintptr(mode), seconds, returnAfterSourceHandled)))
}

// RunFor runs the current run loop in the default mode for at most d.
func (cf *CoreFoundation) RunFor(d time.Duration) RunResult {
	return cf.RunInMode(cf.DefaultMode(), d.Seconds(), false)
}

// RunUntil drives the run loop in slices of at most slice until done
// reports true or timeout elapses. It reports whether done was satisfied.
func (cf *CoreFoundation) RunUntil(done func() bool, timeout, slice time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for !done() {
		left := time.Until(deadline)
		if left <= 0 {
			return false
		}
		cf.RunInMode(cf.DefaultMode(), min(left, slice).Seconds(), true)
	}
	return true
}

// AbsoluteTime is CFAbsoluteTimeGetCurrent: seconds since 2001-01-01 UTC.
func (cf *CoreFoundation) AbsoluteTime() float64 {
	return cf.t.Proc("CFAbsoluteTimeGetCurrent").CallFloat()
}

// TimerCreate creates a run loop timer firing at fireDate (absolute time)
// and then every interval seconds (0 for one shot). callout must come from
// native.NewCallback with the signature func(timer, info uintptr).
func (cf *CoreFoundation) TimerCreate(fireDate, interval float64, callout uintptr) Ref {
	return Ref(cf.call("CFRunLoopTimerCreate", uintptr(0), fireDate, interval, uintptr(0), 0, callout, uintptr(0)))
}

func (cf *CoreFoundation) AddTimer(rl, timer, mode Ref) {
	cf.call("CFRunLoopAddTimer", uintptr(rl), uintptr(timer), uintptr(mode))
}

func (cf *CoreFoundation) RemoveTimer(rl, timer, mode Ref) {
	cf.call("CFRunLoopRemoveTimer", uintptr(rl), uintptr(timer), uintptr(mode))
}
