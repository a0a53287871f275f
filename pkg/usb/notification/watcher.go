// Package notification delivers device attach/detach notifications and
// relays notify(3) names through the notification proxy service.
package notification

import (
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	md "github.com/blacktop/idevice/pkg/usb/mobiledevice"
)

// Subscriber is the native notification surface, implemented by
// *mobiledevice.MobileDevice.
type Subscriber interface {
	NotificationSubscribe(fn func(md.DeviceNotification)) (md.NotificationRef, md.Status)
	NotificationUnsubscribe(ref md.NotificationRef) md.Status
}

// RunLoop drives the thread's run loop, implemented by
// *corefoundation.CoreFoundation.
type RunLoop interface {
	RunUntil(done func() bool, timeout, slice time.Duration) bool
}

const (
	DefaultQueueSize = 64
	DefaultSlice     = 100 * time.Millisecond
)

var (
	ErrNotStarted = errors.New("watcher not started")
	ErrTimeout    = errors.New("timed out waiting for device")
)

// Watcher queues notifications delivered while the caller drives the run
// loop. It is not safe for concurrent use: callbacks arrive on the thread
// running the loop, which must be the thread calling Wait.
type Watcher struct {
	sub   Subscriber
	loop  RunLoop
	size  int
	slice time.Duration

	ref     md.NotificationRef
	started bool
	queue   []md.DeviceNotification
	dropped int
}

type WatcherOption func(*Watcher)

// WithQueueSize bounds the queue. When full the oldest notification is
// dropped.
func WithQueueSize(n int) WatcherOption {
	return func(w *Watcher) {
		if n > 0 {
			w.size = n
		}
	}
}

// WithSlice sets the longest single run of the run loop.
func WithSlice(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.slice = d
		}
	}
}

func NewWatcher(sub Subscriber, loop RunLoop, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		sub:   sub,
		loop:  loop,
		size:  DefaultQueueSize,
		slice: DefaultSlice,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Watcher) push(n md.DeviceNotification) {
	if len(w.queue) == w.size {
		w.queue = w.queue[1:]
		w.dropped++
		log.WithField("dropped", w.dropped).Warn("Notification queue full, dropping oldest")
	}
	w.queue = append(w.queue, n)
}

func (w *Watcher) Start() error {
	if w.started {
		return nil
	}
	ref, st := w.sub.NotificationSubscribe(w.push)
	if !st.OK() {
		return fmt.Errorf("AMDeviceNotificationSubscribe failed with status %s", st)
	}
	w.ref = ref
	w.started = true
	return nil
}

// Stop unsubscribes. Queued notifications remain readable with Next.
func (w *Watcher) Stop() error {
	if !w.started {
		return nil
	}
	w.started = false
	if st := w.sub.NotificationUnsubscribe(w.ref); !st.OK() {
		return fmt.Errorf("AMDeviceNotificationUnsubscribe failed with status %s", st)
	}
	return nil
}

// Next pops a queued notification without running the loop.
func (w *Watcher) Next() (md.DeviceNotification, bool) {
	if len(w.queue) == 0 {
		return md.DeviceNotification{}, false
	}
	n := w.queue[0]
	w.queue = w.queue[1:]
	return n, true
}

// Dropped returns how many notifications overflowed the queue.
func (w *Watcher) Dropped() int { return w.dropped }

// Wait runs the loop until a notification is queued or timeout elapses.
func (w *Watcher) Wait(timeout time.Duration) (md.DeviceNotification, error) {
	if !w.started && len(w.queue) == 0 {
		return md.DeviceNotification{}, ErrNotStarted
	}
	if n, ok := w.Next(); ok {
		return n, nil
	}
	if !w.loop.RunUntil(func() bool { return len(w.queue) > 0 }, timeout, w.slice) {
		return md.DeviceNotification{}, ErrTimeout
	}
	n, _ := w.Next()
	return n, nil
}

// WaitForDevice waits for the next attach, skipping other notifications.
func (w *Watcher) WaitForDevice(timeout time.Duration) (md.DeviceRef, error) {
	deadline := time.Now().Add(timeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return 0, ErrTimeout
		}
		n, err := w.Wait(left)
		if err != nil {
			return 0, err
		}
		log.WithFields(log.Fields{
			"device": fmt.Sprintf("%#x", uintptr(n.Device)),
			"event":  n.Event,
		}).Debug("Device notification")
		if n.Event == md.Attached {
			return n.Device, nil
		}
	}
}
