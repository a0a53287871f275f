package mobiledevice

import (
	"fmt"
	"unsafe"
)

// Event is the message of a device notification.
type Event uint32

const (
	Attached     Event = 1
	Detached     Event = 2
	Unsubscribed Event = 3
)

func (e Event) String() string {
	switch e {
	case Attached:
		return "attached"
	case Detached:
		return "detached"
	case Unsubscribed:
		return "unsubscribed"
	default:
		return fmt.Sprintf("Event(%d)", uint32(e))
	}
}

// DeviceNotification is delivered for every attach/detach while a
// subscription is active.
type DeviceNotification struct {
	Device DeviceRef
	Event  Event
}

// NotificationSubscribe registers fn for device notifications. fn runs on
// the thread driving the CoreFoundation run loop. Only one subscription
// handler is active per MobileDevice.
func (md *MobileDevice) NotificationSubscribe(fn func(DeviceNotification)) (NotificationRef, Status) {
	notify, _ := md.thunks()
	md.onNotify = fn
	ref := new(uintptr)
	st := md.call("AMDeviceNotificationSubscribe", notify, uint32(0), uint32(0), md.cookie, unsafe.Pointer(ref))
	if !st.OK() {
		md.onNotify = nil
	}
	return NotificationRef(*ref), st
}

func (md *MobileDevice) NotificationUnsubscribe(ref NotificationRef) Status {
	st := Status(uint32(int32(md.t.Proc("AMDeviceNotificationUnsubscribe").Call(uintptr(ref)))))
	md.onNotify = nil
	return st
}
