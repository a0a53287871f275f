package mobiledevice

import (
	"sync"
	"unsafe"

	"github.com/apex/log"
	cf "github.com/blacktop/idevice/pkg/usb/corefoundation"
)

// Native callbacks cannot be freed, so one thunk per kind is created for
// the whole process. The cookie passed to MobileDevice routes each call to
// the instance that registered it.
var (
	thunkOnce     sync.Once
	notifyThunk   uintptr
	progressThunk uintptr

	registryMu sync.Mutex
	registry   = map[uint32]*MobileDevice{}
	lastCookie uint32
)

func register(md *MobileDevice) uint32 {
	registryMu.Lock()
	defer registryMu.Unlock()
	lastCookie++
	registry[lastCookie] = md
	return lastCookie
}

func unregister(cookie uint32) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, cookie)
}

func lookup(cookie uintptr) *MobileDevice {
	registryMu.Lock()
	defer registryMu.Unlock()
	return registry[uint32(cookie)]
}

func (md *MobileDevice) thunks() (notify, progress uintptr) {
	thunkOnce.Do(func() {
		notifyThunk = md.newCallback(onNotification)
		progressThunk = md.newCallback(onProgress)
	})
	return notifyThunk, progressThunk
}

// am_device_notification_callback_info
type callbackInfo struct {
	dev          uintptr
	msg          uint32
	subscription uintptr
}

func onNotification(info, cookie uintptr) uintptr {
	md := lookup(cookie)
	if md == nil || info == 0 {
		return 0
	}
	ci := (*callbackInfo)(unsafe.Pointer(info))
	n := DeviceNotification{Device: DeviceRef(ci.dev), Event: Event(ci.msg)}
	log.WithFields(log.Fields{
		"device": n.Device,
		"event":  n.Event,
	}).Debug("Device notification")
	if fn := md.onNotify; fn != nil {
		fn(n)
	}
	return 0
}

func onProgress(info, cookie uintptr) uintptr {
	md := lookup(cookie)
	if md == nil {
		return 0
	}
	fn := md.onProgress
	if fn == nil {
		return 0
	}
	p := Progress{}
	if info != 0 {
		p.Raw = md.cf.DictionaryToMap(cf.Ref(info))
		p.Status, _ = p.Raw["Status"].(string)
		if pct, ok := p.Raw["PercentComplete"].(int64); ok {
			p.PercentComplete = int(pct)
		}
	}
	fn(p)
	return 0
}
