// Package mobiledevice exposes the AMDevice and AFC functions of Apple's
// MobileDevice library.
//
// Every call returns the raw status code of the native function. Codes are
// never interpreted here and handles are passed through unchanged.
package mobiledevice

import (
	"fmt"
	"unsafe"

	"github.com/apex/log"
	cf "github.com/blacktop/idevice/pkg/usb/corefoundation"
	"github.com/blacktop/idevice/pkg/usb/native"
	"github.com/blacktop/idevice/pkg/usb/transport"
)

// Status is a MobileDevice return code. Zero is success.
type Status uint32

func (s Status) OK() bool { return s == 0 }

func (s Status) String() string { return fmt.Sprintf("%#x", uint32(s)) }

// ServiceSocket is the raw socket returned by AMDeviceStartService.
type ServiceSocket int32

type (
	// DeviceRef is an am_device.
	DeviceRef uintptr
	// AFCConnRef is an afc_connection.
	AFCConnRef uintptr
	// AFCDirRef is an afc_directory.
	AFCDirRef uintptr
	// AFCFileRef is an afc_file_ref.
	AFCFileRef uint64
	// NotificationRef is an am_device_notification.
	NotificationRef uintptr
)

// MobileDevice is the bound device-management library.
type MobileDevice struct {
	t           *native.Table
	cf          *cf.CoreFoundation
	newCallback func(fn any) uintptr
	cookie      uint32

	onNotify   func(DeviceNotification)
	onProgress ProgressFunc
}

// Option configures a MobileDevice.
type Option func(*MobileDevice)

// WithCallbackFactory replaces native.NewCallback.
func WithCallbackFactory(fn func(any) uintptr) Option {
	return func(md *MobileDevice) {
		md.newCallback = fn
	}
}

// New wraps a table bound from native.MobileDeviceCatalog.
func New(t *native.Table, c *cf.CoreFoundation, opts ...Option) *MobileDevice {
	md := &MobileDevice{
		t:           t,
		cf:          c,
		newCallback: native.NewCallback,
	}
	for _, opt := range opts {
		opt(md)
	}
	md.cookie = register(md)
	return md
}

// Load opens MobileDevice with l. CoreFoundation must already be loaded.
func Load(l *native.Loader, c *cf.CoreFoundation, opts ...Option) (*MobileDevice, error) {
	t, err := l.Load(native.DeviceManagement)
	if err != nil {
		return nil, err
	}
	return New(t, c, opts...), nil
}

func (md *MobileDevice) CoreFoundation() *cf.CoreFoundation { return md.cf }

// Close unloads the library. Handles obtained from it become invalid.
func (md *MobileDevice) Close() error {
	unregister(md.cookie)
	return md.t.Close()
}

func (md *MobileDevice) call(name string, args ...any) Status {
	return Status(uint32(md.t.Proc(name).Call(args...)))
}

func (md *MobileDevice) DeviceConnect(dev DeviceRef) Status {
	return md.call("AMDeviceConnect", uintptr(dev))
}

// DeviceIsPaired reports AMDeviceIsPaired, which returns 1 for a paired
// device rather than a status code.
func (md *MobileDevice) DeviceIsPaired(dev DeviceRef) bool {
	return md.call("AMDeviceIsPaired", uintptr(dev)) == 1
}

func (md *MobileDevice) DevicePair(dev DeviceRef) Status {
	return md.call("AMDevicePair", uintptr(dev))
}

func (md *MobileDevice) DeviceValidatePairing(dev DeviceRef) Status {
	return md.call("AMDeviceValidatePairing", uintptr(dev))
}

func (md *MobileDevice) DeviceStartSession(dev DeviceRef) Status {
	return md.call("AMDeviceStartSession", uintptr(dev))
}

func (md *MobileDevice) DeviceStopSession(dev DeviceRef) Status {
	return md.call("AMDeviceStopSession", uintptr(dev))
}

func (md *MobileDevice) DeviceDisconnect(dev DeviceRef) Status {
	return md.call("AMDeviceDisconnect", uintptr(dev))
}

// DeviceStartService starts a lockdown service (e.g. com.apple.afc) and
// returns its socket.
func (md *MobileDevice) DeviceStartService(dev DeviceRef, name string) (ServiceSocket, Status) {
	svc := md.cf.CreateString(name)
	defer md.cf.Release(svc)

	// SOCKET is pointer sized on windows
	sock := new(uintptr)
	st := md.call("AMDeviceStartService", uintptr(dev), uintptr(svc), unsafe.Pointer(sock), uintptr(0))
	log.WithFields(log.Fields{
		"service": name,
		"status":  st,
	}).Debug("AMDeviceStartService")
	return ServiceSocket(int32(*sock)), st
}

// ServiceStream wraps a service socket in the platform transport.
func (md *MobileDevice) ServiceStream(sock ServiceSocket) (transport.Stream, error) {
	return transport.FromSocket(int(sock))
}

// CopyDeviceIdentifier returns the UDID of dev.
func (md *MobileDevice) CopyDeviceIdentifier(dev DeviceRef) (string, bool) {
	r := cf.Ref(md.t.Proc("AMDeviceCopyDeviceIdentifier").Call(uintptr(dev)))
	if r == 0 {
		return "", false
	}
	defer md.cf.Release(r)
	return md.cf.GoString(r)
}

// CopyValue reads a lockdown value. An empty domain means the global domain.
func (md *MobileDevice) CopyValue(dev DeviceRef, domain, key string) (any, bool) {
	var d, k cf.Ref
	if domain != "" {
		d = md.cf.CreateString(domain)
		defer md.cf.Release(d)
	}
	if key != "" {
		k = md.cf.CreateString(key)
		defer md.cf.Release(k)
	}
	r := cf.Ref(md.t.Proc("AMDeviceCopyValue").Call(uintptr(dev), uintptr(d), uintptr(k)))
	if r == 0 {
		return nil, false
	}
	defer md.cf.Release(r)
	return md.cf.ToGo(r), true
}
