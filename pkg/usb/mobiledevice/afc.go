package mobiledevice

import (
	"unsafe"

	"github.com/blacktop/idevice/pkg/usb/native"
)

// AFCMode is the open mode of AFCFileRefOpen.
type AFCMode uint32

const (
	AFCReadOnly   AFCMode = 1 // r
	AFCReadWrite  AFCMode = 2 // r+
	AFCWriteOnly  AFCMode = 3 // w
	AFCWriteRead  AFCMode = 4 // w+
	AFCAppend     AFCMode = 5 // a
	AFCAppendRead AFCMode = 6 // a+
)

func (md *MobileDevice) AFCConnectionOpen(sock ServiceSocket, timeout uint32) (AFCConnRef, Status) {
	conn := new(uintptr)
	st := md.call("AFCConnectionOpen", int32(sock), timeout, unsafe.Pointer(conn))
	return AFCConnRef(*conn), st
}

func (md *MobileDevice) AFCConnectionClose(conn AFCConnRef) Status {
	return md.call("AFCConnectionClose", uintptr(conn))
}

func (md *MobileDevice) AFCDirectoryCreate(conn AFCConnRef, path string) Status {
	return md.call("AFCDirectoryCreate", uintptr(conn), path)
}

func (md *MobileDevice) AFCDirectoryOpen(conn AFCConnRef, path string) (AFCDirRef, Status) {
	dir := new(uintptr)
	st := md.call("AFCDirectoryOpen", uintptr(conn), path, unsafe.Pointer(dir))
	return AFCDirRef(*dir), st
}

// AFCDirectoryRead returns the next entry name. ok is false once the
// directory is exhausted.
func (md *MobileDevice) AFCDirectoryRead(conn AFCConnRef, dir AFCDirRef) (name string, ok bool, st Status) {
	entry := new(uintptr)
	st = md.call("AFCDirectoryRead", uintptr(conn), uintptr(dir), unsafe.Pointer(entry))
	if !st.OK() || *entry == 0 {
		return "", false, st
	}
	return native.GoString(*entry), true, st
}

func (md *MobileDevice) AFCDirectoryClose(conn AFCConnRef, dir AFCDirRef) Status {
	return md.call("AFCDirectoryClose", uintptr(conn), uintptr(dir))
}

func (md *MobileDevice) AFCFileRefOpen(conn AFCConnRef, path string, mode AFCMode, timeout uint32) (AFCFileRef, Status) {
	ref := new(uint64)
	st := md.call("AFCFileRefOpen", uintptr(conn), path, uint32(mode), timeout, unsafe.Pointer(ref))
	return AFCFileRef(*ref), st
}

func (md *MobileDevice) AFCFileRefClose(conn AFCConnRef, f AFCFileRef) Status {
	return md.call("AFCFileRefClose", uintptr(conn), uint64(f))
}

// AFCFileRefRead reads up to len(buf) bytes and returns how many were read.
func (md *MobileDevice) AFCFileRefRead(conn AFCConnRef, f AFCFileRef, buf []byte) (int, Status) {
	if len(buf) == 0 {
		return 0, 0
	}
	n := new(uintptr)
	*n = uintptr(len(buf))
	st := md.call("AFCFileRefRead", uintptr(conn), uint64(f), buf, unsafe.Pointer(n))
	return int(*n), st
}

func (md *MobileDevice) AFCFileRefWrite(conn AFCConnRef, f AFCFileRef, buf []byte) Status {
	return md.call("AFCFileRefWrite", uintptr(conn), uint64(f), buf, uint32(len(buf)))
}
