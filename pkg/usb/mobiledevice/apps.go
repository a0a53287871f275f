package mobiledevice

import (
	"unsafe"

	cf "github.com/blacktop/idevice/pkg/usb/corefoundation"
)

// Progress is one progress dictionary reported during an application
// transfer, install or uninstall.
type Progress struct {
	Status          string
	PercentComplete int
	Raw             map[string]any
}

// ProgressFunc receives every progress report of an operation.
type ProgressFunc func(Progress)

func (md *MobileDevice) appOp(name string, sock ServiceSocket, arg string, progress ProgressFunc) Status {
	_, thunk := md.thunks()

	a := md.cf.CreateString(arg)
	defer md.cf.Release(a)
	opts, err := md.cf.CreateDictionary(map[string]any{"PackageType": "Developer"})
	if err != nil {
		return Status(^uint32(0))
	}
	defer md.cf.Release(opts)

	md.onProgress = progress
	defer func() { md.onProgress = nil }()

	return md.call(name, int32(sock), uintptr(a), uintptr(opts), thunk, uintptr(md.cookie))
}

// TransferApplication copies a .app bundle to the device staging area over
// an AFC service socket.
func (md *MobileDevice) TransferApplication(sock ServiceSocket, path string, progress ProgressFunc) Status {
	return md.appOp("AMDeviceTransferApplication", sock, path, progress)
}

// InstallApplication installs a transferred bundle over an
// installation_proxy service socket.
func (md *MobileDevice) InstallApplication(sock ServiceSocket, path string, progress ProgressFunc) Status {
	return md.appOp("AMDeviceInstallApplication", sock, path, progress)
}

func (md *MobileDevice) UninstallApplication(sock ServiceSocket, bundleID string, progress ProgressFunc) Status {
	return md.appOp("AMDeviceUninstallApplication", sock, bundleID, progress)
}

// LookupApplications returns the installed applications keyed by bundle
// identifier.
func (md *MobileDevice) LookupApplications(dev DeviceRef) (map[string]any, Status) {
	opts, err := md.cf.CreateDictionary(map[string]any{"ApplicationType": "Any"})
	if err != nil {
		return nil, Status(^uint32(0))
	}
	defer md.cf.Release(opts)

	out := new(uintptr)
	st := md.call("AMDeviceLookupApplications", uintptr(dev), uintptr(opts), unsafe.Pointer(out))
	if !st.OK() || *out == 0 {
		return nil, st
	}
	apps := cf.Ref(*out)
	defer md.cf.Release(apps)
	return md.cf.DictionaryToMap(apps), st
}
