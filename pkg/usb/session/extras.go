package session

import (
	"errors"
	"fmt"

	md "github.com/blacktop/idevice/pkg/usb/mobiledevice"
)

// ErrUnsupported is returned when the session backend lacks an optional
// capability.
var ErrUnsupported = errors.New("not supported by this backend")

// Identifier is implemented by backends that can report the device UDID.
type Identifier interface {
	CopyDeviceIdentifier(dev md.DeviceRef) (string, bool)
}

// ValueReader is implemented by backends that can read lockdown values.
type ValueReader interface {
	CopyValue(dev md.DeviceRef, domain, key string) (any, bool)
}

// Installer is implemented by backends that transfer and install
// application bundles natively.
type Installer interface {
	TransferApplication(sock md.ServiceSocket, path string, progress md.ProgressFunc) md.Status
	InstallApplication(sock md.ServiceSocket, path string, progress md.ProgressFunc) md.Status
	UninstallApplication(sock md.ServiceSocket, bundleID string, progress md.ProgressFunc) md.Status
}

// AppLister is implemented by backends that list installed applications
// without the installation proxy.
type AppLister interface {
	LookupApplications(dev md.DeviceRef) (map[string]any, md.Status)
}

const (
	afcService          = "com.apple.afc"
	installProxyService = "com.apple.mobile.installation_proxy"
)

// DeviceIdentifier returns the UDID of the device.
func (s *Session) DeviceIdentifier() (string, error) {
	id, ok := s.api.(Identifier)
	if !ok {
		return "", fmt.Errorf("device identifier: %w", ErrUnsupported)
	}
	udid, found := id.CopyDeviceIdentifier(s.dev)
	if !found {
		return "", fmt.Errorf("device identifier unavailable")
	}
	return udid, nil
}

// Value reads a lockdown value. Empty domain and key return the whole
// global domain.
func (s *Session) Value(domain, key string) (any, error) {
	if err := s.expect("copy value", Connected, Paired, SessionActive, ServiceStarted); err != nil {
		return nil, err
	}
	vr, ok := s.api.(ValueReader)
	if !ok {
		return nil, fmt.Errorf("copy value: %w", ErrUnsupported)
	}
	v, found := vr.CopyValue(s.dev, domain, key)
	if !found {
		return nil, fmt.Errorf("no value for %s/%s", domain, key)
	}
	return v, nil
}

// InstallApplication transfers the .app bundle at path over AFC and
// installs it through the installation proxy.
func (s *Session) InstallApplication(path string, progress md.ProgressFunc) error {
	inst, ok := s.api.(Installer)
	if !ok {
		return fmt.Errorf("install application: %w", ErrUnsupported)
	}
	if err := s.runAppOp(afcService, "AMDeviceTransferApplication", func(sock md.ServiceSocket) md.Status {
		return inst.TransferApplication(sock, path, progress)
	}); err != nil {
		return err
	}
	return s.runAppOp(installProxyService, "AMDeviceInstallApplication", func(sock md.ServiceSocket) md.Status {
		return inst.InstallApplication(sock, path, progress)
	})
}

// UninstallApplication removes an application by bundle identifier.
func (s *Session) UninstallApplication(bundleID string, progress md.ProgressFunc) error {
	inst, ok := s.api.(Installer)
	if !ok {
		return fmt.Errorf("uninstall application: %w", ErrUnsupported)
	}
	return s.runAppOp(installProxyService, "AMDeviceUninstallApplication", func(sock md.ServiceSocket) md.Status {
		return inst.UninstallApplication(sock, bundleID, progress)
	})
}

// Applications returns the installed applications keyed by bundle
// identifier.
func (s *Session) Applications() (map[string]any, error) {
	if err := s.expect("lookup applications", Connected, Paired, SessionActive, ServiceStarted); err != nil {
		return nil, err
	}
	l, ok := s.api.(AppLister)
	if !ok {
		return nil, fmt.Errorf("lookup applications: %w", ErrUnsupported)
	}
	apps, st := l.LookupApplications(s.dev)
	if err := s.check("AMDeviceLookupApplications", st); err != nil {
		return nil, err
	}
	return apps, nil
}

func (s *Session) runAppOp(service, op string, fn func(md.ServiceSocket) md.Status) error {
	ch, err := s.StartService(service)
	if err != nil {
		return err
	}
	defer ch.Close()
	return s.check(op, fn(ch.Socket))
}
