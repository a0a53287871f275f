package installation

import (
	"errors"

	md "github.com/blacktop/idevice/pkg/usb/mobiledevice"
	"github.com/blacktop/idevice/pkg/usb/session"
)

// Applications lists the installed applications of the session's device.
// Backends with a native lookup answer directly; the rest go through the
// installation proxy.
func Applications(sess *session.Session) ([]AppInfo, error) {
	raw, err := sess.Applications()
	if errors.Is(err, session.ErrUnsupported) {
		c, err := Open(sess)
		if err != nil {
			return nil, err
		}
		defer c.Close()
		return c.InstalledApps()
	}
	if err != nil {
		return nil, err
	}
	apps := make(map[string]map[string]any, len(raw))
	for id, v := range raw {
		if m, ok := v.(map[string]any); ok {
			apps[id] = m
		}
	}
	return decodeApps(apps)
}

// UninstallApplication removes bundleID using the native uninstaller when
// the backend has one.
func UninstallApplication(sess *session.Session, bundleID string, progress md.ProgressFunc) error {
	if _, ok := sess.API().(session.Installer); ok {
		return sess.UninstallApplication(bundleID, progress)
	}
	c, err := Open(sess)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Uninstall(bundleID, progress)
}
