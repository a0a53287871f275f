package afc

import (
	"fmt"

	"github.com/blacktop/idevice/pkg/usb/session"
)

// OpenService starts the AFC service on sess and opens a channel on it.
// Backends that speak AFC themselves (MobileDevice) are used directly,
// anything else gets the wire protocol over the service stream.
func OpenService(sess *session.Session, timeout uint32) (*Channel, error) {
	return OpenNamedService(sess, ServiceName, timeout)
}

// OpenNamedService is OpenService for AFC-speaking services other than
// com.apple.afc, such as com.apple.crashreportcopymobile.
func OpenNamedService(sess *session.Session, name string, timeout uint32) (*Channel, error) {
	svc, err := sess.StartService(name)
	if err != nil {
		return nil, err
	}
	var b Backend
	if native, ok := sess.API().(Backend); ok {
		b = native
	} else {
		b = NewWire(sess.OpenStream)
	}
	ch, err := Open(b, svc.Socket, timeout)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	// the AFC connection owns the socket from here on
	svc.Release()
	return ch, nil
}
