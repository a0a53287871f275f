package lockdownd

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/apex/log"
	"github.com/blacktop/idevice/pkg/usb"
	md "github.com/blacktop/idevice/pkg/usb/mobiledevice"
	"github.com/blacktop/idevice/pkg/usb/transport"
)

// Statuses returned by Backend. They follow the MobileDevice error
// numbering so callers can treat both backends alike.
const (
	StatusSuccess         md.Status = 0
	StatusUndefined       md.Status = 0xe8000001
	StatusNoResources     md.Status = 0xe8000003
	StatusReadError       md.Status = 0xe8000004
	StatusWriteError      md.Status = 0xe8000005
	StatusInvalidArgument md.Status = 0xe8000007
	StatusNotFound        md.Status = 0xe8000008
	StatusNotConnected    md.Status = 0xe800000b
	StatusInvalidService  md.Status = 0xe8000022
)

// Dialer opens a new connection to usbmuxd.
type Dialer func() (*usb.Conn, error)

type device struct {
	info      *usb.DeviceAttachment
	pair      *usb.PairRecord
	client    *Client
	sessionID string
}

// Backend implements session.API with usbmuxd and lockdownd, for hosts
// without Apple's MobileDevice library. DeviceRefs are usbmuxd device IDs.
type Backend struct {
	dial Dialer

	mu       sync.Mutex
	devices  map[md.DeviceRef]*device
	nextSock md.ServiceSocket
	services map[md.ServiceSocket]net.Conn
}

func NewBackend(dial Dialer) *Backend {
	if dial == nil {
		dial = usb.NewConn
	}
	return &Backend{
		dial:     dial,
		devices:  make(map[md.DeviceRef]*device),
		services: make(map[md.ServiceSocket]net.Conn),
	}
}

// Devices lists the attached devices and makes them addressable by
// their DeviceID.
func (b *Backend) Devices() ([]*usb.DeviceAttachment, error) {
	conn, err := b.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	devs, err := conn.ListDevices()
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range devs {
		ref := md.DeviceRef(d.DeviceID)
		if dev, ok := b.devices[ref]; ok {
			dev.info = d
		} else {
			b.devices[ref] = &device{info: d}
		}
	}
	return devs, nil
}

// Lookup returns the DeviceRef of the attached device with udid. An empty
// udid picks the first device.
func (b *Backend) Lookup(udid string) (md.DeviceRef, error) {
	devs, err := b.Devices()
	if err != nil {
		return 0, err
	}
	for _, d := range devs {
		if udid == "" || d.Serial() == udid {
			return md.DeviceRef(d.DeviceID), nil
		}
	}
	if udid == "" {
		return 0, usb.ErrDeviceNotFound
	}
	return 0, fmt.Errorf("%w: %s", usb.ErrDeviceNotFound, udid)
}

func (b *Backend) device(dev md.DeviceRef) *device {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.devices[dev]
}

func (b *Backend) dialPort(d *device, port int) (*usb.Conn, error) {
	conn, err := b.dial()
	if err != nil {
		return nil, err
	}
	if err := conn.Dial(d.info.DeviceID, port); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func logStatus(op string, dev md.DeviceRef, st md.Status, err error) md.Status {
	log.WithFields(log.Fields{
		"op":     op,
		"device": int(dev),
		"status": st,
	}).WithError(err).Debug("lockdownd backend")
	return st
}

func (b *Backend) DeviceConnect(dev md.DeviceRef) md.Status {
	d := b.device(dev)
	if d == nil {
		return StatusNotFound
	}
	if d.client != nil {
		return StatusSuccess
	}
	conn, err := b.dialPort(d, Port)
	if err != nil {
		return logStatus("connect", dev, StatusNotConnected, err)
	}
	d.client = NewClient(conn)
	return StatusSuccess
}

// DeviceIsPaired reports whether usbmuxd holds a pair record for the
// device.
func (b *Backend) DeviceIsPaired(dev md.DeviceRef) bool {
	d := b.device(dev)
	if d == nil {
		return false
	}
	if d.pair != nil {
		return true
	}
	conn, err := b.dial()
	if err != nil {
		return false
	}
	defer conn.Close()
	pair, err := conn.ReadPairRecord(d.info.Serial())
	if err != nil {
		log.WithError(err).WithField("udid", d.info.Serial()).Debug("No pair record")
		return false
	}
	d.pair = pair
	return true
}

// DevicePair is not available without the native library: the device
// shows its trust dialog only to the pairing host.
func (b *Backend) DevicePair(dev md.DeviceRef) md.Status {
	return logStatus("pair", dev, StatusUndefined, errors.New("pairing is not supported over usbmuxd; trust this host with Finder or iTunes"))
}

// DeviceValidatePairing checks the connection reaches lockdownd and a pair
// record is available.
func (b *Backend) DeviceValidatePairing(dev md.DeviceRef) md.Status {
	d := b.device(dev)
	if d == nil || d.client == nil {
		return StatusNotConnected
	}
	typ, err := d.client.QueryType()
	if err != nil {
		return logStatus("query type", dev, StatusReadError, err)
	}
	if typ != QueryTypeLockdown {
		return logStatus("query type", dev, StatusInvalidService, fmt.Errorf("unexpected type %q", typ))
	}
	if !b.DeviceIsPaired(dev) {
		return StatusNotFound
	}
	return StatusSuccess
}

func (b *Backend) DeviceStartSession(dev md.DeviceRef) md.Status {
	d := b.device(dev)
	if d == nil || d.client == nil {
		return StatusNotConnected
	}
	if d.pair == nil {
		return StatusNotFound
	}
	resp, err := d.client.StartSession(d.pair)
	if err != nil {
		return logStatus("start session", dev, StatusUndefined, err)
	}
	d.sessionID = resp.SessionID
	log.WithFields(log.Fields{
		"session": resp.SessionID,
		"ssl":     resp.EnableSessionSSL,
	}).Debug("Lockdown session started")
	return StatusSuccess
}

func (b *Backend) DeviceStopSession(dev md.DeviceRef) md.Status {
	d := b.device(dev)
	if d == nil || d.client == nil {
		return StatusNotConnected
	}
	id := d.sessionID
	d.sessionID = ""
	if err := d.client.StopSession(id); err != nil {
		return logStatus("stop session", dev, StatusUndefined, err)
	}
	return StatusSuccess
}

func (b *Backend) DeviceDisconnect(dev md.DeviceRef) md.Status {
	d := b.device(dev)
	if d == nil || d.client == nil {
		return StatusNotConnected
	}
	err := d.client.Close()
	d.client = nil
	if err != nil {
		return logStatus("disconnect", dev, StatusWriteError, err)
	}
	return StatusSuccess
}

// DeviceStartService asks lockdownd for the service port and connects to
// it. The returned socket is a handle for ServiceStream.
func (b *Backend) DeviceStartService(dev md.DeviceRef, name string) (md.ServiceSocket, md.Status) {
	d := b.device(dev)
	if d == nil || d.client == nil {
		return 0, StatusNotConnected
	}
	resp, err := d.client.StartService(name, nil)
	var rerr *ResponseError
	if errors.As(err, &rerr) && rerr.Err == "EscrowBagMissing" && d.pair != nil {
		resp, err = d.client.StartService(name, d.pair.EscrowBag)
	}
	if err != nil {
		return 0, logStatus("start service", dev, StatusInvalidService, err)
	}

	conn, err := b.dialPort(d, resp.Port)
	if err != nil {
		return 0, logStatus("service connect", dev, StatusNotConnected, err)
	}
	var svc net.Conn = conn
	if resp.EnableServiceSSL {
		if d.pair == nil {
			conn.Close()
			return 0, StatusNotFound
		}
		tc, err := wrapTLS(conn, d.pair)
		if err != nil {
			conn.Close()
			return 0, logStatus("service TLS", dev, StatusNotConnected, err)
		}
		svc = tc
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSock++
	b.services[b.nextSock] = svc
	log.WithFields(log.Fields{
		"service": name,
		"port":    resp.Port,
		"ssl":     resp.EnableServiceSSL,
		"socket":  b.nextSock,
	}).Debug("Service started")
	return b.nextSock, StatusSuccess
}

// ServiceStream hands over the connection behind sock. Each socket can be
// opened once.
func (b *Backend) ServiceStream(sock md.ServiceSocket) (transport.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	conn, ok := b.services[sock]
	if !ok {
		return nil, fmt.Errorf("unknown service socket %d", sock)
	}
	delete(b.services, sock)
	return transport.NewConnStream(conn), nil
}

func (b *Backend) CopyDeviceIdentifier(dev md.DeviceRef) (string, bool) {
	d := b.device(dev)
	if d == nil {
		return "", false
	}
	return d.info.Serial(), true
}

func (b *Backend) CopyValue(dev md.DeviceRef, domain, key string) (any, bool) {
	d := b.device(dev)
	if d == nil || d.client == nil {
		return nil, false
	}
	v, err := d.client.GetValue(domain, key)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"domain": domain, "key": key}).Debug("GetValue failed")
		return nil, false
	}
	return v, v != nil
}

// Close drops every connection still held by the backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for sock, conn := range b.services {
		errs = append(errs, conn.Close())
		delete(b.services, sock)
	}
	for _, d := range b.devices {
		if d.client != nil {
			errs = append(errs, d.client.Close())
			d.client = nil
		}
	}
	return errors.Join(errs...)
}
