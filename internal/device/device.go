// Package device selects a backend and a device for the CLI.
package device

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"sort"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/apex/log"
	"github.com/blacktop/idevice/internal/config"
	"github.com/blacktop/idevice/pkg/usb"
	cf "github.com/blacktop/idevice/pkg/usb/corefoundation"
	"github.com/blacktop/idevice/pkg/usb/lockdownd"
	md "github.com/blacktop/idevice/pkg/usb/mobiledevice"
	"github.com/blacktop/idevice/pkg/usb/native"
	"github.com/blacktop/idevice/pkg/usb/notification"
	"github.com/blacktop/idevice/pkg/usb/session"
)

// settle is how long discovery waits for further notifications once a
// device has been reported.
const settle = 250 * time.Millisecond

var (
	ErrNoDevice    = errors.New("no device attached")
	ErrInterrupted = errors.New("device selection interrupted")
)

// NativeAPI is the surface the native backend offers.
type NativeAPI interface {
	session.API
	session.Identifier
	notification.Subscriber
}

type Device struct {
	Ref        md.DeviceRef
	UDID       string
	Connection string
}

func (d Device) String() string {
	if d.Connection == "" {
		return d.UDID
	}
	return fmt.Sprintf("%s (%s)", d.UDID, d.Connection)
}

// Conn is a connected backend.
type Conn struct {
	// Backend is config.BackendNative or config.BackendUsbmux.
	Backend string

	timeout time.Duration
	api     session.API

	nat     NativeAPI
	loop    notification.RunLoop
	watcher *notification.Watcher
	known   map[md.DeviceRef]Device

	usbmux *lockdownd.Backend
	dial   lockdownd.Dialer

	closers []io.Closer
	askOne  func(survey.Prompt, any, ...survey.AskOpt) error
}

// NewNative wraps a native backend. Devices are discovered through
// notifications delivered while loop runs.
func NewNative(api NativeAPI, loop notification.RunLoop, timeout time.Duration) *Conn {
	return &Conn{
		Backend: config.BackendNative,
		timeout: timeout,
		api:     api,
		nat:     api,
		loop:    loop,
		known:   make(map[md.DeviceRef]Device),
		askOne:  survey.AskOne,
	}
}

func NewUsbmux(dial lockdownd.Dialer, timeout time.Duration) *Conn {
	if dial == nil {
		dial = usb.NewConn
	}
	b := lockdownd.NewBackend(dial)
	return &Conn{
		Backend: config.BackendUsbmux,
		timeout: timeout,
		api:     b,
		usbmux:  b,
		dial:    dial,
		closers: []io.Closer{b},
		askOne:  survey.AskOne,
	}
}

// Connect opens the backend selected by c. The auto backend prefers the
// native libraries and falls back to usbmuxd when they are missing.
func Connect(c *config.Config) (*Conn, error) {
	if c.Usbmuxd != "" {
		usb.SocketPath = c.Usbmuxd
	}
	if c.Backend == config.BackendUsbmux {
		return NewUsbmux(nil, c.Timeout), nil
	}
	conn, err := connectNative(c)
	if err == nil {
		return conn, nil
	}
	if c.Backend == config.BackendAuto &&
		(errors.Is(err, native.ErrNotInstalled) || errors.Is(err, native.ErrUnsupportedPlatform)) {
		log.WithError(err).Debug("Native libraries unavailable, using usbmuxd")
		return NewUsbmux(nil, c.Timeout), nil
	}
	return nil, err
}

func connectNative(c *config.Config) (*Conn, error) {
	loader := native.NewLoader(c.Resolver())
	cfx, err := cf.Load(loader)
	if err != nil {
		return nil, err
	}
	mdev, err := md.Load(loader, cfx)
	if err != nil {
		cfx.Close()
		return nil, err
	}
	conn := NewNative(mdev, cfx, c.Timeout)
	conn.closers = []io.Closer{mdev, cfx}
	return conn, nil
}

// API returns the session backend.
func (c *Conn) API() session.API { return c.api }

// Devices lists the attached devices sorted by UDID.
func (c *Conn) Devices() ([]Device, error) {
	var devs []Device
	if c.usbmux != nil {
		attached, err := c.usbmux.Devices()
		if err != nil {
			return nil, err
		}
		for _, a := range attached {
			devs = append(devs, Device{
				Ref:        md.DeviceRef(a.DeviceID),
				UDID:       a.Serial(),
				Connection: a.ConnectionType,
			})
		}
	} else {
		if err := c.discover(); err != nil {
			return nil, err
		}
		for _, d := range c.known {
			devs = append(devs, d)
		}
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i].UDID < devs[j].UDID })
	return devs, nil
}

// Attachments returns the properties usbmuxd reports for each attached
// device. Only the usbmux backend has them.
func (c *Conn) Attachments() ([]*usb.DeviceAttachment, error) {
	if c.usbmux == nil {
		return nil, fmt.Errorf("device details: %w", session.ErrUnsupported)
	}
	return c.usbmux.Devices()
}

// discover runs the run loop until notifications stop arriving. Devices
// already attached are reported right after subscribing.
func (c *Conn) discover() error {
	w, err := c.Watcher()
	if err != nil {
		return err
	}
	deadline := time.Now().Add(c.timeout)
	wait := c.timeout
	if len(c.known) > 0 {
		wait = settle
	}
	for wait > 0 {
		n, err := w.Wait(wait)
		if errors.Is(err, notification.ErrTimeout) {
			break
		}
		if err != nil {
			return err
		}
		switch n.Event {
		case md.Attached:
			udid, _ := c.nat.CopyDeviceIdentifier(n.Device)
			c.known[n.Device] = Device{Ref: n.Device, UDID: udid}
		case md.Detached:
			delete(c.known, n.Device)
		}
		wait = min(settle, time.Until(deadline))
	}
	return nil
}

// Find returns the device with udid, or the only attached device when
// udid is empty.
func (c *Conn) Find(udid string) (Device, error) {
	devs, err := c.Devices()
	if err != nil {
		return Device{}, err
	}
	if len(devs) == 0 {
		return Device{}, ErrNoDevice
	}
	if udid == "" {
		if len(devs) > 1 {
			return Device{}, fmt.Errorf("%d devices attached, pass --udid", len(devs))
		}
		return devs[0], nil
	}
	for _, d := range devs {
		if d.UDID == udid {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("device %s: %w", udid, ErrNoDevice)
}

// Pick is Find, but asks the user to choose when several devices are
// attached and no udid was given.
func (c *Conn) Pick(udid string) (Device, error) {
	devs, err := c.Devices()
	if err != nil {
		return Device{}, err
	}
	if udid != "" || len(devs) < 2 {
		return c.Find(udid)
	}
	var choices []string
	for _, d := range devs {
		choices = append(choices, d.String())
	}
	var selected int
	prompt := &survey.Select{
		Message: "Select a device:",
		Options: choices,
	}
	if err := c.askOne(prompt, &selected); err != nil {
		if errors.Is(err, terminal.InterruptErr) {
			return Device{}, ErrInterrupted
		}
		return Device{}, err
	}
	return devs[selected], nil
}

// Open picks a device and opens a session on it.
func (c *Conn) Open(udid string) (*session.Session, Device, error) {
	d, err := c.Pick(udid)
	if err != nil {
		return nil, Device{}, err
	}
	log.WithFields(log.Fields{
		"udid":    d.UDID,
		"backend": c.Backend,
	}).Debug("Opening session")
	s, err := session.Open(c.api, d.Ref)
	if err != nil {
		return nil, d, err
	}
	return s, d, nil
}

// Watcher returns the notification watcher of the native backend, starting
// it if needed.
func (c *Conn) Watcher() (*notification.Watcher, error) {
	if c.nat == nil {
		return nil, fmt.Errorf("notifications need the %s backend", config.BackendNative)
	}
	if c.watcher == nil {
		// callbacks arrive on the thread running the loop
		runtime.LockOSThread()
		w := notification.NewWatcher(c.nat, c.loop)
		if err := w.Start(); err != nil {
			return nil, err
		}
		c.watcher = w
	}
	return c.watcher, nil
}

func (c *Conn) Close() error {
	var errs []error
	if c.watcher != nil {
		errs = append(errs, c.watcher.Stop())
		c.watcher = nil
	}
	for _, cl := range c.closers {
		errs = append(errs, cl.Close())
	}
	c.closers = nil
	return errors.Join(errs...)
}
