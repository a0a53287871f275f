// Package session drives a device through connect, pair validation,
// session start and service start, and releases everything it acquired in
// reverse order.
package session

import (
	"errors"
	"fmt"

	"github.com/apex/log"
	md "github.com/blacktop/idevice/pkg/usb/mobiledevice"
	"github.com/blacktop/idevice/pkg/usb/plistsvc"
	"github.com/blacktop/idevice/pkg/usb/transport"
)

// API is the device-management surface a Session needs. It is implemented
// by *mobiledevice.MobileDevice and by the usbmuxd lockdownd backend.
type API interface {
	DeviceConnect(dev md.DeviceRef) md.Status
	DeviceIsPaired(dev md.DeviceRef) bool
	DevicePair(dev md.DeviceRef) md.Status
	DeviceValidatePairing(dev md.DeviceRef) md.Status
	DeviceStartSession(dev md.DeviceRef) md.Status
	DeviceStopSession(dev md.DeviceRef) md.Status
	DeviceDisconnect(dev md.DeviceRef) md.Status
	DeviceStartService(dev md.DeviceRef, name string) (md.ServiceSocket, md.Status)
	ServiceStream(sock md.ServiceSocket) (transport.Stream, error)
}

// State is the position of a Session in its lifecycle.
type State int

const (
	Disconnected State = iota
	Connected
	Paired
	SessionActive
	ServiceStarted
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Paired:
		return "paired"
	case SessionActive:
		return "session active"
	case ServiceStarted:
		return "service started"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrInvalidState is returned when an operation is not allowed in the
// current state.
var ErrInvalidState = errors.New("invalid session state")

// StatusError is a failed device call with its native status code.
type StatusError struct {
	Op     string
	Status md.Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed with status %s", e.Op, e.Status)
}

// Session owns one device connection.
type Session struct {
	api   API
	dev   md.DeviceRef
	state State

	sessionStarted bool
	channels       []*ServiceChannel
}

func New(api API, dev md.DeviceRef) *Session {
	return &Session{api: api, dev: dev}
}

// Open connects, validates pairing and starts a session. On failure every
// step already taken is undone.
func Open(api API, dev md.DeviceRef) (*Session, error) {
	s := New(api, dev)
	if err := s.Connect(); err != nil {
		return nil, err
	}
	if err := s.EnsurePaired(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.StartSession(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) API() API { return s.api }

func (s *Session) Device() md.DeviceRef { return s.dev }

func (s *Session) State() State { return s.state }

func (s *Session) expect(op string, states ...State) error {
	for _, st := range states {
		if s.state == st {
			return nil
		}
	}
	return fmt.Errorf("%s while %s: %w", op, s.state, ErrInvalidState)
}

func (s *Session) check(op string, st md.Status) error {
	log.WithFields(log.Fields{
		"op":     op,
		"status": st,
	}).Debug("Device call")
	if !st.OK() {
		return &StatusError{Op: op, Status: st}
	}
	return nil
}

func (s *Session) Connect() error {
	if err := s.expect("connect", Disconnected); err != nil {
		return err
	}
	if err := s.check("AMDeviceConnect", s.api.DeviceConnect(s.dev)); err != nil {
		return err
	}
	s.state = Connected
	return nil
}

// EnsurePaired pairs the device if it is not already paired and always
// validates the pairing afterwards.
func (s *Session) EnsurePaired() error {
	if err := s.expect("ensure paired", Connected); err != nil {
		return err
	}
	if !s.api.DeviceIsPaired(s.dev) {
		st := s.api.DevicePair(s.dev)
		log.WithField("status", st).Debug("AMDevicePair")
	}
	if err := s.check("AMDeviceValidatePairing", s.api.DeviceValidatePairing(s.dev)); err != nil {
		return err
	}
	s.state = Paired
	return nil
}

func (s *Session) StartSession() error {
	if err := s.expect("start session", Paired); err != nil {
		return err
	}
	if err := s.check("AMDeviceStartSession", s.api.DeviceStartSession(s.dev)); err != nil {
		return err
	}
	s.sessionStarted = true
	s.state = SessionActive
	return nil
}

// StartService starts a named lockdown service. Several services may be
// started within one session.
func (s *Session) StartService(name string) (*ServiceChannel, error) {
	if err := s.expect("start service "+name, SessionActive, ServiceStarted); err != nil {
		return nil, err
	}
	sock, st := s.api.DeviceStartService(s.dev, name)
	if err := s.check("AMDeviceStartService("+name+")", st); err != nil {
		return nil, err
	}
	ch := &ServiceChannel{Name: name, Socket: sock, sess: s}
	s.channels = append(s.channels, ch)
	s.state = ServiceStarted
	return ch, nil
}

// StopSession closes open service channels and stops the session. The
// session is over even when the device rejects the stop; the connection
// stays open.
func (s *Session) StopSession() error {
	if err := s.expect("stop session", SessionActive, ServiceStarted); err != nil {
		return err
	}
	err := s.closeChannels()
	stopErr := s.stopSession()
	s.state = Connected
	if stopErr != nil {
		return stopErr
	}
	return err
}

// Disconnect drops the connection. Any active session is stopped first.
func (s *Session) Disconnect() error {
	if s.state == Disconnected {
		return fmt.Errorf("disconnect: %w", ErrInvalidState)
	}
	return s.Close()
}

// Close releases every acquired resource in reverse order of acquisition:
// service channels, the session, then the connection. Each is released
// exactly once and Close may be called repeatedly.
func (s *Session) Close() error {
	var errs []error
	if err := s.closeChannels(); err != nil {
		errs = append(errs, err)
	}
	if err := s.stopSession(); err != nil {
		errs = append(errs, err)
	}
	if s.state != Disconnected {
		if err := s.check("AMDeviceDisconnect", s.api.DeviceDisconnect(s.dev)); err != nil {
			errs = append(errs, err)
		}
		s.state = Disconnected
	}
	return errors.Join(errs...)
}

func (s *Session) stopSession() error {
	if !s.sessionStarted {
		return nil
	}
	s.sessionStarted = false
	return s.check("AMDeviceStopSession", s.api.DeviceStopSession(s.dev))
}

func (s *Session) closeChannels() error {
	var errs []error
	chans := s.channels
	s.channels = nil
	for i := len(chans) - 1; i >= 0; i-- {
		if err := chans[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.state == ServiceStarted {
		s.state = SessionActive
	}
	return errors.Join(errs...)
}

func (s *Session) forget(ch *ServiceChannel) {
	for i, c := range s.channels {
		if c == ch {
			s.channels = append(s.channels[:i], s.channels[i+1:]...)
			break
		}
	}
	if len(s.channels) == 0 && s.state == ServiceStarted {
		s.state = SessionActive
	}
}

// OpenStream wraps sock with the backend transport.
func (s *Session) OpenStream(sock md.ServiceSocket) (transport.Stream, error) {
	return s.api.ServiceStream(sock)
}

// ServiceChannel is a started service. Its stream is opened lazily and
// closing the channel closes the stream.
type ServiceChannel struct {
	Name   string
	Socket md.ServiceSocket

	sess     *Session
	stream   transport.Stream
	released bool
	closed   bool
}

// Stream returns the transport stream of the channel, opening it on first
// use.
func (c *ServiceChannel) Stream() (transport.Stream, error) {
	if c.closed || c.released {
		return nil, fmt.Errorf("service %s: %w", c.Name, ErrInvalidState)
	}
	if c.stream == nil {
		st, err := c.sess.api.ServiceStream(c.Socket)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s stream: %w", c.Name, err)
		}
		c.stream = st
	}
	return c.stream, nil
}

// PlistService frames the channel stream.
func (c *ServiceChannel) PlistService(opts ...plistsvc.Option) (*plistsvc.Service, error) {
	st, err := c.Stream()
	if err != nil {
		return nil, err
	}
	return plistsvc.New(st, opts...), nil
}

// Release hands the raw socket to another owner (for example an AFC
// connection, which closes the socket itself). The session no longer
// closes it.
func (c *ServiceChannel) Release() md.ServiceSocket {
	c.released = true
	c.sess.forget(c)
	return c.Socket
}

func (c *ServiceChannel) Close() error {
	if c.closed || c.released {
		return nil
	}
	c.closed = true
	c.sess.forget(c)
	if c.stream == nil {
		// never wrapped: adopt it to close the descriptor
		st, err := c.sess.api.ServiceStream(c.Socket)
		if err != nil {
			return err
		}
		c.stream = st
	}
	return c.stream.Close()
}
