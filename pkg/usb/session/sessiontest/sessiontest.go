// Package sessiontest provides a scripted session.API for tests.
package sessiontest

import (
	"fmt"
	"net"
	"sync"

	md "github.com/blacktop/idevice/pkg/usb/mobiledevice"
	"github.com/blacktop/idevice/pkg/usb/transport"
)

// API records every call and answers with scripted statuses.
type API struct {
	mu sync.Mutex

	// Paired is returned by DeviceIsPaired.
	Paired bool
	// Status maps an operation name (e.g. "AMDeviceValidatePairing") to
	// the status it returns. Missing operations succeed.
	Status map[string]md.Status
	// Services maps a service name to the handler serving the device side
	// of its stream. Unknown services get a stream that is closed at once.
	Services map[string]func(device net.Conn)

	Calls []string

	nextSock md.ServiceSocket
	socks    map[md.ServiceSocket]string
	// Streams records every stream handed out, by socket.
	Streams map[md.ServiceSocket]*Stream
}

func New() *API {
	return &API{
		Paired:   true,
		Status:   map[string]md.Status{},
		Services: map[string]func(net.Conn){},
		nextSock: 100,
		socks:    map[md.ServiceSocket]string{},
		Streams:  map[md.ServiceSocket]*Stream{},
	}
}

func (a *API) record(op string) md.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Calls = append(a.Calls, op)
	return a.Status[op]
}

// Count returns how many times op was called.
func (a *API) Count(op string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.Calls {
		if c == op {
			n++
		}
	}
	return n
}

func (a *API) DeviceConnect(md.DeviceRef) md.Status { return a.record("AMDeviceConnect") }

func (a *API) DeviceIsPaired(md.DeviceRef) bool {
	a.record("AMDeviceIsPaired")
	return a.Paired
}

func (a *API) DevicePair(md.DeviceRef) md.Status { return a.record("AMDevicePair") }

func (a *API) DeviceValidatePairing(md.DeviceRef) md.Status {
	return a.record("AMDeviceValidatePairing")
}

func (a *API) DeviceStartSession(md.DeviceRef) md.Status { return a.record("AMDeviceStartSession") }

func (a *API) DeviceStopSession(md.DeviceRef) md.Status { return a.record("AMDeviceStopSession") }

func (a *API) DeviceDisconnect(md.DeviceRef) md.Status { return a.record("AMDeviceDisconnect") }

func (a *API) DeviceStartService(_ md.DeviceRef, name string) (md.ServiceSocket, md.Status) {
	st := a.record("AMDeviceStartService")
	if !st.OK() {
		return 0, st
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextSock++
	a.socks[a.nextSock] = name
	return a.nextSock, st
}

func (a *API) ServiceStream(sock md.ServiceSocket) (transport.Stream, error) {
	a.mu.Lock()
	name, ok := a.socks[sock]
	handler := a.Services[name]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown socket %d", sock)
	}
	host, device := net.Pipe()
	if handler == nil {
		device.Close()
	} else {
		go handler(device)
	}
	s := &Stream{Stream: transport.NewConnStream(host)}
	a.mu.Lock()
	a.Streams[sock] = s
	a.mu.Unlock()
	return s, nil
}

// Stream counts Close calls on a host side stream.
type Stream struct {
	transport.Stream
	mu     sync.Mutex
	closes int
}

func (s *Stream) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return s.Stream.Close()
}

func (s *Stream) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
