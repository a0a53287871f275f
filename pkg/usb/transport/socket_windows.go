//go:build windows

package transport

import (
	"io"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	ws2           = windows.NewLazySystemDLL("ws2_32.dll")
	procRecv      = ws2.NewProc("recv")
	procSend      = ws2.NewProc("send")
	procCloseSock = ws2.NewProc("closesocket")
)

// winsockStream drives a SOCKET handed out by MobileDevice.dll directly
// through ws2_32, since the handle is not registered with the Go runtime.
type winsockStream struct {
	sock uintptr
	once sync.Once
	err  error
}

// FromSocket wraps a winsock SOCKET.
func FromSocket(fd int) (Stream, error) {
	return &winsockStream{sock: uintptr(fd)}, nil
}

// Read keeps calling recv until p is full or the peer closes the
// connection.
func (s *winsockStream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	total := 0
	for total < len(p) {
		r, _, _ := procRecv.Call(s.sock, uintptr(unsafe.Pointer(&p[total])), uintptr(len(p)-total), 0)
		n := int(int32(r))
		if n < 0 {
			return total, &ConnectionError{Op: "recv", Status: n}
		}
		if n == 0 {
			if total == 0 {
				return 0, io.EOF
			}
			break
		}
		total += n
	}
	return total, nil
}

func (s *winsockStream) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		r, _, _ := procSend.Call(s.sock, uintptr(unsafe.Pointer(&p[total])), uintptr(len(p)-total), 0)
		n := int(int32(r))
		if n < 0 {
			return total, &ConnectionError{Op: "send", Status: n}
		}
		total += n
	}
	return total, nil
}

func (s *winsockStream) Close() error {
	s.once.Do(func() {
		r, _, _ := procCloseSock.Call(s.sock)
		if int32(r) != 0 {
			s.err = &ConnectionError{Op: "closesocket", Status: int(int32(r))}
		}
	})
	return s.err
}
