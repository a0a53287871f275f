//go:build !windows

package transport

import (
	"fmt"
	"net"
	"os"
)

// FromSocket adopts a connected socket descriptor. The descriptor is
// duplicated into the Go netpoller and the original is closed.
func FromSocket(fd int) (Stream, error) {
	f := os.NewFile(uintptr(fd), fmt.Sprintf("service-socket-%d", fd))
	if f == nil {
		return nil, &ConnectionError{Op: "adopt socket", Status: fd}
	}
	defer f.Close()
	c, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("failed to adopt socket %d: %w", fd, err)
	}
	return NewConnStream(c), nil
}
