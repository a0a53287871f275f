//go:build !windows

package usb

import (
	"net"
)

// SocketPath is the usbmuxd listening socket.
var SocketPath = "/var/run/usbmuxd"

func usbmuxdDial() (net.Conn, error) {
	return net.Dial("unix", SocketPath)
}
