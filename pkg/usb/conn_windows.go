//go:build windows

package usb

import (
	"net"
)

// SocketPath is the address of the Apple Mobile Device Service.
var SocketPath = "localhost:27015"

func usbmuxdDial() (net.Conn, error) {
	return net.Dial("tcp", SocketPath)
}
