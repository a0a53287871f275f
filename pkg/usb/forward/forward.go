// Package forward proxies local TCP connections to a device port through
// usbmuxd.
package forward

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/apex/log"
	"github.com/blacktop/idevice/pkg/usb"
)

// Dialer opens a fresh usbmuxd connection.
type Dialer func() (*usb.Conn, error)

// Callback is told about accepted clients and per-client failures.
type Callback func(msg string, err error)

// Listen listens on addr and serves until ctx is done.
func Listen(ctx context.Context, addr string, dial Dialer, deviceID, rport int, cb Callback) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, dial, deviceID, rport, cb)
}

// Serve accepts connections on ln and pipes each one to rport on the
// device until ctx is done. It closes ln before returning.
func Serve(ctx context.Context, ln net.Listener, dial Dialer, deviceID, rport int, cb Callback) error {
	if dial == nil {
		dial = usb.NewConn
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to accept: %w", err)
		}
		if cb != nil {
			cb(fmt.Sprintf("client %s connected", conn.RemoteAddr()), nil)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pipe(ctx, conn, dial, deviceID, rport); err != nil && cb != nil {
				cb("", err)
			}
		}()
	}
}

func pipe(ctx context.Context, conn net.Conn, dial Dialer, deviceID, rport int) error {
	defer conn.Close()
	mux, err := dial()
	if err != nil {
		return err
	}
	defer mux.Close()
	if err := mux.Dial(deviceID, rport); err != nil {
		return fmt.Errorf("failed to connect to device port %d: %w", rport, err)
	}
	log.WithFields(log.Fields{
		"client": conn.RemoteAddr(),
		"port":   rport,
	}).Debug("Forwarding")

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(conn, mux)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(mux, conn)
		done <- struct{}{}
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	// unblock the other direction
	conn.Close()
	mux.Close()
	return nil
}
