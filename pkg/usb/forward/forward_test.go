package forward

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/blacktop/idevice/pkg/usb/usbmuxtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echo(c net.Conn) {
	io.Copy(c, c)
	c.Close()
}

func TestServe_Echo(t *testing.T) {
	srv := usbmuxtest.New()
	srv.Ports[22] = echo

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- Serve(ctx, ln, srv.Dial, 7, 22, nil) }()

	c, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	_, err = c.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
	c.Close()

	cancel()
	require.NoError(t, <-served)
	assert.Equal(t, []int{22}, srv.Connects())
}

func TestServe_RefusedPort(t *testing.T) {
	srv := usbmuxtest.New()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var errs []error
	failed := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- Serve(ctx, ln, srv.Dial, 7, 2222, func(_ string, err error) {
			if err == nil {
				return
			}
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			close(failed)
		})
	}()

	c, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	<-failed

	// the client side is closed once the device refuses
	_, err = c.Read(make([]byte, 1))
	assert.Error(t, err)

	cancel()
	require.NoError(t, <-served)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "device port 2222")
}
