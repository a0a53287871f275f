package syslog

import (
	"bytes"
	"net"
	"strings"
	"testing"
	"time"

	md "github.com/blacktop/idevice/pkg/usb/mobiledevice"
	"github.com/blacktop/idevice/pkg/usb/session"
	"github.com/blacktop/idevice/pkg/usb/session/sessiontest"
	"github.com/blacktop/idevice/pkg/usb/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	line1 = "Oct 19 10:00:00 iPhone kernel[0] <Notice>: hello\n"
	line2 = "Oct 19 10:00:01 iPhone SpringBoard(FrontBoard)[57] <Notice>: world\n"
)

func writeLog(parts ...string) func(net.Conn) {
	return func(c net.Conn) {
		defer c.Close()
		for _, p := range parts {
			if _, err := c.Write([]byte(p)); err != nil {
				return
			}
		}
	}
}

func openRelay(t *testing.T, handler func(net.Conn)) *Relay {
	t.Helper()
	api := sessiontest.New()
	api.Services[ServiceName] = handler
	sess, err := session.Open(api, md.DeviceRef(1))
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	r, err := Open(sess)
	require.NoError(t, err)
	return r
}

func TestRelay_CopyStripsNUL(t *testing.T) {
	r := openRelay(t, writeLog(line1+"\x00", line2[:10], line2[10:]+"\x00"))
	var buf bytes.Buffer
	require.NoError(t, r.Copy(&buf))
	assert.Equal(t, line1+line2, buf.String())
}

func TestRelay_LinesAcrossChunks(t *testing.T) {
	long := strings.Repeat("x", 3*transport.ChunkSize) + "\n"
	r := openRelay(t, writeLog(line1+"\x00"+line2[:5], line2[5:]+"\x00", long+"\x00", "partial"))
	var lines []string
	require.NoError(t, r.Lines(func(l string) error {
		lines = append(lines, l)
		return nil
	}))
	require.Len(t, lines, 4)
	assert.Equal(t, strings.TrimSuffix(line1, "\n"), lines[0])
	assert.Equal(t, strings.TrimSuffix(line2, "\n"), lines[1])
	assert.Len(t, lines[2], 3*transport.ChunkSize)
	assert.Equal(t, "partial", lines[3])
}

func TestRelay_CloseStopsCopy(t *testing.T) {
	block := make(chan struct{})
	r := openRelay(t, func(c net.Conn) {
		c.Write([]byte(line1 + "\x00"))
		<-block
		c.Close()
	})
	defer close(block)

	done := make(chan error, 1)
	var buf bytes.Buffer
	go func() { done <- r.Copy(&buf) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, r.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Copy did not return after Close")
	}
	assert.Equal(t, line1, buf.String())
}
