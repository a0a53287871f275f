package usb_test

import (
	"errors"
	"net"
	"syscall"
	"testing"

	"github.com/blacktop/idevice/pkg/usb"
	"github.com/blacktop/idevice/pkg/usb/usbmuxtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const udid = "00008110-000A1B2C3D4E5F60"

func newServer() *usbmuxtest.Server {
	s := usbmuxtest.New()
	s.Devices = []usb.DeviceAttachment{
		{DeviceID: 3, ConnectionType: "USB", ProductID: 0x12a8, SerialNumber: udid, UDID: udid},
		{DeviceID: 7, ConnectionType: "Network", SerialNumber: "legacy-serial"},
	}
	s.PairRecords[udid] = &usb.PairRecord{HostID: "HOST-ID", SystemBUID: "BUID-1", HostCertificate: []byte("cert")}
	s.BUID = "BUID-1"
	return s
}

func TestConn_ListDevices(t *testing.T) {
	conn, err := newServer().Dial()
	require.NoError(t, err)
	defer conn.Close()
	assert.NotEmpty(t, conn.ID)

	devices, err := conn.ListDevices()
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, 3, devices[0].DeviceID)
	assert.Equal(t, "USB", devices[0].ConnectionType)
	assert.Equal(t, udid, devices[0].Serial())
	assert.Equal(t, "legacy-serial", devices[1].Serial())
	assert.Contains(t, devices[0].String(), udid)
	assert.Contains(t, devices[0].String(), "0x12a8")
}

func TestConn_FindDevice(t *testing.T) {
	conn, err := newServer().Dial()
	require.NoError(t, err)
	defer conn.Close()

	d, err := conn.FindDevice("legacy-serial")
	require.NoError(t, err)
	assert.Equal(t, 7, d.DeviceID)

	d, err = conn.FindDevice("")
	require.NoError(t, err)
	assert.Equal(t, 3, d.DeviceID)

	_, err = conn.FindDevice("nope")
	assert.ErrorIs(t, err, usb.ErrDeviceNotFound)
}

func TestConn_ReadPairRecord(t *testing.T) {
	conn, err := newServer().Dial()
	require.NoError(t, err)
	defer conn.Close()

	rec, err := conn.ReadPairRecord(udid)
	require.NoError(t, err)
	assert.Equal(t, "HOST-ID", rec.HostID)
	assert.Equal(t, []byte("cert"), rec.HostCertificate)

	_, err = conn.ReadPairRecord("unknown")
	var rerr *usb.ResultError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, usb.ResultValueBadDevice, rerr.Number)
}

func TestConn_ReadBUID(t *testing.T) {
	conn, err := newServer().Dial()
	require.NoError(t, err)
	defer conn.Close()

	buid, err := conn.ReadBUID()
	require.NoError(t, err)
	assert.Equal(t, "BUID-1", buid)
}

func TestConn_Dial(t *testing.T) {
	s := newServer()
	s.Ports[62078] = func(c net.Conn) {
		defer c.Close()
		c.Write([]byte("pong"))
	}

	conn, err := s.Dial()
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Dial(3, 62078))

	buf := make([]byte, 4)
	_, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf))
	assert.Equal(t, []int{62078}, s.Connects())

	refused, err := s.Dial()
	require.NoError(t, err)
	defer refused.Close()
	err = refused.Dial(3, 1234)
	assert.ErrorIs(t, err, syscall.ECONNREFUSED)
}

func TestConn_Listen(t *testing.T) {
	s := newServer()
	s.Events = []usb.Event{
		{MessageType: usb.EventAttached, DeviceID: 9, Properties: &usb.DeviceAttachment{DeviceID: 9, UDID: "new"}},
		{MessageType: usb.EventDetached, DeviceID: 9},
	}
	conn, err := s.Dial()
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Listen())
	ev, err := conn.NextEvent()
	require.NoError(t, err)
	assert.Equal(t, usb.EventAttached, ev.MessageType)
	require.NotNil(t, ev.Properties)
	assert.Equal(t, "new", ev.Properties.UDID)

	ev, err = conn.NextEvent()
	require.NoError(t, err)
	assert.Equal(t, usb.EventDetached, ev.MessageType)
	assert.Equal(t, 9, ev.DeviceID)
	assert.Nil(t, ev.Properties)
}

func TestConn_RequestTags(t *testing.T) {
	s := newServer()
	conn, err := s.Dial()
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ListDevices()
	require.NoError(t, err)
	_, err = conn.ReadBUID()
	require.NoError(t, err)
	assert.Equal(t, []string{"ListDevices", "ReadBUID"}, s.Requests())
}
