package session

import (
	"errors"
	"net"
	"testing"

	"github.com/blacktop/go-plist"
	md "github.com/blacktop/idevice/pkg/usb/mobiledevice"
	"github.com/blacktop/idevice/pkg/usb/plistsvc"
	"github.com/blacktop/idevice/pkg/usb/session/sessiontest"
	"github.com/blacktop/idevice/pkg/usb/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dev = md.DeviceRef(0xd00d)

func TestOpen_HappyPath(t *testing.T) {
	api := sessiontest.New()
	s, err := Open(api, dev)
	require.NoError(t, err)
	assert.Equal(t, SessionActive, s.State())
	assert.Equal(t, []string{
		"AMDeviceConnect", "AMDeviceIsPaired", "AMDeviceValidatePairing", "AMDeviceStartSession",
	}, api.Calls)

	require.NoError(t, s.Close())
	assert.Equal(t, Disconnected, s.State())
	assert.Equal(t, 1, api.Count("AMDeviceStopSession"))
	assert.Equal(t, 1, api.Count("AMDeviceDisconnect"))

	// idempotent
	require.NoError(t, s.Close())
	assert.Equal(t, 1, api.Count("AMDeviceStopSession"))
	assert.Equal(t, 1, api.Count("AMDeviceDisconnect"))
}

func TestEnsurePaired_PairsUnpairedDevice(t *testing.T) {
	api := sessiontest.New()
	api.Paired = false
	// a failed pair is only logged; validation decides
	api.Status["AMDevicePair"] = 0xe800001a

	s := New(api, dev)
	require.NoError(t, s.Connect())
	require.NoError(t, s.EnsurePaired())
	assert.Equal(t, Paired, s.State())
	assert.Equal(t, 1, api.Count("AMDevicePair"))
	assert.Equal(t, 1, api.Count("AMDeviceValidatePairing"))
}

func TestEnsurePaired_SkipsPairWhenPaired(t *testing.T) {
	api := sessiontest.New()
	s := New(api, dev)
	require.NoError(t, s.Connect())
	require.NoError(t, s.EnsurePaired())
	assert.Zero(t, api.Count("AMDevicePair"))
	assert.Equal(t, 1, api.Count("AMDeviceValidatePairing"))
}

func TestOpen_ValidateFailureDisconnectsOnce(t *testing.T) {
	api := sessiontest.New()
	api.Status["AMDeviceValidatePairing"] = 0xe8000015

	s, err := Open(api, dev)
	assert.Nil(t, s)
	require.Error(t, err)

	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "AMDeviceValidatePairing", serr.Op)
	assert.Equal(t, md.Status(0xe8000015), serr.Status)
	assert.Contains(t, err.Error(), "0xe8000015")

	assert.Equal(t, 1, api.Count("AMDeviceDisconnect"))
	assert.Zero(t, api.Count("AMDeviceStartSession"))
	assert.Zero(t, api.Count("AMDeviceStopSession"))
}

func TestOpen_ConnectFailure(t *testing.T) {
	api := sessiontest.New()
	api.Status["AMDeviceConnect"] = 0xe8000001

	_, err := Open(api, dev)
	require.Error(t, err)
	assert.Zero(t, api.Count("AMDeviceDisconnect"))
}

func TestOpen_StartSessionFailure(t *testing.T) {
	api := sessiontest.New()
	api.Status["AMDeviceStartSession"] = 0xe800001c

	_, err := Open(api, dev)
	require.Error(t, err)
	assert.Zero(t, api.Count("AMDeviceStopSession"))
	assert.Equal(t, 1, api.Count("AMDeviceDisconnect"))
}

func TestStateOrdering(t *testing.T) {
	api := sessiontest.New()
	s := New(api, dev)

	assert.ErrorIs(t, s.EnsurePaired(), ErrInvalidState)
	assert.ErrorIs(t, s.StartSession(), ErrInvalidState)
	_, err := s.StartService("com.apple.afc")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, s.Disconnect(), ErrInvalidState)
	assert.Empty(t, api.Calls)

	require.NoError(t, s.Connect())
	assert.ErrorIs(t, s.Connect(), ErrInvalidState)
	assert.ErrorIs(t, s.StartSession(), ErrInvalidState)
}

func TestStartService_Echo(t *testing.T) {
	api := sessiontest.New()
	api.Services["com.apple.mobile.notification_proxy"] = func(c net.Conn) {
		svc := plistsvc.New(transport.NewConnStream(c))
		defer svc.Close()
		var req map[string]any
		if err := svc.Recv(&req); err != nil {
			return
		}
		_ = svc.SendMessage(req)
	}

	s, err := Open(api, dev)
	require.NoError(t, err)
	defer s.Close()

	ch, err := s.StartService("com.apple.mobile.notification_proxy")
	require.NoError(t, err)
	assert.Equal(t, ServiceStarted, s.State())

	svc, err := ch.PlistService(plistsvc.WithFormat(plist.BinaryFormat))
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, svc.Request(map[string]any{"Command": "ObserveNotification", "Name": "x"}, &resp))
	assert.Equal(t, "ObserveNotification", resp["Command"])

	require.NoError(t, ch.Close())
	assert.Equal(t, SessionActive, s.State())
	_, err = ch.Stream()
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestClose_ReleasesChannelsThenSession(t *testing.T) {
	api := sessiontest.New()
	s, err := Open(api, dev)
	require.NoError(t, err)

	a, err := s.StartService("com.apple.afc")
	require.NoError(t, err)
	b, err := s.StartService("com.apple.syslog_relay")
	require.NoError(t, err)
	_, err = a.Stream()
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.Equal(t, 1, api.Streams[a.Socket].Closes())
	assert.Equal(t, 1, api.Streams[b.Socket].Closes())

	tail := api.Calls[len(api.Calls)-2:]
	assert.Equal(t, []string{"AMDeviceStopSession", "AMDeviceDisconnect"}, tail)

	// channels closed by the session stay closed
	require.NoError(t, a.Close())
	assert.Equal(t, 1, api.Streams[a.Socket].Closes())
}

func TestRelease_TransfersOwnership(t *testing.T) {
	api := sessiontest.New()
	s, err := Open(api, dev)
	require.NoError(t, err)

	ch, err := s.StartService("com.apple.afc")
	require.NoError(t, err)
	sock := ch.Release()
	assert.Equal(t, ch.Socket, sock)
	assert.Equal(t, SessionActive, s.State())

	require.NoError(t, s.Close())
	assert.NotContains(t, api.Streams, sock)
}

func TestStopSession(t *testing.T) {
	api := sessiontest.New()
	s, err := Open(api, dev)
	require.NoError(t, err)

	_, err = s.StartService("com.apple.afc")
	require.NoError(t, err)
	require.NoError(t, s.StopSession())
	assert.Equal(t, Connected, s.State())

	require.NoError(t, s.Disconnect())
	assert.Equal(t, 1, api.Count("AMDeviceStopSession"))
	assert.Equal(t, 1, api.Count("AMDeviceDisconnect"))
}

func TestStartService_Failure(t *testing.T) {
	api := sessiontest.New()
	api.Status["AMDeviceStartService"] = 0xe8000022
	s, err := Open(api, dev)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.StartService("com.apple.afc")
	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, SessionActive, s.State())
}

func TestOptionalCapabilities(t *testing.T) {
	s, err := Open(sessiontest.New(), dev)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.DeviceIdentifier()
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = s.Value("", "ProductType")
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.ErrorIs(t, s.InstallApplication("/tmp/App.app", nil), ErrUnsupported)
	_, err = s.Applications()
	assert.ErrorIs(t, err, ErrUnsupported)
}

func rawService(frame []byte) func(net.Conn) {
	return func(c net.Conn) {
		c.Write(frame)
		c.Close()
	}
}

func TestStartService_ReceivesFrame(t *testing.T) {
	api := sessiontest.New()
	api.Services["com.example.raw"] = rawService([]byte("\x00\x00\x00\x05hello"))
	s, err := Open(api, dev)
	require.NoError(t, err)
	defer s.Close()

	ch, err := s.StartService("com.example.raw")
	require.NoError(t, err)
	svc, err := ch.PlistService()
	require.NoError(t, err)

	payload, ok, err := svc.ReceiveMessage()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", string(payload))
}

func TestStartService_TruncatedFrame(t *testing.T) {
	api := sessiontest.New()
	api.Services["com.example.raw"] = rawService([]byte("\x00\x00\x00\x0Ahel"))
	s, err := Open(api, dev)
	require.NoError(t, err)
	defer s.Close()

	ch, err := s.StartService("com.example.raw")
	require.NoError(t, err)
	svc, err := ch.PlistService()
	require.NoError(t, err)

	_, ok, err := svc.ReceiveMessage()
	assert.False(t, ok)
	var perr *plistsvc.ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 10, perr.Want)
	assert.Equal(t, 3, perr.Got)
}

func TestStopSession_Failure(t *testing.T) {
	api := sessiontest.New()
	s, err := Open(api, dev)
	require.NoError(t, err)

	api.Status["AMDeviceStopSession"] = 0xe8000001
	var serr *StatusError
	require.True(t, errors.As(s.StopSession(), &serr))
	assert.Equal(t, "AMDeviceStopSession", serr.Op)
	assert.Equal(t, Connected, s.State())

	_, err = s.StartService("com.apple.afc")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Zero(t, api.Count("AMDeviceStartService"))

	require.NoError(t, s.Close())
	assert.Equal(t, 1, api.Count("AMDeviceStopSession"))
	assert.Equal(t, 1, api.Count("AMDeviceDisconnect"))
}
