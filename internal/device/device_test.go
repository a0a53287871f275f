package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/blacktop/idevice/internal/config"
	"github.com/blacktop/idevice/pkg/usb"
	md "github.com/blacktop/idevice/pkg/usb/mobiledevice"
	"github.com/blacktop/idevice/pkg/usb/session"
	"github.com/blacktop/idevice/pkg/usb/session/sessiontest"
	"github.com/blacktop/idevice/pkg/usb/usbmuxtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNative struct {
	*sessiontest.API
	udids map[md.DeviceRef]string
	fn    func(md.DeviceNotification)
}

func (f *fakeNative) CopyDeviceIdentifier(dev md.DeviceRef) (string, bool) {
	id, ok := f.udids[dev]
	return id, ok
}

func (f *fakeNative) NotificationSubscribe(fn func(md.DeviceNotification)) (md.NotificationRef, md.Status) {
	f.fn = fn
	return 1, 0
}

func (f *fakeNative) NotificationUnsubscribe(md.NotificationRef) md.Status {
	f.fn = nil
	return 0
}

type fakeLoop struct {
	api     *fakeNative
	pending []md.DeviceNotification
}

func (l *fakeLoop) RunUntil(done func() bool, _, _ time.Duration) bool {
	for !done() {
		if len(l.pending) == 0 {
			return false
		}
		l.api.fn(l.pending[0])
		l.pending = l.pending[1:]
	}
	return true
}

func newNative() (*fakeNative, *Conn) {
	api := &fakeNative{
		API:   sessiontest.New(),
		udids: map[md.DeviceRef]string{0xa: "UDID-A", 0xb: "UDID-B"},
	}
	loop := &fakeLoop{api: api, pending: []md.DeviceNotification{
		{Device: 0xa, Event: md.Attached},
		{Device: 0xb, Event: md.Attached},
		{Device: 0xa, Event: md.Detached},
	}}
	return api, NewNative(api, loop, time.Second)
}

func TestNative_Devices(t *testing.T) {
	api, c := newNative()
	devs, err := c.Devices()
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, Device{Ref: 0xb, UDID: "UDID-B"}, devs[0])

	s, d, err := c.Open("")
	require.NoError(t, err)
	assert.Equal(t, md.DeviceRef(0xb), d.Ref)
	assert.Equal(t, session.SessionActive, s.State())
	require.NoError(t, s.Close())

	require.NoError(t, c.Close())
	assert.Nil(t, api.fn)
}

func newUsbmux() *Conn {
	srv := usbmuxtest.New()
	srv.Devices = []usb.DeviceAttachment{
		{DeviceID: 9, ConnectionType: "Network", UDID: "UDID-Z"},
		{DeviceID: 3, ConnectionType: "USB", UDID: "UDID-A"},
	}
	return NewUsbmux(srv.Dial, time.Second)
}

func TestUsbmux_FindAndPick(t *testing.T) {
	c := newUsbmux()
	defer c.Close()
	assert.Equal(t, config.BackendUsbmux, c.Backend)

	devs, err := c.Devices()
	require.NoError(t, err)
	require.Len(t, devs, 2)
	assert.Equal(t, "UDID-A (USB)", devs[0].String())

	_, err = c.Find("")
	assert.ErrorContains(t, err, "2 devices attached")

	d, err := c.Find("UDID-Z")
	require.NoError(t, err)
	assert.Equal(t, md.DeviceRef(9), d.Ref)

	_, err = c.Find("UDID-missing")
	assert.ErrorIs(t, err, ErrNoDevice)

	var options []string
	c.askOne = func(p survey.Prompt, resp any, _ ...survey.AskOpt) error {
		options = p.(*survey.Select).Options
		*resp.(*int) = 1
		return nil
	}
	d, err = c.Pick("")
	require.NoError(t, err)
	assert.Equal(t, "UDID-Z", d.UDID)
	assert.Equal(t, []string{"UDID-A (USB)", "UDID-Z (Network)"}, options)

	c.askOne = func(survey.Prompt, any, ...survey.AskOpt) error {
		return terminal.InterruptErr
	}
	_, err = c.Pick("")
	assert.ErrorIs(t, err, ErrInterrupted)

	_, err = c.Watcher()
	assert.Error(t, err)
}

func TestNative_Watch(t *testing.T) {
	_, c := newNative()
	defer c.Close()

	var events []Event
	stop := errors.New("stop")
	err := c.Watch(context.Background(), func(ev Event) error {
		events = append(events, ev)
		if len(events) == 3 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	require.Len(t, events, 3)
	assert.Equal(t, "attached", events[0].Kind)
	assert.Equal(t, "UDID-A", events[0].Device.UDID)
	assert.Equal(t, "detached", events[2].Kind)
	assert.Equal(t, "UDID-A", events[2].Device.UDID)
}

func TestUsbmux_Watch(t *testing.T) {
	srv := usbmuxtest.New()
	srv.Events = []usb.Event{
		{MessageType: usb.EventAttached, DeviceID: 4, Properties: &usb.DeviceAttachment{
			DeviceID: 4, ConnectionType: "USB", UDID: "UDID-W",
		}},
		{MessageType: usb.EventDetached, DeviceID: 4},
	}
	c := NewUsbmux(srv.Dial, time.Second)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var events []Event
	err := c.Watch(ctx, func(ev Event) error {
		events = append(events, ev)
		if len(events) == 2 {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Attached", events[0].Kind)
	assert.Equal(t, "UDID-W (USB)", events[0].Device.String())
	assert.Equal(t, "Detached", events[1].Kind)
	assert.Equal(t, "UDID-W", events[1].Device.UDID)
	assert.Contains(t, srv.Requests(), "Listen")
}

func TestUsbmux_Attachments(t *testing.T) {
	c := newUsbmux()
	defer c.Close()

	attached, err := c.Attachments()
	require.NoError(t, err)
	require.Len(t, attached, 2)
	assert.Contains(t, attached[0].String(), "UDID-Z")
	assert.Contains(t, attached[0].String(), "Network")
}

func TestNative_AttachmentsUnsupported(t *testing.T) {
	_, c := newNative()
	_, err := c.Attachments()
	assert.ErrorIs(t, err, session.ErrUnsupported)
}
