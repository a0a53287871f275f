package device

import (
	"context"
	"errors"
	"time"

	"github.com/apex/log"
	"github.com/blacktop/idevice/pkg/usb"
	md "github.com/blacktop/idevice/pkg/usb/mobiledevice"
	"github.com/blacktop/idevice/pkg/usb/notification"
)

// poll bounds each run loop pass while watching so cancellation is noticed.
const poll = 250 * time.Millisecond

// Event is an attach, detach or pairing change of a device.
type Event struct {
	Kind   string
	Device Device
}

// Watch reports device events to fn until ctx is done or fn fails.
func (c *Conn) Watch(ctx context.Context, fn func(Event) error) error {
	if c.usbmux != nil {
		return c.watchUsbmux(ctx, fn)
	}
	return c.watchNative(ctx, fn)
}

func (c *Conn) watchNative(ctx context.Context, fn func(Event) error) error {
	w, err := c.Watcher()
	if err != nil {
		return err
	}
	for ctx.Err() == nil {
		n, err := w.Wait(poll)
		if errors.Is(err, notification.ErrTimeout) {
			continue
		}
		if err != nil {
			return err
		}
		var d Device
		switch n.Event {
		case md.Attached:
			udid, _ := c.nat.CopyDeviceIdentifier(n.Device)
			d = Device{Ref: n.Device, UDID: udid}
			c.known[n.Device] = d
		case md.Detached:
			d = c.known[n.Device]
			d.Ref = n.Device
			delete(c.known, n.Device)
		default:
			d = Device{Ref: n.Device}
		}
		if err := fn(Event{Kind: n.Event.String(), Device: d}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) watchUsbmux(ctx context.Context, fn func(Event) error) error {
	mux, err := c.dial()
	if err != nil {
		return err
	}
	defer mux.Close()
	if err := mux.Listen(); err != nil {
		return err
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			mux.Close()
		case <-stop:
		}
	}()

	attached := make(map[int]Device)
	for {
		ev, err := mux.NextEvent()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		d, ok := attached[ev.DeviceID]
		if !ok {
			d = Device{Ref: md.DeviceRef(ev.DeviceID)}
		}
		if ev.Properties != nil {
			d.UDID = ev.Properties.Serial()
			d.Connection = ev.Properties.ConnectionType
		}
		switch ev.MessageType {
		case usb.EventAttached:
			attached[ev.DeviceID] = d
		case usb.EventDetached:
			delete(attached, ev.DeviceID)
		}
		log.WithFields(log.Fields{"udid": d.UDID, "event": ev.MessageType}).Debug("Device event")
		if err := fn(Event{Kind: string(ev.MessageType), Device: d}); err != nil {
			return err
		}
	}
}
