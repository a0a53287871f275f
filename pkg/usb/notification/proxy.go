package notification

import (
	"errors"
	"fmt"
	"io"

	"github.com/apex/log"
	"github.com/blacktop/idevice/pkg/usb/plistsvc"
	"github.com/blacktop/idevice/pkg/usb/session"
)

const ProxyServiceName = "com.apple.mobile.notification_proxy"

// ErrProxyDeath is returned by Next after the proxy acknowledged a
// shutdown.
var ErrProxyDeath = errors.New("notification proxy shut down")

type proxyRequest struct {
	Command string `plist:"Command"`
	Name    string `plist:"Name,omitempty"`
}

type proxyEvent struct {
	Command string `plist:"Command"`
	Name    string `plist:"Name,omitempty"`
}

// Proxy observes and posts notify(3) names on the device.
type Proxy struct {
	svc *plistsvc.Service
	ch  *session.ServiceChannel
}

func NewProxy(svc *plistsvc.Service) *Proxy {
	return &Proxy{svc: svc}
}

// OpenProxy starts the notification proxy on sess.
func OpenProxy(sess *session.Session) (*Proxy, error) {
	ch, err := sess.StartService(ProxyServiceName)
	if err != nil {
		return nil, err
	}
	svc, err := ch.PlistService()
	if err != nil {
		ch.Close()
		return nil, err
	}
	return &Proxy{svc: svc, ch: ch}, nil
}

// Observe asks to be told about name. Nothing is sent back until the
// notification fires.
func (p *Proxy) Observe(names ...string) error {
	for _, name := range names {
		if err := p.svc.SendMessage(&proxyRequest{Command: "ObserveNotification", Name: name}); err != nil {
			return fmt.Errorf("failed to observe %s: %w", name, err)
		}
	}
	return nil
}

// Post fires name on the device.
func (p *Proxy) Post(name string) error {
	return p.svc.SendMessage(&proxyRequest{Command: "PostNotification", Name: name})
}

// Next blocks until an observed notification is relayed and returns its
// name.
func (p *Proxy) Next() (string, error) {
	for {
		var ev proxyEvent
		if err := p.svc.Recv(&ev); err != nil {
			return "", err
		}
		switch ev.Command {
		case "RelayNotification":
			log.WithField("name", ev.Name).Debug("Relayed notification")
			return ev.Name, nil
		case "ProxyDeath":
			return "", ErrProxyDeath
		default:
			log.WithField("command", ev.Command).Debug("Ignoring notification proxy message")
		}
	}
}

// Shutdown asks the proxy to stop. A pending Next returns ErrProxyDeath
// once the proxy acknowledges.
func (p *Proxy) Shutdown() error {
	return p.svc.SendMessage(&proxyRequest{Command: "Shutdown"})
}

// Release closes the channel without the shutdown handshake.
func (p *Proxy) Release() error {
	if p.ch != nil {
		return p.ch.Close()
	}
	return p.svc.Close()
}

// Close asks the proxy to shut down, waits for its acknowledgement and
// closes the channel.
func (p *Proxy) Close() error {
	err := p.Shutdown()
	if err == nil {
		for {
			if _, err = p.Next(); err != nil {
				break
			}
		}
		if errors.Is(err, ErrProxyDeath) || errors.Is(err, io.EOF) {
			err = nil
		}
	}
	return errors.Join(err, p.Release())
}
