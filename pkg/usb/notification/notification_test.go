package notification

import (
	"net"
	"sync"
	"testing"
	"time"

	md "github.com/blacktop/idevice/pkg/usb/mobiledevice"
	"github.com/blacktop/idevice/pkg/usb/plistsvc"
	"github.com/blacktop/idevice/pkg/usb/session"
	"github.com/blacktop/idevice/pkg/usb/session/sessiontest"
	"github.com/blacktop/idevice/pkg/usb/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSub struct {
	fn           func(md.DeviceNotification)
	status       md.Status
	unsubscribed int
}

func (s *fakeSub) NotificationSubscribe(fn func(md.DeviceNotification)) (md.NotificationRef, md.Status) {
	if !s.status.OK() {
		return 0, s.status
	}
	s.fn = fn
	return 0x77, 0
}

func (s *fakeSub) NotificationUnsubscribe(md.NotificationRef) md.Status {
	s.unsubscribed++
	s.fn = nil
	return 0
}

// fakeLoop delivers one pending notification per slice.
type fakeLoop struct {
	sub     *fakeSub
	pending []md.DeviceNotification
	runs    int
}

func (l *fakeLoop) RunUntil(done func() bool, timeout, slice time.Duration) bool {
	for !done() {
		if len(l.pending) == 0 {
			return false
		}
		l.runs++
		if l.sub.fn != nil {
			l.sub.fn(l.pending[0])
		}
		l.pending = l.pending[1:]
	}
	return true
}

func TestWatcher_WaitForDevice(t *testing.T) {
	sub := &fakeSub{}
	loop := &fakeLoop{sub: sub, pending: []md.DeviceNotification{
		{Device: 0x1, Event: md.Detached},
		{Device: 0x2, Event: md.Attached},
	}}
	w := NewWatcher(sub, loop)

	_, err := w.Wait(time.Second)
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, w.Start())
	dev, err := w.WaitForDevice(time.Second)
	require.NoError(t, err)
	assert.Equal(t, md.DeviceRef(0x2), dev)
	assert.Equal(t, 2, loop.runs)

	_, err = w.WaitForDevice(time.Second)
	assert.ErrorIs(t, err, ErrTimeout)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.Equal(t, 1, sub.unsubscribed)
}

func TestWatcher_BoundedQueue(t *testing.T) {
	sub := &fakeSub{}
	w := NewWatcher(sub, &fakeLoop{sub: sub}, WithQueueSize(2))
	require.NoError(t, w.Start())

	for i := 1; i <= 3; i++ {
		sub.fn(md.DeviceNotification{Device: md.DeviceRef(i), Event: md.Attached})
	}
	assert.Equal(t, 1, w.Dropped())

	n, ok := w.Next()
	require.True(t, ok)
	assert.Equal(t, md.DeviceRef(2), n.Device)

	require.NoError(t, w.Stop())
	// queued notifications survive Stop
	n, err := w.Wait(time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, md.DeviceRef(3), n.Device)
	_, ok = w.Next()
	assert.False(t, ok)
}

func TestWatcher_SubscribeFailure(t *testing.T) {
	sub := &fakeSub{status: 0xe8000001}
	w := NewWatcher(sub, &fakeLoop{sub: sub})
	err := w.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0xe8000001")
	require.NoError(t, w.Stop())
	assert.Zero(t, sub.unsubscribed)
}

type fakeProxy struct {
	mu       sync.Mutex
	observed []string
	posted   []string
}

func (p *fakeProxy) serve(conn net.Conn) {
	svc := plistsvc.New(transport.NewConnStream(conn))
	defer svc.Close()
	for {
		var req map[string]any
		if err := svc.Recv(&req); err != nil {
			return
		}
		name, _ := req["Name"].(string)
		switch req["Command"] {
		case "ObserveNotification":
			p.mu.Lock()
			p.observed = append(p.observed, name)
			p.mu.Unlock()
		case "PostNotification":
			p.mu.Lock()
			p.posted = append(p.posted, name)
			observed := false
			for _, o := range p.observed {
				observed = observed || o == name
			}
			p.mu.Unlock()
			if observed {
				svc.SendMessage(map[string]any{"Command": "RelayNotification", "Name": name})
			}
		case "Shutdown":
			svc.SendMessage(map[string]any{"Command": "ProxyDeath"})
			return
		}
	}
}

func TestProxy_ObserveAndPost(t *testing.T) {
	fake := &fakeProxy{}
	api := sessiontest.New()
	api.Services[ProxyServiceName] = fake.serve
	sess, err := session.Open(api, md.DeviceRef(1))
	require.NoError(t, err)
	defer sess.Close()

	p, err := OpenProxy(sess)
	require.NoError(t, err)

	require.NoError(t, p.Observe(SyncWillStart, ApplicationInstalled))
	require.NoError(t, p.Post(SyncDidStart))
	require.NoError(t, p.Post(ApplicationInstalled))

	name, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, ApplicationInstalled, name)

	require.NoError(t, p.Close())
	assert.Equal(t, session.SessionActive, sess.State())

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []string{SyncWillStart, ApplicationInstalled}, fake.observed)
	assert.Equal(t, []string{SyncDidStart, ApplicationInstalled}, fake.posted)
}

func TestProxy_ShutdownEndsNext(t *testing.T) {
	fake := &fakeProxy{}
	api := sessiontest.New()
	api.Services[ProxyServiceName] = fake.serve
	sess, err := session.Open(api, md.DeviceRef(1))
	require.NoError(t, err)
	defer sess.Close()

	p, err := OpenProxy(sess)
	require.NoError(t, err)
	require.NoError(t, p.Observe(Known...))
	require.NoError(t, p.Shutdown())

	_, err = p.Next()
	assert.ErrorIs(t, err, ErrProxyDeath)
	require.NoError(t, p.Release())

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Len(t, fake.observed, len(Known))
}
