package mobiledevice

import (
	"runtime"
	"sync"
	"testing"
	"unsafe"

	cf "github.com/blacktop/idevice/pkg/usb/corefoundation"
	"github.com/blacktop/idevice/pkg/usb/corefoundation/cftest"
	"github.com/blacktop/idevice/pkg/usb/native"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dev = DeviceRef(0xd00d)

type fakeLib struct {
	mu     sync.Mutex
	cf     *cftest.Fake
	calls  map[string][]any
	status map[string]uint64
	procs  map[string]native.Proc
}

func newFakeLib() *fakeLib {
	f := &fakeLib{
		cf:     cftest.New(),
		calls:  map[string][]any{},
		status: map[string]uint64{},
		procs:  map[string]native.Proc{},
	}
	for _, sym := range native.MobileDeviceCatalog.Symbols {
		name := sym.Name
		f.procs[name] = native.Func(func(args ...any) uint64 {
			f.mu.Lock()
			f.calls[name] = args
			st := f.status[name]
			f.mu.Unlock()
			return st
		})
	}
	return f
}

func (f *fakeLib) on(name string, fn func(args ...any) uint64) {
	f.procs[name] = native.Func(func(args ...any) uint64 {
		f.mu.Lock()
		f.calls[name] = args
		f.mu.Unlock()
		return fn(args...)
	})
}

func (f *fakeLib) args(name string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeLib) open(t *testing.T) *MobileDevice {
	t.Helper()
	md := New(native.NewTable(native.DeviceManagement, f.procs, nil), f.cf.CoreFoundation(),
		WithCallbackFactory(func(fn any) uintptr { return 0xcb }))
	t.Cleanup(func() { md.Close() })
	return md
}

func TestStatusPassthrough(t *testing.T) {
	f := newFakeLib()
	f.status["AMDeviceValidatePairing"] = 0xe8000015
	f.status["AMDeviceIsPaired"] = 1
	md := f.open(t)

	st := md.DeviceValidatePairing(dev)
	assert.False(t, st.OK())
	assert.Equal(t, Status(0xe8000015), st)
	assert.Equal(t, "0xe8000015", st.String())
	assert.Equal(t, []any{uintptr(dev)}, f.args("AMDeviceValidatePairing"))

	assert.True(t, md.DeviceIsPaired(dev))
	f.status["AMDeviceIsPaired"] = 0
	assert.False(t, md.DeviceIsPaired(dev))

	assert.True(t, md.DeviceConnect(dev).OK())
	assert.True(t, md.DeviceStartSession(dev).OK())
	assert.True(t, md.DeviceStopSession(dev).OK())
	assert.True(t, md.DeviceDisconnect(dev).OK())
}

func TestDeviceStartService(t *testing.T) {
	f := newFakeLib()
	var name any
	f.on("AMDeviceStartService", func(a ...any) uint64 {
		name = f.cf.Value(cf.Ref(a[1].(uintptr)))
		*(*uintptr)(a[2].(unsafe.Pointer)) = 42
		return 0
	})
	md := f.open(t)

	sock, st := md.DeviceStartService(dev, "com.apple.afc")
	require.True(t, st.OK())
	assert.Equal(t, ServiceSocket(42), sock)
	assert.Equal(t, "com.apple.afc", name)
	assert.Zero(t, f.cf.Live(), "service name released")
}

func TestCopyDeviceIdentifierAndValue(t *testing.T) {
	f := newFakeLib()
	f.on("AMDeviceCopyDeviceIdentifier", func(a ...any) uint64 {
		return uint64(f.cf.String("00008110-000A1B2C3D4E5F60"))
	})
	f.on("AMDeviceCopyValue", func(a ...any) uint64 {
		if a[2].(uintptr) == 0 {
			return 0
		}
		return uint64(f.cf.String("iPhone14,2"))
	})
	md := f.open(t)

	udid, ok := md.CopyDeviceIdentifier(dev)
	require.True(t, ok)
	assert.Equal(t, "00008110-000A1B2C3D4E5F60", udid)

	v, ok := md.CopyValue(dev, "", "ProductType")
	require.True(t, ok)
	assert.Equal(t, "iPhone14,2", v)
	assert.Equal(t, uintptr(0), f.args("AMDeviceCopyValue")[1], "global domain")

	_, ok = md.CopyValue(dev, "", "")
	assert.False(t, ok)
	assert.Zero(t, f.cf.Live())
}

func TestNotifications(t *testing.T) {
	f := newFakeLib()
	f.on("AMDeviceNotificationSubscribe", func(a ...any) uint64 {
		*(*uintptr)(a[4].(unsafe.Pointer)) = 0x5b
		return 0
	})
	md := f.open(t)

	var got []DeviceNotification
	ref, st := md.NotificationSubscribe(func(n DeviceNotification) { got = append(got, n) })
	require.True(t, st.OK())
	assert.Equal(t, NotificationRef(0x5b), ref)

	args := f.args("AMDeviceNotificationSubscribe")
	assert.Equal(t, notifyThunk, args[0])
	assert.Equal(t, md.cookie, args[3])

	info := &callbackInfo{dev: 0xa1, msg: uint32(Attached)}
	onNotification(uintptr(unsafe.Pointer(info)), uintptr(md.cookie))
	info2 := &callbackInfo{dev: 0xa1, msg: uint32(Detached)}
	onNotification(uintptr(unsafe.Pointer(info2)), uintptr(md.cookie))
	runtime.KeepAlive(info)
	runtime.KeepAlive(info2)

	assert.Equal(t, []DeviceNotification{
		{Device: 0xa1, Event: Attached},
		{Device: 0xa1, Event: Detached},
	}, got)

	assert.True(t, md.NotificationUnsubscribe(ref).OK())
	onNotification(uintptr(unsafe.Pointer(info)), uintptr(md.cookie))
	runtime.KeepAlive(info)
	assert.Len(t, got, 2)
}

func TestNotificationRouting(t *testing.T) {
	a := newFakeLib().open(t)
	b := newFakeLib().open(t)

	var toA, toB int
	a.onNotify = func(DeviceNotification) { toA++ }
	b.onNotify = func(DeviceNotification) { toB++ }

	info := &callbackInfo{dev: 1, msg: uint32(Attached)}
	onNotification(uintptr(unsafe.Pointer(info)), uintptr(b.cookie))
	// unknown cookie and nil info are ignored
	onNotification(uintptr(unsafe.Pointer(info)), 0xffff)
	onNotification(0, uintptr(a.cookie))
	runtime.KeepAlive(info)

	assert.Zero(t, toA)
	assert.Equal(t, 1, toB)
	assert.Equal(t, "Event(9)", Event(9).String())
}

func TestInstallApplicationProgress(t *testing.T) {
	f := newFakeLib()
	fake := f.cf
	cfx := fake.CoreFoundation()
	var opts any
	f.on("AMDeviceInstallApplication", func(a ...any) uint64 {
		opts = fake.Value(cf.Ref(a[2].(uintptr)))
		cookie := a[4].(uintptr)
		for _, pct := range []int64{40, 90} {
			status, n := fake.String("CopyingFile"), fake.Number(pct)
			p := fake.Dict(map[string]cf.Ref{"Status": status, "PercentComplete": n})
			onProgress(uintptr(p), cookie)
			cfx.Release(status)
			cfx.Release(n)
			cfx.Release(p)
		}
		return 0
	})
	md := f.open(t)
	base := fake.Live()

	var reports []Progress
	st := md.InstallApplication(7, "/tmp/App.app", func(p Progress) { reports = append(reports, p) })
	require.True(t, st.OK())

	args := f.args("AMDeviceInstallApplication")
	assert.Equal(t, int32(7), args[0])
	assert.Equal(t, progressThunk, args[3])
	assert.Equal(t, map[string]any{"PackageType": "Developer"}, opts)

	require.Len(t, reports, 2)
	assert.Equal(t, "CopyingFile", reports[0].Status)
	assert.Equal(t, 40, reports[0].PercentComplete)
	assert.Equal(t, 90, reports[1].PercentComplete)
	assert.Nil(t, md.onProgress)
	assert.Equal(t, base, fake.Live())
}

func TestLookupApplications(t *testing.T) {
	f := newFakeLib()
	fake := f.cf
	cfx := fake.CoreFoundation()
	f.on("AMDeviceLookupApplications", func(a ...any) uint64 {
		id := fake.String("com.example.app")
		app := fake.Dict(map[string]cf.Ref{"CFBundleIdentifier": id})
		apps := fake.Dict(map[string]cf.Ref{"com.example.app": app})
		cfx.Release(id)
		cfx.Release(app)
		*(*uintptr)(a[2].(unsafe.Pointer)) = uintptr(apps)
		return 0
	})
	md := f.open(t)

	apps, st := md.LookupApplications(dev)
	require.True(t, st.OK())
	assert.Equal(t, map[string]any{
		"com.example.app": map[string]any{"CFBundleIdentifier": "com.example.app"},
	}, apps)
	assert.Zero(t, fake.Live())
}

func TestAFCPrimitives(t *testing.T) {
	f := newFakeLib()
	entries := [][]byte{[]byte(".\x00"), []byte("Downloads\x00")}
	var pos int
	f.on("AFCConnectionOpen", func(a ...any) uint64 {
		*(*uintptr)(a[2].(unsafe.Pointer)) = 0xc0
		return 0
	})
	f.on("AFCDirectoryRead", func(a ...any) uint64 {
		out := (*uintptr)(a[2].(unsafe.Pointer))
		if pos >= len(entries) {
			*out = 0
			return 0
		}
		*out = uintptr(unsafe.Pointer(&entries[pos][0]))
		pos++
		return 0
	})
	f.on("AFCFileRefOpen", func(a ...any) uint64 {
		*(*uint64)(a[4].(unsafe.Pointer)) = 9
		return 0
	})
	f.on("AFCFileRefRead", func(a ...any) uint64 {
		n := copy(a[2].([]byte), "hello")
		*(*uintptr)(a[3].(unsafe.Pointer)) = uintptr(n)
		return 0
	})
	md := f.open(t)

	conn, st := md.AFCConnectionOpen(5, 10)
	require.True(t, st.OK())
	assert.Equal(t, AFCConnRef(0xc0), conn)
	assert.Equal(t, int32(5), f.args("AFCConnectionOpen")[0])
	assert.Equal(t, uint32(10), f.args("AFCConnectionOpen")[1])

	var names []string
	for {
		name, ok, st := md.AFCDirectoryRead(conn, 1)
		require.True(t, st.OK())
		if !ok {
			break
		}
		names = append(names, name)
	}
	runtime.KeepAlive(entries)
	assert.Equal(t, []string{".", "Downloads"}, names)

	ref, st := md.AFCFileRefOpen(conn, "/a.txt", AFCReadOnly, 0)
	require.True(t, st.OK())
	assert.Equal(t, AFCFileRef(9), ref)
	assert.Equal(t, uint32(AFCReadOnly), f.args("AFCFileRefOpen")[2])

	buf := make([]byte, 16)
	n, st := md.AFCFileRefRead(conn, ref, buf)
	require.True(t, st.OK())
	assert.Equal(t, "hello", string(buf[:n]))

	n, st = md.AFCFileRefRead(conn, ref, nil)
	assert.Zero(t, n)
	assert.True(t, st.OK())

	require.True(t, md.AFCFileRefWrite(conn, ref, []byte("abc")).OK())
	assert.Equal(t, uint32(3), f.args("AFCFileRefWrite")[3])
}
