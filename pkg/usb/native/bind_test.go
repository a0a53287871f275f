package native

import (
	"errors"
	"fmt"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLibrary struct {
	path    string
	symbols map[string]uintptr
	missing map[string]bool
	closed  int
}

func (f *fakeLibrary) Path() string { return f.path }

func (f *fakeLibrary) Lookup(name string) (uintptr, error) {
	if f.missing[name] {
		return 0, fmt.Errorf("symbol not found")
	}
	if addr, ok := f.symbols[name]; ok {
		return addr, nil
	}
	return 0x1000, nil
}

func (f *fakeLibrary) Close() error {
	f.closed++
	return nil
}

var runLoopMode = uintptr(0xfeed)

func TestBind_AllSymbols(t *testing.T) {
	lib := &fakeLibrary{
		path: "CoreFoundation",
		symbols: map[string]uintptr{
			"kCFRunLoopDefaultMode": uintptr(unsafe.Pointer(&runLoopMode)),
			"kCFRunLoopCommonModes": uintptr(unsafe.Pointer(&runLoopMode)),
		},
	}

	tbl, err := Bind(lib, CoreFoundationCatalog)
	require.NoError(t, err)

	assert.Len(t, tbl.Names(), len(CoreFoundationCatalog.Symbols))
	assert.NotNil(t, tbl.Proc("CFRunLoopRun"))
	assert.Equal(t, uintptr(0xfeed), tbl.Var("kCFRunLoopDefaultMode"))
	assert.Equal(t, uintptr(0x1000), tbl.Var("kCFTypeDictionaryKeyCallBacks"))

	require.NoError(t, tbl.Close())
	require.NoError(t, tbl.Close())
	assert.Equal(t, 1, lib.closed)
}

func TestBind_MissingSymbol(t *testing.T) {
	lib := &fakeLibrary{
		path:    "MobileDevice",
		missing: map[string]bool{"AFCFileRefWrite": true},
	}

	_, err := Bind(lib, MobileDeviceCatalog)
	require.Error(t, err)

	var symErr *SymbolError
	require.True(t, errors.As(err, &symErr))
	assert.Equal(t, "AFCFileRefWrite", symErr.Symbol)
	assert.Equal(t, "MobileDevice", symErr.Library)
}

func TestTable_UnknownProcPanics(t *testing.T) {
	tbl := NewTable(Utility, map[string]Proc{}, nil)
	assert.Panics(t, func() { tbl.Proc("CFNope") })
}

func TestCatalog_Complete(t *testing.T) {
	for _, name := range []string{
		"CFRunLoopRun", "CFRunLoopStop", "CFRunLoopGetCurrent", "CFStringCreateWithCString",
		"CFDictionaryGetValue", "CFNumberGetValue", "CFStringGetCStringPtr", "CFStringGetCString",
		"CFStringGetLength", "CFDictionaryGetCount", "CFDictionaryGetKeysAndValues", "CFDictionaryCreate",
		"CFRunLoopRunInMode", "CFRunLoopTimerCreate", "CFRunLoopAddTimer", "CFRunLoopRemoveTimer",
		"CFAbsoluteTimeGetCurrent", "CFRelease",
	} {
		_, ok := CoreFoundationCatalog.Lookup(name)
		assert.True(t, ok, name)
	}
	for _, name := range []string{
		"AMDeviceNotificationSubscribe", "AMDeviceConnect", "AMDeviceIsPaired", "AMDeviceValidatePairing",
		"AMDeviceStartSession", "AMDeviceStopSession", "AMDeviceDisconnect", "AMDeviceStartService",
		"AMDeviceTransferApplication", "AMDeviceInstallApplication", "AMDeviceUninstallApplication",
		"AMDeviceLookupApplications", "AFCConnectionOpen", "AFCConnectionClose", "AFCDirectoryCreate",
		"AFCDirectoryOpen", "AFCDirectoryRead", "AFCDirectoryClose", "AFCFileRefOpen", "AFCFileRefClose",
		"AFCFileRefRead", "AFCFileRefWrite", "AMDeviceNotificationUnsubscribe", "AMDevicePair",
		"AMDeviceCopyDeviceIdentifier", "AMDeviceCopyValue",
	} {
		_, ok := MobileDeviceCatalog.Lookup(name)
		assert.True(t, ok, name)
	}
}

func TestLoader_Load(t *testing.T) {
	var env = map[string]string{}
	for k, v := range winEnv {
		env[k] = v
	}
	lib := &fakeLibrary{path: "MobileDevice.dll"}
	var opened string
	l := &Loader{
		Resolver: &Resolver{Platform: fakePlatform("windows", true, false, env, `C:\Program Files\Common Files\Apple`)},
		Setenv: func(k, v string) error {
			env[k] = v
			return nil
		},
		Open: func(path string) (Library, error) {
			opened = path
			return lib, nil
		},
	}

	tbl, err := l.Load(DeviceManagement)
	require.NoError(t, err)
	assert.Equal(t, DeviceManagement, tbl.Kind())
	assert.Equal(t, `C:\Program Files\Common Files\Apple\Mobile Device Support\MobileDevice.dll`, opened)
	assert.Equal(t,
		`C:\Program Files\Common Files\Apple\Apple Application Support;C:\Windows\system32;C:\Windows;C:\Program Files\Common Files\Apple\Mobile Device Support`,
		env["PATH"])
}

func TestLoader_NotInstalled(t *testing.T) {
	l := &Loader{
		Resolver: &Resolver{Platform: fakePlatform("windows", true, false, winEnv)},
		Open: func(string) (Library, error) {
			t.Fatal("library opened without an installation")
			return nil, nil
		},
	}
	_, err := l.Load(Utility)
	assert.ErrorIs(t, err, ErrNotInstalled)
}

func TestLoader_BindFailureClosesLibrary(t *testing.T) {
	lib := &fakeLibrary{path: "CoreFoundation", missing: map[string]bool{"CFRelease": true}}
	l := &Loader{
		Resolver: &Resolver{Platform: fakePlatform("darwin", true, false, nil, darwinCoreFoundation, darwinMobileDevice)},
		Open:     func(string) (Library, error) { return lib, nil },
	}
	_, err := l.Load(Utility)
	var symErr *SymbolError
	require.True(t, errors.As(err, &symErr))
	assert.Equal(t, 1, lib.closed)
}

func TestGoString(t *testing.T) {
	b := []byte("hello\x00world")
	assert.Equal(t, "hello", GoString(uintptr(unsafe.Pointer(&b[0]))))
	assert.Equal(t, "", GoString(0))
}

func TestFunc_CallFloat(t *testing.T) {
	f := Func(func(...any) uint64 { return 0x3ff0000000000000 })
	assert.Equal(t, 1.0, f.CallFloat())
}
