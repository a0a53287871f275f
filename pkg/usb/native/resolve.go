package native

import (
	"errors"
	"os"
	"path"
	"runtime"
	"strings"
	"unsafe"
)

var (
	// ErrNotInstalled is returned when the Apple device support libraries
	// (iTunes / Apple Mobile Device Support) cannot be found.
	ErrNotInstalled = errors.New("iTunes is not installed")
	// ErrBitnessMismatch is returned on 64-bit Windows when only the Apple
	// libraries of the other architecture are installed.
	ErrBitnessMismatch = errors.New("iTunes should be the same bitness as this process")
	// ErrUnsupportedPlatform is returned on operating systems other than
	// darwin and windows.
	ErrUnsupportedPlatform = errors.New("native device libraries are only available on darwin and windows")
)

const (
	darwinCoreFoundation = "/System/Library/Frameworks/CoreFoundation.framework/CoreFoundation"
	darwinMobileDevice   = "/System/Library/PrivateFrameworks/MobileDevice.framework/MobileDevice"

	appleSupportDir = `Apple\Apple Application Support`
	mobileDeviceDir = `Apple\Mobile Device Support`
)

// Platform describes the host facts library resolution depends on.
type Platform struct {
	GOOS           string
	Is64BitOS      bool
	Is32BitProcess bool
	Getenv         func(string) string
	Exists         func(string) bool
}

// HostPlatform reports the running process.
func HostPlatform() Platform {
	is32 := unsafe.Sizeof(uintptr(0)) == 4
	return Platform{
		GOOS:           runtime.GOOS,
		Is64BitOS:      !is32 || os.Getenv("PROCESSOR_ARCHITEW6432") != "",
		Is32BitProcess: is32,
		Getenv:         os.Getenv,
		Exists: func(p string) bool {
			_, err := os.Stat(p)
			return err == nil
		},
	}
}

// CommonFilesVars names the environment variables holding the Windows
// "Common Files" directory for each process/OS combination.
type CommonFilesVars struct {
	// X86 is read by a 32-bit process on a 64-bit OS.
	X86 string
	// W6432 is read by a 64-bit process.
	W6432 string
	// Native is read on a 32-bit OS.
	Native string
}

// DefaultCommonFilesVars are the variables Windows defines.
var DefaultCommonFilesVars = CommonFilesVars{
	X86:    "CommonProgramFiles(x86)",
	W6432:  "CommonProgramW6432",
	Native: "CommonProgramFiles",
}

// Resolver computes library locations for a Platform.
type Resolver struct {
	Platform Platform
	// Overrides replaces the computed path of a library kind. Validate skips
	// installation checks for overridden kinds.
	Overrides map[Kind]string
	// CommonFilesVars defaults to DefaultCommonFilesVars when zero.
	CommonFilesVars CommonFilesVars
}

// NewResolver returns a Resolver for the running process.
func NewResolver() *Resolver {
	return &Resolver{Platform: HostPlatform()}
}

func (r *Resolver) vars() CommonFilesVars {
	if r.CommonFilesVars == (CommonFilesVars{}) {
		return DefaultCommonFilesVars
	}
	return r.CommonFilesVars
}

func (r *Resolver) getenv(key string) string {
	if r.Platform.Getenv == nil {
		return ""
	}
	return r.Platform.Getenv(key)
}

func (r *Resolver) exists(p string) bool {
	if r.Platform.Exists == nil || p == "" {
		return false
	}
	return r.Platform.Exists(p)
}

// CommonFiles returns the Windows "Common Files" directory matching the
// process bitness.
func (r *Resolver) CommonFiles() string {
	v := r.vars()
	switch {
	case !r.Platform.Is64BitOS:
		return r.getenv(v.Native)
	case r.Platform.Is32BitProcess:
		return r.getenv(v.X86)
	default:
		return r.getenv(v.W6432)
	}
}

// LibraryPath returns the absolute path of the requested library.
func (r *Resolver) LibraryPath(k Kind) (string, error) {
	if p, ok := r.Overrides[k]; ok && p != "" {
		return p, nil
	}
	switch r.Platform.GOOS {
	case "darwin":
		if k == Utility {
			return darwinCoreFoundation, nil
		}
		return darwinMobileDevice, nil
	case "windows":
		if k == Utility {
			return winJoin(r.CommonFiles(), appleSupportDir, "CoreFoundation.dll"), nil
		}
		return winJoin(r.CommonFiles(), mobileDeviceDir, "MobileDevice.dll"), nil
	default:
		return "", ErrUnsupportedPlatform
	}
}

// Validate checks that the libraries are installed for this process.
func (r *Resolver) Validate() error {
	switch r.Platform.GOOS {
	case "darwin":
		for _, k := range []Kind{Utility, DeviceManagement} {
			p, _ := r.LibraryPath(k)
			if !r.exists(p) {
				return ErrNotInstalled
			}
		}
		return nil
	case "windows":
		if r.Overrides[Utility] != "" && r.Overrides[DeviceManagement] != "" {
			return nil
		}
		v := r.vars()
		if !r.Platform.Is64BitOS {
			if !r.exists(r.getenv(v.Native)) {
				return ErrNotInstalled
			}
			return nil
		}
		has32 := r.hasApple(v.X86)
		has64 := r.hasApple(v.W6432)
		switch {
		case !has32 && !has64:
			return ErrNotInstalled
		case r.Platform.Is32BitProcess && !has32:
			return ErrBitnessMismatch
		case !r.Platform.Is32BitProcess && !has64:
			return ErrBitnessMismatch
		}
		return nil
	default:
		return ErrUnsupportedPlatform
	}
}

func (r *Resolver) hasApple(envVar string) bool {
	dir := r.getenv(envVar)
	if dir == "" {
		return false
	}
	return r.exists(winJoin(dir, "Apple"))
}

// winJoin joins Windows path elements regardless of the host separator.
func winJoin(elem ...string) string {
	var b strings.Builder
	for i, e := range elem {
		if e == "" {
			continue
		}
		if i > 0 && b.Len() > 0 && !strings.HasSuffix(b.String(), `\`) {
			b.WriteByte('\\')
		}
		b.WriteString(e)
	}
	return b.String()
}

// libraryDir strips the file name from a library path of either flavor.
func libraryDir(goos, p string) string {
	if goos == "windows" {
		if i := strings.LastIndexAny(p, `\/`); i >= 0 {
			return p[:i]
		}
		return ""
	}
	return path.Dir(p)
}
