//go:build windows

package native

import (
	"golang.org/x/sys/windows"
)

type dll struct {
	d *windows.DLL
}

// Open loads a DLL by absolute path.
func Open(path string) (Library, error) {
	d, err := windows.LoadDLL(path)
	if err != nil {
		return nil, err
	}
	return &dll{d: d}, nil
}

func (l *dll) Path() string { return l.d.Name }

func (l *dll) Lookup(name string) (uintptr, error) {
	p, err := l.d.FindProc(name)
	if err != nil {
		return 0, err
	}
	return p.Addr(), nil
}

func (l *dll) Close() error {
	return l.d.Release()
}
