//go:build darwin

package native

import (
	"github.com/ebitengine/purego"
)

type dylib struct {
	path   string
	handle uintptr
}

// Open loads a framework binary with dlopen.
func Open(path string) (Library, error) {
	h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, err
	}
	return &dylib{path: path, handle: h}, nil
}

func (d *dylib) Path() string { return d.path }

func (d *dylib) Lookup(name string) (uintptr, error) {
	return purego.Dlsym(d.handle, name)
}

func (d *dylib) Close() error {
	if d.handle == 0 {
		return nil
	}
	h := d.handle
	d.handle = 0
	return purego.Dlclose(h)
}
