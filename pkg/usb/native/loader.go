package native

import (
	"os"
	"strings"

	"github.com/apex/log"
	"github.com/pkg/errors"
)

// SearchPath returns PATH with cfDir prepended and mdDir appended. Entries
// already present are not added twice.
func SearchPath(current, cfDir, mdDir string) string {
	var parts []string
	if current != "" {
		parts = strings.Split(current, ";")
	}
	has := func(dir string) bool {
		for _, p := range parts {
			if strings.EqualFold(strings.TrimRight(p, `\`), strings.TrimRight(dir, `\`)) {
				return true
			}
		}
		return false
	}
	if cfDir != "" && !has(cfDir) {
		parts = append([]string{cfDir}, parts...)
	}
	if mdDir != "" && !has(mdDir) {
		parts = append(parts, mdDir)
	}
	return strings.Join(parts, ";")
}

// Loader opens and binds the native libraries.
type Loader struct {
	Resolver *Resolver
	// Setenv changes the process environment. On windows Load extends PATH
	// so the DLL dependencies of MobileDevice.dll resolve.
	Setenv func(key, value string) error
	// Open loads a shared library from an absolute path.
	Open func(path string) (Library, error)
}

// NewLoader returns a Loader for the running process.
func NewLoader(r *Resolver) *Loader {
	if r == nil {
		r = NewResolver()
	}
	return &Loader{Resolver: r, Setenv: os.Setenv, Open: Open}
}

// ConfigureSearchPath extends PATH with the Apple library directories. It
// is a no-op off windows.
func (l *Loader) ConfigureSearchPath() error {
	r := l.Resolver
	if r.Platform.GOOS != "windows" {
		return nil
	}
	cf, err := r.LibraryPath(Utility)
	if err != nil {
		return err
	}
	md, err := r.LibraryPath(DeviceManagement)
	if err != nil {
		return err
	}
	path := SearchPath(r.getenv("PATH"), libraryDir("windows", cf), libraryDir("windows", md))
	log.WithField("PATH", path).Debug("Configuring library search path")
	return l.Setenv("PATH", path)
}

// Load validates the installation, resolves, opens and binds one library.
func (l *Loader) Load(k Kind) (*Table, error) {
	if err := l.Resolver.Validate(); err != nil {
		return nil, err
	}
	if err := l.ConfigureSearchPath(); err != nil {
		return nil, errors.Wrap(err, "failed to configure library search path")
	}
	path, err := l.Resolver.LibraryPath(k)
	if err != nil {
		return nil, err
	}
	lib, err := l.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load %s from %s", k, path)
	}
	t, err := Bind(lib, CatalogFor(k))
	if err != nil {
		lib.Close()
		return nil, errors.Wrapf(err, "failed to bind %s", k)
	}
	log.WithFields(log.Fields{
		"library": k.String(),
		"path":    path,
		"symbols": len(t.procs),
	}).Debug("Loaded native library")
	return t, nil
}
