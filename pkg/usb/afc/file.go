package afc

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"time"

	md "github.com/blacktop/idevice/pkg/usb/mobiledevice"
)

// ErrUnsupported is returned for operations the channel's backend does not
// provide.
var ErrUnsupported = errors.New("operation not supported by AFC backend")

// Stater is implemented by backends that can report file attributes.
type Stater interface {
	AFCFileInfo(conn md.AFCConnRef, path string) (map[string]string, md.Status)
}

// Remover is implemented by backends that can delete and rename paths.
type Remover interface {
	AFCRemovePath(conn md.AFCConnRef, path string) md.Status
	AFCRenamePath(conn md.AFCConnRef, from, to string) md.Status
}

// fileModes maps the st_ifmt attribute to a file type.
var fileModes = map[string]fs.FileMode{
	"S_IFBLK":  fs.ModeDevice,
	"S_IFCHR":  fs.ModeDevice | fs.ModeCharDevice,
	"S_IFDIR":  fs.ModeDir,
	"S_IFIFO":  fs.ModeNamedPipe,
	"S_IFLNK":  fs.ModeSymlink,
	"S_IFSOCK": fs.ModeSocket,
}

type fileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
}

// newFileInfo decodes the string attributes a device reports for name.
// st_mtime is in nanoseconds.
func newFileInfo(name string, attrs map[string]string) (*fileInfo, error) {
	fi := &fileInfo{name: path.Base(name), mode: fileModes[attrs["st_ifmt"]]}
	if v, ok := attrs["st_size"]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad st_size %q for %s: %w", v, name, err)
		}
		fi.size = n
	}
	if v, ok := attrs["st_mtime"]; ok {
		ns, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad st_mtime %q for %s: %w", v, name, err)
		}
		fi.modTime = time.Unix(0, ns)
	}
	return fi, nil
}

func (f *fileInfo) Name() string       { return f.name }
func (f *fileInfo) Size() int64        { return f.size }
func (f *fileInfo) Mode() fs.FileMode  { return f.mode }
func (f *fileInfo) ModTime() time.Time { return f.modTime }
func (f *fileInfo) IsDir() bool        { return f.mode.IsDir() }
func (f *fileInfo) Sys() any           { return nil }

// Stat returns the attributes of p. Backends without file info support are
// probed by opening p as a directory; sizes and times are then unknown.
func (c *Channel) Stat(p string) (fs.FileInfo, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	if st, ok := c.b.(Stater); ok {
		info, code := st.AFCFileInfo(c.conn, p)
		if !code.OK() {
			return nil, &Error{Op: "stat", Path: p, Code: code}
		}
		return newFileInfo(p, info)
	}
	if d, err := c.OpenDirectory(p); err == nil {
		d.Close()
		return &fileInfo{name: path.Base(p), mode: fs.ModeDir}, nil
	}
	f, err := c.OpenFile(p, ReadOnly, 0)
	if err != nil {
		return nil, err
	}
	f.Close()
	return &fileInfo{name: path.Base(p)}, nil
}

// Remove deletes a file or an empty directory.
func (c *Channel) Remove(p string) error {
	if err := c.usable(); err != nil {
		return err
	}
	r, ok := c.b.(Remover)
	if !ok {
		return fmt.Errorf("remove %s: %w", p, ErrUnsupported)
	}
	if st := r.AFCRemovePath(c.conn, p); !st.OK() {
		return &Error{Op: "remove", Path: p, Code: st}
	}
	return nil
}

// Rename moves from to to.
func (c *Channel) Rename(from, to string) error {
	if err := c.usable(); err != nil {
		return err
	}
	r, ok := c.b.(Remover)
	if !ok {
		return fmt.Errorf("rename %s: %w", from, ErrUnsupported)
	}
	if st := r.AFCRenamePath(c.conn, from, to); !st.OK() {
		return &Error{Op: "rename", Path: from, Code: st}
	}
	return nil
}
