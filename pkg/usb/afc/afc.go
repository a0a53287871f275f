// Package afc implements the Apple File Conduit channel used to move files
// to and from a device's media partition.
package afc

import (
	"errors"
	"fmt"
	"io"

	"github.com/apex/log"
	md "github.com/blacktop/idevice/pkg/usb/mobiledevice"
)

const ServiceName = "com.apple.afc"

// Mode is the open mode of a file.
type Mode = md.AFCMode

const (
	ReadOnly   = md.AFCReadOnly
	ReadWrite  = md.AFCReadWrite
	WriteOnly  = md.AFCWriteOnly
	WriteRead  = md.AFCWriteRead
	Append     = md.AFCAppend
	AppendRead = md.AFCAppendRead
)

// AFC status codes.
const (
	CodeSuccess             = 0
	CodeUnknownError        = 1
	CodeOpHeaderInvalid     = 2
	CodeNoResources         = 3
	CodeReadError           = 4
	CodeWriteError          = 5
	CodeUnknownPacketType   = 6
	CodeInvalidArg          = 7
	CodeObjectNotFound      = 8
	CodeObjectIsDir         = 9
	CodePermDenied          = 10
	CodeServiceNotConnected = 11
	CodeOpTimeout           = 12
	CodeTooMuchData         = 13
	CodeEndOfData           = 14
	CodeOpNotSupported      = 15
	CodeObjectExists        = 16
	CodeObjectBusy          = 17
	CodeNoSpaceLeft         = 18
	CodeOpWouldBlock        = 19
	CodeIoError             = 20
	CodeOpInterrupted       = 21
	CodeOpInProgress        = 22
	CodeInternalError       = 23
	CodeMuxError            = 30
	CodeNoMem               = 31
	CodeNotEnoughData       = 32
	CodeDirNotEmpty         = 33
)

var codeNames = map[md.Status]string{
	CodeUnknownError:        "unknown error",
	CodeOpHeaderInvalid:     "invalid operation header",
	CodeNoResources:         "no resources",
	CodeReadError:           "read error",
	CodeWriteError:          "write error",
	CodeUnknownPacketType:   "unknown packet type",
	CodeInvalidArg:          "invalid argument",
	CodeObjectNotFound:      "object not found",
	CodeObjectIsDir:         "object is a directory",
	CodePermDenied:          "permission denied",
	CodeServiceNotConnected: "service not connected",
	CodeOpTimeout:           "operation timeout",
	CodeTooMuchData:         "too much data",
	CodeEndOfData:           "end of data",
	CodeOpNotSupported:      "operation not supported",
	CodeObjectExists:        "object exists",
	CodeObjectBusy:          "object busy",
	CodeNoSpaceLeft:         "no space left",
	CodeOpWouldBlock:        "operation would block",
	CodeIoError:             "io error",
	CodeOpInterrupted:       "operation interrupted",
	CodeOpInProgress:        "operation in progress",
	CodeInternalError:       "internal error",
	CodeMuxError:            "mux error",
	CodeNoMem:               "out of memory",
	CodeNotEnoughData:       "not enough data",
	CodeDirNotEmpty:         "directory not empty",
}

var (
	// ErrForeignHandle is returned when a file or directory is used with a
	// channel other than the one that opened it.
	ErrForeignHandle = errors.New("handle belongs to another AFC connection")
	// ErrClosedHandle is returned when a file, directory or channel is used
	// after it was closed.
	ErrClosedHandle = errors.New("handle already closed")
)

// Error is a failed AFC operation with its status code.
type Error struct {
	Op   string
	Path string
	Code md.Status
}

func (e *Error) Error() string {
	name, ok := codeNames[e.Code]
	if !ok {
		name = "status " + e.Code.String()
	}
	if e.Path != "" {
		return fmt.Sprintf("afc %s %s: %s (%d)", e.Op, e.Path, name, uint32(e.Code))
	}
	return fmt.Sprintf("afc %s: %s (%d)", e.Op, name, uint32(e.Code))
}

// Retryable reports codes describing a transient condition. Whether to
// retry is left to the caller.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeNoResources, CodeOpTimeout, CodeObjectBusy, CodeOpWouldBlock, CodeOpInterrupted, CodeOpInProgress:
		return true
	}
	return false
}

// IsNotExist reports whether err is an AFC "object not found" error.
func IsNotExist(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeObjectNotFound
}

// Backend carries out the AFC primitives. *mobiledevice.MobileDevice
// implements it natively and Wire implements it over a service stream.
type Backend interface {
	AFCConnectionOpen(sock md.ServiceSocket, timeout uint32) (md.AFCConnRef, md.Status)
	AFCConnectionClose(conn md.AFCConnRef) md.Status
	AFCDirectoryCreate(conn md.AFCConnRef, path string) md.Status
	AFCDirectoryOpen(conn md.AFCConnRef, path string) (md.AFCDirRef, md.Status)
	AFCDirectoryRead(conn md.AFCConnRef, dir md.AFCDirRef) (string, bool, md.Status)
	AFCDirectoryClose(conn md.AFCConnRef, dir md.AFCDirRef) md.Status
	AFCFileRefOpen(conn md.AFCConnRef, path string, mode md.AFCMode, timeout uint32) (md.AFCFileRef, md.Status)
	AFCFileRefClose(conn md.AFCConnRef, f md.AFCFileRef) md.Status
	AFCFileRefRead(conn md.AFCConnRef, f md.AFCFileRef, buf []byte) (int, md.Status)
	AFCFileRefWrite(conn md.AFCConnRef, f md.AFCFileRef, buf []byte) md.Status
}

// Channel is an open AFC connection. It owns the service socket it was
// opened on and every file and directory handle opened through it.
type Channel struct {
	b      Backend
	conn   md.AFCConnRef
	closed bool

	files map[*File]struct{}
	dirs  map[*Dir]struct{}
}

// Open starts an AFC connection on a service socket.
func Open(b Backend, sock md.ServiceSocket, timeout uint32) (*Channel, error) {
	conn, st := b.AFCConnectionOpen(sock, timeout)
	if !st.OK() {
		return nil, &Error{Op: "connection open", Code: st}
	}
	log.WithFields(log.Fields{
		"socket": sock,
		"conn":   fmt.Sprintf("%#x", uintptr(conn)),
	}).Debug("AFC connection opened")
	return &Channel{
		b:     b,
		conn:  conn,
		files: make(map[*File]struct{}),
		dirs:  make(map[*Dir]struct{}),
	}, nil
}

// Backend returns the backend the channel was opened with.
func (c *Channel) Backend() Backend { return c.b }

func (c *Channel) usable() error {
	if c.closed {
		return ErrClosedHandle
	}
	return nil
}

// CreateDirectory creates path (and is a no-op on most devices when it
// already exists).
func (c *Channel) CreateDirectory(path string) error {
	if err := c.usable(); err != nil {
		return err
	}
	if st := c.b.AFCDirectoryCreate(c.conn, path); !st.OK() {
		return &Error{Op: "mkdir", Path: path, Code: st}
	}
	return nil
}

// File is an open AFC file. It implements io.ReadWriteCloser.
type File struct {
	c      *Channel
	ref    md.AFCFileRef
	path   string
	mode   Mode
	closed bool
}

func (f *File) Path() string { return f.path }

func (f *File) Mode() Mode { return f.mode }

func (f *File) Read(p []byte) (int, error) { return f.c.ReadFile(f, p) }

func (f *File) Write(p []byte) (int, error) {
	if err := f.c.WriteFile(f, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (f *File) Close() error { return f.c.CloseFile(f) }

// OpenFile opens path with mode.
func (c *Channel) OpenFile(path string, mode Mode, timeout uint32) (*File, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	ref, st := c.b.AFCFileRefOpen(c.conn, path, mode, timeout)
	if !st.OK() {
		return nil, &Error{Op: "open", Path: path, Code: st}
	}
	f := &File{c: c, ref: ref, path: path, mode: mode}
	c.files[f] = struct{}{}
	return f, nil
}

func (c *Channel) file(f *File) error {
	if f == nil || f.c != c {
		return ErrForeignHandle
	}
	if f.closed || c.closed {
		return ErrClosedHandle
	}
	return nil
}

// CloseFile closes f. Closing twice returns ErrClosedHandle.
func (c *Channel) CloseFile(f *File) error {
	if err := c.file(f); err != nil {
		return err
	}
	f.closed = true
	delete(c.files, f)
	if st := c.b.AFCFileRefClose(c.conn, f.ref); !st.OK() {
		return &Error{Op: "close", Path: f.path, Code: st}
	}
	return nil
}

// ReadFile reads up to len(buf) bytes. It returns io.EOF once the file is
// exhausted.
func (c *Channel) ReadFile(f *File, buf []byte) (int, error) {
	if err := c.file(f); err != nil {
		return 0, err
	}
	if len(buf) == 0 {
		return 0, nil
	}
	n, st := c.b.AFCFileRefRead(c.conn, f.ref, buf)
	if !st.OK() {
		if st == CodeEndOfData {
			return 0, io.EOF
		}
		return n, &Error{Op: "read", Path: f.path, Code: st}
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// WriteFile writes all of buf.
func (c *Channel) WriteFile(f *File, buf []byte) error {
	if err := c.file(f); err != nil {
		return err
	}
	if st := c.b.AFCFileRefWrite(c.conn, f.ref, buf); !st.OK() {
		return &Error{Op: "write", Path: f.path, Code: st}
	}
	return nil
}

// Dir is an open AFC directory.
type Dir struct {
	c      *Channel
	ref    md.AFCDirRef
	path   string
	closed bool
}

func (d *Dir) Path() string { return d.path }

// Next returns the next entry name, or io.EOF.
func (d *Dir) Next() (string, error) { return d.c.ReadDirectoryEntry(d) }

func (d *Dir) Close() error { return d.c.CloseDirectory(d) }

func (c *Channel) OpenDirectory(path string) (*Dir, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	ref, st := c.b.AFCDirectoryOpen(c.conn, path)
	if !st.OK() {
		return nil, &Error{Op: "opendir", Path: path, Code: st}
	}
	d := &Dir{c: c, ref: ref, path: path}
	c.dirs[d] = struct{}{}
	return d, nil
}

func (c *Channel) dir(d *Dir) error {
	if d == nil || d.c != c {
		return ErrForeignHandle
	}
	if d.closed || c.closed {
		return ErrClosedHandle
	}
	return nil
}

// ReadDirectoryEntry returns the next entry of d, including "." and "..".
// It returns io.EOF when the directory is exhausted.
func (c *Channel) ReadDirectoryEntry(d *Dir) (string, error) {
	if err := c.dir(d); err != nil {
		return "", err
	}
	name, ok, st := c.b.AFCDirectoryRead(c.conn, d.ref)
	if !st.OK() {
		return "", &Error{Op: "readdir", Path: d.path, Code: st}
	}
	if !ok {
		return "", io.EOF
	}
	return name, nil
}

func (c *Channel) CloseDirectory(d *Dir) error {
	if err := c.dir(d); err != nil {
		return err
	}
	d.closed = true
	delete(c.dirs, d)
	if st := c.b.AFCDirectoryClose(c.conn, d.ref); !st.OK() {
		return &Error{Op: "closedir", Path: d.path, Code: st}
	}
	return nil
}

// Close closes any files and directories still open and then the
// connection. Calling Close again is a no-op.
func (c *Channel) Close() error {
	if c.closed {
		return nil
	}
	var errs []error
	for f := range c.files {
		if err := c.CloseFile(f); err != nil {
			errs = append(errs, err)
		}
	}
	for d := range c.dirs {
		if err := c.CloseDirectory(d); err != nil {
			errs = append(errs, err)
		}
	}
	c.closed = true
	if st := c.b.AFCConnectionClose(c.conn); !st.OK() {
		errs = append(errs, &Error{Op: "connection close", Code: st})
	}
	return errors.Join(errs...)
}
