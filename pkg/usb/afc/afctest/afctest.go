// Package afctest serves the device side of the AFC packet protocol from
// an in-memory filesystem.
package afctest

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	opStatus         = 0x01
	opData           = 0x02
	opReadDir        = 0x03
	opRemovePath     = 0x08
	opMakeDir        = 0x09
	opGetFileInfo    = 0x0a
	opGetDeviceInfo  = 0x0b
	opFileRefOpen    = 0x0d
	opFileRefOpenRes = 0x0e
	opFileRefRead    = 0x0f
	opFileRefWrite   = 0x10
	opFileRefClose   = 0x14
	opRenamePath     = 0x18
)

const (
	codeSuccess       = 0
	codeInvalidArg    = 7
	codeNotFound      = 8
	codeIsDir         = 9
	codeOpUnsupported = 15
	codeDirNotEmpty   = 33
)

type handle struct {
	path string
	pos  int
}

// Device is a fake AFC service. The zero value is not usable, use New.
type Device struct {
	mu      sync.Mutex
	files   map[string][]byte
	dirs    map[string]bool
	handles map[uint64]*handle
	next    uint64

	// Ops counts requests by operation code.
	Ops map[uint64]int
	// Fail makes every request for an operation code answer with a status.
	Fail map[uint64]uint64
}

func New() *Device {
	return &Device{
		files:   map[string][]byte{},
		dirs:    map[string]bool{"/": true},
		handles: map[uint64]*handle{},
		Ops:     map[uint64]int{},
		Fail:    map[uint64]uint64{},
	}
}

// Op codes for Ops and Fail.
const (
	OpReadDir   = opReadDir
	OpMakeDir   = opMakeDir
	OpFileOpen  = opFileRefOpen
	OpFileRead  = opFileRefRead
	OpFileWrite = opFileRefWrite
	OpFileClose = opFileRefClose
	OpRemove    = opRemovePath
)

// WriteFile seeds a file, creating parent directories.
func (d *Device) WriteFile(p string, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mkdirAll(path.Dir(p))
	d.files[p] = append([]byte(nil), data...)
}

// ReadFile returns the content of a file and whether it exists.
func (d *Device) ReadFile(p string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.files[p]
	return b, ok
}

// IsDir reports whether p is a directory.
func (d *Device) IsDir(p string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirs[p]
}

// OpenHandles returns the number of file handles not yet closed.
func (d *Device) OpenHandles() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handles)
}

// Count returns how many requests with op were served.
func (d *Device) Count(op uint64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Ops[op]
}

func (d *Device) mkdirAll(p string) {
	for p != "/" && p != "." && !d.dirs[p] {
		d.dirs[p] = true
		p = path.Dir(p)
	}
}

// Serve answers requests on conn until it is closed.
func (d *Device) Serve(conn net.Conn) {
	defer conn.Close()
	for {
		var hdr [40]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return
		}
		entire := binary.LittleEndian.Uint64(hdr[8:])
		this := binary.LittleEndian.Uint64(hdr[16:])
		num := binary.LittleEndian.Uint64(hdr[24:])
		op := binary.LittleEndian.Uint64(hdr[32:])
		if string(hdr[:8]) != "CFA6LPAA" || this < 40 || entire < this {
			return
		}
		args := make([]byte, this-40)
		if _, err := io.ReadFull(conn, args); err != nil {
			return
		}
		payload := make([]byte, entire-this)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}
		rop, data, out := d.handle(op, args, payload)
		if _, err := conn.Write(packet(num, rop, data, out)); err != nil {
			return
		}
	}
}

func packet(num, op uint64, data, payload []byte) []byte {
	var b bytes.Buffer
	b.WriteString("CFA6LPAA")
	binary.Write(&b, binary.LittleEndian, uint64(40+len(data)+len(payload)))
	binary.Write(&b, binary.LittleEndian, uint64(40+len(data)))
	binary.Write(&b, binary.LittleEndian, num)
	binary.Write(&b, binary.LittleEndian, op)
	b.Write(data)
	b.Write(payload)
	return b.Bytes()
}

func status(code uint64) (uint64, []byte, []byte) {
	return opStatus, binary.LittleEndian.AppendUint64(nil, code), nil
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

func list(items ...string) []byte {
	var b bytes.Buffer
	for _, s := range items {
		b.WriteString(s)
		b.WriteByte(0)
	}
	return b.Bytes()
}

func (d *Device) handle(op uint64, args, payload []byte) (uint64, []byte, []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Ops[op]++
	if code, ok := d.Fail[op]; ok {
		return status(code)
	}

	switch op {
	case opReadDir:
		p := cstring(args)
		if !d.dirs[p] {
			return status(codeNotFound)
		}
		names := []string{".", ".."}
		for _, n := range d.children(p) {
			names = append(names, path.Base(n))
		}
		return opData, nil, list(names...)
	case opMakeDir:
		d.mkdirAll(cstring(args))
		return status(codeSuccess)
	case opGetFileInfo:
		p := cstring(args)
		if d.dirs[p] {
			return opData, nil, list("st_size", "0", "st_ifmt", "S_IFDIR", "st_mtime", "1700000000000000000")
		}
		if b, ok := d.files[p]; ok {
			return opData, nil, list("st_size", strconv.Itoa(len(b)), "st_ifmt", "S_IFREG", "st_mtime", "1700000000000000000")
		}
		return status(codeNotFound)
	case opGetDeviceInfo:
		return opData, nil, list("Model", "iPhone14,2", "FSTotalBytes", "128000000000", "FSFreeBytes", "64000000000", "FSBlockSize", "4096")
	case opFileRefOpen:
		if len(args) < 8 {
			return status(codeInvalidArg)
		}
		mode := binary.LittleEndian.Uint64(args)
		p := cstring(args[8:])
		if d.dirs[p] {
			return status(codeIsDir)
		}
		if _, ok := d.files[p]; !ok {
			if mode == 1 || !d.dirs[path.Dir(p)] {
				return status(codeNotFound)
			}
			d.files[p] = nil
		}
		// write modes truncate
		if mode == 3 || mode == 4 {
			d.files[p] = nil
		}
		d.next++
		d.handles[d.next] = &handle{path: p}
		return opFileRefOpenRes, binary.LittleEndian.AppendUint64(nil, d.next), nil
	case opFileRefRead:
		if len(args) < 16 {
			return status(codeInvalidArg)
		}
		h, ok := d.handles[binary.LittleEndian.Uint64(args)]
		if !ok {
			return status(codeInvalidArg)
		}
		n := int(binary.LittleEndian.Uint64(args[8:]))
		b := d.files[h.path]
		end := min(h.pos+n, len(b))
		out := append([]byte(nil), b[h.pos:end]...)
		h.pos = end
		return opData, nil, out
	case opFileRefWrite:
		if len(args) < 8 {
			return status(codeInvalidArg)
		}
		h, ok := d.handles[binary.LittleEndian.Uint64(args)]
		if !ok {
			return status(codeInvalidArg)
		}
		d.files[h.path] = append(d.files[h.path], payload...)
		return status(codeSuccess)
	case opFileRefClose:
		if len(args) < 8 {
			return status(codeInvalidArg)
		}
		ref := binary.LittleEndian.Uint64(args)
		if _, ok := d.handles[ref]; !ok {
			return status(codeInvalidArg)
		}
		delete(d.handles, ref)
		return status(codeSuccess)
	case opRemovePath:
		p := cstring(args)
		if d.dirs[p] {
			if len(d.children(p)) > 0 {
				return status(codeDirNotEmpty)
			}
			delete(d.dirs, p)
			return status(codeSuccess)
		}
		if _, ok := d.files[p]; !ok {
			return status(codeNotFound)
		}
		delete(d.files, p)
		return status(codeSuccess)
	case opRenamePath:
		parts := strings.SplitN(string(args), "\x00", 3)
		if len(parts) < 2 {
			return status(codeInvalidArg)
		}
		b, ok := d.files[parts[0]]
		if !ok {
			return status(codeNotFound)
		}
		delete(d.files, parts[0])
		d.files[parts[1]] = b
		return status(codeSuccess)
	}
	return status(codeOpUnsupported)
}

func (d *Device) children(dir string) []string {
	var out []string
	for p := range d.files {
		if path.Dir(p) == dir {
			out = append(out, p)
		}
	}
	for p := range d.dirs {
		if p != dir && path.Dir(p) == dir {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
