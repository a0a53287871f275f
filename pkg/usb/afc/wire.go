package afc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/apex/log"
	md "github.com/blacktop/idevice/pkg/usb/mobiledevice"
	"github.com/blacktop/idevice/pkg/usb/transport"
)

const (
	headerSize = 40
	afcMagic   = "CFA6LPAA"
)

const (
	opStatus         = 0x00000001
	opData           = 0x00000002
	opReadDir        = 0x00000003
	opRemovePath     = 0x00000008
	opMakeDir        = 0x00000009
	opGetFileInfo    = 0x0000000a
	opGetDeviceInfo  = 0x0000000b
	opFileRefOpen    = 0x0000000d
	opFileRefOpenRes = 0x0000000e
	opFileRefRead    = 0x0000000f
	opFileRefWrite   = 0x00000010
	opFileRefClose   = 0x00000014
	opRenamePath     = 0x00000018
)

// Header is the fixed AFC packet header.
type Header struct {
	Magic        [8]byte
	EntireLength uint64
	ThisLength   uint64
	PacketNum    uint64
	Operation    uint64
}

// Wire speaks the AFC packet protocol over a service stream. It is the
// Backend used when MobileDevice is not available.
type Wire struct {
	open func(md.ServiceSocket) (transport.Stream, error)

	mu    sync.Mutex
	next  md.AFCConnRef
	conns map[md.AFCConnRef]*wireConn
}

// NewWire returns a Wire backend. open turns a service socket into a
// stream, usually session.Session.OpenStream.
func NewWire(open func(md.ServiceSocket) (transport.Stream, error)) *Wire {
	return &Wire{open: open, conns: make(map[md.AFCConnRef]*wireConn)}
}

type wireDir struct {
	names []string
	pos   int
}

type wireConn struct {
	mu        sync.Mutex
	s         transport.Stream
	packetNum uint64

	nextDir md.AFCDirRef
	dirs    map[md.AFCDirRef]*wireDir
}

type response struct {
	operation   uint64
	payloadSize uint64
	data        []byte
	payload     []byte
}

// statusError carries a non-zero AFC status read off the wire.
type statusError md.Status

func (e statusError) Error() string { return fmt.Sprintf("afc status %d", uint32(e)) }

func encodeArgs(args ...any) []byte {
	ret := make([]byte, 0)
	for _, arg := range args {
		switch v := arg.(type) {
		case uint32:
			ret = binary.LittleEndian.AppendUint32(ret, v)
		case uint64:
			ret = binary.LittleEndian.AppendUint64(ret, v)
		case string:
			ret = append(ret, []byte(v)...)
			ret = append(ret, 0)
		case []byte:
			ret = append(ret, v...)
		default:
			panic(fmt.Errorf("invalid argument type %v", reflect.TypeOf(v)))
		}
	}
	return ret
}

func decodeStringList(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	ret := strings.Split(string(data), "\x00")
	return ret[:len(ret)-1]
}

func listToDict(kv []string) map[string]string {
	ret := map[string]string{}
	for i := 0; i+1 < len(kv); i += 2 {
		ret[kv[i]] = kv[i+1]
	}
	return ret
}

func (c *wireConn) sendRequest(operation uint64, payload []byte, args ...any) error {
	argsData := encodeArgs(args...)
	c.packetNum++
	hdr := Header{
		EntireLength: headerSize + uint64(len(argsData)) + uint64(len(payload)),
		ThisLength:   headerSize + uint64(len(argsData)),
		PacketNum:    c.packetNum,
		Operation:    operation,
	}
	copy(hdr.Magic[:], afcMagic)

	pkt := make([]byte, 0, hdr.EntireLength)
	pkt = append(pkt, hdr.Magic[:]...)
	pkt = binary.LittleEndian.AppendUint64(pkt, hdr.EntireLength)
	pkt = binary.LittleEndian.AppendUint64(pkt, hdr.ThisLength)
	pkt = binary.LittleEndian.AppendUint64(pkt, hdr.PacketNum)
	pkt = binary.LittleEndian.AppendUint64(pkt, hdr.Operation)
	pkt = append(pkt, argsData...)
	pkt = append(pkt, payload...)
	_, err := c.s.Write(pkt)
	return err
}

func (c *wireConn) recvHeader() (*Header, error) {
	hdr := &Header{}
	if err := binary.Read(c.s, binary.LittleEndian, hdr); err != nil {
		return nil, err
	}
	if string(hdr.Magic[:]) != afcMagic {
		return nil, fmt.Errorf("invalid AFC magic %q", hdr.Magic[:])
	}
	if hdr.ThisLength < headerSize || hdr.EntireLength < hdr.ThisLength {
		return nil, fmt.Errorf("invalid AFC packet lengths %d/%d", hdr.ThisLength, hdr.EntireLength)
	}
	return hdr, nil
}

// recvResponse reads one reply. When buf is non-nil the payload is read
// into it instead of a fresh slice.
func (c *wireConn) recvResponse(buf []byte) (*response, error) {
	hdr, err := c.recvHeader()
	if err != nil {
		return nil, err
	}
	resp := &response{
		operation:   hdr.Operation,
		payloadSize: hdr.EntireLength - hdr.ThisLength,
	}
	if toRead := hdr.ThisLength - headerSize; toRead > 0 {
		resp.data = make([]byte, toRead)
		if _, err := io.ReadFull(c.s, resp.data); err != nil {
			return nil, err
		}
	}
	if resp.payloadSize > 0 {
		if buf != nil {
			if resp.payloadSize > uint64(len(buf)) {
				return nil, fmt.Errorf("buffer is %d, needs %d", len(buf), resp.payloadSize)
			}
			resp.payload = buf[:resp.payloadSize]
		} else {
			resp.payload = make([]byte, resp.payloadSize)
		}
		if _, err := io.ReadFull(c.s, resp.payload); err != nil {
			return nil, err
		}
	}
	if hdr.Operation == opStatus && len(resp.data) >= 8 {
		if code := binary.LittleEndian.Uint64(resp.data); code != CodeSuccess {
			return resp, statusError(code)
		}
	}
	return resp, nil
}

func (c *wireConn) request(buf []byte, operation uint64, payload []byte, args ...any) (*response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sendRequest(operation, payload, args...); err != nil {
		return nil, err
	}
	return c.recvResponse(buf)
}

func toStatus(op string, err error) md.Status {
	if err == nil {
		return CodeSuccess
	}
	var se statusError
	if errors.As(err, &se) {
		return md.Status(se)
	}
	log.WithError(err).WithField("op", op).Debug("AFC transport failure")
	return CodeMuxError
}

func (w *Wire) conn(ref md.AFCConnRef) *wireConn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conns[ref]
}

func (w *Wire) AFCConnectionOpen(sock md.ServiceSocket, _ uint32) (md.AFCConnRef, md.Status) {
	s, err := w.open(sock)
	if err != nil {
		log.WithError(err).Debug("AFC stream open failed")
		return 0, CodeServiceNotConnected
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next++
	w.conns[w.next] = &wireConn{s: s, dirs: make(map[md.AFCDirRef]*wireDir)}
	return w.next, CodeSuccess
}

func (w *Wire) AFCConnectionClose(ref md.AFCConnRef) md.Status {
	w.mu.Lock()
	c, ok := w.conns[ref]
	delete(w.conns, ref)
	w.mu.Unlock()
	if !ok {
		return CodeInvalidArg
	}
	return toStatus("close", c.s.Close())
}

func (w *Wire) AFCDirectoryCreate(ref md.AFCConnRef, path string) md.Status {
	c := w.conn(ref)
	if c == nil {
		return CodeInvalidArg
	}
	_, err := c.request(nil, opMakeDir, nil, path)
	return toStatus("mkdir", err)
}

// AFCDirectoryOpen lists the directory in one request; entries are then
// handed out by AFCDirectoryRead.
func (w *Wire) AFCDirectoryOpen(ref md.AFCConnRef, path string) (md.AFCDirRef, md.Status) {
	c := w.conn(ref)
	if c == nil {
		return 0, CodeInvalidArg
	}
	resp, err := c.request(nil, opReadDir, nil, path)
	if st := toStatus("readdir", err); !st.OK() {
		return 0, st
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextDir++
	c.dirs[c.nextDir] = &wireDir{names: decodeStringList(resp.payload)}
	return c.nextDir, CodeSuccess
}

func (w *Wire) AFCDirectoryRead(ref md.AFCConnRef, dir md.AFCDirRef) (string, bool, md.Status) {
	c := w.conn(ref)
	if c == nil {
		return "", false, CodeInvalidArg
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.dirs[dir]
	if !ok {
		return "", false, CodeInvalidArg
	}
	if d.pos >= len(d.names) {
		return "", false, CodeSuccess
	}
	name := d.names[d.pos]
	d.pos++
	return name, true, CodeSuccess
}

func (w *Wire) AFCDirectoryClose(ref md.AFCConnRef, dir md.AFCDirRef) md.Status {
	c := w.conn(ref)
	if c == nil {
		return CodeInvalidArg
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.dirs[dir]; !ok {
		return CodeInvalidArg
	}
	delete(c.dirs, dir)
	return CodeSuccess
}

func (w *Wire) AFCFileRefOpen(ref md.AFCConnRef, path string, mode md.AFCMode, _ uint32) (md.AFCFileRef, md.Status) {
	c := w.conn(ref)
	if c == nil {
		return 0, CodeInvalidArg
	}
	resp, err := c.request(nil, opFileRefOpen, nil, uint64(mode), path)
	if st := toStatus("open", err); !st.OK() {
		return 0, st
	}
	if resp.operation != opFileRefOpenRes || len(resp.data) < 8 {
		return 0, CodeUnknownPacketType
	}
	return md.AFCFileRef(binary.LittleEndian.Uint64(resp.data)), CodeSuccess
}

func (w *Wire) AFCFileRefClose(ref md.AFCConnRef, f md.AFCFileRef) md.Status {
	c := w.conn(ref)
	if c == nil {
		return CodeInvalidArg
	}
	_, err := c.request(nil, opFileRefClose, nil, uint64(f))
	return toStatus("close", err)
}

func (w *Wire) AFCFileRefRead(ref md.AFCConnRef, f md.AFCFileRef, buf []byte) (int, md.Status) {
	c := w.conn(ref)
	if c == nil {
		return 0, CodeInvalidArg
	}
	resp, err := c.request(buf, opFileRefRead, nil, uint64(f), uint64(len(buf)))
	if st := toStatus("read", err); !st.OK() {
		return 0, st
	}
	return int(resp.payloadSize), CodeSuccess
}

func (w *Wire) AFCFileRefWrite(ref md.AFCConnRef, f md.AFCFileRef, buf []byte) md.Status {
	c := w.conn(ref)
	if c == nil {
		return CodeInvalidArg
	}
	_, err := c.request(nil, opFileRefWrite, buf, uint64(f))
	return toStatus("write", err)
}

// AFCRemovePath deletes a file or an empty directory.
func (w *Wire) AFCRemovePath(ref md.AFCConnRef, path string) md.Status {
	c := w.conn(ref)
	if c == nil {
		return CodeInvalidArg
	}
	_, err := c.request(nil, opRemovePath, nil, path)
	return toStatus("remove", err)
}

// AFCRenamePath renames from to to.
func (w *Wire) AFCRenamePath(ref md.AFCConnRef, from, to string) md.Status {
	c := w.conn(ref)
	if c == nil {
		return CodeInvalidArg
	}
	_, err := c.request(nil, opRenamePath, nil, from, to)
	return toStatus("rename", err)
}

// AFCFileInfo returns the st_* attributes of path.
func (w *Wire) AFCFileInfo(ref md.AFCConnRef, path string) (map[string]string, md.Status) {
	c := w.conn(ref)
	if c == nil {
		return nil, CodeInvalidArg
	}
	resp, err := c.request(nil, opGetFileInfo, nil, path)
	if st := toStatus("stat", err); !st.OK() {
		return nil, st
	}
	return listToDict(decodeStringList(resp.payload)), CodeSuccess
}

// AFCDeviceInfo returns filesystem information (Model, FSTotalBytes,
// FSFreeBytes, FSBlockSize).
func (w *Wire) AFCDeviceInfo(ref md.AFCConnRef) (map[string]string, md.Status) {
	c := w.conn(ref)
	if c == nil {
		return nil, CodeInvalidArg
	}
	resp, err := c.request(nil, opGetDeviceInfo, nil)
	if st := toStatus("device info", err); !st.OK() {
		return nil, st
	}
	return listToDict(decodeStringList(resp.payload)), CodeSuccess
}
