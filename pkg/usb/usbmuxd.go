// Package usb is a client for usbmuxd, the daemon that multiplexes TCP
// connections to USB attached iOS devices.
package usb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/apex/log"
	"github.com/blacktop/go-plist"
	"github.com/blacktop/idevice/internal/colors"
	"github.com/google/uuid"
)

const (
	ProgName            = "idevice"
	BundleID            = "io.blacktop.idevice"
	ClientVersionString = "idevice-usbmux-0.0.1"
	libUSBMuxVersion    = 3
	plistMessage        = 8
)

// Header precedes every usbmuxd message, little endian.
type Header struct {
	Length      uint32
	Version     uint32
	MessageType uint32
	Tag         uint32
}

// HeaderSize is the encoded size of a Header.
const HeaderSize = 16

func (h Header) append(b []byte) []byte {
	for _, v := range [...]uint32{h.Length, h.Version, h.MessageType, h.Tag} {
		b = binary.LittleEndian.AppendUint32(b, v)
	}
	return b
}

// maxMessageSize bounds a single usbmuxd reply.
const maxMessageSize = 16 << 20

// Conn is one connection to usbmuxd. After a successful Dial it is a raw
// tunnel to the device port and must not be used for usbmuxd requests.
type Conn struct {
	net.Conn
	// ID labels the connection in logs.
	ID  string
	tag uint32
}

// NewConn connects to the local usbmuxd.
func NewConn() (*Conn, error) {
	conn, err := usbmuxdDial()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to usbmuxd at %s: %w", SocketPath, err)
	}
	return FromConn(conn), nil
}

// FromConn speaks the usbmuxd protocol over an existing connection.
func FromConn(conn net.Conn) *Conn {
	return &Conn{Conn: conn, ID: uuid.NewString()}
}

type ResultValue int

const (
	ResultValueOK ResultValue = iota
	ResultValueBadCommand
	ResultValueBadDevice
	ResultValueConnectionRefused
	ResultValueConnectionUnknown1
	ResultValueConnectionUnknown2
	ResultValueBadVersion
)

func (r ResultValue) String() string {
	switch r {
	case ResultValueOK:
		return "ok"
	case ResultValueBadCommand:
		return "bad command"
	case ResultValueBadDevice:
		return "bad device"
	case ResultValueConnectionRefused:
		return "connection refused"
	case ResultValueBadVersion:
		return "bad version"
	default:
		return fmt.Sprintf("result %d", int(r))
	}
}

// ResultError is a non-zero usbmuxd result.
type ResultError struct {
	Request string
	Number  ResultValue
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("usbmuxd %s failed: %s", e.Request, e.Number)
}

// Unwrap maps a refused connection to syscall.ECONNREFUSED.
func (e *ResultError) Unwrap() error {
	if e.Number == ResultValueConnectionRefused {
		return syscall.ECONNREFUSED
	}
	return nil
}

// request is a usbmuxd plist message carrying the client identification
// every request needs.
type request map[string]any

func newRequest(messageType string) request {
	return request{
		"MessageType":         messageType,
		"BundleID":            BundleID,
		"ProgName":            ProgName,
		"ClientVersionString": ClientVersionString,
		"kLibUSBMuxVersion":   uint32(libUSBMuxVersion),
	}
}

func (c *Conn) result(req request) error {
	var resp struct {
		MessageType string
		Number      ResultValue
	}
	if err := c.Request(req, &resp); err != nil {
		return err
	}
	if resp.Number != ResultValueOK {
		return &ResultError{Request: req["MessageType"].(string), Number: resp.Number}
	}
	return nil
}

// Dial asks usbmuxd to connect to port on the device. On success the
// connection is forwarded to the device.
func (c *Conn) Dial(deviceID, port int) error {
	log.WithFields(log.Fields{
		"conn":   c.ID,
		"device": deviceID,
		"port":   port,
	}).Debug("usbmuxd connect")
	req := newRequest("Connect")
	req["DeviceID"] = uint32(deviceID)
	// usbmuxd wants the port in network byte order
	req["PortNumber"] = htons(uint16(port))
	return c.result(req)
}

// DeviceAttachment holds the properties usbmuxd reports for a device.
type DeviceAttachment struct {
	ConnectionSpeed int
	ConnectionType  string
	DeviceID        int
	LocationID      int
	ProductID       int
	SerialNumber    string
	UDID            string
	USBSerialNumber string
}

var (
	colorField = colors.FaintHiBlue().SprintFunc()
	colorValue = colors.Bold().SprintFunc()
)

// String renders the attachment as an indented field list, one per line.
func (d DeviceAttachment) String() string {
	type field struct {
		name  string
		value any
	}
	fields := []field{
		{"UDID", d.Serial()},
		{"DeviceID", d.DeviceID},
		{"Connection", d.ConnectionType},
		{"Speed", d.ConnectionSpeed},
		{"ProductID", fmt.Sprintf("%#x", d.ProductID)},
		{"LocationID", d.LocationID},
	}
	if d.USBSerialNumber != "" {
		fields = append(fields, field{"USBSerial", d.USBSerialNumber})
	}
	var sb strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&sb, "  %s %v\n", colorField(fmt.Sprintf("%-11s", f.name+":")), colorValue(f.value))
	}
	return sb.String()
}

// Serial returns the device UDID, falling back to the serial number older
// usbmuxd versions report instead.
func (d DeviceAttachment) Serial() string {
	if d.UDID != "" {
		return d.UDID
	}
	return d.SerialNumber
}

// ListDevices returns the devices usbmuxd currently knows about. Entries
// without properties are skipped.
func (c *Conn) ListDevices() ([]*DeviceAttachment, error) {
	var reply struct {
		DeviceList []Event
	}
	if err := c.Request(newRequest("ListDevices"), &reply); err != nil {
		return nil, err
	}

	var devices []*DeviceAttachment
	for _, ev := range reply.DeviceList {
		if ev.Properties == nil {
			continue
		}
		if ev.Properties.DeviceID == 0 {
			ev.Properties.DeviceID = ev.DeviceID
		}
		devices = append(devices, ev.Properties)
	}
	return devices, nil
}

// ErrDeviceNotFound is returned when no attached device has the UDID.
var ErrDeviceNotFound = errors.New("device not found")

// FindDevice returns the attached device with udid. An empty udid selects
// the first device.
func (c *Conn) FindDevice(udid string) (*DeviceAttachment, error) {
	devices, err := c.ListDevices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if udid == "" || d.Serial() == udid {
			return d, nil
		}
	}
	if udid == "" {
		return nil, ErrDeviceNotFound
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, udid)
}

type PairRecord struct {
	DeviceCertificate []byte
	EscrowBag         []byte
	HostCertificate   []byte
	HostID            string
	HostPrivateKey    []byte
	RootCertificate   []byte
	RootPrivateKey    []byte
	SystemBUID        string
	WiFiMACAddress    string
}

// ReadPairRecord returns the host pairing record stored for udid.
func (c *Conn) ReadPairRecord(udid string) (*PairRecord, error) {
	req := newRequest("ReadPairRecord")
	req["PairRecordID"] = udid

	var reply struct {
		Number         ResultValue
		PairRecordData []byte
	}
	if err := c.Request(req, &reply); err != nil {
		return nil, err
	}
	// usbmuxd answers a missing record with a bare Result
	if len(reply.PairRecordData) == 0 {
		return nil, &ResultError{Request: "ReadPairRecord", Number: reply.Number}
	}

	rec := new(PairRecord)
	if _, err := plist.Unmarshal(reply.PairRecordData, rec); err != nil {
		return nil, fmt.Errorf("failed to decode pair record: %w", err)
	}
	return rec, nil
}

// ReadBUID returns the host's system BUID.
func (c *Conn) ReadBUID() (string, error) {
	var reply struct {
		BUID string `plist:"BUID"`
	}
	if err := c.Request(newRequest("ReadBUID"), &reply); err != nil {
		return "", err
	}
	return reply.BUID, nil
}

// EventKind is the MessageType of a Listen event.
type EventKind string

const (
	EventAttached EventKind = "Attached"
	EventDetached EventKind = "Detached"
	EventPaired   EventKind = "Paired"
)

// Event is a device attach/detach message received after Listen.
type Event struct {
	MessageType EventKind
	DeviceID    int
	Properties  *DeviceAttachment
}

// Listen subscribes the connection to attach and detach events. Once it
// returns, read events with NextEvent; the connection serves nothing else.
func (c *Conn) Listen() error {
	return c.result(newRequest("Listen"))
}

// NextEvent blocks until usbmuxd reports an event.
func (c *Conn) NextEvent() (*Event, error) {
	var ev Event
	if err := c.Recv(&ev); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"conn":   c.ID,
		"event":  ev.MessageType,
		"device": ev.DeviceID,
	}).Debug("usbmuxd event")
	return &ev, nil
}

// Request sends req and decodes the reply into resp.
func (c *Conn) Request(req, resp any) error {
	if err := c.Send(req); err != nil {
		return err
	}
	return c.Recv(resp)
}

// Send writes msg as one XML plist message.
func (c *Conn) Send(msg any) error {
	body, err := plist.Marshal(msg, plist.XMLFormat)
	if err != nil {
		return fmt.Errorf("failed to encode usbmuxd message: %w", err)
	}
	hdr := Header{
		Length:      HeaderSize + uint32(len(body)),
		Version:     1,
		MessageType: plistMessage,
		Tag:         atomic.AddUint32(&c.tag, 1),
	}
	_, err = c.Write(append(hdr.append(make([]byte, 0, hdr.Length)), body...))
	return err
}

// Recv reads one message and decodes its plist body into msg.
func (c *Conn) Recv(msg any) error {
	var raw [HeaderSize]byte
	if _, err := io.ReadFull(c, raw[:]); err != nil {
		return err
	}
	size := binary.LittleEndian.Uint32(raw[:4])
	if size < HeaderSize || size-HeaderSize > maxMessageSize {
		return fmt.Errorf("invalid usbmuxd message length %d", size)
	}

	body := make([]byte, size-HeaderSize)
	if _, err := io.ReadFull(c, body); err != nil {
		return err
	}
	if _, err := plist.Unmarshal(body, msg); err != nil {
		return fmt.Errorf("failed to decode usbmuxd message: %w", err)
	}
	return nil
}

func htons(v uint16) uint16 {
	return (v << 8 & 0xFF00) | (v >> 8 & 0xFF)
}
