// Package usbmuxtest runs an in-memory usbmuxd for tests.
package usbmuxtest

import (
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/blacktop/go-plist"
	"github.com/blacktop/idevice/pkg/usb"
)

// Server answers usbmuxd requests. Connect requests are routed to the
// handler registered for the port.
type Server struct {
	mu sync.Mutex

	Devices     []usb.DeviceAttachment
	PairRecords map[string]*usb.PairRecord
	BUID        string
	// Ports maps a device port to the handler serving the device side.
	Ports map[int]func(net.Conn)
	// Events are sent after a Listen request.
	Events []usb.Event

	requests []string
	connects []int
}

func New() *Server {
	return &Server{
		PairRecords: map[string]*usb.PairRecord{},
		Ports:       map[int]func(net.Conn){},
	}
}

// Dial returns a client connection to the server.
func (s *Server) Dial() (*usb.Conn, error) {
	client, server := net.Pipe()
	go s.serve(server)
	return usb.FromConn(client), nil
}

// Requests lists the MessageType of every request received.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Connects lists the device ports of every Connect request.
func (s *Server) Connects() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.connects...)
}

func toInt(v any) int {
	switch n := v.(type) {
	case uint64:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	}
	return 0
}

func swap16(v int) int {
	return int(uint16(v)<<8 | uint16(v)>>8)
}

func send(conn net.Conn, tag uint32, msg any) error {
	data, err := plist.Marshal(msg, plist.XMLFormat)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, 16+len(data))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(16+len(data)))
	buf = binary.LittleEndian.AppendUint32(buf, 1)
	buf = binary.LittleEndian.AppendUint32(buf, 8)
	buf = binary.LittleEndian.AppendUint32(buf, tag)
	_, err = conn.Write(append(buf, data...))
	return err
}

func result(n int) map[string]any {
	return map[string]any{"MessageType": "Result", "Number": n}
}

func (s *Server) serve(conn net.Conn) {
	for {
		var hdr [16]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			conn.Close()
			return
		}
		length := binary.LittleEndian.Uint32(hdr[:])
		tag := binary.LittleEndian.Uint32(hdr[12:])
		data := make([]byte, length-16)
		if _, err := io.ReadFull(conn, data); err != nil {
			conn.Close()
			return
		}
		var req map[string]any
		if _, err := plist.Unmarshal(data, &req); err != nil {
			conn.Close()
			return
		}
		msgType, _ := req["MessageType"].(string)

		s.mu.Lock()
		s.requests = append(s.requests, msgType)
		s.mu.Unlock()

		switch msgType {
		case "ListDevices":
			s.mu.Lock()
			list := make([]any, 0, len(s.Devices))
			for _, d := range s.Devices {
				list = append(list, map[string]any{
					"MessageType": "Attached",
					"DeviceID":    d.DeviceID,
					"Properties":  d,
				})
			}
			s.mu.Unlock()
			send(conn, tag, map[string]any{"DeviceList": list})
		case "ReadPairRecord":
			s.mu.Lock()
			rec, ok := s.PairRecords[req["PairRecordID"].(string)]
			s.mu.Unlock()
			if !ok {
				send(conn, tag, result(int(usb.ResultValueBadDevice)))
				continue
			}
			data, err := plist.Marshal(rec, plist.XMLFormat)
			if err != nil {
				conn.Close()
				return
			}
			send(conn, tag, map[string]any{"PairRecordData": data})
		case "ReadBUID":
			send(conn, tag, map[string]any{"BUID": s.BUID})
		case "Connect":
			port := swap16(toInt(req["PortNumber"]))
			s.mu.Lock()
			s.connects = append(s.connects, port)
			handler, ok := s.Ports[port]
			s.mu.Unlock()
			if !ok {
				send(conn, tag, result(int(usb.ResultValueConnectionRefused)))
				continue
			}
			send(conn, tag, result(int(usb.ResultValueOK)))
			handler(conn)
			return
		case "Listen":
			send(conn, tag, result(int(usb.ResultValueOK)))
			s.mu.Lock()
			events := append([]usb.Event(nil), s.Events...)
			s.mu.Unlock()
			for _, ev := range events {
				msg := map[string]any{"MessageType": string(ev.MessageType), "DeviceID": ev.DeviceID}
				if ev.Properties != nil {
					msg["Properties"] = *ev.Properties
				}
				if err := send(conn, 0, msg); err != nil {
					return
				}
			}
			// hold the connection open like usbmuxd does
			io.Copy(io.Discard, conn)
			conn.Close()
			return
		default:
			send(conn, tag, result(int(usb.ResultValueBadCommand)))
		}
	}
}
