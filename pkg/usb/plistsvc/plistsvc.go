// Package plistsvc speaks the length-prefixed plist protocol used by
// lockdown services: a 4-byte big-endian payload length followed by exactly
// that many bytes of plist.
package plistsvc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/apex/log"
	"github.com/blacktop/go-plist"
	"github.com/blacktop/idevice/pkg/usb/transport"
)

const headerSize = 4

// MaxFrameSize bounds the payload length accepted from a peer.
const MaxFrameSize = 64 << 20

// ErrUnableToReadReply is returned when the stream stops producing data in
// the middle of a payload.
var ErrUnableToReadReply = errors.New("unable to read reply")

// ProtocolError means the stream is no longer aligned on a frame boundary
// and must be discarded.
type ProtocolError struct {
	Want int
	Got  int
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Want > 0 {
		return fmt.Sprintf("plist service: read %d of %d bytes: %v", e.Got, e.Want, e.Err)
	}
	return fmt.Sprintf("plist service: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Service frames plist messages over a transport.Stream.
type Service struct {
	s      transport.Stream
	format int
	broken error
}

// Option configures a Service.
type Option func(*Service)

// WithFormat selects the plist encoding of outgoing messages
// (plist.XMLFormat by default).
func WithFormat(format int) Option {
	return func(s *Service) {
		s.format = format
	}
}

func New(s transport.Stream, opts ...Option) *Service {
	svc := &Service{s: s, format: plist.XMLFormat}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func (s *Service) Stream() transport.Stream { return s.s }

// SendMessage encodes msg and writes length and payload in a single write.
func (s *Service) SendMessage(msg any) error {
	if s.broken != nil {
		return s.broken
	}
	data, err := plist.Marshal(msg, s.format)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	frame := make([]byte, headerSize+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[headerSize:], data)
	if _, err := s.s.Write(frame); err != nil {
		return err
	}
	return nil
}

// ReceiveMessage reads one frame. ok is false when fewer than four header
// bytes arrived, meaning there is no message. A zero length frame is a
// valid empty message.
func (s *Service) ReceiveMessage() (payload []byte, ok bool, err error) {
	if s.broken != nil {
		return nil, false, s.broken
	}
	hdr, err := transport.ReadN(s.s, headerSize)
	if len(hdr) < headerSize {
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, false, err
		}
		return nil, false, nil
	}
	size := int(binary.BigEndian.Uint32(hdr))
	if size == 0 {
		return []byte{}, true, nil
	}
	if size > MaxFrameSize {
		s.broken = &ProtocolError{Err: fmt.Errorf("frame length %d exceeds %d", size, MaxFrameSize)}
		return nil, false, s.broken
	}
	data, err := transport.ReadN(s.s, size)
	if len(data) < size {
		if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			err = ErrUnableToReadReply
		}
		s.broken = &ProtocolError{Want: size, Got: len(data), Err: err}
		return nil, false, s.broken
	}
	log.WithField("size", size).Debug("Received plist frame")
	return data, true, nil
}

// Recv decodes the next message into v. It returns io.EOF when the peer
// sent no message. A payload that is not a plist breaks the service.
func (s *Service) Recv(v any) error {
	data, ok, err := s.ReceiveMessage()
	if err != nil {
		return err
	}
	if !ok {
		return io.EOF
	}
	if len(data) == 0 {
		return nil
	}
	if _, err := plist.Unmarshal(data, v); err != nil {
		s.broken = &ProtocolError{Err: fmt.Errorf("failed to decode message: %w", err)}
		return s.broken
	}
	return nil
}

// Request sends req and decodes the reply into resp.
func (s *Service) Request(req, resp any) error {
	if err := s.SendMessage(req); err != nil {
		return err
	}
	return s.Recv(resp)
}

// ReceiveAll reads frames while cont returns true and joins their
// payloads with newlines. A nil cont reads until the peer stops sending.
func (s *Service) ReceiveAll(cont func(msg []byte) bool) (string, error) {
	var parts [][]byte
	for {
		data, ok, err := s.ReceiveMessage()
		if err != nil {
			return string(bytes.Join(parts, []byte("\n"))), err
		}
		if !ok {
			break
		}
		parts = append(parts, data)
		if cont != nil && !cont(data) {
			break
		}
	}
	return string(bytes.Join(parts, []byte("\n"))), nil
}

// Close closes the underlying stream.
func (s *Service) Close() error {
	return s.s.Close()
}
