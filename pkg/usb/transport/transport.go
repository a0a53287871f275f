// Package transport provides byte streams over device service sockets.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

// ChunkSize is the read size used by ReadAll.
const ChunkSize = 1024

// Stream is a bidirectional byte stream to a device service.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// ConnectionError reports a failed socket operation with its native status.
type ConnectionError struct {
	Op     string
	Status int
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s failed with status %d", e.Op, e.Status)
}

// ReadN reads exactly n bytes unless the peer stops sending. A read that
// yields no data ends the loop; the bytes received so far are returned
// together with io.ErrUnexpectedEOF (or io.EOF when nothing arrived).
func ReadN(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for got < n {
		m, err := r.Read(buf[got:])
		got += m
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return buf[:got], err
		}
		if m == 0 {
			break
		}
	}
	switch {
	case got == n:
		return buf, nil
	case got == 0:
		return nil, io.EOF
	default:
		return buf[:got], io.ErrUnexpectedEOF
	}
}

// ReadAll copies the stream to sink in ChunkSize reads until no more data
// arrives, then closes the stream.
func ReadAll(s Stream, sink func([]byte) error) (err error) {
	defer func() {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}()
	buf := make([]byte, ChunkSize)
	for {
		n, rerr := s.Read(buf)
		if n > 0 {
			if err := sink(buf[:n]); err != nil {
				return err
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return rerr
		}
		if n == 0 {
			return nil
		}
	}
}

type connStream struct {
	net.Conn
	once sync.Once
	err  error
}

// NewConnStream wraps a net.Conn. Close is idempotent.
func NewConnStream(c net.Conn) Stream {
	return &connStream{Conn: c}
}

func (s *connStream) Close() error {
	s.once.Do(func() {
		s.err = s.Conn.Close()
	})
	return s.err
}
