// Package syslog streams the device system log from
// com.apple.syslog_relay.
package syslog

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync/atomic"

	"github.com/apex/log"
	"github.com/blacktop/idevice/pkg/usb/session"
	"github.com/blacktop/idevice/pkg/usb/transport"
)

const ServiceName = "com.apple.syslog_relay"

// Relay reads the log stream of one syslog_relay channel. Every log line
// is terminated by a NUL byte on the wire.
type Relay struct {
	ch     *session.ServiceChannel
	stream transport.Stream
	closed atomic.Bool
}

// Open starts the relay service on sess.
func Open(sess *session.Session) (*Relay, error) {
	ch, err := sess.StartService(ServiceName)
	if err != nil {
		return nil, err
	}
	st, err := ch.Stream()
	if err != nil {
		ch.Close()
		return nil, err
	}
	return &Relay{ch: ch, stream: st}, nil
}

// NewRelay reads from an already open stream.
func NewRelay(st transport.Stream) *Relay {
	return &Relay{stream: st}
}

func (r *Relay) run(sink func([]byte) error) error {
	err := transport.ReadAll(r.stream, sink)
	if r.ch != nil {
		// ReadAll closed the stream already
		r.ch.Close()
	}
	if r.closed.Load() && (errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)) {
		return nil
	}
	return err
}

// Copy writes the log to w with the NUL terminators removed until the
// device stops sending or Close is called.
func (r *Relay) Copy(w io.Writer) error {
	return r.run(func(chunk []byte) error {
		_, err := w.Write(bytes.ReplaceAll(chunk, []byte{0}, nil))
		return err
	})
}

// Lines calls fn with every complete log line, without its newline.
func (r *Relay) Lines(fn func(line string) error) error {
	var pending []byte
	emit := func(b []byte) error {
		b = bytes.TrimRight(b, "\n")
		if len(b) == 0 {
			return nil
		}
		return fn(string(b))
	}
	err := r.run(func(chunk []byte) error {
		pending = append(pending, chunk...)
		for {
			i := bytes.IndexByte(pending, 0)
			if i < 0 {
				return nil
			}
			if err := emit(pending[:i]); err != nil {
				return err
			}
			pending = pending[i+1:]
		}
	})
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		log.WithField("bytes", len(pending)).Debug("Flushing unterminated syslog line")
		return emit(pending)
	}
	return nil
}

// Close stops a running Copy or Lines. It only closes the stream, so it
// may be called from another goroutine; the channel is released by the
// reader.
func (r *Relay) Close() error {
	r.closed.Store(true)
	return r.stream.Close()
}
