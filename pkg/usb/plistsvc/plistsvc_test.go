package plistsvc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"testing/iotest"

	"github.com/blacktop/go-plist"
	"github.com/blacktop/idevice/pkg/usb/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stream replays canned bytes through r and records writes.
type stream struct {
	r      io.Reader
	writes [][]byte
	closed bool
}

func (s *stream) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *stream) Write(p []byte) (int, error) {
	s.writes = append(s.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (s *stream) Close() error {
	s.closed = true
	return nil
}

func frame(payload []byte) []byte {
	b := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(b, uint32(len(payload)))
	copy(b[4:], payload)
	return b
}

type request struct {
	Request string
	Label   string
}

func TestRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	client := New(transport.NewConnStream(a))
	server := New(transport.NewConnStream(b), WithFormat(plist.BinaryFormat))
	defer client.Close()
	defer server.Close()

	go func() {
		var req request
		if err := server.Recv(&req); err != nil {
			return
		}
		_ = server.SendMessage(map[string]any{"Request": req.Request, "Result": "Success"})
	}()

	var resp map[string]any
	require.NoError(t, client.Request(&request{Request: "QueryType", Label: "idevice"}, &resp))
	assert.Equal(t, "QueryType", resp["Request"])
	assert.Equal(t, "Success", resp["Result"])
}

func TestSendMessage_SingleWrite(t *testing.T) {
	s := &stream{r: bytes.NewReader(nil)}
	svc := New(s)
	require.NoError(t, svc.SendMessage(map[string]string{"Request": "GetValue"}))

	require.Len(t, s.writes, 1)
	w := s.writes[0]
	size := binary.BigEndian.Uint32(w[:4])
	assert.Equal(t, int(size), len(w)-4)

	var got map[string]string
	_, err := plist.Unmarshal(w[4:], &got)
	require.NoError(t, err)
	assert.Equal(t, "GetValue", got["Request"])
}

func TestReceiveMessage_PartialReads(t *testing.T) {
	payload, err := plist.Marshal(map[string]string{"Status": "Complete"}, plist.XMLFormat)
	require.NoError(t, err)

	s := &stream{r: iotest.OneByteReader(bytes.NewReader(frame(payload)))}
	got, ok, err := New(s).ReceiveMessage()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload, got)
}

func TestReceiveMessage_ShortHeader(t *testing.T) {
	for _, in := range [][]byte{nil, {0x00}, {0x00, 0x00, 0x01}} {
		s := &stream{r: bytes.NewReader(in)}
		got, ok, err := New(s).ReceiveMessage()
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, got)
	}
}

func TestReceiveMessage_ZeroLength(t *testing.T) {
	s := &stream{r: bytes.NewReader(frame(nil))}
	svc := New(s)
	got, ok, err := svc.ReceiveMessage()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestReceiveMessage_Truncated(t *testing.T) {
	// header announces 10 bytes, only 3 arrive
	in := append([]byte{0, 0, 0, 10}, 'a', 'b', 'c')
	s := &stream{r: bytes.NewReader(in)}
	svc := New(s)

	_, ok, err := svc.ReceiveMessage()
	assert.False(t, ok)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnableToReadReply)

	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 10, perr.Want)
	assert.Equal(t, 3, perr.Got)

	// the channel stays unusable
	_, _, err = svc.ReceiveMessage()
	assert.ErrorIs(t, err, ErrUnableToReadReply)
	assert.ErrorIs(t, svc.SendMessage("x"), ErrUnableToReadReply)
}

func TestRecv(t *testing.T) {
	s := &stream{r: bytes.NewReader(nil)}
	var v map[string]any
	assert.ErrorIs(t, New(s).Recv(&v), io.EOF)

	s = &stream{r: bytes.NewReader(frame([]byte("not a plist <<<")))}
	err := New(s).Recv(&v)
	var perr *ProtocolError
	assert.True(t, errors.As(err, &perr))
}

func TestReceiveAll(t *testing.T) {
	var in []byte
	for _, line := range []string{"one", "two", "three"} {
		in = append(in, frame([]byte(line))...)
	}

	s := &stream{r: bytes.NewReader(in)}
	got, err := New(s).ReceiveAll(nil)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree", got)

	s = &stream{r: bytes.NewReader(in)}
	got, err = New(s).ReceiveAll(func(msg []byte) bool { return string(msg) != "two" })
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo", got)
}

func TestRecv_MalformedBreaksService(t *testing.T) {
	bad := []byte(`<?xml version="1.0" encoding="UTF-8"?><plist version="1.0"><dict><key>a</key>`)
	good := []byte(`<?xml version="1.0" encoding="UTF-8"?><plist version="1.0"><string>x</string></plist>`)
	s := &stream{r: bytes.NewReader(append(frame(bad), frame(good)...))}
	svc := New(s)

	var v any
	err := svc.Recv(&v)
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))

	// the next frame is never read
	var str string
	assert.ErrorIs(t, svc.Recv(&str), perr)
	assert.Empty(t, str)
	_, ok, err := svc.ReceiveMessage()
	assert.False(t, ok)
	assert.ErrorIs(t, err, perr)
	assert.ErrorIs(t, svc.SendMessage("x"), perr)
	assert.Empty(t, s.writes)
}

func TestReceiveMessage_OversizedFrame(t *testing.T) {
	s := &stream{r: bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff, 'a'})}
	svc := New(s)

	_, ok, err := svc.ReceiveMessage()
	assert.False(t, ok)
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, err.Error(), "exceeds")

	assert.ErrorIs(t, svc.SendMessage("x"), perr)
}
