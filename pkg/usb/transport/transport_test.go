package transport

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadN_PartialReads(t *testing.T) {
	data := []byte("0123456789abcdef")
	for name, r := range map[string]io.Reader{
		"one byte": iotest.OneByteReader(bytes.NewReader(data)),
		"half":     iotest.HalfReader(bytes.NewReader(data)),
		"data err": iotest.DataErrReader(bytes.NewReader(data)),
	} {
		t.Run(name, func(t *testing.T) {
			got, err := ReadN(r, len(data))
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestReadN_Short(t *testing.T) {
	got, err := ReadN(strings.NewReader("abc"), 10)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, []byte("abc"), got)

	got, err = ReadN(strings.NewReader(""), 4)
	assert.ErrorIs(t, err, io.EOF)
	assert.Empty(t, got)
}

func TestReadN_Error(t *testing.T) {
	boom := errors.New("boom")
	_, err := ReadN(iotest.ErrReader(boom), 4)
	assert.ErrorIs(t, err, boom)
}

type memStream struct {
	io.Reader
	closed int
}

func (m *memStream) Write(p []byte) (int, error) { return len(p), nil }

func (m *memStream) Close() error {
	m.closed++
	return nil
}

func TestReadAll(t *testing.T) {
	payload := bytes.Repeat([]byte("syslog line\n"), 300)
	s := &memStream{Reader: bytes.NewReader(payload)}

	var got bytes.Buffer
	var chunks int
	err := ReadAll(s, func(b []byte) error {
		chunks++
		assert.LessOrEqual(t, len(b), ChunkSize)
		got.Write(b)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, payload, got.Bytes())
	assert.Equal(t, (len(payload)+ChunkSize-1)/ChunkSize, chunks)
	assert.Equal(t, 1, s.closed)
}

func TestReadAll_SinkError(t *testing.T) {
	s := &memStream{Reader: strings.NewReader("data")}
	stop := errors.New("stop")
	err := ReadAll(s, func([]byte) error { return stop })
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, s.closed)
}

func TestConnStream(t *testing.T) {
	a, b := net.Pipe()
	s := NewConnStream(a)

	go func() {
		_, _ = b.Write([]byte("ping"))
		_ = b.Close()
	}()

	got, err := ReadN(s, 4)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
