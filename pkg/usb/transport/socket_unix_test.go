//go:build !windows

package transport

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestFromSocket(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	s, err := FromSocket(fds[0])
	require.NoError(t, err)
	defer s.Close()

	peer := os.NewFile(uintptr(fds[1]), "peer")
	defer peer.Close()

	_, err = peer.Write([]byte("hello"))
	require.NoError(t, err)
	got, err := ReadN(s, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	_, err = s.Write([]byte("world"))
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = peer.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf))
}
