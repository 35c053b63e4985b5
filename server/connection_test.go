package server

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnectionReadLine(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	c := newConnection(serverSide, 100, 100)
	t.Cleanup(func() {
		c.Close()
		_ = clientSide.Close()
	})

	go func() {
		_, _ = clientSide.Write([]byte("hello\n"))
		_, _ = clientSide.Write([]byte("crlf line\r\n"))
		_, _ = clientSide.Write([]byte("\n"))
	}()

	line, err := c.ReadLine()
	require.NoError(t, err)
	require.Equal(t, "hello", string(line))

	line, err = c.ReadLine()
	require.NoError(t, err)
	require.Equal(t, "crlf line", string(line), "CR must be stripped")

	line, err = c.ReadLine()
	require.NoError(t, err)
	require.Empty(t, line)
}

// TestConnectionReadLineOversized sends a line past the read buffer and
// checks the connection survives: the long line errors, the next one
// reads clean.
func TestConnectionReadLineOversized(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	c := newConnection(serverSide, 100, 100)
	t.Cleanup(func() {
		c.Close()
		_ = clientSide.Close()
	})

	go func() {
		_, _ = clientSide.Write([]byte(strings.Repeat("x", readBufferSize+500) + "\n"))
		_, _ = clientSide.Write([]byte("short\n"))
	}()

	_, err := c.ReadLine()
	require.ErrorIs(t, err, errLineTooLong)

	line, err := c.ReadLine()
	require.NoError(t, err)
	require.Equal(t, "short", string(line))
}

func TestConnectionSendAfterClose(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	c := newConnection(serverSide, 100, 100)
	t.Cleanup(func() { _ = clientSide.Close() })

	c.Close()
	c.Close() // idempotent

	err := c.Send(map[string]string{"message_type": "x"})
	require.ErrorIs(t, err, errConnClosed)
}

// TestConnectionFlushOnClose queues a frame and closes immediately; the
// peer must still receive it before EOF.
func TestConnectionFlushOnClose(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	c := newConnection(serverSide, 100, 100)
	t.Cleanup(func() { _ = clientSide.Close() })

	require.NoError(t, c.Send(map[string]string{"message_type": "farewell"}))
	c.Close()

	require.NoError(t, clientSide.SetReadDeadline(time.Now().Add(3*time.Second)))
	buf := make([]byte, 256)
	n, err := clientSide.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "farewell")
}

func TestConnectionChatRateLimit(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	c := newConnection(serverSide, 1, 2)
	t.Cleanup(func() {
		c.Close()
		_ = clientSide.Close()
	})

	require.True(t, c.AllowChat())
	require.True(t, c.AllowChat())
	// Burst spent; at 1/s the third message inside the same instant is
	// rejected.
	require.False(t, c.AllowChat())
}
