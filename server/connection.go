package server

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	// readBufferSize bounds a single protocol line. Longer lines are
	// rejected without killing the connection.
	readBufferSize = 4096

	sendQueueSize = 64
	sendTimeout   = 5 * time.Second
	writeTimeout  = 10 * time.Second
)

var (
	errLineTooLong = errors.New("line exceeds read buffer")
	errConnClosed  = errors.New("connection closed")
)

// Connection wraps a client socket. Reads happen only from the owning
// connection goroutine; writes from any goroutine funnel through the out
// channel so frames to one peer are never interleaved.
type Connection struct {
	id      string
	conn    net.Conn
	reader  *bufio.Reader
	limiter *rate.Limiter

	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newConnection(conn net.Conn, chatRate float64, chatBurst int) *Connection {
	if chatRate <= 0 {
		chatRate = 10
	}
	if chatBurst <= 0 {
		chatBurst = 20
	}
	c := &Connection{
		id:      uuid.NewString(),
		conn:    conn,
		reader:  bufio.NewReaderSize(conn, readBufferSize),
		limiter: rate.NewLimiter(rate.Limit(chatRate), chatBurst),
		out:     make(chan []byte, sendQueueSize),
		closed:  make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}

// ReadLine returns the next newline-terminated line, without the
// terminator. An oversized line is drained to its newline and reported
// as errLineTooLong so the caller can answer with a protocol error and
// keep reading.
func (c *Connection) ReadLine() ([]byte, error) {
	line, err := c.reader.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		for err == bufio.ErrBufferFull {
			_, err = c.reader.ReadSlice('\n')
		}
		if err != nil {
			return nil, err
		}
		return nil, errLineTooLong
	}
	if err != nil {
		return nil, err
	}
	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line, nil
}

// Send marshals v and queues it for delivery. It fails when the
// connection is closed or the queue stays full past the send timeout;
// the caller decides whether that failure is fatal for this peer.
func (c *Connection) Send(v any) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to marshal frame")
	}
	data = append(data, '\n')

	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()
	select {
	case c.out <- data:
		return nil
	case <-c.closed:
		return errConnClosed
	case <-timer.C:
		return errors.New("send queue full")
	}
}

func (c *Connection) writeLoop() {
	defer func() { _ = c.conn.Close() }()
	for {
		select {
		case data := <-c.out:
			if !c.writeFrame(data) {
				return
			}
		case <-c.closed:
			// Flush frames queued before the close. A final error notice
			// still reaches the peer this way.
			for {
				select {
				case data := <-c.out:
					if !c.writeFrame(data) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Connection) writeFrame(data []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.conn.Write(data); err != nil {
		c.Close()
		return false
	}
	return true
}

// AllowChat reports whether this connection is within its chat message
// rate limit.
func (c *Connection) AllowChat() bool {
	return c.limiter.Allow()
}

// Close is idempotent. The write loop flushes queued frames and then
// closes the socket, which unblocks the read loop.
func (c *Connection) Close() {
	c.once.Do(func() {
		close(c.closed)
	})
}
