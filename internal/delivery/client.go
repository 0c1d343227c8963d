// Package delivery implements the single-threaded Delivery Engine: the
// kernel-driven, zero-copy spool→pipe→socket fan-out loop.
package delivery

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// closeFrame is the raw websocket Close frame (opcode 0x8, status 1000)
// written best-effort to a client when it's removed from the engine.
var closeFrame = []byte{0x88, 0x02, 0x03, 0xE8}

// Client is one connected subscriber's delivery state: its socket, its
// intermediate splice pipe, and the bookkeeping the engine needs to decide
// what to schedule next. Owned exclusively by the Engine goroutine, never
// touched concurrently, so it carries no locking of its own.
type Client struct {
	ID uint32

	conn       *net.TCPConn
	socketFile *os.File
	socketFd   int

	pipeReadFd  int
	pipeWriteFd int

	Offset        uint64
	BytesInPipe   uint64
	FillInFlight  bool
	DrainInFlight bool
}

// NewClient wraps an already-upgraded TCP connection with a fresh splice
// pipe and the given starting replay offset.
func NewClient(id uint32, conn *net.TCPConn, offset uint64) (*Client, error) {
	socketFile, err := conn.File()
	if err != nil {
		return nil, err
	}
	socketFd := int(socketFile.Fd())
	if err := unix.SetNonblock(socketFd, true); err != nil {
		socketFile.Close()
		return nil, err
	}

	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK); err != nil {
		socketFile.Close()
		return nil, err
	}

	return &Client{
		ID:          id,
		conn:        conn,
		socketFile:  socketFile,
		socketFd:    socketFd,
		pipeReadFd:  fds[0],
		pipeWriteFd: fds[1],
		Offset:      offset,
	}, nil
}

// Close sends the close frame, shuts down the socket, and releases the
// pipe and duplicated socket file descriptors. The close-frame write stays
// non-blocking: a client removed with a full socket buffer must not stall
// the engine for the sake of a courtesy frame.
func (c *Client) Close() {
	unix.Write(c.socketFd, closeFrame)
	c.conn.Close()
	c.socketFile.Close()
	unix.Close(c.pipeReadFd)
	unix.Close(c.pipeWriteFd)
}
