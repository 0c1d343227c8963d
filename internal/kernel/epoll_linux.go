//go:build linux && !io_uring

package kernel

import (
	"fmt"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"
)

// epollQueue implements Queue with splice(2) driven by epoll readiness.
// It has no true submission queue of its own: SubmitFill/SubmitDrain push
// pending work onto a FIFO, and SubmitAndWait attempts each entry with a
// non-blocking splice. An entry that would block is parked behind a
// one-shot epoll watch on its output fd and retried on a later call.
//
// The queue is touched only by the Delivery Engine goroutine, so the FIFO
// needs no locking.
type epollQueue struct {
	epfd      int
	spoolFd   int
	pending   *queue.Queue // of pendingOp
	watching  map[int]bool
	timeoutMs int
}

type pendingOp struct {
	cookie Cookie
	kind   OpKind
	fdIn   int
	fdOut  int
	offset int64
	length uint32
}

// NewQueue returns the default Linux Queue implementation.
func NewQueue() (Queue, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("kernel: epoll_create1: %w", err)
	}
	return &epollQueue{
		epfd:      epfd,
		pending:   queue.New(),
		watching:  make(map[int]bool),
		timeoutMs: -1,
	}, nil
}

func (q *epollQueue) RegisterFile(fd int) error {
	q.spoolFd = fd
	return nil
}

func (q *epollQueue) SubmitFill(clientID uint32, pipeWriteFd int, offset int64, length uint32) {
	q.pending.Add(pendingOp{
		cookie: MakeCookie(OpFill, clientID),
		kind:   OpFill,
		fdIn:   q.spoolFd,
		fdOut:  pipeWriteFd,
		offset: offset,
		length: length,
	})
}

func (q *epollQueue) SubmitDrain(clientID uint32, pipeReadFd, socketFd int) {
	q.pending.Add(pendingOp{
		cookie: MakeCookie(OpDrain, clientID),
		kind:   OpDrain,
		fdIn:   pipeReadFd,
		fdOut:  socketFd,
		length: 1 << 30, // as much as is available; splice caps this itself
	})
}

func (q *epollQueue) SubmitTimeout(timeoutMillis int) {
	q.timeoutMs = timeoutMillis
}

// SubmitAndWait attempts every pending splice immediately: the spool file
// is always readable and pipes/sockets are non-blocking, so each splice
// either completes, fails outright, or returns EAGAIN and is deferred
// behind an epoll watch. If nothing completed synchronously, it blocks on
// epoll until a deferred fd becomes ready or the runloop timeout elapses.
func (q *epollQueue) SubmitAndWait() ([]Completion, error) {
	var completions []Completion
	var deferred []pendingOp

	for q.pending.Length() > 0 {
		op := q.pending.Remove().(pendingOp)
		n, err := unix.Splice(op.fdIn, offsetPtr(op), op.fdOut, nil, int(op.length), unix.SPLICE_F_NONBLOCK|unix.SPLICE_F_MOVE)
		switch {
		case err == unix.EAGAIN:
			if werr := q.watch(op.fdOut); werr != nil {
				completions = append(completions, Completion{Cookie: op.cookie, Err: werr})
				continue
			}
			deferred = append(deferred, op)
		case err != nil:
			completions = append(completions, Completion{Cookie: op.cookie, Err: err})
		default:
			completions = append(completions, Completion{Cookie: op.cookie, Result: int32(n)})
		}
	}
	for _, op := range deferred {
		q.pending.Add(op)
	}

	if len(completions) > 0 {
		return completions, nil
	}

	var events [64]unix.EpollEvent
	if _, err := unix.EpollWait(q.epfd, events[:], q.timeoutMs); err != nil && err != unix.EINTR {
		return nil, fmt.Errorf("kernel: epoll_wait: %w", err)
	}
	return nil, nil
}

// watch arms a one-shot EPOLLOUT watch on fd. One-shot keeps an fd that is
// writable again from waking every later epoll_wait; the next EAGAIN for
// the same fd re-arms it with a MOD. Errno returns (fd closed under us)
// propagate to the caller as the op's completion error.
func (q *epollQueue) watch(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLOUT | unix.EPOLLONESHOT, Fd: int32(fd)}
	ctl := unix.EPOLL_CTL_ADD
	if q.watching[fd] {
		ctl = unix.EPOLL_CTL_MOD
	}
	err := unix.EpollCtl(q.epfd, ctl, fd, &ev)
	switch err {
	case unix.EEXIST:
		err = unix.EpollCtl(q.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	case unix.ENOENT:
		// A closed fd drops out of the epoll set; its number may since
		// have been reused by a new client.
		err = unix.EpollCtl(q.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	}
	if err != nil {
		delete(q.watching, fd)
		return err
	}
	q.watching[fd] = true
	return nil
}

func (q *epollQueue) Close() error {
	return unix.Close(q.epfd)
}

// offsetPtr returns the *int64 unix.Splice expects for the file side of a
// splice (nil for a pipe endpoint, which has no offset).
func offsetPtr(op pendingOp) *int64 {
	if op.kind != OpFill {
		return nil
	}
	off := op.offset
	return &off
}
