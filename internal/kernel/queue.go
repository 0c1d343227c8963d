// Package kernel abstracts the asynchronous I/O interface the Delivery
// Engine drives: spool-file registration, Fill/Drain splice submission,
// a runloop timeout, and non-blocking completion draining.
//
// Two Linux implementations exist: the default epoll-driven one
// (epoll_linux.go) and an opt-in real io_uring one (iouring_linux.go,
// build tag io_uring). Both satisfy the same Queue interface so the
// Delivery Engine is agnostic to which backend it runs against.
package kernel

import "errors"

// ErrUnsupportedPlatform is returned by the non-Linux stub; splice-based
// zero-copy delivery has no portable equivalent.
var ErrUnsupportedPlatform = errors.New("kernel: splice-based delivery is only supported on linux")

// OpKind identifies what a Cookie's submission was for.
type OpKind uint32

const (
	OpTimeout OpKind = iota
	OpFill
	OpDrain
)

// Cookie packs an OpKind and a client id into a single submission-queue
// user-data value: high 32 bits are the op kind, low 32 bits the client
// id. Client ids are never reused within a process, so a completion that
// arrives after its client was removed is unambiguous.
type Cookie uint64

// MakeCookie builds a Cookie for the given op and client id. clientID is
// ignored for OpTimeout.
func MakeCookie(op OpKind, clientID uint32) Cookie {
	return Cookie(uint64(op)<<32 | uint64(clientID))
}

// Op returns the cookie's operation kind.
func (c Cookie) Op() OpKind {
	return OpKind(uint64(c) >> 32)
}

// ClientID returns the cookie's client id. Meaningless for OpTimeout.
func (c Cookie) ClientID() uint32 {
	return uint32(c)
}

// Completion is one finished submission. Exactly one of Result and Err is
// meaningful: Result is the byte count of a successful transfer, Err the
// errno of a failed one.
type Completion struct {
	Cookie Cookie
	Result int32
	Err    error
}

// Queue is the asynchronous I/O interface the Delivery Engine drives once
// per runloop iteration.
type Queue interface {
	// RegisterFile records the spool's file descriptor as the splice
	// source for every Fill submission. Neither backend registers it with
	// the kernel as a fixed file; Fill splices use the raw descriptor.
	RegisterFile(fd int) error

	// SubmitFill schedules a splice from the registered spool file (at
	// offset) into pipeWriteFd, transferring up to length bytes.
	SubmitFill(clientID uint32, pipeWriteFd int, offset int64, length uint32)

	// SubmitDrain schedules a splice from pipeReadFd into socketFd,
	// transferring as many bytes as are available.
	SubmitDrain(clientID uint32, pipeReadFd, socketFd int)

	// SubmitTimeout schedules a runloop wakeup after timeoutMillis,
	// bounding how long SubmitAndWait can block when no client has
	// pending work.
	SubmitTimeout(timeoutMillis int)

	// SubmitAndWait flushes every queued submission and blocks until at
	// least one completes (or the timeout submitted via SubmitTimeout
	// fires), returning every completion observed.
	SubmitAndWait() ([]Completion, error)

	// Close releases the queue's kernel resources.
	Close() error
}
