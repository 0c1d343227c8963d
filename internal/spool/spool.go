// Package spool implements the append-only spool file that holds every raw
// websocket frame received from upstream, in arrival order.
//
// The spool is opened once with create-new semantics (it must not already
// exist) and is append-only thereafter: bytes never move, and the logical
// length only ever grows. The length is published with a release store after
// each append and read with an acquire load by the Delivery Engine, forming
// the happens-before edge the splice path relies on.
package spool

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
)

// FileName is the spool's fixed name inside RUNTIME_DIRECTORY.
const FileName = "jetrelay.dat"

// ErrHolePunchUnsupported is returned by PunchHole when the underlying
// filesystem does not support range deallocation (EOPNOTSUPP).
var ErrHolePunchUnsupported = errors.New("spool: hole punch not supported by filesystem")

// Spool is the single append-only file shared between the Upstream Copier
// (sole writer) and the Delivery Engine (reader, via the kernel).
type Spool struct {
	file   *os.File
	length atomic.Uint64
}

// Open creates a new spool file under dir. It fails if the file already
// exists: a leftover spool from a previous run would make already-punched
// offsets ambiguous.
func Open(dir string) (*Spool, error) {
	path := dir + string(os.PathSeparator) + FileName
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("spool: create %s: %w", path, err)
	}
	return &Spool{file: f}, nil
}

// File returns the underlying *os.File, for fixed-file registration with the
// kernel I/O queue (internal/kernel) and for fallocate-based hole punching.
func (s *Spool) File() *os.File { return s.file }

// Len returns the current spool length with acquire semantics.
func (s *Spool) Len() uint64 { return s.length.Load() }

// Append writes frame to the end of the spool, then publishes the new
// length with release semantics. It returns the offset the frame was
// written at (the length prior to this append). Writes go straight to the
// kernel; the spool does not survive restarts, so no fsync is needed.
//
// Append is safe to call from one goroutine only: the Upstream Copier is the
// spool's sole writer.
func (s *Spool) Append(frame []byte) (offset uint64, err error) {
	offset = s.length.Load()
	n, err := s.file.Write(frame)
	if err != nil {
		return 0, fmt.Errorf("spool: write: %w", err)
	}
	s.length.Store(offset + uint64(n))
	return offset, nil
}

// Close releases the underlying file descriptor.
func (s *Spool) Close() error {
	return s.file.Close()
}
