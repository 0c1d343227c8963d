//go:build linux

package spool

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// PunchHole deallocates the byte range [0, end) of the spool file while
// preserving its logical length (FALLOC_FL_PUNCH_HOLE|FALLOC_FL_KEEP_SIZE):
// subsequent reads in that range return zero bytes, and offsets at or past
// end are unaffected, so already-handed-out offsets stay valid forever.
func (s *Spool) PunchHole(end int64) error {
	if end <= 0 {
		return nil
	}
	mode := unix.FALLOC_FL_PUNCH_HOLE | unix.FALLOC_FL_KEEP_SIZE
	if err := unix.Fallocate(int(s.file.Fd()), uint32(mode), 0, end); err != nil {
		if err == unix.EOPNOTSUPP {
			return ErrHolePunchUnsupported
		}
		return fmt.Errorf("spool: fallocate punch hole: %w", err)
	}
	return nil
}
