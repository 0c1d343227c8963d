//go:build !linux

package spool

// PunchHole is a no-op stub on platforms without fallocate-style range
// deallocation. Callers treat ErrHolePunchUnsupported as a signal to log and
// continue without retention.
func (s *Spool) PunchHole(end int64) error {
	return ErrHolePunchUnsupported
}
