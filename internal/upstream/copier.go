package upstream

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/asayers/jetrelay/internal/bufpool"
	"github.com/asayers/jetrelay/internal/spool"
	"github.com/asayers/jetrelay/internal/timeindex"
	"github.com/asayers/jetrelay/internal/wsframe"
)

// MinRetention and MaxRetention bound how much history the spool keeps. A
// trim only fires once the retained span exceeds MaxRetention and then cuts
// back to MinRetention, so hole punching runs in a small number of large
// calls rather than once per frame.
const (
	MinRetention = 60 * time.Second
	MaxRetention = 120 * time.Second
)

const (
	minRetentionMicros = uint64(MinRetention / time.Microsecond)
	maxRetentionMicros = uint64(MaxRetention / time.Microsecond)
)

// ErrClosedByUpstream is returned when the upstream sends a Close frame.
// There is no redundant upstream, so callers treat it as fatal.
var ErrClosedByUpstream = errors.New("upstream: connection closed by peer")

// Copier reads frames from a Conn, persists them to a Spool, and maintains
// the time index and retention GC over that spool. It is the sole writer of
// both the spool and the index.
type Copier struct {
	log   *slog.Logger
	spool *spool.Spool
	index *timeindex.Index
	bufs  *bufpool.Pool

	metrics CopierMetrics
}

// CopierMetrics receives counter updates from retention GC. Defined here
// rather than importing internal/control directly, mirroring
// delivery.EngineMetrics; server wires a *control.Metrics in.
type CopierMetrics interface {
	IncRetentionTrims()
	IncHolePunchFailures()
}

// SetMetrics installs m as the Copier's metrics sink.
func (c *Copier) SetMetrics(m CopierMetrics) {
	c.metrics = m
}

// NewCopier constructs a Copier writing into sp and indexing into idx.
func NewCopier(log *slog.Logger, sp *spool.Spool, idx *timeindex.Index) *Copier {
	return &Copier{
		log:   log,
		spool: sp,
		index: idx,
		bufs:  bufpool.New(bufpool.DefaultSize),
	}
}

// Run reads frames from conn until it errs or the connection is closed by
// the peer, appending each valid Text frame to the spool. It never returns
// nil: any return is fatal to the relay.
func (c *Copier) Run(conn *Conn) error {
	c.log.Info("copying data from upstream")
	buf := c.bufs.Get()
	defer func() { c.bufs.Put(buf) }()
	n := 0

	for {
		frame, consumed, err := wsframe.Decode(buf[:n])
		if errors.Is(err, wsframe.ErrIncompleteFrame) {
			if n == len(buf) {
				grown := make([]byte, len(buf)*2)
				copy(grown, buf[:n])
				buf = grown
			}
			m, err := conn.Reader.Read(buf[n:])
			if err != nil {
				return fmt.Errorf("upstream: reading from socket: %w", err)
			}
			n += m
			continue
		}
		if err != nil {
			return fmt.Errorf("upstream: decoding frame: %w", err)
		}

		if err := c.handleFrame(frame); err != nil {
			if errors.Is(err, ErrClosedByUpstream) {
				return err
			}
			return fmt.Errorf("upstream: handling frame: %w", err)
		}

		copy(buf, buf[consumed:n])
		n -= consumed
	}
}

// handleFrame validates and, for Text frames, persists a single frame.
// Protocol violations (reserved bits, masking, unexpected opcodes) skip the
// frame without advancing any spool or index state; only a Close frame and
// spool I/O failures are fatal.
func (c *Copier) handleFrame(f *wsframe.Frame) error {
	if f.ReservedBits() != 0 {
		c.log.Warn("skipping frame with non-zero reserved bits")
		return nil
	}
	if f.Masked {
		c.log.Warn("skipping unexpectedly masked frame")
		return nil
	}

	switch f.Opcode {
	case wsframe.OpcodePing, wsframe.OpcodePong:
		return nil
	case wsframe.OpcodeClose:
		return ErrClosedByUpstream
	case wsframe.OpcodeText:
		return c.persist(f)
	default:
		c.log.Warn("skipping non-text upstream frame", "opcode", f.Opcode)
		return nil
	}
}

// persist appends a validated text frame's raw bytes to the spool, records
// its timestamp in the index, and runs retention GC if due. Frames without
// a numeric time_us field are skipped entirely: an unindexable frame would
// be unreachable by any cursor and would still stall retention math.
func (c *Copier) persist(f *wsframe.Frame) error {
	ts, ok := wsframe.TimeMicros(f.Payload())
	if !ok {
		c.log.Warn("skipping frame without a numeric time_us field")
		return nil
	}

	offset, err := c.spool.Append(f.Raw)
	if err != nil {
		return fmt.Errorf("appending to spool: %w", err)
	}
	c.index.Insert(ts, offset)
	c.maybeTrim(ts)
	return nil
}

// maybeTrim trims the spool once the retained timestamp span exceeds
// MaxRetention, cutting back to MinRetention: index entries older than
// newest-MinRetention are removed and the spool prefix they covered is
// hole-punched. The gap between the two thresholds amortises punch cost.
func (c *Copier) maybeTrim(newest uint64) {
	oldest, ok := c.index.OldestTimestamp()
	if !ok || newest < oldest || newest-oldest <= maxRetentionMicros {
		return
	}
	cutoff := newest - minRetentionMicros

	offset, removed := c.index.TrimBefore(cutoff)
	if !removed {
		return
	}
	if c.metrics != nil {
		c.metrics.IncRetentionTrims()
	}
	c.log.Debug("trimmed time index", "cutoff_us", cutoff, "punch_end", offset)

	if err := c.spool.PunchHole(int64(offset)); err != nil {
		if c.metrics != nil {
			c.metrics.IncHolePunchFailures()
		}
		if errors.Is(err, spool.ErrHolePunchUnsupported) {
			c.log.Warn("hole punching unsupported on this platform; spool will grow without bound")
			return
		}
		c.log.Error("hole punch failed", "error", err)
	}
}
