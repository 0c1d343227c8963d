package delivery

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/asayers/jetrelay/internal/kernel"
	"github.com/asayers/jetrelay/internal/spool"
)

// RunloopTimeoutMillis bounds how long a single SubmitAndWait call may
// block when no client has pending work, so newly registered clients and
// spool growth are noticed at least ten times a second.
const RunloopTimeoutMillis = 100

// Engine is the single-threaded Delivery Engine: it owns every Client and
// the kernel Queue, and is the only goroutine that touches either. Each
// runloop iteration drains newly registered clients, applies the previous
// wait's completions, reads the spool length once, schedules per-client
// Fill/Drain splices, and goes back to waiting under the runloop timeout.
type Engine struct {
	log     *slog.Logger
	q       kernel.Queue
	spool   *spool.Spool
	clients map[uint32]*Client

	incoming chan *Client

	metrics EngineMetrics
}

// EngineMetrics receives counter/gauge updates from the runloop. Defined
// here rather than importing internal/control directly, so the Engine
// stays usable in tests without pulling in a Prometheus registry; server
// wires a *control.Metrics in, which satisfies this interface.
type EngineMetrics interface {
	SetConnectedClients(n int)
	IncFillCompletions()
	IncDrainCompletions()
	IncSpliceErrors()
}

// SetMetrics installs m as the Engine's metrics sink. Must be called, if
// at all, before Run starts. With no metrics sink installed (the default)
// the Engine reports nothing.
func (e *Engine) SetMetrics(m EngineMetrics) {
	e.metrics = m
}

// NewEngine constructs an Engine driving q over sp, with room for
// incomingCapacity clients queued for registration before the runloop
// picks them up.
func NewEngine(log *slog.Logger, q kernel.Queue, sp *spool.Spool, incomingCapacity int) (*Engine, error) {
	if err := q.RegisterFile(int(sp.File().Fd())); err != nil {
		return nil, fmt.Errorf("delivery: registering spool file: %w", err)
	}
	return &Engine{
		log:      log,
		q:        q,
		spool:    sp,
		clients:  make(map[uint32]*Client),
		incoming: make(chan *Client, incomingCapacity),
	}, nil
}

// Register hands a newly accepted Client to the Engine. It never blocks:
// if the incoming channel is full the client is dropped and its caller
// must close it, matching the Acceptor's non-blocking handoff contract.
func (e *Engine) Register(c *Client) bool {
	select {
	case e.incoming <- c:
		return true
	default:
		return false
	}
}

// Run drives the single-threaded runloop until done is closed or the
// kernel Queue returns a fatal error.
func (e *Engine) Run(done <-chan struct{}) error {
	var completions []kernel.Completion
	for {
		select {
		case <-done:
			return nil
		default:
		}

		e.drainIncoming()

		for _, c := range completions {
			e.handleCompletion(c)
		}

		fileLen := e.spool.Len()
		for id, client := range e.clients {
			e.scheduleClient(fileLen, id, client)
		}

		e.q.SubmitTimeout(RunloopTimeoutMillis)
		var err error
		completions, err = e.q.SubmitAndWait()
		if err != nil {
			return fmt.Errorf("delivery: submit_and_wait: %w", err)
		}
	}
}

func (e *Engine) drainIncoming() {
	registered := false
	for {
		select {
		case c := <-e.incoming:
			e.clients[c.ID] = c
			e.log.Info("client registered", "client_id", c.ID)
			registered = true
		default:
			if registered && e.metrics != nil {
				e.metrics.SetConnectedClients(len(e.clients))
			}
			return
		}
	}
}

// scheduleClient issues at most one Fill and one Drain submission for a
// client. A new Fill is only submitted once the previous one completed,
// and likewise for Drain: a slow reader's full socket buffer stalls its
// drain, then its pipe fills and stalls its fill, so no per-client memory
// grows anywhere and no other client is delayed.
func (e *Engine) scheduleClient(fileLen uint64, id uint32, c *Client) {
	if !c.FillInFlight && c.Offset < fileLen {
		n := fileLen - c.Offset
		if n > 1<<31-1 {
			n = 1<<31 - 1
		}
		e.q.SubmitFill(id, c.pipeWriteFd, int64(c.Offset), uint32(n))
		c.FillInFlight = true
	}
	if !c.DrainInFlight && c.BytesInPipe > 0 {
		e.q.SubmitDrain(id, c.pipeReadFd, c.socketFd)
		c.DrainInFlight = true
	}
}

// handleCompletion applies one completion to client state, removing and
// closing the client on a hangup. The asymmetry is deliberate: a Drain
// hangup means the peer closed its socket and removes the client, while a
// Fill hangup implies an earlier Drain hangup already removed it, so there
// is nothing left to do.
func (e *Engine) handleCompletion(comp kernel.Completion) {
	op := comp.Cookie.Op()
	if op == kernel.OpTimeout {
		return
	}
	id := comp.Cookie.ClientID()
	wasFill := op == kernel.OpFill

	if isHangup(comp.Err) {
		if wasFill {
			return
		}
		e.log.Info("socket closed by peer", "client_id", id)
		e.removeClient(id)
		return
	}

	c, ok := e.clients[id]
	if !ok {
		e.log.Warn("completion for unknown client", "client_id", id)
		return
	}
	if comp.Err != nil {
		e.log.Error("splice failed", "client_id", id, "error", comp.Err)
		if e.metrics != nil {
			e.metrics.IncSpliceErrors()
		}
		e.removeClient(id)
		return
	}

	n := uint64(comp.Result)
	if wasFill {
		c.FillInFlight = false
		if n == 0 {
			e.log.Warn("spurious zero-byte fill completion", "client_id", id)
			return
		}
		c.BytesInPipe += n
		c.Offset += n
		if e.metrics != nil {
			e.metrics.IncFillCompletions()
		}
	} else {
		c.DrainInFlight = false
		if n == 0 {
			e.log.Warn("spurious zero-byte drain completion", "client_id", id)
			return
		}
		c.BytesInPipe -= n
		if e.metrics != nil {
			e.metrics.IncDrainCompletions()
		}
	}
}

func (e *Engine) removeClient(id uint32) {
	c, ok := e.clients[id]
	if !ok {
		return
	}
	delete(e.clients, id)
	c.Close()
	if e.metrics != nil {
		e.metrics.SetConnectedClients(len(e.clients))
	}
}

// isHangup reports whether err is one of the errnos that mean the peer is
// gone: EPIPE, ECONNRESET, or EBADF (the fd already closed under us).
func isHangup(err error) bool {
	return errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET) || errors.Is(err, unix.EBADF)
}
