//go:build !linux

package kernel

// stubQueue satisfies Queue on platforms without splice/epoll:
// RegisterFile and SubmitAndWait fail with ErrUnsupportedPlatform, the
// Submit* methods do nothing, and Close succeeds.
type stubQueue struct{}

// NewQueue returns a Queue stub. Splice-based zero-copy delivery has no
// portable implementation, so on non-Linux platforms NewQueue succeeds but
// RegisterFile and SubmitAndWait fail.
func NewQueue() (Queue, error) {
	return &stubQueue{}, nil
}

func (stubQueue) RegisterFile(fd int) error { return ErrUnsupportedPlatform }

func (stubQueue) SubmitFill(clientID uint32, pipeWriteFd int, offset int64, length uint32) {}

func (stubQueue) SubmitDrain(clientID uint32, pipeReadFd, socketFd int) {}

func (stubQueue) SubmitTimeout(timeoutMillis int) {}

func (stubQueue) SubmitAndWait() ([]Completion, error) { return nil, ErrUnsupportedPlatform }

func (stubQueue) Close() error { return nil }
