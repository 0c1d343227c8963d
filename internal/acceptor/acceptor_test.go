package acceptor

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/asayers/jetrelay/internal/handshake"
	"github.com/asayers/jetrelay/internal/spool"
	"github.com/asayers/jetrelay/internal/timeindex"
)

func newTestAcceptor(t *testing.T) *Acceptor {
	t.Helper()
	sp, err := spool.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { sp.Close() })
	idx := timeindex.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &Acceptor{log: log, spool: sp, index: idx}
}

func TestResolveOffsetNoCursorUsesSpoolTail(t *testing.T) {
	a := newTestAcceptor(t)
	_, err := a.spool.Append([]byte("12345"))
	require.NoError(t, err)

	off := a.resolveOffset(handshake.ClientConfig{})
	require.EqualValues(t, 5, off)
}

func TestResolveOffsetWithCursorUsesIndex(t *testing.T) {
	a := newTestAcceptor(t)
	a.index.Insert(1000, 10)
	a.index.Insert(2000, 25)

	off := a.resolveOffset(handshake.ClientConfig{HasCursor: true, Cursor: 1500})
	require.EqualValues(t, 25, off)
}

func TestResolveOffsetCursorPastEverythingFallsBackToTail(t *testing.T) {
	a := newTestAcceptor(t)
	_, err := a.spool.Append([]byte("hello"))
	require.NoError(t, err)
	a.index.Insert(1000, 0)

	off := a.resolveOffset(handshake.ClientConfig{HasCursor: true, Cursor: 9999})
	require.EqualValues(t, 5, off)
}
