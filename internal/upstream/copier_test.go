package upstream

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/asayers/jetrelay/internal/spool"
	"github.com/asayers/jetrelay/internal/timeindex"
	"github.com/asayers/jetrelay/internal/wsframe"
)

func newTestCopier(t *testing.T) *Copier {
	t.Helper()
	sp, err := spool.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { sp.Close() })
	idx := timeindex.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCopier(log, sp, idx)
}

func textFrame(t *testing.T, payload string) *wsframe.Frame {
	t.Helper()
	raw := []byte{0x81, byte(len(payload))}
	raw = append(raw, payload...)
	f, _, err := wsframe.Decode(raw)
	require.NoError(t, err)
	return f
}

func TestHandleFramePersistsTextFrame(t *testing.T) {
	c := newTestCopier(t)
	f := textFrame(t, `{"time_us":1000}`)

	require.NoError(t, c.handleFrame(f))
	require.EqualValues(t, len(f.Raw), c.spool.Len())

	off, ok := c.index.FirstOffsetAtOrAfter(1000)
	require.True(t, ok)
	require.EqualValues(t, 0, off)
}

func TestHandleFrameSkipsMaskedFrame(t *testing.T) {
	c := newTestCopier(t)
	raw := []byte{0x81, 0x80 | 5, 0, 0, 0, 0, 'h', 'e', 'l', 'l', 'o'}
	f, _, err := wsframe.Decode(raw)
	require.NoError(t, err)

	require.NoError(t, c.handleFrame(f))
	require.EqualValues(t, 0, c.spool.Len(), "a masked frame must not advance any state")
}

func TestHandleFrameSkipsReservedBits(t *testing.T) {
	c := newTestCopier(t)
	raw := []byte{0x81 | 0x40, 5, 'h', 'e', 'l', 'l', 'o'}
	f, _, err := wsframe.Decode(raw)
	require.NoError(t, err)

	require.NoError(t, c.handleFrame(f))
	require.EqualValues(t, 0, c.spool.Len())
}

func TestHandleFrameSkipsMissingTimeUs(t *testing.T) {
	c := newTestCopier(t)
	f := textFrame(t, `{"kind":"commit"}`)

	require.NoError(t, c.handleFrame(f))
	require.EqualValues(t, 0, c.spool.Len())
	require.Equal(t, 0, c.index.Len())
}

func TestHandleFramePingIsIgnored(t *testing.T) {
	c := newTestCopier(t)
	raw := []byte{0x80 | byte(wsframe.OpcodePing), 0}
	f, _, err := wsframe.Decode(raw)
	require.NoError(t, err)

	require.NoError(t, c.handleFrame(f))
	require.EqualValues(t, 0, c.spool.Len())
}

func TestHandleFrameCloseReturnsSentinel(t *testing.T) {
	c := newTestCopier(t)
	raw := []byte{0x80 | byte(wsframe.OpcodeClose), 0}
	f, _, err := wsframe.Decode(raw)
	require.NoError(t, err)

	err = c.handleFrame(f)
	require.ErrorIs(t, err, ErrClosedByUpstream)
}

func TestHandleFrameSkipsBinaryFrame(t *testing.T) {
	c := newTestCopier(t)
	raw := []byte{0x80 | byte(wsframe.OpcodeBinary), 3, 1, 2, 3}
	f, _, err := wsframe.Decode(raw)
	require.NoError(t, err)

	require.NoError(t, c.handleFrame(f))
	require.EqualValues(t, 0, c.spool.Len())
}

func TestRunStopsOnUpstreamClose(t *testing.T) {
	c := newTestCopier(t)

	var raw bytes.Buffer
	raw.Write(textFrame(t, `{"time_us":1}`).Raw)
	raw.Write([]byte{0x80 | byte(wsframe.OpcodeClose), 0})

	conn := &Conn{Reader: bufio.NewReader(&raw)}
	err := c.Run(conn)
	require.ErrorIs(t, err, ErrClosedByUpstream)
}

func TestRetentionTrimFiresPastMaxAndCutsToMin(t *testing.T) {
	c := newTestCopier(t)

	// One frame at ts=0, then one per second. Nothing should be trimmed
	// while the retained span stays within MaxRetention.
	require.NoError(t, c.handleFrame(textFrame(t, `{"time_us":0}`)))
	for s := uint64(1); s <= 120; s++ {
		payload := fmt.Sprintf(`{"time_us":%d}`, s*1_000_000)
		require.NoError(t, c.handleFrame(textFrame(t, payload)))
	}
	oldest, ok := c.index.OldestTimestamp()
	require.True(t, ok)
	require.EqualValues(t, 0, oldest, "no trim inside the retention window")

	// The frame at 121s pushes the span past MaxRetention: everything older
	// than newest-MinRetention (61s) goes.
	require.NoError(t, c.handleFrame(textFrame(t, `{"time_us":121000000}`)))
	oldest, ok = c.index.OldestTimestamp()
	require.True(t, ok)
	require.EqualValues(t, 61_000_000, oldest)
}

func TestRetentionTrimIsIdempotent(t *testing.T) {
	c := newTestCopier(t)
	c.index.Insert(0, 0)
	c.index.Insert(121_000_000, 100)

	c.maybeTrim(121_000_000)
	sizeAfterFirst := c.index.Len()

	c.maybeTrim(121_000_000)
	require.Equal(t, sizeAfterFirst, c.index.Len(), "a repeated trim at the same cutoff must be a no-op")
}
