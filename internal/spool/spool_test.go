package spool

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenCreateNewSemantics(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	_, err = Open(dir)
	require.Error(t, err, "a second Open in the same dir must fail: create-new semantics")
}

func TestAppendAdvancesLength(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	require.EqualValues(t, 0, s.Len())

	off, err := s.Append([]byte("hello"))
	require.NoError(t, err)
	require.EqualValues(t, 0, off)
	require.EqualValues(t, 5, s.Len())

	off, err = s.Append([]byte("world!"))
	require.NoError(t, err)
	require.EqualValues(t, 5, off)
	require.EqualValues(t, 11, s.Len())

	data, err := os.ReadFile(dir + string(os.PathSeparator) + FileName)
	require.NoError(t, err)
	require.Equal(t, "helloworld!", string(data))
}

func TestPunchHolePreservesLengthAndZeroesRange(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Append([]byte("0123456789"))
	require.NoError(t, err)

	err = s.PunchHole(5)
	if errors.Is(err, ErrHolePunchUnsupported) {
		t.Skip("filesystem does not support hole punching")
	}
	require.NoError(t, err)
	require.EqualValues(t, 10, s.Len(), "logical length must not change")

	data, err := os.ReadFile(dir + string(os.PathSeparator) + FileName)
	require.NoError(t, err)
	require.Equal(t, "\x00\x00\x00\x00\x0056789", string(data))
}

func TestPunchHoleNoopForNonPositiveEnd(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	err = s.PunchHole(0)
	if errors.Is(err, ErrHolePunchUnsupported) {
		t.Skip("filesystem does not support hole punching")
	}
	require.NoError(t, err)
}
