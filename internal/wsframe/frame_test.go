package wsframe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildFrame(opcode Opcode, payload []byte) []byte {
	raw := []byte{0x80 | byte(opcode)}
	n := len(payload)
	switch {
	case n < 126:
		raw = append(raw, byte(n))
	case n < 1<<16:
		raw = append(raw, 126, byte(n>>8), byte(n))
	default:
		raw = append(raw, 127, 0, 0, 0, 0, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	}
	raw = append(raw, payload...)
	return raw
}

func TestDecodeTextFrame(t *testing.T) {
	payload := []byte(`{"time_us":1234567890}`)
	raw := buildFrame(OpcodeText, payload)

	f, n, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, len(raw), n)
	require.True(t, f.FIN)
	require.Equal(t, OpcodeText, f.Opcode)
	require.False(t, f.Masked)
	require.Equal(t, byte(0), f.ReservedBits())
	require.Equal(t, payload, f.Payload())
}

func TestDecodeIncompleteFrame(t *testing.T) {
	raw := buildFrame(OpcodeText, []byte("hello"))
	_, _, err := Decode(raw[:3])
	require.ErrorIs(t, err, ErrIncompleteFrame)
}

func TestDecodeExtendedLength(t *testing.T) {
	payload := make([]byte, 200)
	raw := buildFrame(OpcodeBinary, payload)
	f, n, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, len(raw), n)
	require.EqualValues(t, 200, f.PayloadLen)
}

func TestDecodeRejectsOversizedPayload(t *testing.T) {
	raw := []byte{0x82, 127, 0, 0, 0, 0, 0xFF, 0, 0, 0}
	_, _, err := Decode(raw)
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestTimeMicrosExtractsNumericField(t *testing.T) {
	payload := []byte(`{"did":"did:plc:abc","time_us":1700000000000000,"kind":"commit"}`)
	ts, ok := TimeMicros(payload)
	require.True(t, ok)
	require.EqualValues(t, 1700000000000000, ts)
}

func TestTimeMicrosMissingField(t *testing.T) {
	_, ok := TimeMicros([]byte(`{"did":"did:plc:abc"}`))
	require.False(t, ok)
}

func TestTimeMicrosWrongType(t *testing.T) {
	_, ok := TimeMicros([]byte(`{"time_us":"not-a-number"}`))
	require.False(t, ok)
}
