package isa_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxrt101/xvm-go/internal/isa"
)

// decode(encode(m1, m2, op)) == (m1, m2, op) for every addressing-mode
// pair and opcode.
func TestHeaderCodecRoundTrip(t *testing.T) {
	modes := []isa.Mode{isa.NONE, isa.STK, isa.IMM, isa.ABS, isa.PRO, isa.NRO}
	for _, m1 := range modes {
		for _, m2 := range modes {
			for op := isa.NOP; op <= isa.RET; op++ {
				header := isa.EncodeHeader(m1, m2, op)
				gotM1, gotM2, gotOp := isa.DecodeHeader(header)
				require.Equalf(t, m1, gotM1, "mode1 for (%v,%v,%v)", m1, m2, op)
				require.Equalf(t, m2, gotM2, "mode2 for (%v,%v,%v)", m1, m2, op)
				require.Equalf(t, op, gotOp, "opcode for (%v,%v,%v)", m1, m2, op)
			}
		}
	}
}

func TestInt32RoundTrip(t *testing.T) {
	for _, v := range []int32{0, 1, -1, 2147483647, -2147483648, 12345} {
		buf := make([]byte, 4)
		isa.WriteInt32(buf, 0, v)
		require.Equal(t, v, isa.ReadInt32(buf, 0))
	}
}

func TestAddInt32Additive(t *testing.T) {
	buf := make([]byte, 4)
	isa.WriteInt32(buf, 0, 10)
	isa.AddInt32(buf, 0, 5)
	require.EqualValues(t, 15, isa.ReadInt32(buf, 0))
}

func TestOpcodeStringKnownAndUnknown(t *testing.T) {
	require.Equal(t, "add", isa.ADD.String())
	require.Equal(t, "<?>", isa.Opcode(255).String())
}

func TestLookupOpcode(t *testing.T) {
	op, ok := isa.LookupOpcode("halt")
	require.True(t, ok)
	require.Equal(t, isa.HALT, op)

	_, ok = isa.LookupOpcode("nonexistent")
	require.False(t, ok)
}
