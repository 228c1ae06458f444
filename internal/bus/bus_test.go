package bus_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxrt101/xvm-go/internal/bus"
)

func TestBindRefusesOverlap(t *testing.T) {
	b := bus.New()
	require.NoError(t, b.Bind(0, 100, bus.NewRAM(0, 100), true))

	err := b.Bind(50, 100, bus.NewRAM(50, 100), true)
	require.Error(t, err)
	require.IsType(t, bus.ErrRangeOverlap{}, err)

	// Adjacent ranges are fine.
	require.NoError(t, b.Bind(100, 100, bus.NewRAM(100, 100), true))
}

func TestReadUnmappedReturnsZeroWriteIsNoop(t *testing.T) {
	b := bus.New()
	require.NoError(t, b.Bind(0, 16, bus.NewRAM(0, 16), true))

	require.EqualValues(t, 0, b.Read(1000))
	b.Write(1000, 0xFF) // must not panic
}

func TestRAMReadWriteRoundTrip(t *testing.T) {
	b := bus.New()
	ram := bus.NewRAM(0x100, 16)
	require.NoError(t, b.Bind(0x100, 16, ram, true))

	b.Write(0x105, 0xAB)
	require.EqualValues(t, 0xAB, b.Read(0x105))
}

func TestRAMPanicsOutOfBounds(t *testing.T) {
	ram := bus.NewRAM(0, 8)
	require.Panics(t, func() { ram.Read(8) })
	require.Panics(t, func() { ram.Write(8, 1) })
}

func TestMaxSpansHighestRange(t *testing.T) {
	b := bus.New()
	require.NoError(t, b.Bind(0, 16, bus.NewRAM(0, 16), true))
	require.NoError(t, b.Bind(0x200, 32, bus.NewRAM(0x200, 32), true))
	require.EqualValues(t, 0x220, b.Max())
}

func TestByName(t *testing.T) {
	b := bus.New()
	require.NoError(t, b.Bind(0, 16, bus.NewRAM(0, 16), true))

	dev, ok := b.ByName("ram")
	require.True(t, ok)
	require.Equal(t, "ram", dev.Name())

	_, ok = b.ByName("nonexistent")
	require.False(t, ok)
}

func TestConsolePort(t *testing.T) {
	var out bytes.Buffer
	con := bus.NewConsole(&out, strings.NewReader("x"))

	con.Write(0, 'h')
	con.Write(0, 'i')
	require.Equal(t, "hi", out.String())

	require.EqualValues(t, 'x', con.Read(0))
}
