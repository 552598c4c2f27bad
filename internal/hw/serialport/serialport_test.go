package serialport

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// ---------- Options ----------

func TestOptionsNormalizeDefaults(t *testing.T) {
	opts, err := Options{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, DefaultOptions(), opts)
}

func TestOptionsNormalizeRejects(t *testing.T) {
	cases := []struct {
		name string
		o    Options
	}{
		{"data_bits_low", Options{DataBits: 4}},
		{"data_bits_high", Options{DataBits: 9}},
		{"stop_bits", Options{StopBits: 3}},
		{"parity", Options{Parity: "mark"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.o.Normalize()
			assert.Error(t, err)
		})
	}
}

func TestOptionsMode(t *testing.T) {
	mode, err := Options{BaudRate: 9600, StopBits: 2, Parity: "even"}.Mode()
	require.NoError(t, err)
	assert.Equal(t, 9600, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)

	mode, err = DefaultOptions().Mode()
	require.NoError(t, err)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, serial.NoParity, mode.Parity)
}

// ---------- Open ----------

func TestOpenRetriesUntilSuccess(t *testing.T) {
	calls := 0
	fw := NewMockFirmware(0)
	opener := func(path string, mode *serial.Mode) (Port, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("device busy")
		}
		return fw, nil
	}
	p, err := openWith(opener, "/dev/ttyACM0", DefaultOptions(), 2*time.Second)
	require.NoError(t, err)
	assert.Same(t, fw, p)
	assert.Equal(t, 3, calls)
}

func TestOpenGivesUp(t *testing.T) {
	opener := func(path string, mode *serial.Mode) (Port, error) {
		return nil, errors.New("no such file")
	}
	_, err := openWith(opener, "/dev/missing", DefaultOptions(), 100*time.Millisecond)
	assert.ErrorContains(t, err, "/dev/missing")
}

func TestOpenInvalidOptions(t *testing.T) {
	opener := func(path string, mode *serial.Mode) (Port, error) {
		t.Fatal("opener must not be called with invalid options")
		return nil, nil
	}
	_, err := openWith(opener, "/dev/x", Options{DataBits: 12}, time.Second)
	assert.Error(t, err)
}

// ---------- Link ----------

func TestLinkWriteAndAck(t *testing.T) {
	fw := NewMockFirmware(5 * time.Millisecond)
	link := NewLink(fw)

	_, err := link.Write([]byte{0x15, 0x00})
	require.NoError(t, err)
	ack, err := link.ReadAck(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok\r\n", string(ack))
	assert.Equal(t, []int16{21}, fw.Commands())
}

func TestLinkAckTimeout(t *testing.T) {
	fw := NewMockFirmware(0)
	link := NewLink(fw)

	start := time.Now()
	_, err := link.ReadAck(150 * time.Millisecond)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestLinkReadAfterClose(t *testing.T) {
	fw := NewMockFirmware(0)
	link := NewLink(fw)
	require.NoError(t, link.Close())
	_, err := link.ReadAck(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrPortClosed)
}

func TestMockFirmwareDecodesNegative(t *testing.T) {
	fw := NewMockFirmware(0)
	// -42 little-endian
	_, err := fw.Write([]byte{0xd6, 0xff})
	require.NoError(t, err)
	assert.Equal(t, []int16{-42}, fw.Commands())
}
