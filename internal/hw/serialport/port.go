// Package serialport provides the byte link to the actuator firmware: a
// serial port opened with retry, and blocking acknowledgment reads with a
// bounded wait.
package serialport

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"go.bug.st/serial"

	"github.com/hsiscan/hsiscan/internal/debug"
)

// Port is the minimal serial port surface the link needs. go.bug.st/serial
// ports satisfy it; tests substitute in-memory fakes.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(timeout time.Duration) error
}

// inputResetter is implemented by ports that can discard unread input.
type inputResetter interface {
	ResetInputBuffer() error
}

// Opener opens a port at path. Replaced in tests.
type Opener func(path string, mode *serial.Mode) (Port, error)

func openReal(path string, mode *serial.Mode) (Port, error) {
	return serial.Open(path, mode)
}

// Open opens the port at path, retrying with exponential backoff until
// timeout elapses. Microcontroller boards commonly refuse the first open
// while they reset.
func Open(path string, opts Options, timeout time.Duration) (Port, error) {
	return openWith(openReal, path, opts, timeout)
}

func openWith(open Opener, path string, opts Options, timeout time.Duration) (Port, error) {
	mode, err := opts.Mode()
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	var port Port
	attempt := 0
	op := func() error {
		attempt++
		p, err := open(path, mode)
		if err != nil {
			debug.Verbose("serial open %s attempt %d: %v", path, attempt, err)
			return err
		}
		port = p
		return nil
	}

	err = backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      timeout,
		Clock:               backoff.SystemClock})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	debug.Info("Serial port %s open (%d baud)", path, mode.BaudRate)
	return port, nil
}

// pollInterval bounds each blocking read so the overall deadline is honored.
const pollInterval = 100 * time.Millisecond

// drainWindow is how long to keep collecting bytes after the first ones
// arrive, so a multi-byte acknowledgment is consumed in one call.
const drainWindow = 20 * time.Millisecond

// Link sends commands and reads acknowledgments over a Port.
type Link struct {
	port Port
	buf  []byte
}

// NewLink wraps p.
func NewLink(p Port) *Link {
	return &Link{port: p, buf: make([]byte, 256)}
}

// Write transmits p in full. Stale input is discarded first so that an
// old reply is never mistaken for the acknowledgment of this command.
func (l *Link) Write(p []byte) (int, error) {
	if r, ok := l.port.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			return 0, fmt.Errorf("reset input buffer: %w", err)
		}
	}
	debug.Serial("tx", p)
	n, err := l.port.Write(p)
	if err != nil {
		return n, err
	}
	if n != len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// ReadAck blocks until at least one byte arrives or timeout elapses. It
// returns every byte received within a short window after the first. On
// expiry it returns os.ErrDeadlineExceeded.
func (l *Link) ReadAck(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	var ack []byte

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, os.ErrDeadlineExceeded
		}
		if err := l.port.SetReadTimeout(min(remaining, pollInterval)); err != nil {
			return nil, fmt.Errorf("set read timeout: %w", err)
		}
		n, err := l.port.Read(l.buf)
		if err != nil && err != io.EOF {
			return nil, err
		}
		if n > 0 {
			ack = append(ack, l.buf[:n]...)
			break
		}
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
	}

	if err := l.port.SetReadTimeout(drainWindow); err != nil {
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	for {
		n, err := l.port.Read(l.buf)
		if n > 0 {
			ack = append(ack, l.buf[:n]...)
		}
		if n == 0 || err != nil {
			break
		}
	}
	debug.Serial("rx", ack)
	return ack, nil
}

// Close closes the underlying port.
func (l *Link) Close() error {
	return l.port.Close()
}
