package stepper

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hsiscan/hsiscan/internal/debug"
	"github.com/hsiscan/hsiscan/internal/hw/gpio"
)

var (
	// ErrOutOfRange is returned for step counts that do not fit a signed
	// 16-bit command.
	ErrOutOfRange = errors.New("step count outside signed 16-bit range")

	// ErrAckTimeout is returned when the positioner does not acknowledge a
	// command within the configured wait.
	ErrAckTimeout = errors.New("acknowledgment timeout")
)

// Error describes a failed actuator command. Position is untrusted after
// any Error other than ErrOutOfRange.
type Error struct {
	Op    string // "move" or "reset"
	Steps int
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("actuator %s %d: %v", e.Op, e.Steps, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transport carries one command and returns the positioner's reply.
// ReadAck blocks for at most timeout.
type Transport interface {
	io.Writer
	ReadAck(timeout time.Duration) ([]byte, error)
}

// Config holds the actuator settings.
type Config struct {
	AckTimeout time.Duration // bounded acknowledgment wait. 0 = 30s.
	Enable     *gpio.Line    // driver ENA line. nil = not wired.
}

// DefaultAckTimeout bounds the acknowledgment wait when none is configured.
const DefaultAckTimeout = 30 * time.Second

// homeCommand is the firmware's return-to-home sentinel.
const homeCommand = 0

// Actuator drives the positioner firmware: each command is a little-endian
// signed 16-bit step count, and each command blocks until the firmware
// sends back any non-empty reply.
type Actuator struct {
	link     Transport
	cfg      Config
	cmdMu    sync.Mutex
	position atomic.Int64
}

// NewActuator creates an actuator over link.
func NewActuator(link Transport, cfg Config) *Actuator {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	return &Actuator{link: link, cfg: cfg}
}

// Move advances the positioner by steps raw microsteps (negative moves
// backward). Zero is a no-op with no transport I/O, since 0 on the wire
// means "home". The cumulative position changes only after the positioner
// acknowledges.
func (a *Actuator) Move(steps int) error {
	if steps == 0 {
		return nil
	}
	if steps < math.MinInt16 || steps > math.MaxInt16 {
		return &Error{Op: "move", Steps: steps, Err: ErrOutOfRange}
	}

	debug.Move(steps)
	if err := a.command("move", steps); err != nil {
		return err
	}
	a.position.Add(int64(steps))
	return nil
}

// Reset sends the home sentinel and, once acknowledged, zeroes the
// cumulative position.
func (a *Actuator) Reset() error {
	debug.Live("Actuator: returning home from %d", a.Position())
	if err := a.command("reset", homeCommand); err != nil {
		return err
	}
	a.position.Store(0)
	return nil
}

// Position returns the cumulative acknowledged steps since the last Reset.
func (a *Actuator) Position() int {
	return int(a.position.Load())
}

// Enable energizes the motor driver so the motor holds position.
func (a *Actuator) Enable() error {
	return a.cfg.Enable.Activate()
}

// Disable releases the motor driver. The motor freewheels.
func (a *Actuator) Disable() error {
	return a.cfg.Enable.Deactivate()
}

func (a *Actuator) command(op string, steps int) error {
	a.cmdMu.Lock()
	defer a.cmdMu.Unlock()

	if err := a.cfg.Enable.Activate(); err != nil {
		return &Error{Op: op, Steps: steps, Err: fmt.Errorf("enable driver: %w", err)}
	}

	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(int16(steps)))
	if _, err := a.link.Write(buf[:]); err != nil {
		return &Error{Op: op, Steps: steps, Err: fmt.Errorf("write command: %w", err)}
	}

	ack, err := a.link.ReadAck(a.cfg.AckTimeout)
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return &Error{Op: op, Steps: steps, Err: ErrAckTimeout}
	case err != nil:
		return &Error{Op: op, Steps: steps, Err: fmt.Errorf("read acknowledgment: %w", err)}
	case len(ack) == 0:
		return &Error{Op: op, Steps: steps, Err: ErrAckTimeout}
	}
	debug.Trace("Actuator: %s %d acknowledged (%q)", op, steps, ack)
	return nil
}
