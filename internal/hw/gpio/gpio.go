package gpio

import (
	"github.com/hsiscan/hsiscan/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// Driver defines the abstract interface for controlling GPIOs.
// A Raspberry Pi implementation drives real pins; MockDriver logs only.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// MockDriver is a development implementation that simply logs actions.
type MockDriver struct{}

// NewDriver creates a GPIO driver. If mock is true, returns a MockDriver.
func NewDriver(mock bool) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return &MockDriver{}, nil
	}
	return NewRPiRealDriver()
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	return Low, nil
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}

// Line is a single output pin with a configurable active level, e.g. the
// ENA input of a stepper driver. A Line with Pin <= 0 is absent and all
// operations succeed without touching the driver.
type Line struct {
	drv       Driver
	pin       int
	activeLow bool
}

// NewLine configures pin as an output line. The line is left inactive.
func NewLine(drv Driver, pin int, activeLow bool) (*Line, error) {
	l := &Line{drv: drv, pin: pin, activeLow: activeLow}
	if !l.Present() {
		return l, nil
	}
	if err := drv.SetupPin(pin, Output); err != nil {
		return nil, err
	}
	if err := l.Deactivate(); err != nil {
		return nil, err
	}
	return l, nil
}

// Present reports whether the line is wired.
func (l *Line) Present() bool {
	return l != nil && l.drv != nil && l.pin > 0
}

// Activate drives the line to its active level.
func (l *Line) Activate() error {
	if !l.Present() {
		return nil
	}
	return l.drv.WritePin(l.pin, l.level(true))
}

// Deactivate drives the line to its inactive level.
func (l *Line) Deactivate() error {
	if !l.Present() {
		return nil
	}
	return l.drv.WritePin(l.pin, l.level(false))
}

func (l *Line) level(active bool) Level {
	if l.activeLow {
		return Level(!active)
	}
	return Level(active)
}
