package camera

import (
	"context"
	"time"

	"github.com/hsiscan/hsiscan/internal/debug"
	"github.com/hsiscan/hsiscan/internal/frame"
	"github.com/hsiscan/hsiscan/internal/hw/gpio"
)

// TriggeredDevice wraps a Device configured for hardware triggering on its
// Line1 input. Each Grab pulses the trigger line, holds it for Pulse and
// then waits for the frame.
//
// Trigger sequence:
//  1. TRIGGER active
//  2. hold for Pulse
//  3. TRIGGER inactive
//  4. read the frame from the device
type TriggeredDevice struct {
	Device
	line  *gpio.Line
	pulse time.Duration
}

// NewTriggeredDevice wraps dev with a trigger line. A nil or absent line
// leaves dev free-running.
func NewTriggeredDevice(dev Device, line *gpio.Line, pulse time.Duration) *TriggeredDevice {
	return &TriggeredDevice{Device: dev, line: line, pulse: pulse}
}

// Grab fires the trigger and returns the frame it produced.
func (t *TriggeredDevice) Grab(ctx context.Context) (frame.Frame, error) {
	if t.line.Present() {
		debug.Verbose("Camera: firing trigger (%v pulse)", t.pulse)
		if err := t.line.Activate(); err != nil {
			return frame.Frame{}, err
		}
		if t.pulse > 0 {
			time.Sleep(t.pulse)
		}
		if err := t.line.Deactivate(); err != nil {
			return frame.Frame{}, err
		}
	}
	return t.Device.Grab(ctx)
}
