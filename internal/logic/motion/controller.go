package motion

import (
	"math"

	"github.com/hsiscan/hsiscan/internal/debug"
	"github.com/hsiscan/hsiscan/internal/logic/geometry"
)

// Axis is the FOR positioner as the controller sees it.
type Axis interface {
	Move(steps int) error
	Reset() error
	Position() int
	Enable() error
	Disable() error
}

// Controller drives the FOR axis in angular terms. It sits between the
// acquisition logic (sessions, home commands) and the actuator protocol.
// Angles are measured from home.
type Controller struct {
	axis Axis
	rig  geometry.Rig
}

func NewController(axis Axis, rig geometry.Rig) *Controller {
	return &Controller{axis: axis, rig: rig}
}

// Axis returns the underlying actuator, e.g. to hand it to a scan.
func (c *Controller) Axis() Axis { return c.axis }

// Home returns the axis to its home sentinel position.
func (c *Controller) Home() error {
	debug.Live("Homing FOR axis")
	return c.axis.Reset()
}

// MoveSteps moves the axis by a raw step count, split into commands that
// fit the actuator's signed 16-bit range.
func (c *Controller) MoveSteps(steps int) error {
	for steps != 0 {
		chunk := steps
		if chunk > math.MaxInt16 {
			chunk = math.MaxInt16
		} else if chunk < math.MinInt16 {
			chunk = math.MinInt16
		}
		if err := c.axis.Move(chunk); err != nil {
			return err
		}
		steps -= chunk
	}
	return nil
}

// MoveToAngle moves the axis to deg from home.
func (c *Controller) MoveToAngle(deg float64) error {
	target := c.rig.MicrostepsFromAngle(deg)
	delta := target - c.axis.Position()
	debug.Verbose("FOR axis: %.4f deg -> target %d (delta %d)", deg, target, delta)
	return c.MoveSteps(delta)
}

// MoveToStart moves the axis to the plan's start offset.
func (c *Controller) MoveToStart(plan geometry.Plan) error {
	debug.Live("Moving to start of FOR (%.4f deg)", plan.Request.MinFOR)
	return c.MoveSteps(plan.StartOffsetSteps - c.axis.Position())
}

// AngleDeg returns the current axis angle from home.
func (c *Controller) AngleDeg() float64 {
	return float64(c.axis.Position()) * c.rig.DegreesPerMicrostep
}

// EnableMotor energizes the driver so the axis holds position.
func (c *Controller) EnableMotor() error {
	return c.axis.Enable()
}

// DisableMotor releases the driver.
func (c *Controller) DisableMotor() error {
	return c.axis.Disable()
}
