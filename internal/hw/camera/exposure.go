package camera

import (
	"math"

	"github.com/hsiscan/hsiscan/internal/debug"
)

// StepExposure returns the exposure reachable from current by whole
// increments that is nearest target in the direction of travel: rounded up
// when increasing, down when decreasing. The camera cannot be set to an
// arbitrary value, only stepped from where it is.
func StepExposure(current, target, inc float64) float64 {
	if inc <= 0 || current == target {
		return current
	}
	const eps = 1e-9
	if current < target {
		n := math.Ceil((target-current)/inc - eps)
		return current + inc*n
	}
	n := math.Ceil((current-target)/inc - eps)
	return current - inc*n
}

// clampExposure keeps v inside [lo, hi] while staying on the increment grid
// anchored at v.
func clampExposure(v, lo, hi, inc float64) float64 {
	if inc <= 0 || hi < lo {
		return v
	}
	for v > hi {
		v -= inc
	}
	for v < lo {
		v += inc
	}
	return v
}

// SetIntegrationTime applies the rig's fixed gain, disables auto gain and
// walks the exposure to the increment nearest us. It returns the exposure
// the device reports afterwards. The 30us..10s bound is the caller's to
// enforce.
func (c *Camera) SetIntegrationTime(us int) (float64, error) {
	dev, err := c.device("set integration time")
	if err != nil {
		return 0, err
	}
	if err := dev.SetGain(c.cfg.Gain); err != nil {
		return 0, &Error{Op: "set gain", Err: err}
	}
	if err := dev.SetGainAuto(false); err != nil {
		return 0, &Error{Op: "set gain auto", Err: err}
	}

	cur, err := dev.ExposureTime()
	if err != nil {
		return 0, &Error{Op: "get exposure", Err: err}
	}
	inc, err := dev.ExposureIncrement()
	if err != nil {
		return 0, &Error{Op: "get exposure increment", Err: err}
	}
	next := StepExposure(cur, float64(us), inc)
	if lo, hi, err := dev.ExposureRange(); err == nil {
		next = clampExposure(next, lo, hi, inc)
	}
	debug.Verbose("Exposure: %.3fus -> %.3fus (target %dus, increment %.3fus)", cur, next, us, inc)

	if next != cur {
		if err := dev.SetExposureTime(next); err != nil {
			return 0, &Error{Op: "set exposure", Err: err}
		}
	}
	got, err := dev.ExposureTime()
	if err != nil {
		return 0, &Error{Op: "get exposure", Err: err}
	}
	debug.Info("Integration time set to %.3fus", got)
	return got, nil
}

// IntegrationTime returns the current exposure in microseconds.
func (c *Camera) IntegrationTime() (float64, error) {
	dev, err := c.device("get integration time")
	if err != nil {
		return 0, err
	}
	return dev.ExposureTime()
}

// IntegrationTimeRange returns the device exposure limits in microseconds.
func (c *Camera) IntegrationTimeRange() (float64, float64, error) {
	dev, err := c.device("get integration time range")
	if err != nil {
		return 0, 0, err
	}
	return dev.ExposureRange()
}
