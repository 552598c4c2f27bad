package geometry

import "math"

// floorEps absorbs float error in ratios that are whole numbers on paper.
const floorEps = 1e-9

// Rig describes the field-of-regard mechanics of the scan head.
type Rig struct {
	FORSpanDeg            float64 `json:"for_span_deg" yaml:"for_span_deg"`                       // full mechanical FOR
	PositionsPerFOR       int     `json:"positions_per_for" yaml:"positions_per_for"`             // base positions across the span
	MicrostepsPerPosition int     `json:"microsteps_per_position" yaml:"microsteps_per_position"` // raw steps per base position
	DegreesPerMicrostep   float64 `json:"degrees_per_microstep" yaml:"degrees_per_microstep"`
}

// DefaultRig returns the geometry of the DM542T-driven scan head.
func DefaultRig() Rig {
	return Rig{
		FORSpanDeg:            0.5,
		PositionsPerFOR:       63,
		MicrostepsPerPosition: 21,
		DegreesPerMicrostep:   0.0004,
	}
}

// PositionStepDeg is the angular pitch of one base position.
func (r Rig) PositionStepDeg() float64 {
	return r.FORSpanDeg / float64(r.PositionsPerFOR)
}

// PositionsInRange returns how many base positions fit in [minDeg, maxDeg].
func (r Rig) PositionsInRange(minDeg, maxDeg float64) int {
	return int(math.Floor((maxDeg-minDeg)/r.PositionStepDeg() + floorEps))
}

// MicrostepsFromAngle converts an angle (in degrees) to raw motor steps.
// Negative angles round toward negative infinity.
func (r Rig) MicrostepsFromAngle(deg float64) int {
	return int(math.Floor(deg/r.DegreesPerMicrostep + floorEps))
}

// Valid reports whether every field is positive and one base position fits
// in a single actuator command.
func (r Rig) Valid() bool {
	return r.FORSpanDeg > 0 && r.PositionsPerFOR > 0 && r.DegreesPerMicrostep > 0 &&
		r.MicrostepsPerPosition > 0 && r.MicrostepsPerPosition <= math.MaxInt16
}
