package geometry

import (
	"fmt"
	"math"

	"github.com/hsiscan/hsiscan/internal/logic/scan"
)

// Dark frame acquisition: one position, ten averaged exposures, one base
// pitch of travel.
const (
	DarkPositions = 1
	DarkRepeats   = 10
)

// Plan is a validated request resolved against the rig.
type Plan struct {
	Request          Request
	NumSteps         int // base positions covered by the FOR range
	RawStepsPerImage int // microsteps between images
	ImagesPerScene   int
	StartOffsetSteps int // microsteps from home to MinFOR
	Rig              Rig
}

// PlanScan validates req and computes the scan plan for it.
func PlanScan(req Request, rig Rig) (Plan, error) {
	if !rig.Valid() {
		return Plan{}, fmt.Errorf("invalid rig geometry %+v", rig)
	}
	if err := ValidateRequest(req); err != nil {
		return Plan{}, err
	}

	numSteps := rig.PositionsInRange(req.MinFOR, req.MaxFOR)
	if req.ImageEverySteps > numSteps {
		return Plan{}, &RequestError{
			Field:  "image_every_steps",
			Reason: fmt.Sprintf("%d exceeds the %d positions in [%.4f, %.4f]; no image would be taken", req.ImageEverySteps, numSteps, req.MinFOR, req.MaxFOR),
		}
	}

	rawSteps := req.ImageEverySteps * rig.MicrostepsPerPosition
	if rawSteps > math.MaxInt16 {
		return Plan{}, &RequestError{
			Field:  "image_every_steps",
			Reason: fmt.Sprintf("%d positions of %d microsteps exceed the %d-step actuator command", req.ImageEverySteps, rig.MicrostepsPerPosition, math.MaxInt16),
		}
	}

	return Plan{
		Request:          req,
		NumSteps:         numSteps,
		RawStepsPerImage: rawSteps,
		ImagesPerScene:   numSteps / req.ImageEverySteps,
		StartOffsetSteps: rig.MicrostepsFromAngle(req.MinFOR),
		Rig:              rig,
	}, nil
}

// ScanConfig returns the scene scan configuration.
func (p Plan) ScanConfig() scan.Config {
	return scan.Config{
		RawStepsPerImage: p.RawStepsPerImage,
		ImagesPerScene:   p.ImagesPerScene,
		ImagesPerStep:    p.Request.ImagesPerStep,
	}
}

// DarkScanConfig returns the configuration of the dark frame taken with the
// lens cap on after a scene.
func (p Plan) DarkScanConfig() scan.Config {
	return scan.Config{
		RawStepsPerImage: p.Rig.MicrostepsPerPosition,
		ImagesPerScene:   DarkPositions,
		ImagesPerStep:    DarkRepeats,
	}
}
