package geometry

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
)

// Request is an operator's acquisition request.
type Request struct {
	MinFOR            float64 `json:"min_for"` // degrees, [-0.25, 0]
	MaxFOR            float64 `json:"max_for"` // degrees, [0, 0.25]
	IntegrationTimeUs int     `json:"integration_time_us"`
	ImageEverySteps   int     `json:"image_every_steps"` // base positions between images
	ImagesPerStep     int     `json:"images_per_step"`   // exposures averaged per image
	PixelFormat       string  `json:"pixel_format,omitempty"`
	FileName          string  `json:"file_name"`
	LabCalibration    bool    `json:"lab_calibration"`
	SceneCalibration  bool    `json:"scene_calibration"`
	MoveToStart       bool    `json:"move_to_start"`
}

// Request limits.
const (
	MinFORLower        = -0.25
	MaxFORUpper        = 0.25
	MinIntegrationUs   = 30
	MaxIntegrationUs   = 10_000_000
	MaxImageEverySteps = 65
	MaxImagesPerStep   = 99
)

// OutputExtensions are the cube formats a request may name.
var OutputExtensions = []string{".npy", ".fits"}

// RequestError reports the first invalid request field.
type RequestError struct {
	Field  string
	Reason string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// ValidateRequest checks every field against the rig's operating limits.
func ValidateRequest(r Request) error {
	if math.IsNaN(r.MinFOR) || r.MinFOR < MinFORLower || r.MinFOR > 0 {
		return &RequestError{Field: "min_for", Reason: fmt.Sprintf("%.4f outside [%.2f, 0]", r.MinFOR, MinFORLower)}
	}
	if math.IsNaN(r.MaxFOR) || r.MaxFOR < 0 || r.MaxFOR > MaxFORUpper {
		return &RequestError{Field: "max_for", Reason: fmt.Sprintf("%.4f outside [0, %.2f]", r.MaxFOR, MaxFORUpper)}
	}
	if r.IntegrationTimeUs < MinIntegrationUs || r.IntegrationTimeUs > MaxIntegrationUs {
		return &RequestError{Field: "integration_time_us", Reason: fmt.Sprintf("%d outside [%d, %d]", r.IntegrationTimeUs, MinIntegrationUs, MaxIntegrationUs)}
	}
	if r.ImageEverySteps < 1 || r.ImageEverySteps > MaxImageEverySteps {
		return &RequestError{Field: "image_every_steps", Reason: fmt.Sprintf("%d outside [1, %d]", r.ImageEverySteps, MaxImageEverySteps)}
	}
	if r.ImagesPerStep < 1 || r.ImagesPerStep > MaxImagesPerStep {
		return &RequestError{Field: "images_per_step", Reason: fmt.Sprintf("%d outside [1, %d]", r.ImagesPerStep, MaxImagesPerStep)}
	}
	if err := validateFileName(r.FileName); err != nil {
		return err
	}
	return nil
}

func validateFileName(name string) error {
	ext := strings.ToLower(filepath.Ext(name))
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if base == "" || base == "." {
		return &RequestError{Field: "file_name", Reason: fmt.Sprintf("%q has no name", name)}
	}
	for _, ok := range OutputExtensions {
		if ext == ok {
			return nil
		}
	}
	return &RequestError{Field: "file_name", Reason: fmt.Sprintf("%q must end in %s", name, strings.Join(OutputExtensions, " or "))}
}
