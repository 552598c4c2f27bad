package scan

import (
	"fmt"
	"math"
)

// Config describes one scene scan. Units are explicit: RawStepsPerImage is
// in motor microsteps, ImagesPerScene in positions, ImagesPerStep in frames.
type Config struct {
	RawStepsPerImage int `json:"raw_steps_per_image" yaml:"raw_steps_per_image"`
	ImagesPerScene   int `json:"images_per_scene" yaml:"images_per_scene"`
	ImagesPerStep    int `json:"images_per_step" yaml:"images_per_step"`
}

// TotalSteps is the total motor travel of the scan in microsteps.
func (c Config) TotalSteps() int {
	return c.RawStepsPerImage * c.ImagesPerScene
}

// ConfigError reports an invalid scan configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid scan config: %s %s", e.Field, e.Reason)
}

// Validate rejects non-positive counts and a pitch the actuator cannot take
// in one command. A zero ImagesPerStep is read as 1.
func (c *Config) Validate() error {
	if c.ImagesPerStep == 0 {
		c.ImagesPerStep = 1
	}
	switch {
	case c.RawStepsPerImage <= 0:
		return &ConfigError{Field: "raw_steps_per_image", Reason: fmt.Sprintf("must be > 0, got %d", c.RawStepsPerImage)}
	case c.RawStepsPerImage > math.MaxInt16:
		return &ConfigError{Field: "raw_steps_per_image", Reason: fmt.Sprintf("must be <= %d, got %d", math.MaxInt16, c.RawStepsPerImage)}
	case c.ImagesPerScene <= 0:
		return &ConfigError{Field: "images_per_scene", Reason: fmt.Sprintf("must be > 0, got %d", c.ImagesPerScene)}
	case c.ImagesPerStep < 0:
		return &ConfigError{Field: "images_per_step", Reason: fmt.Sprintf("must be > 0, got %d", c.ImagesPerStep)}
	}
	return nil
}
