/*
Package camera wraps a machine-vision camera as a frame source for scans.

The vendor SDK is reached only through the Device and System interfaces:
device enumeration, the exposure feature (which can only be walked in
fixed increments), gain, pixel format and single-frame grabs. Camera adds
the rig's policy on top: fixed unity gain, exposure stepping, format
validation and a bounded capture wait.
*/
package camera

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hsiscan/hsiscan/internal/frame"
)

var (
	// ErrDeviceUnavailable is returned when no camera enumerates.
	ErrDeviceUnavailable = errors.New("no camera device available")

	// ErrCaptureTimeout is returned when a frame is not delivered in time.
	ErrCaptureTimeout = errors.New("frame capture timed out")

	// ErrUnsupportedFormat is returned for pixel formats the rig does not use.
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
)

// Error describes a failed camera operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "camera " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// PixelFormat is a GenICam monochrome pixel format name.
type PixelFormat string

const (
	Mono8   PixelFormat = "Mono8"
	Mono10  PixelFormat = "Mono10"
	Mono10p PixelFormat = "Mono10p"
	Mono12  PixelFormat = "Mono12"
	Mono12p PixelFormat = "Mono12p"
)

// SupportedFormats lists every format a scan may use.
var SupportedFormats = []PixelFormat{Mono8, Mono10, Mono10p, Mono12, Mono12p}

// ParsePixelFormat matches s case-insensitively against SupportedFormats.
func ParsePixelFormat(s string) (PixelFormat, error) {
	for _, f := range SupportedFormats {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnsupportedFormat)
}

// BitDepth returns the significant bits per sample.
func (p PixelFormat) BitDepth() int {
	switch p {
	case Mono8:
		return 8
	case Mono10, Mono10p:
		return 10
	case Mono12, Mono12p:
		return 12
	}
	return 0
}

// MaxValue returns the largest sample the format can carry.
func (p PixelFormat) MaxValue() uint16 {
	return uint16(1)<<p.BitDepth() - 1
}

// Device is one camera as exposed by the vendor SDK.
type Device interface {
	ID() string

	ExposureTime() (float64, error)
	ExposureIncrement() (float64, error)
	ExposureRange() (min, max float64, err error)
	SetExposureTime(us float64) error

	SetGain(gain float64) error
	SetGainAuto(on bool) error

	PixelFormats() ([]PixelFormat, error)
	PixelFormat() (PixelFormat, error)
	SetPixelFormat(PixelFormat) error

	// Grab acquires one frame, honoring ctx's deadline.
	Grab(ctx context.Context) (frame.Frame, error)
}

// System enumerates the cameras attached to the host.
type System interface {
	Devices() ([]Device, error)
}

// FrameSource is the camera surface a scan session drives.
type FrameSource interface {
	SetIntegrationTime(us int) (float64, error)
	SetPixelFormat(PixelFormat) error
	Capture(ctx context.Context) (frame.Frame, error)
}

// Config holds camera policy.
type Config struct {
	CaptureTimeout time.Duration // bounded grab wait. 0 = 5s.
	Gain           float64       // fixed analog gain. 0 = 1.
}

// DefaultCaptureTimeout bounds a grab when none is configured.
const DefaultCaptureTimeout = 5 * time.Second

// Camera is a FrameSource backed by the first device the system enumerates.
type Camera struct {
	sys System
	cfg Config
}

// New creates a camera over sys.
func New(sys System, cfg Config) *Camera {
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = DefaultCaptureTimeout
	}
	if cfg.Gain <= 0 {
		cfg.Gain = 1
	}
	return &Camera{sys: sys, cfg: cfg}
}

func (c *Camera) device(op string) (Device, error) {
	devs, err := c.sys.Devices()
	if err != nil {
		return nil, &Error{Op: op, Err: fmt.Errorf("enumerate: %w: %v", ErrDeviceUnavailable, err)}
	}
	if len(devs) == 0 {
		return nil, &Error{Op: op, Err: ErrDeviceUnavailable}
	}
	return devs[0], nil
}

// ID returns the identifier of the device in use.
func (c *Camera) ID() (string, error) {
	dev, err := c.device("id")
	if err != nil {
		return "", err
	}
	return dev.ID(), nil
}
