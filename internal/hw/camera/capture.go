package camera

import (
	"context"
	"errors"
	"fmt"

	"github.com/hsiscan/hsiscan/internal/frame"
)

// SetPixelFormat applies f. Only the formats in SupportedFormats are
// accepted.
func (c *Camera) SetPixelFormat(f PixelFormat) error {
	if f.BitDepth() == 0 {
		return &Error{Op: "set pixel format", Err: fmt.Errorf("%q: %w", f, ErrUnsupportedFormat)}
	}
	dev, err := c.device("set pixel format")
	if err != nil {
		return err
	}
	if err := dev.SetPixelFormat(f); err != nil {
		return &Error{Op: "set pixel format", Err: err}
	}
	return nil
}

// PixelFormat returns the active pixel format.
func (c *Camera) PixelFormat() (PixelFormat, error) {
	dev, err := c.device("get pixel format")
	if err != nil {
		return "", err
	}
	return dev.PixelFormat()
}

// PixelFormats returns the formats the device offers.
func (c *Camera) PixelFormats() ([]PixelFormat, error) {
	dev, err := c.device("get pixel formats")
	if err != nil {
		return nil, err
	}
	return dev.PixelFormats()
}

// Capture grabs exactly one frame. The grab is bounded by the configured
// capture timeout but is not aborted when ctx is cancelled, so the device
// is never left mid-acquisition.
func (c *Camera) Capture(ctx context.Context) (frame.Frame, error) {
	dev, err := c.device("capture")
	if err != nil {
		return frame.Frame{}, err
	}

	grabCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CaptureTimeout)
	defer cancel()

	f, err := dev.Grab(grabCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(grabCtx.Err(), context.DeadlineExceeded) {
			return frame.Frame{}, &Error{Op: "capture", Err: ErrCaptureTimeout}
		}
		return frame.Frame{}, &Error{Op: "capture", Err: err}
	}
	if !f.Valid() {
		return frame.Frame{}, &Error{Op: "capture", Err: fmt.Errorf("device returned %dx%d frame with %d samples", f.Rows, f.Cols, len(f.Pix))}
	}
	return f, nil
}
