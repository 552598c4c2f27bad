// Package exposure reduces repeated exposures taken at one scan position
// to a single denoised frame.
package exposure

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/hsiscan/hsiscan/internal/frame"
)

// ErrEmptyBatch is returned when there is nothing to average or the batch
// length does not match the expected count.
var ErrEmptyBatch = errors.New("empty or short exposure batch")

// Average returns the element-wise mean of frames, floored to integer
// samples. count must equal len(frames) and be at least 1, and every frame
// must share the first frame's shape.
func Average(frames []frame.Frame, count int) (frame.Frame, error) {
	if count < 1 || len(frames) != count {
		return frame.Frame{}, fmt.Errorf("average %d frames, expected %d: %w", len(frames), count, ErrEmptyBatch)
	}

	first := frames[0]
	if !first.Valid() {
		return frame.Frame{}, fmt.Errorf("frame 0 is %dx%d with %d samples: %w", first.Rows, first.Cols, len(first.Pix), frame.ErrShapeMismatch)
	}

	sum := make([]float64, len(first.Pix))
	for i, f := range frames {
		if !f.SameShape(first) || len(f.Pix) != len(first.Pix) {
			return frame.Frame{}, fmt.Errorf("frame %d is %dx%d, want %dx%d: %w", i, f.Rows, f.Cols, first.Rows, first.Cols, frame.ErrShapeMismatch)
		}
		floats.Add(sum, f.Float64())
	}

	// Sums of integer samples are exact, so dividing (rather than scaling
	// by 1/count) keeps whole-number means from flooring one low.
	n := float64(count)
	out := frame.New(first.Rows, first.Cols)
	for i, v := range sum {
		out.Pix[i] = uint16(math.Floor(v / n))
	}
	return out, nil
}
