// Package frame holds the 2-D sample grids produced by the camera and the
// 3-D cube a scan assembles from them.
package frame

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// ErrShapeMismatch is returned when frames of different dimensions are combined.
var ErrShapeMismatch = errors.New("frame shape mismatch")

// Frame is a row-major grid of integer samples. 8, 10 and 12-bit pixel
// formats all fit in uint16.
type Frame struct {
	Rows int
	Cols int
	Pix  []uint16
}

// New allocates a zeroed rows x cols frame.
func New(rows, cols int) Frame {
	return Frame{Rows: rows, Cols: cols, Pix: make([]uint16, rows*cols)}
}

// At returns the sample at (row, col).
func (f Frame) At(row, col int) uint16 {
	return f.Pix[row*f.Cols+col]
}

// Set stores v at (row, col).
func (f Frame) Set(row, col int, v uint16) {
	f.Pix[row*f.Cols+col] = v
}

// SameShape reports whether f and o have identical dimensions.
func (f Frame) SameShape(o Frame) bool {
	return f.Rows == o.Rows && f.Cols == o.Cols
}

// Valid reports whether the sample buffer matches the declared dimensions.
func (f Frame) Valid() bool {
	return f.Rows > 0 && f.Cols > 0 && len(f.Pix) == f.Rows*f.Cols
}

// Float64 returns the samples widened to float64.
func (f Frame) Float64() []float64 {
	out := make([]float64, len(f.Pix))
	for i, v := range f.Pix {
		out[i] = float64(v)
	}
	return out
}

// Mean returns the mean sample value.
func (f Frame) Mean() float64 {
	if len(f.Pix) == 0 {
		return 0
	}
	return floats.Sum(f.Float64()) / float64(len(f.Pix))
}

// Cube is a (row, column, position) grid. Each position slice is stored
// contiguously, so appending a frame is a single copy.
type Cube struct {
	Rows  int
	Cols  int
	Depth int
	Pix   []uint16
}

// NewCube returns an empty cube whose slices will be rows x cols.
func NewCube(rows, cols int) *Cube {
	return &Cube{Rows: rows, Cols: cols}
}

// Append adds f as the next position slice. The first frame appended to a
// cube with no declared shape fixes the shape.
func (c *Cube) Append(f Frame) error {
	if !f.Valid() {
		return fmt.Errorf("append frame %dx%d with %d samples: %w", f.Rows, f.Cols, len(f.Pix), ErrShapeMismatch)
	}
	if c.Rows == 0 && c.Cols == 0 && c.Depth == 0 {
		c.Rows, c.Cols = f.Rows, f.Cols
	}
	if f.Rows != c.Rows || f.Cols != c.Cols {
		return fmt.Errorf("append %dx%d frame to %dx%d cube: %w", f.Rows, f.Cols, c.Rows, c.Cols, ErrShapeMismatch)
	}
	c.Pix = append(c.Pix, f.Pix...)
	c.Depth++
	return nil
}

// Slice returns position k as a frame sharing the cube's storage.
func (c *Cube) Slice(k int) Frame {
	n := c.Rows * c.Cols
	return Frame{Rows: c.Rows, Cols: c.Cols, Pix: c.Pix[k*n : (k+1)*n]}
}

// At returns the sample at (row, col, position).
func (c *Cube) At(row, col, k int) uint16 {
	return c.Pix[k*c.Rows*c.Cols+row*c.Cols+col]
}

// Shape returns (rows, cols, depth).
func (c *Cube) Shape() [3]int {
	return [3]int{c.Rows, c.Cols, c.Depth}
}

// RowMajor returns the samples ordered with position varying fastest,
// i.e. C order for a (rows, cols, depth) array.
func (c *Cube) RowMajor() []uint16 {
	out := make([]uint16, len(c.Pix))
	n := c.Rows * c.Cols
	for k := 0; k < c.Depth; k++ {
		for p := 0; p < n; p++ {
			out[p*c.Depth+k] = c.Pix[k*n+p]
		}
	}
	return out
}

// Truncate drops every slice from position depth onward.
func (c *Cube) Truncate(depth int) {
	if depth < 0 || depth >= c.Depth {
		return
	}
	c.Pix = c.Pix[:depth*c.Rows*c.Cols]
	c.Depth = depth
}
