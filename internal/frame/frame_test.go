package frame

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filled(rows, cols int, v uint16) Frame {
	f := New(rows, cols)
	for i := range f.Pix {
		f.Pix[i] = v
	}
	return f
}

func TestFrameAtSet(t *testing.T) {
	f := New(2, 3)
	f.Set(1, 2, 7)
	assert.Equal(t, uint16(7), f.At(1, 2))
	assert.Equal(t, uint16(7), f.Pix[5])
	assert.True(t, f.Valid())
}

func TestFrameMean(t *testing.T) {
	f := Frame{Rows: 1, Cols: 4, Pix: []uint16{1, 2, 3, 6}}
	assert.InDelta(t, 3.0, f.Mean(), 1e-12)
	assert.Equal(t, 0.0, Frame{}.Mean())
}

func TestCubeAppendAndSlice(t *testing.T) {
	c := NewCube(0, 0)
	require.NoError(t, c.Append(filled(2, 2, 1)))
	require.NoError(t, c.Append(filled(2, 2, 2)))
	require.NoError(t, c.Append(filled(2, 2, 3)))

	assert.Equal(t, [3]int{2, 2, 3}, c.Shape())
	for k := 0; k < 3; k++ {
		if diff := cmp.Diff(filled(2, 2, uint16(k+1)).Pix, c.Slice(k).Pix); diff != "" {
			t.Errorf("slice %d mismatch (-want +got):\n%s", k, diff)
		}
	}
	assert.Equal(t, uint16(2), c.At(1, 0, 1))
}

func TestCubeAppendShapeMismatch(t *testing.T) {
	c := NewCube(2, 2)
	require.NoError(t, c.Append(filled(2, 2, 0)))
	err := c.Append(filled(3, 2, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
	assert.Equal(t, 1, c.Depth)
}

func TestCubeAppendInvalidFrame(t *testing.T) {
	c := NewCube(0, 0)
	err := c.Append(Frame{Rows: 2, Cols: 2, Pix: []uint16{1}})
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.Equal(t, 0, c.Depth)
}

func TestCubeRowMajor(t *testing.T) {
	c := NewCube(1, 2)
	require.NoError(t, c.Append(Frame{Rows: 1, Cols: 2, Pix: []uint16{1, 2}}))
	require.NoError(t, c.Append(Frame{Rows: 1, Cols: 2, Pix: []uint16{3, 4}}))
	// (row, col, pos): (0,0,0)=1 (0,0,1)=3 (0,1,0)=2 (0,1,1)=4
	if diff := cmp.Diff([]uint16{1, 3, 2, 4}, c.RowMajor()); diff != "" {
		t.Errorf("row-major order mismatch (-want +got):\n%s", diff)
	}
}

func TestCubeTruncate(t *testing.T) {
	c := NewCube(0, 0)
	for v := uint16(1); v <= 3; v++ {
		require.NoError(t, c.Append(filled(2, 2, v)))
	}
	c.Truncate(5)
	assert.Equal(t, 3, c.Depth)

	c.Truncate(2)
	assert.Equal(t, [3]int{2, 2, 2}, c.Shape())
	assert.Len(t, c.Pix, 8)
	assert.Equal(t, uint16(2), c.At(1, 1, 1))
}
