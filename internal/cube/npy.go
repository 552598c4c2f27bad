package cube

import (
	"fmt"
	"io"
	"reflect"

	"github.com/sbinet/npyio"

	"github.com/hsiscan/hsiscan/internal/frame"
)

// npyDescr is the dtype of every cube: little-endian uint16.
const npyDescr = "<u2"

// WriteNPY writes c as a NumPy array of little-endian uint16 with shape
// (rows, cols, positions) in C order.
func WriteNPY(w io.Writer, c *frame.Cube) error {
	return npyio.Write(w, shaped(c).Interface())
}

// shaped returns the cube samples as a [rows][cols][positions]uint16 array
// so the array header carries the full shape.
func shaped(c *frame.Cube) reflect.Value {
	u16 := reflect.TypeOf(uint16(0))
	t := reflect.ArrayOf(c.Rows, reflect.ArrayOf(c.Cols, reflect.ArrayOf(c.Depth, u16)))
	arr := reflect.New(t)

	flat := c.RowMajor()
	a := arr.Elem()
	for i := 0; i < c.Rows; i++ {
		row := a.Index(i)
		for j := 0; j < c.Cols; j++ {
			off := (i*c.Cols + j) * c.Depth
			reflect.Copy(row.Index(j), reflect.ValueOf(flat[off:off+c.Depth]))
		}
	}
	return arr
}

// ReadNPY reads a cube written by WriteNPY.
func ReadNPY(r io.Reader) (*frame.Cube, error) {
	rd, err := npyio.NewReader(r)
	if err != nil {
		return nil, err
	}
	descr := rd.Header.Descr
	if descr.Type != npyDescr || descr.Fortran {
		return nil, fmt.Errorf("unsupported array %s (fortran order %v)", descr.Type, descr.Fortran)
	}
	if len(descr.Shape) != 3 {
		return nil, fmt.Errorf("array shape %v is not 3-d", descr.Shape)
	}
	rows, cols, depth := descr.Shape[0], descr.Shape[1], descr.Shape[2]

	var data []uint16
	if err := rd.Read(&data); err != nil {
		return nil, err
	}
	if len(data) != rows*cols*depth {
		return nil, fmt.Errorf("array holds %d samples, shape %v needs %d", len(data), descr.Shape, rows*cols*depth)
	}

	c := frame.NewCube(rows, cols)
	n := rows * cols
	for k := 0; k < depth; k++ {
		f := frame.New(rows, cols)
		for p := 0; p < n; p++ {
			f.Pix[p] = data[p*depth+k]
		}
		if err := c.Append(f); err != nil {
			return nil, err
		}
	}
	return c, nil
}
